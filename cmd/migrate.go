package cmd

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/connection/repository"
	coreconfig "github.com/AzielCF/az-connect/core/config"
	"github.com/AzielCF/az-connect/integrations/evolution"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCheckRemote bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateCheckRemote, "check-remote", false,
		"also list provider instances that have no local connection row")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := coreconfig.Global

	logrus.Info("[MIGRATION] Migrating connection schema...")
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(db)

	if !migrateCheckRemote {
		return nil
	}
	orphans, err := findUntrackedInstances(ctx, repository.NewConnectionGormRepository(db), newEvolutionClient(cfg))
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		logrus.Info("[MIGRATION] Every provider instance is tracked locally.")
		return nil
	}
	for _, inst := range orphans {
		logrus.Warnf("[MIGRATION] Provider instance %s (state %s) has no local connection", inst.InstanceName, inst.State)
	}
	return nil
}

// instanceLister is the slice of the provider client the remote check needs.
type instanceLister interface {
	FetchInstances(ctx context.Context) ([]evolution.InstanceInfo, error)
}

// findUntrackedInstances returns provider instances without a local row,
// typically leftovers of a delete whose second phase never ran.
func findUntrackedInstances(ctx context.Context, conns domain.ConnectionRepository, provider instanceLister) ([]evolution.InstanceInfo, error) {
	remote, err := provider.FetchInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider instances: %w", err)
	}

	var orphans []evolution.InstanceInfo
	for _, inst := range remote {
		if inst.InstanceName == "" {
			continue
		}
		_, err := conns.FindByInstance(ctx, inst.InstanceName)
		if pkgError.IsNotFound(err) {
			orphans = append(orphans, inst)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s: %w", inst.InstanceName, err)
		}
	}
	return orphans, nil
}
