package cmd

import (
	"os"
	"time"

	coreconfig "github.com/AzielCF/az-connect/core/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var flagOverrides struct {
	port         string
	debug        bool
	dbDriver     string
	dbName       string
	evolutionURL string
	basicAuth    []string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "az-connect",
	Short: "WhatsApp connection lifecycle and webhook routing over Evolution API",
	Long: `az-connect provisions WhatsApp instances on an Evolution API gateway,
receives its webhooks and routes outbound messages through workspace automations.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
}

func init() {
	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagOverrides.port, "port", "p", "",
		"change port number with --port <number> | example: --port=8080")
	flags.BoolVarP(&flagOverrides.debug, "debug", "d", false,
		"displaying debug logs with --debug <true/false> | example: --debug=true")
	flags.StringVar(&flagOverrides.dbDriver, "db-driver", "",
		`database driver --db-driver <sqlite|postgres> | example: --db-driver="postgres"`)
	flags.StringVar(&flagOverrides.dbName, "db-name", "",
		`sqlite file or postgres database name --db-name <string> | example: --db-name="storages/connect.db"`)
	flags.StringVar(&flagOverrides.evolutionURL, "evolution-url", "",
		`Evolution API base url --evolution-url <string> | example: --evolution-url="http://evolution:8080"`)
	flags.StringSliceVarP(&flagOverrides.basicAuth, "basic-auth", "b", nil,
		"basic auth credential | -b=yourUsername:yourPassword")
}

// loadConfig reads the environment then lets explicit flags win.
func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.App.Port = flagOverrides.port
	}
	if flags.Changed("debug") {
		cfg.App.Debug = flagOverrides.debug
	}
	if flags.Changed("db-driver") {
		cfg.Database.Driver = flagOverrides.dbDriver
	}
	if flags.Changed("db-name") {
		cfg.Database.Name = flagOverrides.dbName
	}
	if flags.Changed("evolution-url") {
		cfg.Evolution.BaseURL = flagOverrides.evolutionURL
	}
	if flags.Changed("basic-auth") {
		cfg.App.BasicAuth = flagOverrides.basicAuth
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.Debugf("[CONFIG] loaded: %v", coreconfig.GetAllSettings())
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
