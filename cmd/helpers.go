package cmd

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-connect/connection/repository"
	coreconfig "github.com/AzielCF/az-connect/core/config"
	coreDB "github.com/AzielCF/az-connect/core/database"
	"github.com/AzielCF/az-connect/infrastructure/valkey"
	"github.com/AzielCF/az-connect/integrations/evolution"
	"github.com/AzielCF/az-connect/pkg/crypto"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// openStore opens the configured database and brings its schema up to date.
func openStore(ctx context.Context, cfg *coreconfig.Config) (*gorm.DB, error) {
	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	logrus.Infof("[DB] %s store ready", driverName(cfg))
	return db, nil
}

func closeStore(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func driverName(cfg *coreconfig.Config) string {
	if cfg.Database.Driver == "" {
		return "sqlite"
	}
	return cfg.Database.Driver
}

// openValkey returns nil when Valkey is disabled or unreachable; callers
// fall back to process-local implementations.
func openValkey(cfg *coreconfig.Config) *valkey.Client {
	if !cfg.Database.ValkeyEnabled {
		return nil
	}
	client, err := valkey.NewClient(valkey.Config{
		Address:   cfg.Database.ValkeyAddress,
		Password:  cfg.Database.ValkeyPassword,
		DB:        cfg.Database.ValkeyDB,
		KeyPrefix: cfg.Database.ValkeyKeyPrefix,
	})
	if err != nil {
		logrus.WithError(err).Warn("[VALKEY] unavailable, using in-memory dedup and local broker")
		return nil
	}
	logrus.Infof("[VALKEY] connected to %s", cfg.Database.ValkeyAddress)
	return client
}

func newCipher(cfg *coreconfig.Config) (*crypto.Cipher, error) {
	cipher, err := crypto.NewCipher(cfg.Security.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_SECRET_KEY: %w", err)
	}
	return cipher, nil
}

func newEvolutionClient(cfg *coreconfig.Config) *evolution.Client {
	return evolution.NewClient(evolution.Config{
		BaseURL:            cfg.Evolution.BaseURL,
		APIKey:             cfg.Evolution.APIKey,
		Timeout:            cfg.Evolution.Timeout,
		InsecureSkipVerify: cfg.Evolution.InsecureSkipVerify,
	})
}
