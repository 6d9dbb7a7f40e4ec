package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swap-escrow/internal/config"
	"swap-escrow/internal/storage/migrations"
	pgstore "swap-escrow/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:               "migrate",
	Short:             "Apply postgres and clickhouse schema migrations",
	PersistentPreRunE: loadConfig,
	RunE:              runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	defer logger.Sync() //nolint:errcheck
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Storage.Driver != config.DriverPostgres && cfg.Events.ClickHouseDSN == "" {
		return fmt.Errorf("nothing to migrate: storage.driver is %q and events.clickhouse_dsn is empty", cfg.Storage.Driver)
	}

	if cfg.Storage.Driver == config.DriverPostgres {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return err
		}
		logger.Info("postgres migrated", zap.Strings("applied", applied))
	}

	if cfg.Events.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Events.ClickHouseDSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		logger.Info("clickhouse migrated")
	}
	return nil
}
