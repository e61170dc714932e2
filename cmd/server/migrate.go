package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/atmx/auction-engine/internal/logger"
	"github.com/atmx/auction-engine/internal/migrations"
)

var downTarget int64

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd.Context(), func(r migrations.Runner) error {
			return r.Ensure(cmd.Context())
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd.Context(), func(r migrations.Runner) error {
			return r.Status(cmd.Context())
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration, or down to --target",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd.Context(), func(r migrations.Runner) error {
			return r.Down(cmd.Context(), downTarget)
		})
	},
}

func init() {
	migrateDownCmd.Flags().Int64Var(&downTarget, "target", 0, "version to roll back to (0 rolls back one step)")
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd, migrateDownCmd)
}

func withRunner(ctx context.Context, fn func(migrations.Runner) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrations")
	}

	log := logger.New(serviceName, cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer pool.Close()

	runner, err := migrations.New(pool, log)
	if err != nil {
		return err
	}
	return fn(runner)
}
