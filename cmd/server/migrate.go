package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jamesl1500/taskispace.com-sub003/internal/config"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd, repository.RunMigrations)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the state of every migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd, repository.MigrationStatus)
			},
		},
	)
	return cmd
}

func withDB(cmd *cobra.Command, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	ctx := cmd.Context()
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	defer db.Close()

	return fn(ctx, db)
}
