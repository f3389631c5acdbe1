package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/kai-sub/gitlab/migrations"
	"github.com/kai-sub/gitlab/pkg/configuration"
)

var migrateActions = []string{"up", "down", "status"}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Apply or inspect the placeholder schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrateActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), args[0])
		},
	}
}

func runMigrate(ctx context.Context, action string) error {
	conf := configuration.Use()
	defer conf.Unload()

	pool, err := connectDB(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.Placeholders)
	if err := goose.SetDialect("postgres"); err != nil {
		return withCode(exitUsage, err)
	}

	dir := conf.MigrationsDir
	if dir == "" {
		dir = migrations.PlaceholdersDir
	}
	switch action {
	case "up":
		err = goose.UpContext(ctx, db, dir)
	case "down":
		err = goose.DownContext(ctx, db, dir)
	case "status":
		err = goose.StatusContext(ctx, db, dir)
	default:
		return withCode(exitUsage, fmt.Errorf("unknown migrate action %q", action))
	}
	if err != nil {
		return withCode(exitDB, fmt.Errorf("migrate %s: %w", action, err))
	}
	return nil
}
