package main

import (
	"context"

	"github.com/coregx/courier"
	"github.com/spf13/cobra"
)

func newMigrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runMigrations(cmd.Context(), rt)
		},
	}
}

func runMigrations(ctx context.Context, rt *runtime) error {
	applied, err := courier.ApplyMigrations(ctx, rt.db, rt.cfg.Database.Driver)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		rt.logger.Info("Schema is up to date")
		return nil
	}
	for _, name := range applied {
		rt.logger.Infof("Applied migration %s", name)
	}
	return nil
}
