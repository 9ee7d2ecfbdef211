package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/metrics"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openStorage(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer storage.Close()

			status, err := storage.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("read migration status: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %s (%d applied, %d pending)\n",
				status.CurrentVersion, len(status.AppliedMigrations), status.PendingCount)
			return nil
		},
	}
}

func newReapCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete waiting lobby entries whose lease has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openStorage(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer storage.Close()

			matches := application.NewMatchService(storage, storage, nil, application.MatchConfig{LobbyTTL: c.cfg.LobbyTTL},
				application.WithLogger(c.logger),
				application.WithMetrics(metrics.New()),
			)
			reaped, err := matches.Reap(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d expired lobby entries\n", reaped)
			return nil
		},
	}
}
