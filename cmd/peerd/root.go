package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/peer-scheduler/internal/config"
	"github.com/example/peer-scheduler/internal/logging"
)

// cli holds state shared by the subcommands once the root pre-run has
// loaded configuration.
type cli struct {
	envFiles []string
	cfg      config.Config
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "peerd",
		Short:         "Shared availability grids and peer matchmaking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", nil, "dotenv files to load before reading PEER_* variables (default .env)")

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newReapCmd(c),
	)
	return root
}

func (c *cli) load(logOutput io.Writer) error {
	if err := config.LoadDotEnv(c.envFiles...); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.New(logOutput, cfg.LogLevel, "peerd")
	return nil
}
