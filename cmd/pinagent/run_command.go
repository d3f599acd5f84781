package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
	"github.com/thenervelab/miner-ipfs-service/internal/daemon"
	"github.com/thenervelab/miner-ipfs-service/internal/logging"
)

func newRunCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pinning agent daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, existed, err := config.Load(*configFlag)
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			if !existed {
				logger.Warn("no configuration file found, using defaults",
					logging.String("expected_path", path))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return daemon.New(cfg, logger).Run(ctx)
		},
	}
}
