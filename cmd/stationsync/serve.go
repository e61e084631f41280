package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stationsync/internal/app"
)

var serveShutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run sync cycles on the configured schedule",
	Long: `Run sync cycles on the configured schedule until interrupted.

On SIGINT or SIGTERM no new cycle starts and an in-flight cycle is given
--shutdown-timeout to finish.

Examples:
  stationsync serve --config /etc/stationsync/stationsync.toml
  STATIONSYNC_SETTLEMENT_PASSWORD=... stationsync serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 2*time.Minute, "how long to wait for an in-flight cycle on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("starting stationsync", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return a.Serve(ctx, serveShutdownTimeout)
}
