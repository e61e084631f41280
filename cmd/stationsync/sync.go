package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stationsync/internal/app"
	"github.com/livinlefevreloca/stationsync/internal/cycle"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now and print its summary",
	Long: `Run one sync cycle immediately.

The cycle takes the same cross-instance lock as scheduled cycles, so it is
skipped if another instance is mid-cycle. The command exits non-zero when
the cycle fails outright.`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	run, err := a.SyncOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:          %s\n", run.ID)
	fmt.Fprintf(out, "Status:       %s (%s)\n", run.Status, run.FinalState)
	fmt.Fprintf(out, "Duration:     %s\n", run.Duration())
	fmt.Fprintf(out, "Attempted:    %d\n", run.Attempted)
	fmt.Fprintf(out, "Acknowledged: %d\n", run.Acknowledged)
	fmt.Fprintf(out, "Failed:       %d\n", run.Failed)
	fmt.Fprintf(out, "Excluded:     %d\n", run.Excluded)
	if run.StationFaults > 0 {
		fmt.Fprintf(out, "Station faults: %d\n", run.StationFaults)
	}
	if run.Recovered > 0 {
		fmt.Fprintf(out, "Recovered claims: %d\n", run.Recovered)
	}
	for _, tx := range run.TransactionIDs {
		fmt.Fprintf(out, "Transaction:  %s\n", tx)
	}

	if run.Status == cycle.RunFailed {
		return fmt.Errorf("sync cycle failed: %s", run.Error)
	}
	return nil
}
