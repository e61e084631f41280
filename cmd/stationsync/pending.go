package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stationsync/internal/app"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show how many records each station has waiting",
	Long: `List every station in the current routing snapshot with the number of
records that the next cycle would claim. Nothing is claimed.`,
	RunE: runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	stations, err := a.Pending(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tSTATION\tPENDING\tERROR")
	total := 0
	for _, s := range stations {
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Partition, s.StationID, s.Pending, errText)
		total += s.Pending
	}
	fmt.Fprintf(w, "\t\t%d\t\n", total)
	return w.Flush()
}
