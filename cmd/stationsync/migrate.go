package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/stationsync/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending run ledger migrations",
	Long: `Apply any run ledger migrations that have not been applied yet and print
the resulting schema version. skip_migrations in the configuration is
ignored by this command.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	cfg.Database.SkipMigrations = false

	ctx := context.Background()
	ledger, err := app.OpenLedger(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	version, err := ledger.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run ledger at schema version %d\n", version)
	return nil
}
