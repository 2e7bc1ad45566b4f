package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/deconflict"
)

var deconflictCmd = &cobra.Command{
	Use:   "deconflict",
	Short: "Promote unprocessed clusters into canonical events",
	Long: `Review each unprocessed cluster and promote it into one or more
canonical events, each with one day of evidence. Ambiguous clusters go
through arbitration; when arbitration is unavailable or fails, the
cluster is accepted unsplit and counted as degraded.

Example:
  evc deconflict --country Iran --from 2025-08-04 --to 2025-09-13`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		country := requireCountry()
		from, to := dateRange()

		store := openStore(ctx)
		defer store.Close()

		engine, err := deconflict.NewEngine(store, newArbiter(), cfg.Deconflict())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		summary, err := engine.Run(ctx, country, from, to)
		printSummary(summary)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(deconflictCmd)
}
