package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Review master/child groups with arbitration",
	Long: `Submit each multi-member group to arbitration: confirm it as one
real event (possibly under a better canonical name) or split off events
that similarity merged incorrectly. A failed arbitration call leaves the
group unchanged.

Example:
  evc validate --country Iran`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		country := requireCountry()

		store := openStore(ctx)
		defer store.Close()

		summary, err := validation.NewEngine(store, newArbiter()).Run(ctx, country)
		printSummary(summary)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
