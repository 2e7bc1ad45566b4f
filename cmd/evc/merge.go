package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Fold child events' mentions into their masters",
	Long: `Give each master event its full multi-day evidence history by
folding every child's daily mentions into it, then removing the empty
children. The document-id union is verified after each group; losing a
document reference aborts the run.

Already-merged hierarchies are a no-op.

Example:
  evc merge --country Iran`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		country := requireCountry()

		store := openStore(ctx)
		defer store.Close()

		summary, err := merge.NewEngine(store).Run(ctx, country)
		printSummary(summary)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
