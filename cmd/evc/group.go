package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/grouping"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Group a country's canonical events across dates",
	Long: `Compare all of a country's canonical events pairwise by embedding
similarity and link connected components into master/child groups. The
member with the most supporting documents becomes each group's master.

Rerunning against unchanged embeddings reproduces the same groups.

Example:
  evc group --country Iran
  evc group --country Iran --threshold 0.90`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		country := requireCountry()

		store := openStore(ctx)
		defer store.Close()

		engine, err := grouping.NewEngine(store, newEmbedder(), cfg.Grouping(country))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		summary, err := engine.Run(ctx, country)
		printSummary(summary)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)
}
