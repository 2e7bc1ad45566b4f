package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/clustering"
)

var flagClusterEps float64

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run daily clustering for a country",
	Long: `Group same-day raw mentions into event clusters by embedding
similarity. Days already promoted to canonical events are untouched;
only unprocessed clusters are rebuilt.

Example:
  evc cluster --country Iran --from 2025-08-04 --to 2025-09-13`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		country := requireCountry()
		from, to := dateRange()

		clusterCfg := cfg.Clustering(country)
		if cmd.Flags().Changed("eps") {
			clusterCfg.Eps = flagClusterEps
		}

		store := openStore(ctx)
		defer store.Close()

		engine, err := clustering.NewEngine(store, newEmbedder(), clusterCfg)
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
	rootCmd.AddCommand(clusterCmd)
	clusterCmd.Flags().Float64Var(&flagClusterEps, "eps", 0, "Neighborhood radius override (cosine distance)")
}
