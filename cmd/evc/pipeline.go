package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run all five consolidation stages in sequence",
	Long: `Run daily clustering, daily deconfliction, batch grouping, batch
validation, and mention merge for one country. Each stage fully commits
before the next starts. Separate invocations may run concurrently on
different countries.

Example:
  evc pipeline --country Iran --from 2025-08-04 --to 2025-09-13`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		country := requireCountry()
		from, to := dateRange()

		store := openStore(ctx)
		defer store.Close()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Consolidating %s ===", country)))

		p := pipeline.New(store, newEmbedder(), newArbiter(), cfg)
		result, err := p.Run(ctx, country, from, to)
		for _, s := range result.Summaries {
			printSummary(s)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Println()
		fmt.Printf("%s\n", gray(fmt.Sprintf("Done in %s (%d degraded units)",
			result.Elapsed.Round(10*time.Millisecond), result.TotalDegraded())))
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
}
