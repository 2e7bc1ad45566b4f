package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show consolidation progress and store statistics",
	Long: `Display row counts across the consolidation store: raw mentions,
clusters awaiting deconfliction, canonical events, and the master/child
hierarchy. Scope to one country with --country.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store := openStore(ctx)
		defer store.Close()

		stats, err := store.GetStatistics(ctx, flagCountry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get statistics: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		scope := "all countries"
		if flagCountry != "" {
			scope = flagCountry
		}
		fmt.Printf("\n%s\n\n", cyan(fmt.Sprintf("=== Consolidation Status (%s) ===", scope)))

		fmt.Printf("%s\n", yellow("Input:"))
		fmt.Printf("  Raw mentions:      %d\n", stats.RawMentions)
		fmt.Println()

		fmt.Printf("%s\n", yellow("Daily stages:"))
		fmt.Printf("  Event clusters:    %d\n", stats.Clusters)
		fmt.Printf("  Awaiting review:   %d\n", stats.UnprocessedClusters)
		fmt.Println()

		fmt.Printf("%s\n", yellow("Canonical events:"))
		fmt.Printf("  Total:             %d\n", stats.CanonicalEvents)
		fmt.Printf("  Masters:           %d\n", stats.MasterEvents)
		fmt.Printf("  Pending merge:     %d\n", stats.ChildEvents)
		fmt.Printf("  Daily mentions:    %d\n", stats.DailyMentions)
		fmt.Println()

		if flagCountry == "" && len(stats.Countries) > 0 {
			fmt.Printf("%s\n", yellow("Countries:"))
			for _, c := range stats.Countries {
				fmt.Printf("  %s\n", c)
			}
			fmt.Println()
		}

		if stats.UnprocessedClusters > 0 {
			fmt.Printf("%s\n", gray("→ evc deconflict --country <name>"))
		} else if stats.ChildEvents > 0 {
			fmt.Printf("%s\n", gray("→ evc merge --country <name>"))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
