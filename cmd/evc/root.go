package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/ai"
	"github.com/pressgraph/evc/internal/config"
	"github.com/pressgraph/evc/internal/embedding"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

var (
	flagConfig    string
	flagDB        string
	flagCountry   string
	flagFrom      string
	flagTo        string
	flagThreshold float64
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "evc",
	Short: "Event consolidation engine",
	Long: `evc collapses near-duplicate news event mentions into canonical
multi-day events.

The pipeline runs five stages per country: daily clustering, daily
deconfliction, batch grouping, batch validation, and mention merge.
Each stage commits its units of work independently, so an interrupted
run can simply be rerun.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagDB != "" {
			cfg.DBPath = flagDB
		}
		if cmd.Flags().Changed("threshold") {
			cfg.GroupThreshold = flagThreshold
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "evc.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagCountry, "country", "", "Country to process")
	rootCmd.PersistentFlags().StringVar(&flagFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	rootCmd.PersistentFlags().StringVar(&flagTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
	rootCmd.PersistentFlags().Float64Var(&flagThreshold, "threshold", 0, "Grouping similarity threshold override")
}

// requireCountry exits unless --country was given.
func requireCountry() string {
	if flagCountry == "" {
		fmt.Fprintf(os.Stderr, "Error: --country is required\n")
		os.Exit(1)
	}
	return flagCountry
}

// dateRange parses --from/--to. Empty flags leave the range unbounded.
func dateRange() (time.Time, time.Time) {
	var from, to time.Time
	var err error
	if flagFrom != "" {
		from, err = time.Parse(types.DateFormat, flagFrom)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --from date %q: %v\n", flagFrom, err)
			os.Exit(1)
		}
	}
	if flagTo != "" {
		to, err = time.Parse(types.DateFormat, flagTo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --to date %q: %v\n", flagTo, err)
			os.Exit(1)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		fmt.Fprintf(os.Stderr, "Error: --to precedes --from\n")
		os.Exit(1)
	}
	return from, to
}

// openStore opens the configured database.
func openStore(ctx context.Context) storage.Storage {
	store, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.DBPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

// newEmbedder builds the embedding client from config and environment.
func newEmbedder() embedding.Client {
	client, err := embedding.NewOpenAIClient(embedding.Config{Model: cfg.EmbeddingModel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return client
}

// newArbiter builds the arbitration client, or nil when no API key is
// available. Stages degrade gracefully without one.
func newArbiter() ai.Arbiter {
	supervisor, err := ai.NewSupervisor(ai.Config{Model: cfg.ArbiterModel})
	if err != nil {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s\n", gray(fmt.Sprintf("Arbitration disabled: %v", err)))
		return nil
	}
	return supervisor
}

// printSummary renders one stage summary with degraded counts highlighted.
func printSummary(s *types.RunSummary) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	line := fmt.Sprintf("%s %s: %d processed", s.Stage, s.Country, s.Processed)
	if s.Skipped > 0 {
		line += fmt.Sprintf(", %d skipped", s.Skipped)
	}
	if s.Degraded > 0 {
		fmt.Printf("%s %s (%s)\n", yellow("⚠"), line, yellow(fmt.Sprintf("%d degraded", s.Degraded)))
		return
	}
	fmt.Printf("%s %s\n", green("✓"), line)
}
