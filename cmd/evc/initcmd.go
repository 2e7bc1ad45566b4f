package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the consolidation database",
	Long: `Initialize the SQLite database and schema at the configured path.

Example:
  evc init
  evc init --db ./data/evc.db`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to create %s: %v\n", dir, err)
				os.Exit(1)
			}
		}

		// Opening applies the schema.
		store, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.DBPath})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to initialize database: %v\n", err)
			os.Exit(1)
		}
		_ = store.Close()

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized consolidation database\n\n", green("✓"))
		fmt.Printf("  Database: %s\n", cyan(cfg.DBPath))
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("evc import mentions.jsonl"))
		fmt.Printf("  %s\n", gray("evc pipeline --country <name>"))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
