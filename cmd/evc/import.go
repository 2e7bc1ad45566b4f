package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pressgraph/evc/internal/types"
)

// rawMentionRecord is one line of the import JSONL format.
type rawMentionRecord struct {
	Country    string `json:"country"`
	Date       string `json:"date"`
	DocumentID string `json:"document_id"`
	EventName  string `json:"event_name"`
	SourceName string `json:"source_name,omitempty"`
}

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import raw event mentions from a JSONL file",
	Long: `Import raw event mentions produced by upstream extraction.

Each line is a JSON object:
  {"country": "Iran", "date": "2025-08-14", "document_id": "doc-123",
   "event_name": "Arbaeen pilgrimage support services", "source_name": "IRNA"}

Re-importing is safe: a mention already present (same country, date,
document, and event name) is skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		var mentions []*types.RawMention
		var skipped int
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var rec rawMentionRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: line %d: invalid JSON: %v\n", lineNum, err)
				skipped++
				continue
			}
			if rec.Country == "" || rec.DocumentID == "" || rec.EventName == "" {
				fmt.Fprintf(os.Stderr, "Warning: line %d: missing country, document_id, or event_name\n", lineNum)
				skipped++
				continue
			}
			date, err := time.Parse(types.DateFormat, rec.Date)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: line %d: invalid date %q\n", lineNum, rec.Date)
				skipped++
				continue
			}

			mentions = append(mentions, &types.RawMention{
				Country:    rec.Country,
				Date:       date,
				DocumentID: rec.DocumentID,
				EventName:  rec.EventName,
				SourceName: rec.SourceName,
			})
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read %s: %v\n", args[0], err)
			os.Exit(1)
		}

		store := openStore(ctx)
		defer store.Close()

		inserted, err := store.ImportRawMentions(ctx, mentions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s Imported %d new mentions (%d already present)\n",
			green("✓"), inserted, len(mentions)-inserted)
		if skipped > 0 {
			fmt.Printf("  %s\n", gray(fmt.Sprintf("%d malformed lines skipped", skipped)))
		}
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
