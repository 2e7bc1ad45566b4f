// Package merge implements mention merge, the final consolidation stage:
// each child event's daily mentions are folded into its master so the master
// carries the full multi-day evidence history, then the empty child is
// removed. Re-running against an already-merged hierarchy is a no-op because
// no children remain.
package merge

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

// Engine runs the mention merge stage.
type Engine struct {
	store storage.Storage
}

// NewEngine creates a merge engine.
func NewEngine(store storage.Storage) *Engine {
	return &Engine{store: store}
}

// Run merges every child event into its master for country. Each child
// merges in its own transaction. After each group, the document-id union
// across the master's mentions must equal the pre-merge union across master
// and children; a mismatch means evidence was dropped and is fatal.
func (e *Engine) Run(ctx context.Context, country string) (*types.RunSummary, error) {
	summary := &types.RunSummary{Stage: "merge", Country: country}

	groups, err := e.store.GetMasterGroups(ctx, country)
	if err != nil {
		return summary, fmt.Errorf("failed to load master groups: %w", err)
	}

	for _, group := range groups {
		if len(group.Children) == 0 {
			summary.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := e.mergeGroup(ctx, group); err != nil {
			summary.FatalErrors++
			return summary, fmt.Errorf("group under %s (%q): %w", group.Master.ID, group.Master.Name, err)
		}
		summary.Processed++
	}
	return summary, nil
}

// mergeGroup folds each child of one master into the master and verifies the
// lossless-union postcondition.
func (e *Engine) mergeGroup(ctx context.Context, group *storage.MasterGroup) error {
	ids := make([]string, 0, len(group.Children)+1)
	ids = append(ids, group.Master.ID)
	for _, c := range group.Children {
		ids = append(ids, c.ID)
	}
	before, err := e.store.GetDocumentUnion(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to compute pre-merge document union: %w", err)
	}

	var merged, repointed int
	for _, child := range group.Children {
		outcome, err := e.store.MergeChildIntoMaster(ctx, group.Master.ID, child.ID)
		if err != nil {
			return fmt.Errorf("failed to merge child %s (%q): %w", child.ID, child.Name, err)
		}
		merged += outcome.MentionsMerged
		repointed += outcome.MentionsRepointed
	}

	after, err := e.store.GetDocumentUnion(ctx, []string{group.Master.ID})
	if err != nil {
		return fmt.Errorf("failed to compute post-merge document union: %w", err)
	}
	if missing := difference(before, after); len(missing) > 0 {
		return fmt.Errorf("document references lost during merge into %s: %d missing (e.g. %s)",
			group.Master.ID, len(missing), missing[0])
	}

	log.Printf("[MERGE] %q absorbed %d children (%d mentions merged, %d repointed)",
		group.Master.Name, len(group.Children), merged, repointed)
	return nil
}

// difference returns the sorted elements of a not present in b.
func difference(a, b []string) []string {
	have := make(map[string]bool, len(b))
	for _, x := range b {
		have[x] = true
	}
	var out []string
	for _, x := range a {
		if !have[x] {
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}
