// Package validation implements batch validation: arbitration reviews each
// master/child group produced by grouping, confirming it under its best
// canonical name or splitting off events that similarity merged incorrectly.
package validation

import (
	"context"
	"fmt"
	"log"

	"github.com/pressgraph/evc/internal/ai"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

// Engine runs the batch validation stage.
type Engine struct {
	store   storage.Storage
	arbiter ai.Arbiter
}

// NewEngine creates a validation engine. The arbiter may be nil, in which
// case every group is left as grouping built it.
func NewEngine(store storage.Storage, arbiter ai.Arbiter) *Engine {
	return &Engine{store: store, arbiter: arbiter}
}

// Run reviews every master/child group for country. Each group commits
// independently; arbitration failures leave the group unchanged and never
// stop the run. Single-event groups cost nothing.
func (e *Engine) Run(ctx context.Context, country string) (*types.RunSummary, error) {
	summary := &types.RunSummary{Stage: "validate", Country: country}

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

		degraded, err := e.reviewGroup(ctx, group)
		if err != nil {
			summary.FatalErrors++
			return summary, fmt.Errorf("group under %s (%q): %w", group.Master.ID, group.Master.Name, err)
		}
		summary.Processed++
		if degraded {
			summary.Degraded++
		}
	}
	return summary, nil
}

// reviewGroup asks arbitration about one group and applies the verdict.
// Returns degraded=true when arbitration was attempted but its answer could
// not be used; the group is then left untouched, an implicit confirmation.
func (e *Engine) reviewGroup(ctx context.Context, group *storage.MasterGroup) (bool, error) {
	if e.arbiter == nil {
		return false, nil
	}

	decision, err := e.arbiter.ReviewEventGroup(ctx, group.Master, group.Children)
	if err != nil {
		log.Printf("[VALIDATE] Arbitration failed for group under %q (%d members), leaving unchanged: %v",
			group.Master.Name, group.Size(), err)
		return true, nil
	}

	if decision.Confirmed {
		return false, e.applyConfirmation(ctx, group, decision.CanonicalName)
	}
	return false, e.applySplits(ctx, group, decision.Splits)
}

// applyConfirmation renames the master when arbitration picked a better
// canonical name. A matching name means nothing to write.
func (e *Engine) applyConfirmation(ctx context.Context, group *storage.MasterGroup, name string) error {
	if name == group.Master.Name {
		return nil
	}
	log.Printf("[VALIDATE] Renaming %q -> %q", group.Master.Name, name)
	if err := e.store.RenameMaster(ctx, group.Master.ID, name, nil); err != nil {
		return fmt.Errorf("failed to rename master: %w", err)
	}
	return nil
}

// applySplits carves each proposed sub-group off the master: the sub-group
// member with the most documents is promoted to a new master and the rest
// are repointed to it. Members not named in any split stay with the
// original master.
func (e *Engine) applySplits(ctx context.Context, group *storage.MasterGroup, splits []ai.SplitProposal) error {
	byID := make(map[string]*types.CanonicalEvent, len(group.Children))
	for _, c := range group.Children {
		byID[c.ID] = c
	}

	for _, sp := range splits {
		promoted := sp.MemberIDs[0]
		for _, id := range sp.MemberIDs[1:] {
			m, best := byID[id], byID[promoted]
			if m.TotalDocuments > best.TotalDocuments ||
				(m.TotalDocuments == best.TotalDocuments && m.ID < best.ID) {
				promoted = id
			}
		}

		rest := make([]string, 0, len(sp.MemberIDs)-1)
		for _, id := range sp.MemberIDs {
			if id != promoted {
				rest = append(rest, id)
			}
		}

		log.Printf("[VALIDATE] Splitting %d events off %q as %q",
			len(sp.MemberIDs), group.Master.Name, sp.CanonicalName)
		if err := e.store.ApplySplit(ctx, promoted, sp.CanonicalName, rest); err != nil {
			return fmt.Errorf("failed to apply split %q: %w", sp.CanonicalName, err)
		}
	}
	return nil
}
