// Package pipeline sequences the consolidation stages for one country:
// daily clustering, daily deconfliction, batch grouping, batch validation,
// and mention merge. Each stage fully commits before the next starts; a
// fatal error in any stage stops the pipeline there.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pressgraph/evc/internal/ai"
	"github.com/pressgraph/evc/internal/clustering"
	"github.com/pressgraph/evc/internal/config"
	"github.com/pressgraph/evc/internal/deconflict"
	"github.com/pressgraph/evc/internal/embedding"
	"github.com/pressgraph/evc/internal/grouping"
	"github.com/pressgraph/evc/internal/merge"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
	"github.com/pressgraph/evc/internal/validation"
)

// Pipeline wires the five stages against one store. Separate pipeline
// invocations may run concurrently as long as each works a different
// country; the store assumes a single writer per country.
type Pipeline struct {
	store    storage.Storage
	embedder embedding.Client
	arbiter  ai.Arbiter
	config   *config.Config
}

// New creates a pipeline. A nil arbiter disables arbitration: clusters are
// accepted unsplit and groups are left as similarity built them.
func New(store storage.Storage, embedder embedding.Client, arbiter ai.Arbiter, cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Pipeline{store: store, embedder: embedder, arbiter: arbiter, config: cfg}
}

// Result collects the per-stage summaries of one pipeline run.
type Result struct {
	Summaries []*types.RunSummary
	Elapsed   time.Duration
}

// TotalDegraded sums degraded unit counts across stages.
func (r *Result) TotalDegraded() int {
	var n int
	for _, s := range r.Summaries {
		n += s.Degraded
	}
	return n
}

// Run executes all five stages for country over [from, to]. The date range
// scopes the daily stages; grouping, validation, and merge always act on the
// country's full history, which is what makes multi-day events converge.
func (p *Pipeline) Run(ctx context.Context, country string, from, to time.Time) (*Result, error) {
	start := time.Now()
	result := &Result{}

	record := func(s *types.RunSummary, err error) error {
		result.Summaries = append(result.Summaries, s)
		log.Printf("[PIPELINE] %s", s)
		if err != nil {
			return fmt.Errorf("stage %s: %w", s.Stage, err)
		}
		return nil
	}

	clusterer, err := clustering.NewEngine(p.store, p.embedder, p.config.Clustering(country))
	if err != nil {
		return result, err
	}
	s, err := clusterer.Run(ctx, country, from, to)
	if err := record(s, err); err != nil {
		return result, err
	}

	deconflicter, err := deconflict.NewEngine(p.store, p.arbiter, p.config.Deconflict())
	if err != nil {
		return result, err
	}
	s, err = deconflicter.Run(ctx, country, from, to)
	if err := record(s, err); err != nil {
		return result, err
	}

	grouper, err := grouping.NewEngine(p.store, p.embedder, p.config.Grouping(country))
	if err != nil {
		return result, err
	}
	s, err = grouper.Run(ctx, country)
	if err := record(s, err); err != nil {
		return result, err
	}

	s, err = validation.NewEngine(p.store, p.arbiter).Run(ctx, country)
	if err := record(s, err); err != nil {
		return result, err
	}

	s, err = merge.NewEngine(p.store).Run(ctx, country)
	if err := record(s, err); err != nil {
		return result, err
	}

	result.Elapsed = time.Since(start)
	return result, nil
}
