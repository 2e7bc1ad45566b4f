// Package grouping implements batch grouping: all of a country's canonical
// events, regardless of date, are compared pairwise by embedding similarity
// and connected components above the threshold become master/child groups.
package grouping

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/pressgraph/evc/internal/embedding"
	"github.com/pressgraph/evc/internal/normalize"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

// Config holds batch grouping settings.
type Config struct {
	// Threshold is the cosine similarity at or above which two events
	// are considered connected.
	Threshold float64

	// EmbedBatchSize bounds how many missing embeddings are requested
	// per provider call.
	EmbedBatchSize int
}

// DefaultConfig returns grouping settings that work for most countries.
func DefaultConfig() *Config {
	return &Config{
		Threshold:      0.85,
		EmbedBatchSize: 64,
	}
}

// Validate checks the configuration for sanity.
func (c *Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %.3f", c.Threshold)
	}
	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("embed batch size must be >= 1, got %d", c.EmbedBatchSize)
	}
	return nil
}

// String returns a human-readable summary of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Grouping{threshold: %.2f, embedBatchSize: %d}",
		c.Threshold, c.EmbedBatchSize)
}

// Engine runs the batch grouping stage.
type Engine struct {
	store    storage.Storage
	embedder embedding.Client
	config   *Config
}

// NewEngine creates a grouping engine. A nil config selects defaults.
func NewEngine(store storage.Storage, embedder embedding.Client, config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grouping config: %w", err)
	}
	return &Engine{store: store, embedder: embedder, config: config}, nil
}

// Run groups all of a country's canonical events. Each multi-member
// component commits independently. Reapplying with unchanged embeddings
// reproduces the same components and master choices.
func (e *Engine) Run(ctx context.Context, country string) (*types.RunSummary, error) {
	summary := &types.RunSummary{Stage: "group", Country: country}

	events, err := e.store.GetCanonicalEvents(ctx, country)
	if err != nil {
		return summary, fmt.Errorf("failed to load canonical events: %w", err)
	}
	if len(events) < 2 {
		log.Printf("[GROUP] %s has %d events, nothing to group", country, len(events))
		return summary, nil
	}

	backfilled, failed, err := e.ensureEmbeddings(ctx, events)
	if err != nil {
		summary.FatalErrors++
		return summary, err
	}
	if backfilled > 0 {
		log.Printf("[GROUP] Backfilled %d missing embeddings for %s", backfilled, country)
	}
	if failed > 0 {
		// Events the provider could not embed sit this run out; the next
		// run backfills them.
		summary.Degraded += failed
		embedded := make([]*types.CanonicalEvent, 0, len(events))
		for _, ev := range events {
			if len(ev.Embedding) > 0 {
				embedded = append(embedded, ev)
			}
		}
		events = embedded
	}

	components := e.connectedComponents(events)
	for _, members := range components {
		if len(members) < 2 {
			summary.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		master := pickMaster(members)
		childIDs := make([]string, 0, len(members)-1)
		for _, m := range members {
			if m.ID != master.ID {
				childIDs = append(childIDs, m.ID)
			}
		}

		if err := e.store.SetComponentMaster(ctx, master.ID, childIDs); err != nil {
			summary.FatalErrors++
			return summary, fmt.Errorf("component under %s (%q): %w", master.ID, master.Name, err)
		}
		log.Printf("[GROUP] %q becomes master of %d events", master.Name, len(childIDs))
		summary.Processed++
	}
	return summary, nil
}

// ensureEmbeddings backfills missing event embeddings from each event's
// canonical name. Returns the counts generated and failed. A provider
// failure (already retried inside the client) only fails its chunk; a store
// write failure is returned as an error.
func (e *Engine) ensureEmbeddings(ctx context.Context, events []*types.CanonicalEvent) (backfilled, failed int, err error) {
	var missing []*types.CanonicalEvent
	for _, ev := range events {
		if len(ev.Embedding) == 0 {
			missing = append(missing, ev)
		}
	}
	if len(missing) == 0 {
		return 0, 0, nil
	}

	for start := 0; start < len(missing); start += e.config.EmbedBatchSize {
		end := start + e.config.EmbedBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]

		names := make([]string, len(chunk))
		for i, ev := range chunk {
			names[i] = normalize.EventName(ev.Name)
		}
		vectors, embedErr := e.embedder.EmbedBatch(ctx, names)
		if embedErr != nil {
			log.Printf("[GROUP] Failed to embed %d event names, leaving them ungrouped this run: %v",
				len(chunk), embedErr)
			failed += len(chunk)
			continue
		}
		for i, ev := range chunk {
			ev.Embedding = vectors[i]
			if err := e.store.UpdateEventEmbedding(ctx, ev.ID, vectors[i]); err != nil {
				return backfilled, failed, fmt.Errorf("failed to store embedding for %s: %w", ev.ID, err)
			}
			backfilled++
		}
	}
	return backfilled, failed, nil
}

// connectedComponents computes transitive closure of the similarity relation
// with union-find. Components are returned in deterministic order (sorted by
// smallest member id), each with members sorted by id.
func (e *Engine) connectedComponents(events []*types.CanonicalEvent) [][]*types.CanonicalEvent {
	parent := make([]int, len(events))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			sim := embedding.CosineSimilarity(events[i].Embedding, events[j].Embedding)
			if float64(sim) >= e.config.Threshold {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]*types.CanonicalEvent)
	for i, ev := range events {
		r := find(i)
		byRoot[r] = append(byRoot[r], ev)
	}

	components := make([][]*types.CanonicalEvent, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0].ID < components[j][0].ID })
	return components
}

// pickMaster selects the component member with the most supporting
// documents, breaking ties by id so the choice is stable across runs.
func pickMaster(members []*types.CanonicalEvent) *types.CanonicalEvent {
	best := members[0]
	for _, m := range members[1:] {
		if m.TotalDocuments > best.TotalDocuments ||
			(m.TotalDocuments == best.TotalDocuments && m.ID < best.ID) {
			best = m
		}
	}
	return best
}
