// Package deconflict implements daily deconfliction: unprocessed event
// clusters are promoted into canonical events, with arbitration deciding
// whether an ambiguous cluster is one real event or several.
package deconflict

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pressgraph/evc/internal/ai"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

// Config holds daily deconfliction settings.
type Config struct {
	// MinDistinctNames is the distinct member-name count below which a
	// cluster skips arbitration and is accepted unsplit. This is a cost
	// control: small clusters are overwhelmingly single events.
	MinDistinctNames int
}

// DefaultConfig returns deconfliction settings that work for most countries.
func DefaultConfig() *Config {
	return &Config{MinDistinctNames: 4}
}

// Validate checks the configuration for sanity.
func (c *Config) Validate() error {
	if c.MinDistinctNames < 1 {
		return fmt.Errorf("min distinct names must be >= 1, got %d", c.MinDistinctNames)
	}
	return nil
}

// String returns a human-readable summary of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Deconflict{minDistinctNames: %d}", c.MinDistinctNames)
}

// Engine runs the daily deconfliction stage.
type Engine struct {
	store   storage.Storage
	arbiter ai.Arbiter
	config  *Config
}

// NewEngine creates a deconfliction engine. A nil config selects defaults.
// The arbiter may be nil, in which case every cluster is accepted unsplit.
func NewEngine(store storage.Storage, arbiter ai.Arbiter, config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deconflict config: %w", err)
	}
	return &Engine{store: store, arbiter: arbiter, config: config}, nil
}

// Run promotes every unprocessed cluster for country in [from, to] into
// canonical events. Each cluster commits in its own transaction; arbitration
// failures degrade to accepting the cluster unsplit and never stop the run.
func (e *Engine) Run(ctx context.Context, country string, from, to time.Time) (*types.RunSummary, error) {
	summary := &types.RunSummary{Stage: "deconflict", Country: country}

	clusters, err := e.store.GetClusters(ctx, types.ClusterFilter{
		Country: country,
		From:    from,
		To:      to,
		Status:  types.ClusterUnprocessed,
	})
	if err != nil {
		return summary, fmt.Errorf("failed to load unprocessed clusters: %w", err)
	}
	if len(clusters) == 0 {
		log.Printf("[DECONFLICT] No unprocessed clusters for %s in range", country)
		return summary, nil
	}

	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		degraded, err := e.resolveCluster(ctx, cluster)
		if err != nil {
			// Only store writes can land here; that is fatal.
			summary.FatalErrors++
			return summary, fmt.Errorf("cluster %d (%s %s): %w",
				cluster.ID, cluster.Country, cluster.Date.Format(types.DateFormat), err)
		}
		summary.Processed++
		if degraded {
			summary.Degraded++
		}
	}
	return summary, nil
}

// resolveCluster decides the cluster's fate and commits the resolution.
// Returns degraded=true when arbitration was attempted but its answer could
// not be used.
func (e *Engine) resolveCluster(ctx context.Context, cluster *types.EventCluster) (bool, error) {
	distinct := cluster.DistinctNameCount()
	if e.arbiter == nil || distinct < e.config.MinDistinctNames {
		return false, e.commitUnsplit(ctx, cluster)
	}

	decision, err := e.arbiter.ReviewCluster(ctx, cluster)
	if err != nil {
		// Fail open: a lost arbitration answer costs one potentially
		// over-broad event, never lost mentions.
		log.Printf("[DECONFLICT] Arbitration failed for cluster %d (%d names), accepting unsplit: %v",
			cluster.ID, distinct, err)
		return true, e.commitUnsplit(ctx, cluster)
	}

	if decision.SingleEvent {
		return false, e.commitSingle(ctx, cluster, decision.CanonicalName)
	}
	return false, e.commitSplit(ctx, cluster, decision.Groups)
}

// commitUnsplit accepts the whole cluster as one event under its
// representative name.
func (e *Engine) commitUnsplit(ctx context.Context, cluster *types.EventCluster) error {
	return e.commitSingle(ctx, cluster, cluster.Representative)
}

// commitSingle writes one canonical event and one daily mention covering the
// whole cluster.
func (e *Engine) commitSingle(ctx context.Context, cluster *types.EventCluster, name string) error {
	event := newEvent(cluster, name, cluster.MemberNames, cluster.DocumentIDs)
	event.Embedding = cluster.Centroid
	mention := newMention(event, cluster.Date, cluster.DocumentIDs, cluster.SourceNames)
	return e.store.CommitClusterResolution(ctx, cluster.ID, []*types.CanonicalEvent{event}, []*types.DailyMention{mention})
}

// commitSplit writes one canonical event and daily mention per proposed
// group. Document ids come from the day's raw mentions so each group gets
// exactly the evidence behind its member names.
func (e *Engine) commitSplit(ctx context.Context, cluster *types.EventCluster, groups []ai.EventGroupProposal) error {
	docsByName, sourcesByName, err := e.evidenceByName(ctx, cluster)
	if err != nil {
		return err
	}

	var events []*types.CanonicalEvent
	var mentions []*types.DailyMention
	for _, g := range groups {
		var docs, sources []string
		for _, n := range g.MemberNames {
			docs = append(docs, docsByName[n]...)
			sources = append(sources, sourcesByName[n]...)
		}
		docs = types.UniqueStrings(docs)
		sources = types.UniqueStrings(sources)

		event := newEvent(cluster, g.CanonicalName, g.MemberNames, docs)
		events = append(events, event)
		mentions = append(mentions, newMention(event, cluster.Date, docs, sources))
	}

	log.Printf("[DECONFLICT] Splitting cluster %d into %d events", cluster.ID, len(events))
	return e.store.CommitClusterResolution(ctx, cluster.ID, events, mentions)
}

// evidenceByName maps each distinct member name to the document ids and
// source names of the raw mentions that carried it.
func (e *Engine) evidenceByName(ctx context.Context, cluster *types.EventCluster) (map[string][]string, map[string][]string, error) {
	raw, err := e.store.GetRawMentions(ctx, types.MentionFilter{
		Country: cluster.Country,
		From:    cluster.Date,
		To:      cluster.Date,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load raw mentions for split: %w", err)
	}

	docs := make(map[string][]string)
	sources := make(map[string][]string)
	for _, m := range raw {
		docs[m.EventName] = append(docs[m.EventName], m.DocumentID)
		if m.SourceName != "" {
			sources[m.EventName] = append(sources[m.EventName], m.SourceName)
		}
	}
	return docs, sources, nil
}

func newEvent(cluster *types.EventCluster, name string, memberNames, docs []string) *types.CanonicalEvent {
	alts := make([]string, 0, len(memberNames))
	for _, n := range types.UniqueStrings(memberNames) {
		if n != name {
			alts = append(alts, n)
		}
	}
	return &types.CanonicalEvent{
		ID:             uuid.New().String(),
		Name:           name,
		AltNames:       alts,
		Country:        cluster.Country,
		FirstDate:      cluster.Date,
		LastDate:       cluster.Date,
		MentionDays:    1,
		TotalDocuments: len(docs),
	}
}

func newMention(event *types.CanonicalEvent, date time.Time, docs, sources []string) *types.DailyMention {
	m := &types.DailyMention{
		EventID:       event.ID,
		Date:          date,
		DocumentIDs:   docs,
		DocumentCount: len(docs),
		Headline:      event.Name,
		SourceNames:   sources,
	}
	m.SourceDiversity = m.Diversity()
	return m
}
