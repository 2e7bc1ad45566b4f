// Package clustering implements the daily clustering stage: same-day raw
// mentions for one country are embedded and grouped into event clusters by
// density over cosine distance.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/pressgraph/evc/internal/embedding"
	"github.com/pressgraph/evc/internal/normalize"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

// Config holds daily clustering settings.
type Config struct {
	// Eps is the DBSCAN neighborhood radius in cosine distance.
	// Useful values sit in 0.15-0.35 depending on the country's
	// naming conventions.
	Eps float64

	// MinPoints is the DBSCAN density threshold. 1 preserves singleton
	// events as their own clusters.
	MinPoints int

	// BatchSize is how many clusters share an arbitration batch number.
	// It bounds downstream request sizes and carries no other meaning.
	BatchSize int
}

// DefaultConfig returns clustering settings that work for most countries.
func DefaultConfig() *Config {
	return &Config{
		Eps:       0.25,
		MinPoints: 1,
		BatchSize: 25,
	}
}

// Validate checks the configuration for sanity.
func (c *Config) Validate() error {
	if c.Eps <= 0 || c.Eps >= 1 {
		return fmt.Errorf("eps must be in (0, 1), got %.3f", c.Eps)
	}
	if c.MinPoints < 1 {
		return fmt.Errorf("min points must be >= 1, got %d", c.MinPoints)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	return nil
}

// String returns a human-readable summary of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Clustering{eps: %.2f, minPoints: %d, batchSize: %d}",
		c.Eps, c.MinPoints, c.BatchSize)
}

// Engine runs the daily clustering stage.
type Engine struct {
	store    storage.Storage
	embedder embedding.Client
	config   *Config
}

// NewEngine creates a clustering engine. A nil config selects defaults.
func NewEngine(store storage.Storage, embedder embedding.Client, config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clustering config: %w", err)
	}
	return &Engine{store: store, embedder: embedder, config: config}, nil
}

// Run clusters every date with raw mentions for country in [from, to].
// Each day commits independently; a failed day is counted and does not stop
// the remaining days.
func (e *Engine) Run(ctx context.Context, country string, from, to time.Time) (*types.RunSummary, error) {
	summary := &types.RunSummary{Stage: "cluster", Country: country}

	dates, err := e.store.GetMentionDates(ctx, country, from, to)
	if err != nil {
		return summary, fmt.Errorf("failed to list mention dates: %w", err)
	}
	if len(dates) == 0 {
		log.Printf("[CLUSTER] No raw mentions for %s in range", country)
		return summary, nil
	}

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		n, err := e.RunDay(ctx, country, date)
		if err != nil {
			// Only a lost embedding call may degrade a day; store failures
			// end the run so the exit code signals the outage.
			var se *storeError
			if errors.As(err, &se) {
				summary.FatalErrors++
				return summary, fmt.Errorf("day %s: %w", date.Format(types.DateFormat), err)
			}
			log.Printf("[CLUSTER] Day %s failed: %v", date.Format(types.DateFormat), err)
			summary.Degraded++
			continue
		}
		log.Printf("[CLUSTER] %s %s: %d clusters", country, date.Format(types.DateFormat), n)
		summary.Processed++
	}
	return summary, nil
}

// storeError marks a store read or write failure inside RunDay. Run treats
// these as fatal, unlike transient embedding failures.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// RunDay clusters one (country, date) and replaces that day's unprocessed
// clusters in the store. Returns the number of clusters written. An empty
// mention set yields zero clusters and no write.
func (e *Engine) RunDay(ctx context.Context, country string, date time.Time) (int, error) {
	mentions, err := e.store.GetRawMentions(ctx, types.MentionFilter{
		Country: country,
		From:    date,
		To:      date,
	})
	if err != nil {
		return 0, &storeError{fmt.Errorf("failed to load raw mentions: %w", err)}
	}
	if len(mentions) == 0 {
		return 0, nil
	}

	names := make([]string, len(mentions))
	for i, m := range mentions {
		names[i] = m.EventName
	}
	vectors, err := e.embedder.EmbedBatch(ctx, normalize.EventNames(names))
	if err != nil {
		return 0, fmt.Errorf("failed to embed %d mentions: %w", len(mentions), err)
	}

	labels, isNoise := dbscan(vectors, e.config.Eps, e.config.MinPoints)

	clusters := e.buildClusters(country, date, mentions, vectors, labels, isNoise)
	if err := e.store.ReplaceDayClusters(ctx, country, date, clusters); err != nil {
		return 0, &storeError{fmt.Errorf("failed to store clusters: %w", err)}
	}
	return len(clusters), nil
}

// buildClusters assembles EventCluster rows from DBSCAN labels. Output order
// is deterministic so re-runs assign the same batch numbers.
func (e *Engine) buildClusters(country string, date time.Time, mentions []*types.RawMention, vectors [][]float32, labels []int, isNoise []bool) []*types.EventCluster {
	byLabel := make(map[int][]int)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}

	clusters := make([]*types.EventCluster, 0, len(byLabel))
	for label, members := range byLabel {
		memberVecs := make([][]float32, len(members))
		c := &types.EventCluster{
			Country: country,
			Date:    date,
			Label:   label,
			Status:  types.ClusterUnprocessed,
			Noise:   isNoise[members[0]],
		}
		for k, i := range members {
			m := mentions[i]
			c.MemberNames = append(c.MemberNames, m.EventName)
			c.DocumentIDs = append(c.DocumentIDs, m.DocumentID)
			c.SourceNames = append(c.SourceNames, m.SourceName)
			memberVecs[k] = vectors[i]
		}
		c.DocumentIDs = types.UniqueStrings(c.DocumentIDs)
		c.SourceNames = types.UniqueStrings(c.SourceNames)
		c.Centroid = embedding.Centroid(memberVecs)
		c.Representative = representativeName(c.MemberNames, memberVecs, c.Centroid)
		clusters = append(clusters, c)
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Representative != clusters[j].Representative {
			return clusters[i].Representative < clusters[j].Representative
		}
		return clusters[i].Label < clusters[j].Label
	})
	for i, c := range clusters {
		c.BatchNum = i / e.config.BatchSize
	}
	return clusters
}

// representativeName picks the cluster's display name: the most frequent
// member string, breaking frequency ties by centroid proximity and then
// lexicographically.
func representativeName(names []string, vectors [][]float32, centroid []float32) string {
	if len(names) == 0 {
		return ""
	}

	counts := make(map[string]int, len(names))
	nearest := make(map[string]float64, len(names))
	for i, n := range names {
		counts[n]++
		d := embedding.CosineDistance(vectors[i], centroid)
		if cur, ok := nearest[n]; !ok || d < cur {
			nearest[n] = d
		}
	}

	best := ""
	for n := range counts {
		if best == "" {
			best = n
			continue
		}
		switch {
		case counts[n] > counts[best]:
			best = n
		case counts[n] == counts[best] && nearest[n] < nearest[best]:
			best = n
		case counts[n] == counts[best] && nearest[n] == nearest[best] && n < best:
			best = n
		}
	}
	return best
}
