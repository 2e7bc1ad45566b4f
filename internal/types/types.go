package types

import (
	"fmt"
	"time"
)

// DateFormat is the canonical storage format for mention dates.
// Dates are calendar days; time-of-day is never significant.
const DateFormat = "2006-01-02"

// RawMention links one source document to one free-text event description.
// Raw mentions are produced by the upstream extraction pipeline and are
// read-only input to daily clustering.
type RawMention struct {
	ID         int64     `json:"id"`
	Country    string    `json:"country"`
	Date       time.Time `json:"date"`
	DocumentID string    `json:"document_id"`
	EventName  string    `json:"event_name"`
	SourceName string    `json:"source_name,omitempty"`
}

// Validate checks if the raw mention has valid field values
func (m *RawMention) Validate() error {
	if m.Country == "" {
		return fmt.Errorf("country is required")
	}
	if m.DocumentID == "" {
		return fmt.Errorf("document_id is required")
	}
	if m.EventName == "" {
		return fmt.Errorf("event_name is required")
	}
	if m.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	return nil
}

// ClusterStatus represents the processing state of an event cluster
type ClusterStatus string

const (
	ClusterUnprocessed ClusterStatus = "unprocessed"
	ClusterValidated   ClusterStatus = "validated"
)

// IsValid checks if the cluster status value is valid
func (s ClusterStatus) IsValid() bool {
	switch s {
	case ClusterUnprocessed, ClusterValidated:
		return true
	}
	return false
}

// EventCluster is a same-day, same-country grouping of raw mentions produced
// by daily clustering. Batch numbers bound the size of downstream arbitration
// requests and carry no other meaning.
type EventCluster struct {
	ID             int64         `json:"id"`
	Country        string        `json:"country"`
	Date           time.Time     `json:"date"`
	BatchNum       int           `json:"batch_num"`
	Label          int           `json:"label"`
	Representative string        `json:"representative"`
	MemberNames    []string      `json:"member_names"`
	DocumentIDs    []string      `json:"document_ids"`
	SourceNames    []string      `json:"source_names,omitempty"`
	Centroid       []float32     `json:"centroid,omitempty"`
	Noise          bool          `json:"noise"`
	Status         ClusterStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Validate checks if the cluster has valid field values
func (c *EventCluster) Validate() error {
	if c.Country == "" {
		return fmt.Errorf("country is required")
	}
	if c.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if len(c.MemberNames) == 0 {
		return fmt.Errorf("cluster must have at least one member name")
	}
	if len(c.DocumentIDs) == 0 {
		return fmt.Errorf("cluster must have at least one document id")
	}
	if c.Representative == "" {
		return fmt.Errorf("representative name is required")
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("invalid cluster status: %s", c.Status)
	}
	return nil
}

// DistinctNameCount returns the number of distinct member name strings.
// Deconfliction uses this to decide whether a cluster is worth an
// arbitration call at all.
func (c *EventCluster) DistinctNameCount() int {
	seen := make(map[string]struct{}, len(c.MemberNames))
	for _, n := range c.MemberNames {
		seen[n] = struct{}{}
	}
	return len(seen)
}

// CanonicalEvent is a deduplicated, named event. A nil MasterID means the
// event is itself a master (root of its hierarchy); otherwise MasterID points
// at the master that owns it. The chain never exceeds depth 1: a master is
// never itself a child.
type CanonicalEvent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AltNames       []string  `json:"alt_names,omitempty"`
	Country        string    `json:"country"`
	FirstDate      time.Time `json:"first_date"`
	LastDate       time.Time `json:"last_date"`
	MentionDays    int       `json:"mention_days"`
	TotalDocuments int       `json:"total_documents"`
	Embedding      []float32 `json:"embedding,omitempty"`
	MasterID       *string   `json:"master_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks if the canonical event has valid field values
func (e *CanonicalEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if e.Country == "" {
		return fmt.Errorf("country is required")
	}
	if e.MasterID != nil && *e.MasterID == e.ID {
		return fmt.Errorf("event %s cannot be its own master", e.ID)
	}
	if e.TotalDocuments < 0 {
		return fmt.Errorf("total_documents cannot be negative (got %d)", e.TotalDocuments)
	}
	return nil
}

// IsMaster reports whether the event is a root of its hierarchy
func (e *CanonicalEvent) IsMaster() bool {
	return e.MasterID == nil
}

// DailyMention is the evidence record linking a canonical event to the
// documents that support it on one calendar date. After mention merge at most
// one row exists per (event, date) pair.
type DailyMention struct {
	ID              int64     `json:"id"`
	EventID         string    `json:"event_id"`
	Date            time.Time `json:"date"`
	DocumentIDs     []string  `json:"document_ids"`
	DocumentCount   int       `json:"document_count"`
	Headline        string    `json:"headline,omitempty"`
	SourceNames     []string  `json:"source_names,omitempty"`
	SourceDiversity float64   `json:"source_diversity"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks if the daily mention has valid field values
func (m *DailyMention) Validate() error {
	if m.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if m.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if len(m.DocumentIDs) == 0 {
		return fmt.Errorf("mention must reference at least one document")
	}
	if m.DocumentCount < len(UniqueStrings(m.DocumentIDs)) {
		// DocumentCount may exceed the distinct-id count when sources
		// re-report a document, but it can never undercount.
		return fmt.Errorf("document_count %d below distinct document ids %d",
			m.DocumentCount, len(UniqueStrings(m.DocumentIDs)))
	}
	return nil
}

// Diversity computes the source-diversity measure for a mention: the number
// of distinct source names relative to the document count, clamped to [0, 1].
func (m *DailyMention) Diversity() float64 {
	if m.DocumentCount == 0 {
		return 0
	}
	d := float64(len(UniqueStrings(m.SourceNames))) / float64(m.DocumentCount)
	if d > 1 {
		return 1
	}
	return d
}

// RunSummary reports the outcome of one stage run. A run fails (non-zero
// exit) only when FatalErrors is non-zero; degraded units are the documented
// arbitration/embedding fallbacks and never fail the run.
type RunSummary struct {
	Stage       string `json:"stage"`
	Country     string `json:"country"`
	Processed   int    `json:"processed"`
	Degraded    int    `json:"degraded"`
	Skipped     int    `json:"skipped"`
	FatalErrors int    `json:"fatal_errors"`
}

// Add folds another summary into the receiver (used by pipeline runs)
func (s *RunSummary) Add(other RunSummary) {
	s.Processed += other.Processed
	s.Degraded += other.Degraded
	s.Skipped += other.Skipped
	s.FatalErrors += other.FatalErrors
}

func (s RunSummary) String() string {
	return fmt.Sprintf("%s: processed=%d degraded=%d skipped=%d fatal=%d",
		s.Stage, s.Processed, s.Degraded, s.Skipped, s.FatalErrors)
}

// MentionFilter narrows raw-mention queries
type MentionFilter struct {
	Country string
	From    time.Time
	To      time.Time
}

// ClusterFilter narrows event-cluster queries
type ClusterFilter struct {
	Country string
	From    time.Time
	To      time.Time
	Status  ClusterStatus
	Limit   int
}

// UniqueStrings returns the distinct values of a slice, preserving first-seen
// order. Used for document-id and source-name unions throughout the engine.
func UniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// UnionStrings returns the distinct union of two slices, preserving order of
// first appearance (a's elements first).
func UnionStrings(a, b []string) []string {
	return UniqueStrings(append(append([]string{}, a...), b...))
}
