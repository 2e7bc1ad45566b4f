package storage

import (
	"context"
	"time"

	"github.com/pressgraph/evc/internal/storage/sqlite"
	"github.com/pressgraph/evc/internal/types"
)

// Storage defines the interface for consolidation storage backends.
//
// The store is the single source of truth for the pipeline. Every method that
// mutates more than one row does so in its own transaction, so a mid-run
// crash leaves only fully-committed units behind and a rerun resumes from the
// per-record status fields.
type Storage interface {
	// Raw mentions (read-only input; import exists for ops and testing)
	ImportRawMentions(ctx context.Context, mentions []*types.RawMention) (int, error)
	GetRawMentions(ctx context.Context, filter types.MentionFilter) ([]*types.RawMention, error)
	GetMentionDates(ctx context.Context, country string, from, to time.Time) ([]time.Time, error)

	// Event clusters.
	// ReplaceDayClusters atomically swaps the unprocessed clusters for one
	// (country, date), so re-running daily clustering is idempotent.
	ReplaceDayClusters(ctx context.Context, country string, date time.Time, clusters []*types.EventCluster) error
	GetClusters(ctx context.Context, filter types.ClusterFilter) ([]*types.EventCluster, error)
	GetCluster(ctx context.Context, id int64) (*types.EventCluster, error)

	// CommitClusterResolution writes a deconfliction unit atomically: the
	// canonical events and daily mentions produced from one cluster, plus
	// the cluster's status flip to validated.
	CommitClusterResolution(ctx context.Context, clusterID int64, events []*types.CanonicalEvent, mentions []*types.DailyMention) error

	// Canonical events
	GetCanonicalEvent(ctx context.Context, id string) (*types.CanonicalEvent, error)
	GetCanonicalEvents(ctx context.Context, country string) ([]*types.CanonicalEvent, error)
	UpdateEventEmbedding(ctx context.Context, id string, embedding []float32) error

	// Master/child hierarchy. All three enforce the depth-1 invariant at
	// write time: a child can only point at a root, and an event with
	// children can never become a child itself.
	SetComponentMaster(ctx context.Context, masterID string, childIDs []string) error
	RenameMaster(ctx context.Context, masterID, newName string, absorbedNames []string) error
	ApplySplit(ctx context.Context, newMasterID, newName string, memberIDs []string) error
	GetMasterGroups(ctx context.Context, country string) ([]*MasterGroup, error)

	// Daily mentions
	GetDailyMentions(ctx context.Context, eventID string) ([]*types.DailyMention, error)
	// MergeChildIntoMaster consolidates one child's mentions into the
	// master (merge on date collision, repoint otherwise) and deletes the
	// emptied child, all in one transaction.
	MergeChildIntoMaster(ctx context.Context, masterID, childID string) (*MergeOutcome, error)
	// GetDocumentUnion returns the distinct document ids across all daily
	// mentions of the given events, for no-loss verification.
	GetDocumentUnion(ctx context.Context, eventIDs []string) ([]string, error)

	// Statistics
	GetStatistics(ctx context.Context, country string) (*Statistics, error)

	// Lifecycle
	Close() error
}

// MasterGroup is one master event together with the children whose master
// reference points at it. Children is empty for standalone events.
type MasterGroup = sqlite.MasterGroup

// MergeOutcome reports what one child-merge transaction did
type MergeOutcome = sqlite.MergeOutcome

// Statistics summarizes store contents for the status command
type Statistics = sqlite.Statistics

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".evc/evc.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	return sqlite.New(ctx, cfg.Path)
}
