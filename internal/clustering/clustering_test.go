package clustering

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressgraph/evc/internal/embedding"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(context.Background(),
		&storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func day(s string) time.Time {
	d, err := time.Parse(types.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

// fixedEmbedder pins the normalized names used in these tests to vectors
// with known pairwise similarity.
func fixedEmbedder() *embedding.MockClient {
	return &embedding.MockClient{
		Dim: 2,
		Fixed: map[string][]float32{
			"flood relief sindh":     {1, 0},
			"sindh flood aid":        {0.9848, 0.1736}, // 0.015 from the first
			"port ceremony chabahar": {0, 1},
		},
	}
}

func TestRunDayClustersSimilarNames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := day("2025-08-14")

	_, err := store.ImportRawMentions(ctx, []*types.RawMention{
		{Country: "Pakistan", Date: d, DocumentID: "d1", EventName: "Flood Relief, Sindh", SourceName: "Dawn"},
		{Country: "Pakistan", Date: d, DocumentID: "d2", EventName: "Flood Relief, Sindh", SourceName: "Geo"},
		{Country: "Pakistan", Date: d, DocumentID: "d3", EventName: "Sindh Flood Aid", SourceName: "Dawn"},
		{Country: "Pakistan", Date: d, DocumentID: "d4", EventName: "Port Ceremony Chabahar", SourceName: "IRNA"},
	})
	require.NoError(t, err)

	engine, err := NewEngine(store, fixedEmbedder(), nil)
	require.NoError(t, err)

	n, err := engine.RunDay(ctx, "Pakistan", d)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	clusters, err := store.GetClusters(ctx, types.ClusterFilter{Country: "Pakistan"})
	require.NoError(t, err)
	require.Len(t, clusters, 2)

	var flood, port *types.EventCluster
	for _, c := range clusters {
		if len(c.MemberNames) == 3 {
			flood = c
		} else {
			port = c
		}
	}
	require.NotNil(t, flood)
	require.NotNil(t, port)

	// The doubled name wins the representative vote
	assert.Equal(t, "Flood Relief, Sindh", flood.Representative)
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, flood.DocumentIDs)
	assert.ElementsMatch(t, []string{"Dawn", "Geo"}, flood.SourceNames)
	assert.Equal(t, types.ClusterUnprocessed, flood.Status)
	assert.NotEmpty(t, flood.Centroid)

	assert.Equal(t, "Port Ceremony Chabahar", port.Representative)
	assert.Equal(t, []string{"d4"}, port.DocumentIDs)
}

func TestRunDayEmptyInput(t *testing.T) {
	store := newTestStore(t)
	engine, err := NewEngine(store, fixedEmbedder(), nil)
	require.NoError(t, err)

	n, err := engine.RunDay(context.Background(), "Pakistan", day("2025-08-14"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunDayDeterministicBatchNumbers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := day("2025-08-14")

	_, err := store.ImportRawMentions(ctx, []*types.RawMention{
		{Country: "Pakistan", Date: d, DocumentID: "d1", EventName: "Flood Relief, Sindh"},
		{Country: "Pakistan", Date: d, DocumentID: "d2", EventName: "Port Ceremony Chabahar"},
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	engine, err := NewEngine(store, fixedEmbedder(), cfg)
	require.NoError(t, err)

	_, err = engine.RunDay(ctx, "Pakistan", d)
	require.NoError(t, err)
	first, err := store.GetClusters(ctx, types.ClusterFilter{Country: "Pakistan"})
	require.NoError(t, err)

	// Re-clustering the same day replaces the rows with identical batching
	_, err = engine.RunDay(ctx, "Pakistan", d)
	require.NoError(t, err)
	second, err := store.GetClusters(ctx, types.ClusterFilter{Country: "Pakistan"})
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Representative, second[i].Representative)
		assert.Equal(t, first[i].BatchNum, second[i].BatchNum)
	}
}

func TestRunEnumeratesDates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.ImportRawMentions(ctx, []*types.RawMention{
		{Country: "Pakistan", Date: day("2025-08-14"), DocumentID: "d1", EventName: "Flood Relief, Sindh"},
		{Country: "Pakistan", Date: day("2025-08-15"), DocumentID: "d2", EventName: "Flood Relief, Sindh"},
		{Country: "Pakistan", Date: day("2025-08-20"), DocumentID: "d3", EventName: "Flood Relief, Sindh"},
	})
	require.NoError(t, err)

	engine, err := NewEngine(store, fixedEmbedder(), nil)
	require.NoError(t, err)

	summary, err := engine.Run(ctx, "Pakistan", day("2025-08-14"), day("2025-08-15"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Zero(t, summary.Degraded)

	// The day outside the range was not clustered
	clusters, err := store.GetClusters(ctx, types.ClusterFilter{Country: "Pakistan", From: day("2025-08-20")})
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

// brokenWriteStore passes reads through to a real store but fails the
// cluster write.
type brokenWriteStore struct {
	storage.Storage
}

func (s *brokenWriteStore) ReplaceDayClusters(ctx context.Context, country string, date time.Time, clusters []*types.EventCluster) error {
	return errors.New("database is locked: connection lost")
}

func TestRunStoreWriteFailureIsFatal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := day("2025-08-14")

	_, err := store.ImportRawMentions(ctx, []*types.RawMention{
		{Country: "Pakistan", Date: d, DocumentID: "d1", EventName: "Flood Relief, Sindh"},
	})
	require.NoError(t, err)

	engine, err := NewEngine(&brokenWriteStore{Storage: store}, fixedEmbedder(), nil)
	require.NoError(t, err)

	// A failing store ends the run; it is not absorbed as a degraded day.
	summary, err := engine.Run(ctx, "Pakistan", d, d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store clusters")
	assert.Equal(t, 1, summary.FatalErrors)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, summary.Degraded)
}

// downEmbedder rejects every call, as a provider outage would.
type downEmbedder struct {
	embedding.MockClient
}

func (e *downEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("503 service unavailable")
}

func TestRunEmbedFailureDegradesDay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.ImportRawMentions(ctx, []*types.RawMention{
		{Country: "Pakistan", Date: day("2025-08-14"), DocumentID: "d1", EventName: "Flood Relief, Sindh"},
		{Country: "Pakistan", Date: day("2025-08-15"), DocumentID: "d2", EventName: "Sindh Flood Aid"},
	})
	require.NoError(t, err)

	engine, err := NewEngine(store, &downEmbedder{}, nil)
	require.NoError(t, err)

	// Lost embedding calls skip the day and move on.
	summary, err := engine.Run(ctx, "Pakistan", day("2025-08-14"), day("2025-08-15"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Degraded)
	assert.Zero(t, summary.FatalErrors)
	assert.Zero(t, summary.Processed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"eps too large", func(c *Config) { c.Eps = 1.0 }, true},
		{"eps zero", func(c *Config) { c.Eps = 0 }, true},
		{"zero min points", func(c *Config) { c.MinPoints = 0 }, true},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
