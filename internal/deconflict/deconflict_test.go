package deconflict

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressgraph/evc/internal/ai"
	"github.com/pressgraph/evc/internal/storage"
	"github.com/pressgraph/evc/internal/types"
)

type stubArbiter struct {
	clusterCalls int
	clusterFn    func(*types.EventCluster) (*ai.ClusterDecision, error)
}

func (s *stubArbiter) ReviewCluster(ctx context.Context, cluster *types.EventCluster) (*ai.ClusterDecision, error) {
	s.clusterCalls++
	return s.clusterFn(cluster)
}

func (s *stubArbiter) ReviewEventGroup(ctx context.Context, master *types.CanonicalEvent, children []*types.CanonicalEvent) (*ai.GroupDecision, error) {
	return nil, errors.New("not used in deconfliction")
}

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

// seedCluster imports the raw mentions and stores the matching unprocessed
// cluster, as daily clustering would have left it.
func seedCluster(t *testing.T, store storage.Storage, country string, date time.Time, names []string) *types.EventCluster {
	t.Helper()
	ctx := context.Background()

	var raw []*types.RawMention
	docs := make([]string, len(names))
	for i, n := range names {
		docs[i] = "doc-" + n
		raw = append(raw, &types.RawMention{
			Country: country, Date: date, DocumentID: docs[i],
			EventName: n, SourceName: "wire",
		})
	}
	_, err := store.ImportRawMentions(ctx, raw)
	require.NoError(t, err)

	c := &types.EventCluster{
		Country:        country,
		Date:           date,
		Representative: names[0],
		MemberNames:    names,
		DocumentIDs:    types.UniqueStrings(docs),
		SourceNames:    []string{"wire"},
		Status:         types.ClusterUnprocessed,
	}
	require.NoError(t, store.ReplaceDayClusters(ctx, country, date, []*types.EventCluster{c}))
	return c
}

func TestSmallClusterSkipsArbitration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := day("2025-08-14")

	seedCluster(t, store, "Iran", d, []string{"flood relief", "flood aid"})

	arbiter := &stubArbiter{clusterFn: func(*types.EventCluster) (*ai.ClusterDecision, error) {
		t.Fatal("arbiter must not be called for small clusters")
		return nil, nil
	}}
	engine, err := NewEngine(store, arbiter, nil)
	require.NoError(t, err)

	summary, err := engine.Run(ctx, "Iran", d, d)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Degraded)
	assert.Zero(t, arbiter.clusterCalls)

	events, err := store.GetCanonicalEvents(ctx, "Iran")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "flood relief", events[0].Name)
	assert.Equal(t, []string{"flood aid"}, events[0].AltNames)
	assert.Equal(t, d, events[0].FirstDate)
	assert.Equal(t, 2, events[0].TotalDocuments)
	assert.True(t, events[0].IsMaster())

	mentions, err := store.GetDailyMentions(ctx, events[0].ID)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.ElementsMatch(t, []string{"doc-flood relief", "doc-flood aid"}, mentions[0].DocumentIDs)
}

func TestArbitrationFailureAcceptsUnsplit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := day("2025-08-14")

	seedCluster(t, store, "Iran", d, []string{"a", "b", "c", "d", "e"})

	arbiter := &stubArbiter{clusterFn: func(*types.EventCluster) (*ai.ClusterDecision, error) {
		return nil, errors.New("provider outage")
	}}
	engine, err := NewEngine(store, arbiter, nil)
	require.NoError(t, err)

	summary, err := engine.Run(ctx, "Iran", d, d)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Degraded)
	assert.Zero(t, summary.FatalErrors)

	// The cluster was still promoted, unsplit, with nothing lost
	events, err := store.GetCanonicalEvents(ctx, "Iran")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].TotalDocuments)
}

func TestArbitrationSplitCreatesMultipleEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := day("2025-08-14")

	names := []string{"flood relief sindh", "sindh flood aid", "flood response", "port opening", "chabahar port ceremony"}
	seedCluster(t, store, "Iran", d, names)

	arbiter := &stubArbiter{clusterFn: func(*types.EventCluster) (*ai.ClusterDecision, error) {
		return &ai.ClusterDecision{
			Groups: []ai.EventGroupProposal{
				{CanonicalName: "Sindh Flood Relief", MemberNames: names[:3]},
				{CanonicalName: "Chabahar Port Opening", MemberNames: names[3:]},
			},
			Confidence: 0.9,
		}, nil
	}}
	engine, err := NewEngine(store, arbiter, nil)
	require.NoError(t, err)

	summary, err := engine.Run(ctx, "Iran", d, d)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Degraded)
	assert.Equal(t, 1, arbiter.clusterCalls)

	events, err := store.GetCanonicalEvents(ctx, "Iran")
	require.NoError(t, err)
	require.Len(t, events, 2)

	byName := map[string]*types.CanonicalEvent{}
	for _, e := range events {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "Sindh Flood Relief")
	require.Contains(t, byName, "Chabahar Port Opening")
	assert.Equal(t, 3, byName["Sindh Flood Relief"].TotalDocuments)
	assert.Equal(t, 2, byName["Chabahar Port Opening"].TotalDocuments)

	// Evidence follows the member names into each split event
	mentions, err := store.GetDailyMentions(ctx, byName["Chabahar Port Opening"].ID)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.ElementsMatch(t, []string{"doc-port opening", "doc-chabahar port ceremony"}, mentions[0].DocumentIDs)
}

func TestRunIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := day("2025-08-14")

	seedCluster(t, store, "Iran", d, []string{"flood relief"})

	engine, err := NewEngine(store, nil, nil)
	require.NoError(t, err)

	summary, err := engine.Run(ctx, "Iran", d, d)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	// Everything is validated now; a rerun finds no work
	summary, err = engine.Run(ctx, "Iran", d, d)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)

	events, err := store.GetCanonicalEvents(ctx, "Iran")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
