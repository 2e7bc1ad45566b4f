package validation

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
	groupCalls int
	groupFn    func(*types.CanonicalEvent, []*types.CanonicalEvent) (*ai.GroupDecision, error)
}

func (s *stubArbiter) ReviewCluster(ctx context.Context, cluster *types.EventCluster) (*ai.ClusterDecision, error) {
	return nil, errors.New("not used in validation")
}

func (s *stubArbiter) ReviewEventGroup(ctx context.Context, master *types.CanonicalEvent, children []*types.CanonicalEvent) (*ai.GroupDecision, error) {
	s.groupCalls++
	return s.groupFn(master, children)
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

func seedGroup(t *testing.T, store storage.Storage, masterID string, childIDs ...string) {
	t.Helper()
	ctx := context.Background()

	ids := append([]string{masterID}, childIDs...)
	for i, id := range ids {
		d := day("2025-08-14").AddDate(0, 0, i)
		e := &types.CanonicalEvent{
			ID: id, Name: "event " + id, Country: "Iran",
			FirstDate: d, LastDate: d, MentionDays: 1,
			TotalDocuments: len(ids) - i, // master has the most documents
		}
		c := &types.EventCluster{
			Country: "Iran", Date: d, Representative: e.Name,
			MemberNames: []string{e.Name}, DocumentIDs: []string{"doc-" + id},
			Status: types.ClusterUnprocessed,
		}
		require.NoError(t, store.ReplaceDayClusters(ctx, "Iran", d, []*types.EventCluster{c}))
		m := &types.DailyMention{EventID: id, Date: d, DocumentIDs: []string{"doc-" + id}, DocumentCount: 1}
		require.NoError(t, store.CommitClusterResolution(ctx, c.ID, []*types.CanonicalEvent{e}, []*types.DailyMention{m}))
	}
	if len(childIDs) > 0 {
		require.NoError(t, store.SetComponentMaster(ctx, masterID, childIDs))
	}
}

func TestConfirmationRenamesMaster(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "ev-m", "ev-1", "ev-2")

	arbiter := &stubArbiter{groupFn: func(m *types.CanonicalEvent, _ []*types.CanonicalEvent) (*ai.GroupDecision, error) {
		return &ai.GroupDecision{Confirmed: true, CanonicalName: "Arbaeen Pilgrimage Support", Confidence: 0.95}, nil
	}}

	summary, err := NewEngine(store, arbiter).Run(ctx, "Iran")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Degraded)
	assert.Equal(t, 1, arbiter.groupCalls)

	got, err := store.GetCanonicalEvent(ctx, "ev-m")
	require.NoError(t, err)
	assert.Equal(t, "Arbaeen Pilgrimage Support", got.Name)
	assert.Contains(t, got.AltNames, "event ev-m")
}

func TestArbitrationFailureLeavesGroupUnchanged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "ev-m", "ev-1")

	arbiter := &stubArbiter{groupFn: func(*types.CanonicalEvent, []*types.CanonicalEvent) (*ai.GroupDecision, error) {
		return nil, errors.New("provider outage")
	}}

	summary, err := NewEngine(store, arbiter).Run(ctx, "Iran")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Degraded)

	// Master references and names survive untouched
	groups, err := store.GetMasterGroups(ctx, "Iran")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "ev-m", groups[0].Master.ID)
	assert.Equal(t, "event ev-m", groups[0].Master.Name)
	require.Len(t, groups[0].Children, 1)
}

func TestSplitCarvesOffSubGroup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "ev-m", "ev-1", "ev-2", "ev-3")

	arbiter := &stubArbiter{groupFn: func(*types.CanonicalEvent, []*types.CanonicalEvent) (*ai.GroupDecision, error) {
		return &ai.GroupDecision{
			Splits: []ai.SplitProposal{
				{CanonicalName: "Different Ceremony", MemberIDs: []string{"ev-2", "ev-3"}},
			},
			Confidence: 0.8,
		}, nil
	}}

	summary, err := NewEngine(store, arbiter).Run(ctx, "Iran")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	groups, err := store.GetMasterGroups(ctx, "Iran")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	byID := map[string]*storage.MasterGroup{}
	for _, g := range groups {
		byID[g.Master.ID] = g
	}
	require.Contains(t, byID, "ev-m")
	require.Len(t, byID["ev-m"].Children, 1)
	assert.Equal(t, "ev-1", byID["ev-m"].Children[0].ID)

	// ev-2 has more documents than ev-3, so it was promoted
	require.Contains(t, byID, "ev-2")
	assert.Equal(t, "Different Ceremony", byID["ev-2"].Master.Name)
	require.Len(t, byID["ev-2"].Children, 1)
	assert.Equal(t, "ev-3", byID["ev-2"].Children[0].ID)
}

func TestSingletonGroupsSkipArbitration(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "ev-solo")

	arbiter := &stubArbiter{groupFn: func(*types.CanonicalEvent, []*types.CanonicalEvent) (*ai.GroupDecision, error) {
		t.Fatal("arbiter must not be called for singleton groups")
		return nil, nil
	}}

	summary, err := NewEngine(store, arbiter).Run(ctx, "Iran")
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, arbiter.groupCalls)
}

func TestNilArbiterLeavesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedGroup(t, store, "ev-m", "ev-1")

	summary, err := NewEngine(store, nil).Run(ctx, "Iran")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Degraded)

	groups, err := store.GetMasterGroups(ctx, "Iran")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Children, 1)
}
