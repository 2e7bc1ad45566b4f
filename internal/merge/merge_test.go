package merge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// seedEvent creates one canonical event with a single daily mention through
// the same resolution path the deconflict stage uses.
func seedEvent(t *testing.T, store storage.Storage, id, name, date string, docs []string) {
	t.Helper()
	ctx := context.Background()
	d := day(date)
	e := &types.CanonicalEvent{
		ID: id, Name: name, Country: "Iraq",
		FirstDate: d, LastDate: d, MentionDays: 1,
		TotalDocuments: len(docs),
	}
	c := &types.EventCluster{
		Country: "Iraq", Date: d, Representative: name,
		MemberNames: []string{name}, DocumentIDs: docs,
		Status: types.ClusterUnprocessed,
	}
	require.NoError(t, store.ReplaceDayClusters(ctx, "Iraq", d, []*types.EventCluster{c}))
	m := &types.DailyMention{EventID: id, Date: d, DocumentIDs: docs, DocumentCount: len(docs)}
	require.NoError(t, store.CommitClusterResolution(ctx, c.ID, []*types.CanonicalEvent{e}, []*types.DailyMention{m}))
}

func TestRunFoldsChildrenIntoMaster(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedEvent(t, store, "ev-m", "Arbaeen Pilgrimage Support", "2025-08-14", []string{"doc-1", "doc-2"})
	seedEvent(t, store, "ev-c1", "Arbaeen pilgrimage", "2025-08-15", []string{"doc-3"})
	seedEvent(t, store, "ev-c2", "pilgrimage support services", "2025-08-16", []string{"doc-4"})
	require.NoError(t, store.SetComponentMaster(ctx, "ev-m", []string{"ev-c1", "ev-c2"}))

	unionBefore, err := store.GetDocumentUnion(ctx, []string{"ev-m", "ev-c1", "ev-c2"})
	require.NoError(t, err)
	require.Len(t, unionBefore, 4)

	summary, err := NewEngine(store).Run(ctx, "Iraq")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.FatalErrors)

	// Children are gone
	for _, id := range []string{"ev-c1", "ev-c2"} {
		got, err := store.GetCanonicalEvent(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got, "child %s should be deleted", id)
	}

	// Master now carries the full evidence history
	unionAfter, err := store.GetDocumentUnion(ctx, []string{"ev-m"})
	require.NoError(t, err)
	assert.ElementsMatch(t, unionBefore, unionAfter)

	master, err := store.GetCanonicalEvent(ctx, "ev-m")
	require.NoError(t, err)
	require.NotNil(t, master)
	assert.Equal(t, day("2025-08-14"), master.FirstDate)
	assert.Equal(t, day("2025-08-16"), master.LastDate)
	assert.Equal(t, 3, master.MentionDays)
	assert.Equal(t, 4, master.TotalDocuments)
}

func TestRunCollidingDatesMergeMentionRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Master and child were both mentioned on the 14th
	seedEvent(t, store, "ev-m", "flood relief sindh", "2025-08-14", []string{"doc-a"})
	seedEvent(t, store, "ev-c", "sindh flood aid", "2025-08-14", []string{"doc-b"})
	require.NoError(t, store.SetComponentMaster(ctx, "ev-m", []string{"ev-c"}))

	summary, err := NewEngine(store).Run(ctx, "Iraq")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	master, err := store.GetCanonicalEvent(ctx, "ev-m")
	require.NoError(t, err)
	require.NotNil(t, master)
	assert.Equal(t, 1, master.MentionDays)
	assert.Equal(t, 2, master.TotalDocuments)

	union, err := store.GetDocumentUnion(ctx, []string{"ev-m"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-a", "doc-b"}, union)
}

func TestRunIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedEvent(t, store, "ev-m", "harvest festival", "2025-08-14", []string{"doc-1"})
	seedEvent(t, store, "ev-c", "annual harvest festival", "2025-08-15", []string{"doc-2"})
	require.NoError(t, store.SetComponentMaster(ctx, "ev-m", []string{"ev-c"}))

	_, err := NewEngine(store).Run(ctx, "Iraq")
	require.NoError(t, err)

	// Nothing left to merge: the survivor is a childless master
	summary, err := NewEngine(store).Run(ctx, "Iraq")
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)

	union, err := store.GetDocumentUnion(ctx, []string{"ev-m"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, union)
}

func TestRunSkipsStandaloneEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedEvent(t, store, "ev-solo", "port ceremony", "2025-08-14", []string{"doc-1"})

	summary, err := NewEngine(store).Run(ctx, "Iraq")
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
}

func TestDifference(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{"disjoint", []string{"x", "y"}, []string{"z"}, []string{"x", "y"}},
		{"subset", []string{"x"}, []string{"x", "y"}, nil},
		{"sorted output", []string{"c", "a", "b"}, []string{"b"}, []string{"a", "c"}},
		{"both empty", nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := difference(tt.a, tt.b)
			if len(got) != len(tt.want) {
				t.Fatalf("difference(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("difference(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
				}
			}
		})
	}
}
