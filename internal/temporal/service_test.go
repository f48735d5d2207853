package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/internal/store"
)

func newTestTemporal(t *testing.T, cfg config.SnapshotsConfig) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Dimensions:       4,
		EmbeddingModel:   "static-hash-4",
		TokenizerVersion: "1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, cfg), st
}

func createNote(t *testing.T, st *store.Store, id, title string, tags []string) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateNote(context.Background(), &store.Note{
			ID: id, Title: title, Body: "body of " + id, Tags: tags,
		})
	}))
}

func TestCreateSnapshot_RecordsCountsDigestsAndCursor(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	createNote(t, st, "n1", "First", []string{"alpha"})
	createNote(t, st, "n2", "Second", []string{"alpha", "beta"})

	snap, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.NodeCount)
	assert.Equal(t, 0, snap.EdgeCount)
	assert.Equal(t, 2, snap.TagCount)
	assert.NotEmpty(t, snap.NodesDigest)
	assert.NotEmpty(t, snap.TagsDigest)
	assert.Equal(t, int64(2), snap.EventSeq, "cursor points at the last pre-snapshot event")

	// Content changes move the digest.
	createNote(t, st, "n3", "Third", nil)
	snap2, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
	require.NoError(t, err)
	assert.NotEqual(t, snap.NodesDigest, snap2.NodesDigest)
}

func TestListSnapshots_FiltersByType(t *testing.T) {
	svc, _ := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
	require.NoError(t, err)
	_, err = svc.CreateSnapshot(ctx, store.SnapshotAuto)
	require.NoError(t, err)

	manual, err := svc.ListSnapshots(ctx, ListOptions{Type: store.SnapshotManual})
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.Equal(t, store.SnapshotManual, manual[0].SnapshotType)

	all, err := svc.ListSnapshots(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestComputeDiff_AgainstBaselineSnapshot(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	createNote(t, st, "keep", "Kept", nil)
	createNote(t, st, "gone", "Doomed", nil)
	_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	since := time.Now()

	// Mutations after the baseline.
	createNote(t, st, "fresh", "Brand new", nil)
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		note, err := tx.GetNote(ctx, "keep")
		if err != nil {
			return err
		}
		note.Title = "Kept, renamed"
		return tx.UpdateNote(ctx, note)
	}))
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.DeleteNote(ctx, "gone")
	}))

	diff, err := svc.ComputeDiff(ctx, since, 0)
	require.NoError(t, err)

	require.NotNil(t, diff.Baseline)
	assert.Empty(t, diff.Warning)
	assert.Equal(t, []NodeChange{{ID: "fresh", Title: "Brand new"}}, diff.NodesAdded.Items)
	assert.Equal(t, []NodeChange{{ID: "gone", Title: "Doomed"}}, diff.NodesRemoved.Items)
	assert.Equal(t, []NodeChange{{ID: "keep", Title: "Kept, renamed"}}, diff.NodesUpdated.Items)
	assert.Equal(t, 2, diff.NodesBefore)
	assert.Equal(t, 2, diff.NodesAfter)
}

func TestComputeDiff_SyntheticBaselineWarns(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	createNote(t, st, "n1", "First", nil)

	diff, err := svc.ComputeDiff(ctx, time.Now(), 0)
	require.NoError(t, err)

	assert.Nil(t, diff.Baseline)
	assert.NotEmpty(t, diff.Warning)
	assert.Equal(t, []NodeChange{{ID: "n1", Title: "First"}}, diff.NodesAdded.Items)
	assert.Zero(t, diff.NodesBefore)
}

func TestComputeDiff_CreateThenDeleteIsNoNetChange(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	createNote(t, st, "blip", "Transient", nil)
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		return tx.DeleteNote(ctx, "blip")
	}))

	diff, err := svc.ComputeDiff(ctx, time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, diff.NodesAdded.Items)
	assert.Empty(t, diff.NodesRemoved.Items)
}

func TestComputeDiff_EdgeScoreNoiseIgnored(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	createNote(t, st, "a", "A", nil)
	createNote(t, st, "b", "B", nil)
	createNote(t, st, "c", "C", nil)
	upsert := func(a, b string, score float64) {
		require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
			return tx.UpsertEdge(ctx, &store.Edge{
				SourceID: a, TargetID: b, Score: score, EdgeType: store.EdgeTypeSemantic,
			})
		}))
	}
	upsert("a", "b", 0.70)
	upsert("a", "c", 0.70)
	_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	since := time.Now()

	upsert("a", "b", 0.705) // below the noise threshold
	upsert("a", "c", 0.90)  // real movement

	diff, err := svc.ComputeDiff(ctx, since, 0)
	require.NoError(t, err)
	require.Len(t, diff.EdgesChanged.Items, 1)
	assert.Equal(t, "a", diff.EdgesChanged.Items[0].SourceID)
	assert.Equal(t, "c", diff.EdgesChanged.Items[0].TargetID)
	assert.InDelta(t, 0.70, diff.EdgesChanged.Items[0].ScoreBefore, 1e-9)
	assert.InDelta(t, 0.90, diff.EdgesChanged.Items[0].ScoreAfter, 1e-9)
}

func TestComputeDiff_SectionTruncation(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		createNote(t, st, id, "Note "+id, nil)
	}

	diff, err := svc.ComputeDiff(ctx, time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, diff.NodesAdded.Items, 2)
	assert.Equal(t, 2, diff.NodesAdded.Truncated)
}

func TestGrowth_TimelineWithLivePoint(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	createNote(t, st, "n1", "First", nil)
	_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
	require.NoError(t, err)
	createNote(t, st, "n2", "Second", nil)

	points, err := svc.Growth(ctx, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)

	require.Len(t, points, 2)
	assert.Equal(t, 1, points[0].NodeCount)
	assert.False(t, points[0].Live)
	assert.Equal(t, 2, points[1].NodeCount)
	assert.True(t, points[1].Live)
}

func TestGrowth_Downsamples(t *testing.T) {
	svc, st := newTestTemporal(t, config.SnapshotsConfig{})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		createNote(t, st, id, "Note "+id, nil)
		_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
		require.NoError(t, err)
	}

	points, err := svc.Growth(ctx, time.Time{}, time.Time{}, 3)
	require.NoError(t, err)

	require.Len(t, points, 3)
	assert.Equal(t, 1, points[0].NodeCount, "first snapshot survives downsampling")
	assert.True(t, points[2].Live, "live point survives downsampling")
}

func TestMaybeAutoSnapshot_Policy(t *testing.T) {
	t.Run("first snapshot always taken", func(t *testing.T) {
		svc, _ := newTestTemporal(t, config.SnapshotsConfig{Interval: "1h", MutationThreshold: 100})
		snap, err := svc.MaybeAutoSnapshot(context.Background())
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, store.SnapshotAuto, snap.SnapshotType)
	})

	t.Run("quiet graph takes none", func(t *testing.T) {
		svc, st := newTestTemporal(t, config.SnapshotsConfig{Interval: "1h", MutationThreshold: 100})
		ctx := context.Background()
		_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
		require.NoError(t, err)
		createNote(t, st, "n1", "One", nil)

		snap, err := svc.MaybeAutoSnapshot(ctx)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("mutation threshold triggers", func(t *testing.T) {
		svc, st := newTestTemporal(t, config.SnapshotsConfig{Interval: "1h", MutationThreshold: 2})
		ctx := context.Background()
		_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
		require.NoError(t, err)
		createNote(t, st, "n1", "One", nil)
		createNote(t, st, "n2", "Two", nil)

		snap, err := svc.MaybeAutoSnapshot(ctx)
		require.NoError(t, err)
		require.NotNil(t, snap)
	})

	t.Run("interval elapse triggers", func(t *testing.T) {
		svc, _ := newTestTemporal(t, config.SnapshotsConfig{Interval: "1ms", MutationThreshold: 1000})
		ctx := context.Background()
		_, err := svc.CreateSnapshot(ctx, store.SnapshotManual)
		require.NoError(t, err)
		time.Sleep(3 * time.Millisecond)

		snap, err := svc.MaybeAutoSnapshot(ctx)
		require.NoError(t, err)
		require.NotNil(t, snap)
	})
}
