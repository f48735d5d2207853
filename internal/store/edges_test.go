package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forerrors "github.com/bwl/forest/internal/errors"
)

func seedPair(t *testing.T, s *Store) {
	t.Helper()
	mustCreateNote(t, s, &Note{ID: "aaa", Title: "first", Body: "", Tags: []string{"go"}})
	mustCreateNote(t, s, &Note{ID: "bbb", Title: "second", Body: "", Tags: []string{"go", "db"}})
}

func TestEdges_CanonicalOrderingIsEnforced(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedPair(t, s)

	// Given: an edge created with reversed endpoints
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertEdge(ctx, &Edge{
			SourceID: "bbb", TargetID: "aaa",
			Score: 0.7, EdgeType: EdgeTypeSemantic,
		})
	}))

	// Then: the stored row is canonical and findable from either order
	edge, err := s.GetEdgeByPair(ctx, "bbb", "aaa")
	require.NoError(t, err)
	assert.Equal(t, "aaa", edge.SourceID)
	assert.Equal(t, "bbb", edge.TargetID)
	assert.Equal(t, "aaa", edge.Other("bbb"))
}

func TestEdges_UpsertKeepsIdentityAndCreatedAt(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedPair(t, s)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertEdge(ctx, &Edge{
			SourceID: "aaa", TargetID: "bbb", Score: 0.5, EdgeType: EdgeTypeSemantic,
		})
	}))
	original, err := s.GetEdgeByPair(ctx, "aaa", "bbb")
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertEdge(ctx, &Edge{
			SourceID: "aaa", TargetID: "bbb", Score: 0.9, EdgeType: EdgeTypeSemantic,
		})
	}))
	updated, err := s.GetEdgeByPair(ctx, "aaa", "bbb")
	require.NoError(t, err)

	assert.Equal(t, original.ID, updated.ID)
	assert.Equal(t, original.CreatedAt, updated.CreatedAt)
	assert.Equal(t, 0.9, updated.Score)
}

func TestEdges_SelfLoopRejected(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedPair(t, s)

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertEdge(ctx, &Edge{
			SourceID: "aaa", TargetID: "aaa", Score: 1, EdgeType: EdgeTypeManual,
		})
	})
	require.Error(t, err)
	assert.True(t, forerrors.IsKind(err, forerrors.KindValidationFailed))
}

func TestEdges_EventsCarryEndpointTags(t *testing.T) {
	sink := &captureSink{}
	s := newTestStore(t, sink)
	ctx := context.Background()
	seedPair(t, s)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertEdge(ctx, &Edge{
			SourceID: "aaa", TargetID: "bbb", Score: 0.7, EdgeType: EdgeTypeSemantic,
		})
	}))

	var created *Event
	for i := range sink.events {
		if sink.events[i].Kind == EventEdgeCreated {
			created = &sink.events[i]
		}
	}
	require.NotNil(t, created)
	assert.ElementsMatch(t, []string{"go", "db"}, created.Tags)
}

func TestEdges_Degrees(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedPair(t, s)
	mustCreateNote(t, s, &Note{ID: "ccc", Title: "third", Body: ""})

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertEdge(ctx, &Edge{SourceID: "aaa", TargetID: "bbb", Score: 0.7, EdgeType: EdgeTypeSemantic}); err != nil {
			return err
		}
		return tx.UpsertEdge(ctx, &Edge{SourceID: "bbb", TargetID: "ccc", Score: 0.6, EdgeType: EdgeTypeSemantic})
	}))

	degrees, err := s.Degrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, degrees["aaa"])
	assert.Equal(t, 2, degrees["bbb"])
	assert.Equal(t, 1, degrees["ccc"])
}

func TestEdgeType_Classification(t *testing.T) {
	assert.True(t, EdgeTypeStructuralParent.Structural())
	assert.True(t, EdgeTypeStructuralSequential.Structural())
	assert.False(t, EdgeTypeSemantic.Structural())

	assert.True(t, EdgeTypeSemantic.AutoPrunable())
	assert.True(t, EdgeTypeBridgeTag.AutoPrunable())
	assert.False(t, EdgeTypeManual.AutoPrunable())
	assert.False(t, EdgeTypeStructuralParent.AutoPrunable())
}
