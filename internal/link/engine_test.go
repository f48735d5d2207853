package link

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/internal/embed"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/score"
	"github.com/bwl/forest/internal/store"
)

// scriptedEmbedder returns a fixed vector per text, absent for texts it
// does not know. Vectors are unit-norm by construction in the fixtures.
type scriptedEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (s *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return s.vectors[text], nil
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func (s *scriptedEmbedder) Dimensions() int                  { return s.dims }
func (s *scriptedEmbedder) ModelName() string                { return "scripted" }
func (s *scriptedEmbedder) Available(context.Context) bool   { return true }
func (s *scriptedEmbedder) Close() error                     { return nil }

var _ embed.Embedder = (*scriptedEmbedder)(nil)

func canonical(title, body string) string { return title + "\n\n" + body }

func newTestEngine(t *testing.T, vectors map[string][]float32) *Engine {
	t.Helper()
	cfg := config.Default()
	st, err := store.Open(context.Background(), store.Options{
		Dimensions:       3,
		EmbeddingModel:   "scripted",
		TokenizerVersion: "1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(st, score.New(cfg.Scoring), &scriptedEmbedder{vectors: vectors, dims: 3}, cfg.Linking)
}

func TestCaptureAndLink(t *testing.T) {
	// Given: two notes with identical embeddings and identical tags
	vectors := map[string][]float32{
		canonical("Anadromous fish migration", "Patterns in #ecology #rivers"):  {1, 0, 0},
		canonical("Columbia river salmon runs", "Counts from #ecology #rivers"): {1, 0, 0},
	}
	e := newTestEngine(t, vectors)
	ctx := context.Background()

	a, err := e.CaptureNote(ctx, CaptureInput{
		Title: "Anadromous fish migration", Body: "Patterns in #ecology #rivers",
	})
	require.NoError(t, err)
	b, err := e.CaptureNote(ctx, CaptureInput{
		Title: "Columbia river salmon runs", Body: "Counts from #ecology #rivers",
	})
	require.NoError(t, err)

	// Then: exactly one accepted edge with full tag and embedding signals
	edge, err := e.store.GetEdgeByPair(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, edge.TagScore, 1e-9)
	assert.InDelta(t, 1.0, edge.Components.EmbeddingSimilarity, 1e-9)
	assert.GreaterOrEqual(t, edge.Score, 0.60)
	assert.Equal(t, store.EdgeTypeSemantic, edge.EdgeType)

	all, err := e.store.AllEdges(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLinkOne_Idempotent(t *testing.T) {
	vectors := map[string][]float32{
		canonical("a", "#shared one"): {1, 0, 0},
		canonical("b", "#shared two"): {1, 0, 0},
	}
	e := newTestEngine(t, vectors)
	ctx := context.Background()

	a, err := e.CaptureNote(ctx, CaptureInput{Title: "a", Body: "#shared one"})
	require.NoError(t, err)
	_, err = e.CaptureNote(ctx, CaptureInput{Title: "b", Body: "#shared two"})
	require.NoError(t, err)

	before, err := e.store.AllEdges(ctx)
	require.NoError(t, err)

	require.NoError(t, e.LinkOne(ctx, a.ID))
	require.NoError(t, e.LinkOne(ctx, a.ID))

	after, err := e.store.AllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].Score, after[0].Score)
}

func TestUpdateNote_ThresholdDemotionRemovesEdge(t *testing.T) {
	// Given: A and B linked with high similarity
	vectors := map[string][]float32{
		canonical("alpha note", "#topic matching text"):   {1, 0, 0},
		canonical("beta note", "#topic matching words"):   {1, 0, 0},
		canonical("beta note", "entirely unrelated now"):  {0, 0, 1},
	}
	e := newTestEngine(t, vectors)
	ctx := context.Background()

	a, err := e.CaptureNote(ctx, CaptureInput{Title: "alpha note", Body: "#topic matching text"})
	require.NoError(t, err)
	b, err := e.CaptureNote(ctx, CaptureInput{Title: "beta note", Body: "#topic matching words"})
	require.NoError(t, err)

	_, err = e.store.GetEdgeByPair(ctx, a.ID, b.ID)
	require.NoError(t, err, "setup: edge should exist before demotion")

	// When: B's text becomes unrelated (orthogonal embedding, no tags)
	newBody := "entirely unrelated now"
	_, err = e.UpdateNote(ctx, b.ID, UpdateInput{Body: &newBody, Tags: []string{}})
	require.NoError(t, err)

	// Then: the edge is gone and B has no below-threshold edges
	_, err = e.store.GetEdgeByPair(ctx, a.ID, b.ID)
	assert.True(t, forerrors.IsKind(err, forerrors.KindNotFound))

	edges, err := e.store.EdgesForNote(ctx, b.ID)
	require.NoError(t, err)
	for _, edge := range edges {
		assert.GreaterOrEqual(t, edge.Score, 0.60)
	}
}

func TestDeleteNote_CascadeLeavesNoDanglingEdges(t *testing.T) {
	vectors := map[string][]float32{
		canonical("a", "#x"): {1, 0, 0},
		canonical("b", "#x"): {1, 0, 0},
	}
	e := newTestEngine(t, vectors)
	ctx := context.Background()

	a, err := e.CaptureNote(ctx, CaptureInput{Title: "a", Body: "#x"})
	require.NoError(t, err)
	b, err := e.CaptureNote(ctx, CaptureInput{Title: "b", Body: "#x"})
	require.NoError(t, err)

	require.NoError(t, e.DeleteNote(ctx, a.ID))

	edges, err := e.store.EdgesForNote(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestDeleteNote_RefusesChunks(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	chunk, err := e.CaptureNote(ctx, CaptureInput{
		Title: "doc [1/2]", Body: "part",
		IsChunk: true, ParentDocumentID: "doc-1", NoAutoLink: true,
	})
	require.NoError(t, err)

	err = e.DeleteNote(ctx, chunk.ID)
	require.Error(t, err)
	assert.True(t, forerrors.IsKind(err, forerrors.KindDocumentIntegrity))
}

func TestCaptureNote_AbsentEmbeddingStillLinksByTags(t *testing.T) {
	// The scripted embedder knows neither text: both embeddings absent.
	e := newTestEngine(t, nil)
	ctx := context.Background()

	a, err := e.CaptureNote(ctx, CaptureInput{Title: "a", Body: "#link/project alpha"})
	require.NoError(t, err)
	assert.Nil(t, a.Embedding)
	assert.Empty(t, a.EmbeddingModel)

	b, err := e.CaptureNote(ctx, CaptureInput{Title: "b", Body: "#link/project beta"})
	require.NoError(t, err)

	// Bridge tag forces tagScore=1; score = 0.7*semantic + 0.3*1.
	edge, err := e.store.GetEdgeByPair(ctx, a.ID, b.ID)
	if err == nil {
		assert.Zero(t, edge.Components.EmbeddingSimilarity)
		assert.Equal(t, "link/project", edge.Components.BridgeTag)
	} else {
		// Without embedding and token overlap the pair may stay below
		// threshold; either way nothing dangles.
		assert.True(t, forerrors.IsKind(err, forerrors.KindNotFound))
	}
}

func TestCaptureNote_Validation(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.CaptureNote(ctx, CaptureInput{Title: "  ", Body: "b"})
	assert.True(t, forerrors.IsKind(err, forerrors.KindValidationFailed))

	_, err = e.CaptureNote(ctx, CaptureInput{Title: "t", Body: "b", Tags: []string{"bad tag"}})
	assert.True(t, forerrors.IsKind(err, forerrors.KindValidationFailed))
}

func TestManualEdge_SurvivesRescore(t *testing.T) {
	vectors := map[string][]float32{
		canonical("a", "first body"):  {1, 0, 0},
		canonical("b", "second body"): {0, 0, 1},
	}
	e := newTestEngine(t, vectors)
	ctx := context.Background()

	a, err := e.CaptureNote(ctx, CaptureInput{Title: "a", Body: "first body"})
	require.NoError(t, err)
	b, err := e.CaptureNote(ctx, CaptureInput{Title: "b", Body: "second body"})
	require.NoError(t, err)

	manual, err := e.CreateManualEdge(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EdgeTypeManual, manual.EdgeType)

	// The pair scores well below accept, yet rescore keeps the edge.
	require.NoError(t, e.RescoreOne(ctx, a.ID))

	kept, err := e.store.GetEdgeByPair(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, manual.ID, kept.ID)
	assert.Equal(t, store.EdgeTypeManual, kept.EdgeType)
}

func TestSuggestions_BandedAndNotPersisted(t *testing.T) {
	// cos=0.8 maps to embeddingSimilarity 0.9; with token overlap 0.2
	// the aggregate lands at 0.413, inside [0.40, 0.60).
	vectors := map[string][]float32{
		canonical("first", "one body"):  {1, 0, 0},
		canonical("second", "two body"): {0.8, 0.6, 0},
	}
	e := newTestEngine(t, vectors)
	ctx := context.Background()

	a, err := e.CaptureNote(ctx, CaptureInput{Title: "first", Body: "one body"})
	require.NoError(t, err)
	b, err := e.CaptureNote(ctx, CaptureInput{Title: "second", Body: "two body"})
	require.NoError(t, err)

	suggestions, err := e.Suggestions(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, b.ID, suggestions[0].NoteID)
	assert.GreaterOrEqual(t, suggestions[0].Result.Score, 0.40)
	assert.Less(t, suggestions[0].Result.Score, 0.60)

	// The band never mutates the graph.
	edges, err := e.store.AllEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestRescoreAll_ReportsProgressAndHonorsCancel(t *testing.T) {
	vectors := map[string][]float32{
		canonical("a", "x"): {1, 0, 0},
		canonical("b", "y"): {0, 1, 0},
	}
	e := newTestEngine(t, vectors)
	ctx := context.Background()

	_, err := e.CaptureNote(ctx, CaptureInput{Title: "a", Body: "x"})
	require.NoError(t, err)
	_, err = e.CaptureNote(ctx, CaptureInput{Title: "b", Body: "y"})
	require.NoError(t, err)

	var visited []string
	require.NoError(t, e.RescoreAll(ctx, func(noteID string, err error) {
		require.NoError(t, err)
		visited = append(visited, noteID)
	}))
	assert.Len(t, visited, 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = e.RescoreAll(cancelled, nil)
	require.Error(t, err)
	assert.True(t, forerrors.IsKind(err, forerrors.KindCancelled))
}
