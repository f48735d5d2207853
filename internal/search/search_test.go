package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwl/forest/internal/embed"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// scriptedEmbedder returns preset vectors by exact text; unknown text
// embeds to absent.
type scriptedEmbedder struct {
	vectors map[string][]float32
}

var _ embed.Embedder = (*scriptedEmbedder)(nil)

func (e *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vectors[text], nil
}

func (e *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *scriptedEmbedder) Dimensions() int                { return 3 }
func (e *scriptedEmbedder) ModelName() string              { return "scripted-3" }
func (e *scriptedEmbedder) Available(context.Context) bool { return true }
func (e *scriptedEmbedder) Close() error                   { return nil }

func newTestService(t *testing.T, embedder embed.Embedder) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Dimensions:       3,
		EmbeddingModel:   "scripted-3",
		TokenizerVersion: "1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, embedder), st
}

func addNote(t *testing.T, st *store.Store, note *store.Note) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateNote(context.Background(), note)
	}))
}

func addEdge(t *testing.T, st *store.Store, a, b string, score float64) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.UpsertEdge(context.Background(), &store.Edge{
			SourceID: a, TargetID: b,
			Score:    score,
			EdgeType: store.EdgeTypeSemantic,
		})
	}))
}

func seedSemanticFixture(t *testing.T, st *store.Store) {
	t.Helper()
	addNote(t, st, &store.Note{
		ID: "a", Title: "exact match", Body: "alpha",
		Tags:      []string{"fish"},
		Embedding: []float32{1, 0, 0}, EmbeddingModel: "scripted-3",
	})
	addNote(t, st, &store.Note{
		ID: "b", Title: "close match", Body: "beta",
		Tags:      []string{"fish", "river"},
		Embedding: []float32{0.6, 0.8, 0}, EmbeddingModel: "scripted-3",
	})
	addNote(t, st, &store.Note{
		ID: "c", Title: "orthogonal", Body: "gamma",
		Embedding: []float32{0, 1, 0}, EmbeddingModel: "scripted-3",
	})
	addNote(t, st, &store.Note{
		ID: "d", Title: "no embedding", Body: "delta",
		Tags: []string{"fish"},
	})
}

func TestSemantic_RanksByCosine(t *testing.T) {
	// Given notes at known angles to the query vector
	embedder := &scriptedEmbedder{vectors: map[string][]float32{
		"salmon": {1, 0, 0},
	}}
	svc, st := newTestService(t, embedder)
	seedSemanticFixture(t, st)

	// When searching
	result, err := svc.Semantic(context.Background(), SemanticQuery{Text: "salmon"})
	require.NoError(t, err)

	// Then hits come back in similarity order, embedding-less notes absent
	require.Equal(t, 3, result.Total)
	assert.False(t, result.Degraded)
	assert.Equal(t, "a", result.Hits[0].Note.ID)
	assert.InDelta(t, 1.0, result.Hits[0].Similarity, 1e-9)
	assert.Equal(t, "b", result.Hits[1].Note.ID)
	assert.InDelta(t, 0.6, result.Hits[1].Similarity, 1e-9)
	assert.Equal(t, "c", result.Hits[2].Note.ID)
}

func TestSemantic_MinScoreAndTags(t *testing.T) {
	embedder := &scriptedEmbedder{vectors: map[string][]float32{
		"salmon": {1, 0, 0},
	}}
	svc, st := newTestService(t, embedder)
	seedSemanticFixture(t, st)

	result, err := svc.Semantic(context.Background(), SemanticQuery{
		Text:     "salmon",
		MinScore: 0.5,
		Tags:     []string{"fish"},
	})
	require.NoError(t, err)

	require.Equal(t, 2, result.Total)
	assert.Equal(t, "a", result.Hits[0].Note.ID)
	assert.Equal(t, "b", result.Hits[1].Note.ID)
}

func TestSemantic_Pagination(t *testing.T) {
	embedder := &scriptedEmbedder{vectors: map[string][]float32{
		"salmon": {1, 0, 0},
	}}
	svc, st := newTestService(t, embedder)
	seedSemanticFixture(t, st)

	result, err := svc.Semantic(context.Background(), SemanticQuery{
		Text: "salmon", Limit: 1, Offset: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total, "total counts the whole ranked set")
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "b", result.Hits[0].Note.ID)
}

func TestSemantic_FallsBackToTermMatchWhenQueryEmbedsAbsent(t *testing.T) {
	embedder := &scriptedEmbedder{vectors: map[string][]float32{}}
	svc, st := newTestService(t, embedder)
	seedSemanticFixture(t, st)

	result, err := svc.Semantic(context.Background(), SemanticQuery{Text: "gamma"})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "c", result.Hits[0].Note.ID)
	assert.Zero(t, result.Hits[0].Similarity)
}

func TestSemantic_RequiresQueryText(t *testing.T) {
	svc, _ := newTestService(t, &scriptedEmbedder{})
	_, err := svc.Semantic(context.Background(), SemanticQuery{Text: "  "})
	assert.True(t, forerrors.IsKind(err, forerrors.KindValidationFailed))
}

func TestMetadata_Filters(t *testing.T) {
	svc, st := newTestService(t, &scriptedEmbedder{})
	addNote(t, st, &store.Note{
		ID: "n1", Title: "Salmon runs", Body: "upstream in autumn",
		Tags:     []string{"fish", "river"},
		Metadata: store.NoteMetadata{Origin: store.OriginCapture, CreatedBy: "user"},
	})
	addNote(t, st, &store.Note{
		ID: "n2", Title: "Bread recipe", Body: "flour and water",
		Tags:     []string{"cooking"},
		Metadata: store.NoteMetadata{Origin: store.OriginImport, CreatedBy: "user"},
	})
	addNote(t, st, &store.Note{
		ID: "n3", Title: "Salmon chunk", Body: "part of a document",
		Metadata: store.NoteMetadata{IsChunk: true, ParentDocumentID: "doc"},
	})

	t.Run("term matches across title tags and body", func(t *testing.T) {
		notes, total, err := svc.Metadata(context.Background(), MetadataQuery{Term: "AUTUMN"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "n1", notes[0].ID)
	})

	t.Run("chunks hidden unless requested", func(t *testing.T) {
		_, total, err := svc.Metadata(context.Background(), MetadataQuery{Title: "salmon"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		_, total, err = svc.Metadata(context.Background(), MetadataQuery{Title: "salmon", ShowChunks: true})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("tagsAll and tagsAny", func(t *testing.T) {
		_, total, err := svc.Metadata(context.Background(), MetadataQuery{TagsAll: []string{"fish", "river"}})
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		_, total, err = svc.Metadata(context.Background(), MetadataQuery{TagsAny: []string{"river", "cooking"}})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("origin filter", func(t *testing.T) {
		notes, _, err := svc.Metadata(context.Background(), MetadataQuery{Origin: store.OriginImport})
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, "n2", notes[0].ID)
	})

	t.Run("id prefix", func(t *testing.T) {
		_, total, err := svc.Metadata(context.Background(), MetadataQuery{ID: "n"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("unknown sort rejected", func(t *testing.T) {
		_, _, err := svc.Metadata(context.Background(), MetadataQuery{Sort: "alphabetical"})
		assert.True(t, forerrors.IsKind(err, forerrors.KindValidationFailed))
	})
}

func TestMetadata_TimeBounds(t *testing.T) {
	svc, st := newTestService(t, &scriptedEmbedder{})
	addNote(t, st, &store.Note{ID: "old", Title: "Old", Body: "x"})
	time.Sleep(2 * time.Millisecond)
	cut := time.Now()
	time.Sleep(2 * time.Millisecond)
	addNote(t, st, &store.Note{ID: "new", Title: "New", Body: "x"})

	notes, _, err := svc.Metadata(context.Background(), MetadataQuery{Since: cut})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "new", notes[0].ID)

	notes, _, err = svc.Metadata(context.Background(), MetadataQuery{Until: cut})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "old", notes[0].ID)
}

func TestMetadata_SortByDegreeAndScore(t *testing.T) {
	svc, st := newTestService(t, &scriptedEmbedder{})
	for _, id := range []string{"hub", "mid", "leaf"} {
		addNote(t, st, &store.Note{ID: id, Title: id, Body: "x"})
	}
	addEdge(t, st, "hub", "mid", 0.9)
	addEdge(t, st, "hub", "leaf", 0.7)
	addEdge(t, st, "mid", "leaf", 0.95)

	notes, _, err := svc.Metadata(context.Background(), MetadataQuery{Sort: SortDegree})
	require.NoError(t, err)
	// All three have degree 2; ties fall back to id ascending.
	assert.Equal(t, []string{"hub", "leaf", "mid"}, noteIDs(notes))

	notes, _, err = svc.Metadata(context.Background(), MetadataQuery{Sort: SortScore})
	require.NoError(t, err)
	// Weighted: mid=1.85, leaf=1.65, hub=1.6.
	assert.Equal(t, []string{"mid", "leaf", "hub"}, noteIDs(notes))
}

func noteIDs(notes []*store.Note) []string {
	ids := make([]string, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	return ids
}

func TestNeighborhood_DepthAndTrim(t *testing.T) {
	svc, st := newTestService(t, &scriptedEmbedder{})
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		addNote(t, st, &store.Note{ID: id, Title: id, Body: "x"})
	}
	// a - b - d, a - c, b - e. Strong edge a-b, weak a-c.
	addEdge(t, st, "a", "b", 0.9)
	addEdge(t, st, "a", "c", 0.5)
	addEdge(t, st, "b", "d", 0.8)
	addEdge(t, st, "b", "e", 0.6)

	t.Run("depth one", func(t *testing.T) {
		g, err := svc.Neighborhood(context.Background(), "a", 1, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, noteIDs(g.Nodes))
		assert.Len(t, g.Edges, 2)
	})

	t.Run("depth two reaches the next ring", func(t *testing.T) {
		g, err := svc.Neighborhood(context.Background(), "a", 2, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, noteIDs(g.Nodes))
		assert.Len(t, g.Edges, 4)
	})

	t.Run("limit keeps center and drops farthest first", func(t *testing.T) {
		g, err := svc.Neighborhood(context.Background(), "a", 2, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, noteIDs(g.Nodes))
		for _, edge := range g.Edges {
			assert.NotContains(t, []string{"d", "e"}, edge.SourceID)
			assert.NotContains(t, []string{"d", "e"}, edge.TargetID)
		}
	})

	t.Run("unknown center", func(t *testing.T) {
		_, err := svc.Neighborhood(context.Background(), "nope", 1, 0)
		assert.True(t, forerrors.IsKind(err, forerrors.KindNotFound))
	})
}
