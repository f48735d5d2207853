package admin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/internal/document"
	"github.com/bwl/forest/internal/embed"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/link"
	"github.com/bwl/forest/internal/score"
	"github.com/bwl/forest/internal/store"
)

// countingEmbedder returns a fixed unit vector and counts provider
// calls.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

var _ embed.Embedder = (*countingEmbedder)(nil)

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if text == "" {
		return nil, nil
	}
	return []float32{1, 0, 0}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int                { return 3 }
func (e *countingEmbedder) ModelName() string              { return "counting-3" }
func (e *countingEmbedder) Available(context.Context) bool { return true }
func (e *countingEmbedder) Close() error                   { return nil }

func (e *countingEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// stubTagger returns scripted tags and can fail for specific notes.
type stubTagger struct {
	tags    []string
	failFor map[string]bool
}

func (s *stubTagger) Tags(_ context.Context, title, _ string) ([]string, error) {
	if s.failFor[title] {
		return nil, errors.New("tagging provider unavailable")
	}
	return s.tags, nil
}

func newTestRunner(t *testing.T, tagger Tagger) (*Runner, *store.Store, *countingEmbedder) {
	t.Helper()
	embedder := &countingEmbedder{}
	st, err := store.Open(context.Background(), store.Options{
		Dimensions:       3,
		EmbeddingModel:   embedder.ModelName(),
		TokenizerVersion: "1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	engine := link.New(st, score.New(cfg.Scoring), embedder, cfg.Linking)
	pipeline := document.New(st, engine, embedder, cfg.Chunking)
	return New(st, engine, pipeline, embedder, tagger, 2), st, embedder
}

func addNote(t *testing.T, st *store.Store, note *store.Note) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), func(tx *store.Tx) error {
		return tx.CreateNote(context.Background(), note)
	}))
}

func TestRecomputeEmbeddings_SkipsCurrentModel(t *testing.T) {
	runner, st, embedder := newTestRunner(t, nil)
	ctx := context.Background()

	// Already on the current model: resumable skip.
	addNote(t, st, &store.Note{
		ID: "done", Title: "Done", Body: "x",
		Embedding: []float32{1, 0, 0}, EmbeddingModel: "counting-3",
	})
	// Stale model and missing embedding both need work.
	addNote(t, st, &store.Note{
		ID: "stale", Title: "Stale", Body: "x",
		Embedding: []float32{0, 1, 0}, EmbeddingModel: "old-model",
	})
	addNote(t, st, &store.Note{ID: "missing", Title: "Missing", Body: "x"})

	var ticks []Progress
	var mu sync.Mutex
	report, err := runner.RecomputeEmbeddings(ctx, RecomputeOptions{}, func(p Progress) {
		mu.Lock()
		ticks = append(ticks, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Len(t, ticks, 2)
	assert.Equal(t, 2, embedder.callCount())

	missing, err := st.ListNotes(ctx, store.ListNotesOptions{MissingEmbedding: true, IncludeChunks: true})
	require.NoError(t, err)
	assert.Empty(t, missing)

	stale, err := st.GetNote(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, "counting-3", stale.EmbeddingModel)
}

func TestRecomputeEmbeddings_ForceReembedsEverything(t *testing.T) {
	runner, st, embedder := newTestRunner(t, nil)

	addNote(t, st, &store.Note{
		ID: "done", Title: "Done", Body: "x",
		Embedding: []float32{1, 0, 0}, EmbeddingModel: "counting-3",
	})

	report, err := runner.RecomputeEmbeddings(context.Background(), RecomputeOptions{Force: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 1, embedder.callCount())
}

func TestRecomputeEmbeddings_Cancelled(t *testing.T) {
	runner, st, _ := newTestRunner(t, nil)
	addNote(t, st, &store.Note{ID: "n", Title: "N", Body: "x"})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.RecomputeEmbeddings(cancelled, RecomputeOptions{}, nil)
	assert.True(t, forerrors.IsKind(err, forerrors.KindCancelled))
}

func TestRetagAll_DryRunReportsWithoutWriting(t *testing.T) {
	tagger := &stubTagger{tags: []string{"new-tag"}}
	runner, st, _ := newTestRunner(t, tagger)
	ctx := context.Background()

	addNote(t, st, &store.Note{ID: "n1", Title: "One", Body: "x", Tags: []string{"old-tag"}})

	report, err := runner.RetagAll(ctx, RetagOptions{DryRun: true}, nil)
	require.NoError(t, err)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, []string{"old-tag"}, report.Changes[0].Before)
	assert.Equal(t, []string{"new-tag"}, report.Changes[0].After)

	note, err := st.GetNote(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"old-tag"}, note.Tags, "dry run leaves the store untouched")
}

func TestRetagAll_WritesChangesAndSkipsUnchanged(t *testing.T) {
	tagger := &stubTagger{tags: []string{"same"}}
	runner, st, _ := newTestRunner(t, tagger)
	ctx := context.Background()

	addNote(t, st, &store.Note{ID: "n1", Title: "One", Body: "x", Tags: []string{"same"}})
	addNote(t, st, &store.Note{ID: "n2", Title: "Two", Body: "x", Tags: []string{"different"}})

	report, err := runner.RetagAll(ctx, RetagOptions{SkipUnchanged: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, "n2", report.Changes[0].NoteID)

	note, err := st.GetNote(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, []string{"same"}, note.Tags)
}

func TestRetagAll_ProviderFailureDoesNotAbortBatch(t *testing.T) {
	tagger := &stubTagger{tags: []string{"t"}, failFor: map[string]bool{"Bad": true}}
	runner, st, _ := newTestRunner(t, tagger)

	addNote(t, st, &store.Note{ID: "a", Title: "Bad", Body: "x"})
	addNote(t, st, &store.Note{ID: "b", Title: "Good", Body: "x"})

	report, err := runner.RetagAll(context.Background(), RetagOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "a", report.Errors[0].ID)
}

func TestRetagAll_SkipAndLimitWindow(t *testing.T) {
	tagger := &stubTagger{tags: []string{"t"}}
	runner, st, _ := newTestRunner(t, tagger)

	for _, id := range []string{"a", "b", "c", "d"} {
		addNote(t, st, &store.Note{ID: id, Title: id, Body: "x"})
	}

	report, err := runner.RetagAll(context.Background(), RetagOptions{Skip: 1, Limit: 2, DryRun: true}, nil)
	require.NoError(t, err)
	// Window covers b and c only.
	assert.Equal(t, 2, report.Processed+report.Failed)
	require.Len(t, report.Changes, 2)
	assert.Equal(t, "b", report.Changes[0].NoteID)
	assert.Equal(t, "c", report.Changes[1].NoteID)
}

func TestRescoreAll_ReportsProgress(t *testing.T) {
	runner, st, _ := newTestRunner(t, nil)

	addNote(t, st, &store.Note{ID: "a", Title: "A", Body: "x"})
	addNote(t, st, &store.Note{ID: "b", Title: "B", Body: "x"})

	var ids []string
	err := runner.RescoreAll(context.Background(), func(p Progress) {
		ids = append(ids, p.NoteID)
		assert.NoError(t, p.Err)
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestBackfillDocuments_AdoptsOrphanChunks(t *testing.T) {
	runner, st, _ := newTestRunner(t, nil)
	ctx := context.Background()

	addNote(t, st, &store.Note{
		ID: "orphan", Title: "Orphan", Body: "chunk body",
		Metadata: store.NoteMetadata{IsChunk: true, ParentDocumentID: "lost-doc"},
	})

	report, err := runner.BackfillDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocumentsCreated)

	_, err = st.GetDocument(ctx, "lost-doc")
	require.NoError(t, err)
}
