package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func collectBatch(t *testing.T, d *Debouncer) []Event {
	t.Helper()
	select {
	case batch := <-d.Events():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("no batch within deadline")
		return nil
	}
}

func TestDebouncer_CoalescesPerPath(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Close()

	t.Run("create plus modify stays create", func(t *testing.T) {
		d.Add(Event{Path: "a.md", Op: OpCreate})
		d.Add(Event{Path: "a.md", Op: OpModify})
		batch := collectBatch(t, d)
		require.Len(t, batch, 1)
		assert.Equal(t, OpCreate, batch[0].Op)
	})

	t.Run("create plus delete cancels out", func(t *testing.T) {
		d.Add(Event{Path: "b.md", Op: OpCreate})
		d.Add(Event{Path: "b.md", Op: OpDelete})
		d.Add(Event{Path: "c.md", Op: OpModify})
		batch := collectBatch(t, d)
		require.Len(t, batch, 1)
		assert.Equal(t, "c.md", batch[0].Path)
	})

	t.Run("delete plus create becomes modify", func(t *testing.T) {
		d.Add(Event{Path: "d.md", Op: OpDelete})
		d.Add(Event{Path: "d.md", Op: OpCreate})
		batch := collectBatch(t, d)
		require.Len(t, batch, 1)
		assert.Equal(t, OpModify, batch[0].Op)
	})

	t.Run("modify plus delete stays delete", func(t *testing.T) {
		d.Add(Event{Path: "e.md", Op: OpModify})
		d.Add(Event{Path: "e.md", Op: OpDelete})
		batch := collectBatch(t, d)
		require.Len(t, batch, 1)
		assert.Equal(t, OpDelete, batch[0].Op)
	})
}

func TestDebouncer_AddAfterCloseIsNoOp(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Close()
	d.Add(Event{Path: "a.md", Op: OpCreate})

	_, open := <-d.Events()
	assert.False(t, open)
}

func TestIsMarkdown(t *testing.T) {
	assert.True(t, IsMarkdown("notes/today.md"))
	assert.True(t, IsMarkdown("A.MARKDOWN"))
	assert.False(t, IsMarkdown("image.png"))
	assert.False(t, IsMarkdown("nodotfile"))
}

func newTestVault(t *testing.T) (*Vault, *store.Store, string) {
	t.Helper()
	embedder := embed.NewStaticEmbedder(8)
	st, err := store.Open(context.Background(), store.Options{
		Dimensions:       8,
		EmbeddingModel:   embedder.ModelName(),
		TokenizerVersion: "1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	engine := link.New(st, score.New(cfg.Scoring), embedder, cfg.Linking)
	pipeline := document.New(st, engine, embedder, cfg.Chunking)

	root := t.TempDir()
	return NewVault(st, pipeline, root), st, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestVault_CreateImportsDocument(t *testing.T) {
	vault, st, root := newTestVault(t)
	ctx := context.Background()

	path := filepath.Join(root, "salmon.md")
	writeFile(t, path, "# Rivers\nSpawning grounds.\n\n# Ocean\nFeeding grounds.")

	require.NoError(t, vault.Apply(ctx, Event{Path: path, Op: OpCreate}))

	docs, err := st.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "salmon", docs[0].Title)
	assert.Equal(t, "salmon.md", docs[0].Metadata.SourceFile)
}

func TestVault_EditSameShapeKeepsChunkNotes(t *testing.T) {
	vault, st, root := newTestVault(t)
	ctx := context.Background()

	path := filepath.Join(root, "salmon.md")
	writeFile(t, path, "# Rivers\nSpawning grounds.\n\n# Ocean\nFeeding grounds.")
	require.NoError(t, vault.Apply(ctx, Event{Path: path, Op: OpCreate}))

	docs, err := st.ListDocuments(ctx)
	require.NoError(t, err)
	before, err := st.ChunksForDocument(ctx, docs[0].ID)
	require.NoError(t, err)

	// Same section count, new content in section two.
	writeFile(t, path, "# Rivers\nSpawning grounds.\n\n# Ocean\nRewritten feeding notes.")
	require.NoError(t, vault.Apply(ctx, Event{Path: path, Op: OpModify}))

	after, err := st.ChunksForDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].NodeID, after[0].NodeID, "unchanged chunk note survives")
	assert.Equal(t, before[1].NodeID, after[1].NodeID, "edited chunk keeps its note")
	assert.NotEqual(t, before[1].Checksum, after[1].Checksum)
}

func TestVault_EditChangedShapeRebuilds(t *testing.T) {
	vault, st, root := newTestVault(t)
	ctx := context.Background()

	path := filepath.Join(root, "salmon.md")
	writeFile(t, path, "# Rivers\nSpawning grounds.")
	require.NoError(t, vault.Apply(ctx, Event{Path: path, Op: OpCreate}))

	writeFile(t, path, "# Rivers\nSpawning.\n\n# Estuary\nBrackish.\n\n# Ocean\nFeeding.")
	require.NoError(t, vault.Apply(ctx, Event{Path: path, Op: OpModify}))

	docs, err := st.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	rows, err := st.ChunksForDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "salmon.md", docs[0].Metadata.SourceFile)
}

func TestVault_DeleteRemovesDocument(t *testing.T) {
	vault, st, root := newTestVault(t)
	ctx := context.Background()

	path := filepath.Join(root, "salmon.md")
	writeFile(t, path, "# Rivers\nSpawning grounds.")
	require.NoError(t, vault.Apply(ctx, Event{Path: path, Op: OpCreate}))
	require.NoError(t, os.Remove(path))

	require.NoError(t, vault.Apply(ctx, Event{Path: path, Op: OpDelete}))

	docs, err := st.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestVault_SyncImportsExistingAndPrunesStale(t *testing.T) {
	vault, st, root := newTestVault(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.md"), "# A\nalpha")
	writeFile(t, filepath.Join(root, "nested", "b.md"), "# B\nbeta")
	writeFile(t, filepath.Join(root, "skip.txt"), "not markdown")

	require.NoError(t, vault.Sync(ctx))
	docs, err := st.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	// A file removed while the watcher was down disappears on resync.
	require.NoError(t, os.Remove(filepath.Join(root, "a.md")))
	require.NoError(t, vault.Sync(ctx))
	docs, err = st.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, filepath.Join("nested", "b.md"), docs[0].Metadata.SourceFile)
}

func TestVault_RunStopsOnCancel(t *testing.T) {
	vault, _, _ := newTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan []Event)
	err := vault.Run(ctx, events, 0)
	assert.True(t, forerrors.IsKind(err, forerrors.KindCancelled))
}
