package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwl/forest/internal/chunk"
	"github.com/bwl/forest/internal/document"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// Vault maps a watched markdown directory onto documents. Each file is
// one document keyed by its vault-relative path in SourceFile.
type Vault struct {
	store    *store.Store
	pipeline *document.Pipeline
	root     string
}

// NewVault builds a vault over root.
func NewVault(st *store.Store, pipeline *document.Pipeline, root string) *Vault {
	return &Vault{store: st, pipeline: pipeline, root: root}
}

// Run consumes debounced batches until the context ends or the channel
// closes. Per-file failures are logged and do not stop the loop. A
// positive pollInterval adds a periodic full sync for events the
// filesystem watcher missed.
func (v *Vault) Run(ctx context.Context, events <-chan []Event, pollInterval time.Duration) error {
	var poll <-chan time.Time
	if pollInterval > 0 {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return forerrors.Wrap(forerrors.KindCancelled, ctx.Err(), "vault watch stopped")
		case <-poll:
			if err := v.Sync(ctx); err != nil {
				slog.Warn("vault_poll_sync_failed", slog.String("error", err.Error()))
			}
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			for _, ev := range batch {
				if err := v.Apply(ctx, ev); err != nil {
					slog.Warn("vault_event_failed",
						slog.String("path", ev.Path),
						slog.String("op", ev.Op.String()),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// Sync walks the vault and imports markdown files that have no
// document yet, and re-imports files whose content drifted. Deletes
// documents whose source file is gone.
func (v *Vault) Sync(ctx context.Context) error {
	onDisk := make(map[string]struct{})
	err := filepath.WalkDir(v.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != v.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsMarkdown(path) {
			return nil
		}
		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return err
		}
		onDisk[rel] = struct{}{}
		return v.Apply(ctx, Event{Path: path, Op: OpModify, At: time.Now()})
	})
	if err != nil {
		return err
	}

	// Documents whose file disappeared while the watcher was down.
	docs, err := v.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.Metadata.SourceFile == "" {
			continue
		}
		if _, ok := onDisk[doc.Metadata.SourceFile]; ok {
			continue
		}
		if err := v.pipeline.Delete(ctx, doc.ID); err != nil {
			slog.Warn("vault_stale_document_delete_failed",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Apply replays one file event through the document pipeline.
func (v *Vault) Apply(ctx context.Context, ev Event) error {
	rel, err := filepath.Rel(v.root, ev.Path)
	if err != nil {
		return forerrors.Validation("event path %s outside vault %s", ev.Path, v.root)
	}

	doc, err := v.documentFor(ctx, rel)
	if err != nil && !forerrors.IsKind(err, forerrors.KindNotFound) {
		return err
	}

	if ev.Op == OpDelete {
		if doc == nil {
			return nil
		}
		return v.pipeline.Delete(ctx, doc.ID)
	}

	body, err := os.ReadFile(ev.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // deleted inside the debounce window
		}
		return forerrors.Wrap(forerrors.KindInternal, err, "read vault file %s", rel)
	}

	if doc == nil {
		_, err := v.pipeline.Import(ctx, document.ImportInput{
			Title:      titleFor(rel),
			Body:       string(body),
			SourceFile: rel,
		})
		return err
	}
	return v.reimport(ctx, doc, string(body))
}

// reimport applies a changed file to its existing document. When the
// file still splits into the same number of segments, changes flow
// through segment edits so unchanged chunk notes and their edges
// survive; otherwise the document is rebuilt.
func (v *Vault) reimport(ctx context.Context, doc *store.Document, body string) error {
	if body == doc.Body {
		return nil
	}

	segments := chunk.Split(body, chunk.Options{
		Strategy:     doc.Metadata.ChunkStrategy,
		OverlapChars: doc.Metadata.OverlapChars,
	})
	rows, err := v.store.ChunksForDocument(ctx, doc.ID)
	if err != nil {
		return err
	}

	if len(segments) == len(rows) && len(segments) > 0 {
		edits := make([]document.SegmentEdit, len(rows))
		for i, row := range rows {
			edits[i] = document.SegmentEdit{
				SegmentID:  row.SegmentID,
				NewContent: segments[i].Body,
			}
		}
		return v.pipeline.EditSegments(ctx, doc.ID, edits)
	}

	// Shape changed: rebuild under the same source file.
	if err := v.pipeline.Delete(ctx, doc.ID); err != nil {
		return err
	}
	_, err = v.pipeline.Import(ctx, document.ImportInput{
		Title:      doc.Title,
		Body:       body,
		Strategy:   doc.Metadata.ChunkStrategy,
		SourceFile: doc.Metadata.SourceFile,
	})
	return err
}

func (v *Vault) documentFor(ctx context.Context, sourceFile string) (*store.Document, error) {
	docs, err := v.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if doc.Metadata.SourceFile == sourceFile {
			return doc, nil
		}
	}
	return nil, forerrors.NotFound("document", sourceFile)
}

// titleFor derives a document title from the vault-relative path.
func titleFor(rel string) string {
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
