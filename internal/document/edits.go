package document

import (
	"context"
	"log/slog"

	"github.com/bwl/forest/internal/chunk"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/store"
)

// SegmentEdit rewrites one segment's content, addressed by its stable
// segment id.
type SegmentEdit struct {
	SegmentID  string
	NewContent string
}

// EditSegments applies a multi-segment edit: changed segments (by
// checksum) get new bodies, embeddings, and rescored edges; untouched
// segments keep their notes and edges. The document version bumps once,
// and either every change commits or none does.
func (p *Pipeline) EditSegments(ctx context.Context, docID string, edits []SegmentEdit) error {
	if len(edits) == 0 {
		return forerrors.Validation("no segment edits provided")
	}

	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	rows, err := p.store.ChunksForDocument(ctx, docID)
	if err != nil {
		return err
	}
	byID := make(map[string]*store.DocumentChunk, len(rows))
	for i := range rows {
		byID[rows[i].SegmentID] = &rows[i]
	}

	// Resolve edits to changed chunks before touching the store.
	type pendingEdit struct {
		nodeID    string
		body      string
		embedding []float32
		model     string
	}
	var pending []pendingEdit
	for _, edit := range edits {
		row, ok := byID[edit.SegmentID]
		if !ok {
			return forerrors.NotFound("segment", edit.SegmentID).
				WithDetail("document", docID)
		}
		if chunk.Checksum(edit.NewContent) == row.Checksum {
			continue // unchanged
		}
		note, err := p.store.GetNote(ctx, row.NodeID)
		if err != nil {
			return err
		}
		pe := pendingEdit{nodeID: row.NodeID, body: edit.NewContent}
		canonical := normalize.CanonicalText(note.Title, edit.NewContent)
		if vector, err := p.embedder.Embed(ctx, canonical); err != nil {
			slog.Warn("embedding_degraded_to_absent", slog.String("error", err.Error()))
		} else if vector != nil {
			pe.embedding = vector
			pe.model = p.embedder.ModelName()
		}
		pending = append(pending, pe)
	}
	if len(pending) == 0 {
		return nil
	}

	var changedNodes []string
	err = p.store.WithTx(ctx, func(tx *store.Tx) error {
		bodies := make(map[string]string, len(rows))
		for _, row := range rows {
			note, err := tx.GetNote(ctx, row.NodeID)
			if err != nil {
				return err
			}
			bodies[row.NodeID] = note.Body
		}

		for _, pe := range pending {
			note, err := tx.GetNote(ctx, pe.nodeID)
			if err != nil {
				return err
			}
			derived := normalize.Normalize(note.Title, pe.body, nil)
			note.Body = pe.body
			note.Tags = derived.Tags
			note.TokenCounts = derived.TokenCounts
			note.Embedding = pe.embedding
			note.EmbeddingModel = pe.model
			if err := tx.UpdateNote(ctx, note); err != nil {
				return err
			}
			bodies[pe.nodeID] = pe.body
			changedNodes = append(changedNodes, pe.nodeID)
		}

		canonical, reflowed := reflow(rows, bodies)
		doc.Body = canonical
		return tx.UpdateDocument(ctx, doc, reflowed)
	})
	if err != nil {
		return err
	}

	for _, nodeID := range changedNodes {
		if err := p.engine.RescoreOne(ctx, nodeID); err != nil {
			slog.Warn("post_edit_rescore_failed",
				slog.String("node_id", nodeID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// ReflowAfterChunkEdit re-enters the pipeline after a direct
// updateNote on a chunk: offsets and checksums are rebuilt and the
// version bumps. Sequential edges stay valid because chunkOrder is
// unchanged.
func (p *Pipeline) ReflowAfterChunkEdit(ctx context.Context, chunkNodeID string) error {
	row, err := p.store.ChunkByNodeID(ctx, chunkNodeID)
	if err != nil {
		return err
	}
	doc, err := p.store.GetDocument(ctx, row.DocumentID)
	if err != nil {
		return err
	}
	rows, err := p.store.ChunksForDocument(ctx, row.DocumentID)
	if err != nil {
		return err
	}

	return p.store.WithTx(ctx, func(tx *store.Tx) error {
		bodies := make(map[string]string, len(rows))
		for _, r := range rows {
			note, err := tx.GetNote(ctx, r.NodeID)
			if err != nil {
				return err
			}
			bodies[r.NodeID] = note.Body
		}
		canonical, reflowed := reflow(rows, bodies)
		doc.Body = canonical
		return tx.UpdateDocument(ctx, doc, reflowed)
	})
}

// Reorder applies a new chunk order given the full permutation of
// segment ids. Chunk notes themselves are untouched; offsets reflow and
// sequential edges are rebuilt.
func (p *Pipeline) Reorder(ctx context.Context, docID string, segmentIDs []string) error {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	rows, err := p.store.ChunksForDocument(ctx, docID)
	if err != nil {
		return err
	}
	if len(segmentIDs) != len(rows) {
		return forerrors.Validation("reorder must list all %d segments, got %d",
			len(rows), len(segmentIDs))
	}
	byID := make(map[string]store.DocumentChunk, len(rows))
	for _, row := range rows {
		byID[row.SegmentID] = row
	}

	reordered := make([]store.DocumentChunk, 0, len(rows))
	for order, segID := range segmentIDs {
		row, ok := byID[segID]
		if !ok {
			return forerrors.NotFound("segment", segID).WithDetail("document", docID)
		}
		delete(byID, segID)
		row.ChunkOrder = order
		reordered = append(reordered, row)
	}

	return p.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := clearSequentialEdges(ctx, tx, rows); err != nil {
			return err
		}
		bodies := make(map[string]string, len(reordered))
		for _, row := range reordered {
			note, err := tx.GetNote(ctx, row.NodeID)
			if err != nil {
				return err
			}
			bodies[row.NodeID] = note.Body
		}
		canonical, reflowed := reflow(reordered, bodies)
		doc.Body = canonical
		if err := tx.UpdateDocument(ctx, doc, reflowed); err != nil {
			return err
		}
		// Parent edges are unaffected by order; rebuild sequential only.
		return buildSequentialEdges(ctx, tx, reflowed)
	})
}

// DeleteChunk removes one chunk through the pipeline: the note goes,
// remaining orders compact, offsets reflow, sequential edges rebuild,
// and the version bumps. Removing the last chunk removes the document
// and its root note.
func (p *Pipeline) DeleteChunk(ctx context.Context, docID, segmentID string) error {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	rows, err := p.store.ChunksForDocument(ctx, docID)
	if err != nil {
		return err
	}

	var target *store.DocumentChunk
	remaining := make([]store.DocumentChunk, 0, len(rows)-1)
	for _, row := range rows {
		if row.SegmentID == segmentID {
			r := row
			target = &r
			continue
		}
		remaining = append(remaining, row)
	}
	if target == nil {
		return forerrors.NotFound("segment", segmentID).WithDetail("document", docID)
	}

	if len(remaining) == 0 {
		return p.deleteDocumentTx(ctx, doc, rows)
	}

	// Compact chunkOrder to stay dense from 0.
	for i := range remaining {
		remaining[i].ChunkOrder = i
	}

	return p.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := clearSequentialEdges(ctx, tx, rows); err != nil {
			return err
		}
		if err := tx.DeleteNote(ctx, target.NodeID); err != nil {
			return err
		}
		bodies := make(map[string]string, len(remaining))
		for i := range remaining {
			note, err := tx.GetNote(ctx, remaining[i].NodeID)
			if err != nil {
				return err
			}
			bodies[remaining[i].NodeID] = note.Body
			// Keep the note's recorded position in step with the row.
			note.Metadata.ChunkOrder = remaining[i].ChunkOrder
			if err := tx.UpdateNote(ctx, note); err != nil {
				return err
			}
		}
		canonical, reflowed := reflow(remaining, bodies)
		doc.Body = canonical
		if err := tx.UpdateDocument(ctx, doc, reflowed); err != nil {
			return err
		}
		return buildSequentialEdges(ctx, tx, reflowed)
	})
}

// Delete removes a document with all its chunk notes and root note.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	rows, err := p.store.ChunksForDocument(ctx, docID)
	if err != nil {
		return err
	}
	return p.deleteDocumentTx(ctx, doc, rows)
}

func (p *Pipeline) deleteDocumentTx(ctx context.Context, doc *store.Document, rows []store.DocumentChunk) error {
	return p.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, row := range rows {
			if err := tx.DeleteNote(ctx, row.NodeID); err != nil {
				if forerrors.IsKind(err, forerrors.KindNotFound) {
					continue
				}
				return err
			}
		}
		if doc.RootNodeID != "" {
			if err := tx.DeleteNote(ctx, doc.RootNodeID); err != nil &&
				!forerrors.IsKind(err, forerrors.KindNotFound) {
				return err
			}
		}
		return tx.DeleteDocument(ctx, doc.ID)
	})
}

// buildSequentialEdges recreates chunk[k] <-> chunk[k+1] edges.
func buildSequentialEdges(ctx context.Context, tx *store.Tx, rows []store.DocumentChunk) error {
	doc := &store.Document{} // no root; parent edges handled elsewhere
	return buildStructuralEdges(ctx, tx, doc, rows)
}
