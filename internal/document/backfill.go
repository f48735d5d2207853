package document

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bwl/forest/internal/chunk"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// BackfillReport summarizes a canonical-document backfill pass.
type BackfillReport struct {
	DocumentsCreated int
	ChunksAdopted    int
}

// Backfill scans chunk-flagged notes lacking DocumentChunk rows and
// synthesizes the missing document records from their recorded parent
// and order. Idempotent: a second run finds nothing to adopt.
func (p *Pipeline) Backfill(ctx context.Context) (*BackfillReport, error) {
	notes, err := p.store.ListNotes(ctx, store.ListNotesOptions{IncludeChunks: true})
	if err != nil {
		return nil, err
	}

	// Orphans grouped by their recorded parent document.
	orphans := make(map[string][]*store.Note)
	for _, note := range notes {
		if !note.Metadata.IsChunk || note.Metadata.ParentDocumentID == "" {
			continue
		}
		if _, err := p.store.ChunkByNodeID(ctx, note.ID); err == nil {
			continue // already mapped
		} else if !forerrors.IsKind(err, forerrors.KindNotFound) {
			return nil, err
		}
		orphans[note.Metadata.ParentDocumentID] = append(orphans[note.Metadata.ParentDocumentID], note)
	}

	report := &BackfillReport{}
	for docID, group := range orphans {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Metadata.ChunkOrder < group[j].Metadata.ChunkOrder
		})

		if _, err := p.store.GetDocument(ctx, docID); err == nil {
			// Document exists but these chunks are unmapped; legacy rows
			// from a partial write. Skip rather than guess offsets into
			// a body we did not build.
			slog.Warn("backfill_skipping_partially_mapped_document",
				slog.String("document_id", docID))
			continue
		}

		rows := make([]store.DocumentChunk, len(group))
		offset := 0
		bodies := make([]string, len(group))
		for i, note := range group {
			bodies[i] = note.Body
			rows[i] = store.DocumentChunk{
				DocumentID: docID,
				SegmentID:  uuid.NewString(),
				NodeID:     note.ID,
				Offset:     offset,
				Length:     len(note.Body),
				ChunkOrder: i,
				Checksum:   chunk.Checksum(note.Body),
			}
			offset += len(note.Body) + len(store.ChunkSeparator)
		}

		doc := &store.Document{
			ID:    docID,
			Title: group[0].Title,
			Body:  strings.Join(bodies, store.ChunkSeparator),
			Metadata: store.DocumentMetadata{
				ChunkStrategy: chunk.StrategyHeaders,
				AutoLink:      true,
			},
		}
		err := p.store.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.CreateDocument(ctx, doc, rows); err != nil {
				return err
			}
			// Compact the notes' recorded orders to the dense mapping.
			for i, note := range group {
				if note.Metadata.ChunkOrder == i {
					continue
				}
				note.Metadata.ChunkOrder = i
				if err := tx.UpdateNote(ctx, note); err != nil {
					return err
				}
			}
			return buildStructuralEdges(ctx, tx, doc, rows)
		})
		if err != nil {
			return report, err
		}
		report.DocumentsCreated++
		report.ChunksAdopted += len(group)
	}
	return report, nil
}
