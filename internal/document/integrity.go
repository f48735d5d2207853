package document

import (
	"context"
	"sort"
	"strings"

	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// Verify checks every document invariant and returns a
// DOCUMENT_INTEGRITY_VIOLATION naming the first broken one:
//
//  1. chunkOrder is dense from 0;
//  2. offsets and lengths agree with the canonical body reconstructed by
//     joining chunk bodies with the separator;
//  3. every chunk note is live, flagged isChunk, and points back at this
//     document;
//  4. structural edges match the current chunk list.
func (p *Pipeline) Verify(ctx context.Context, docID string) error {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	rows, err := p.store.ChunksForDocument(ctx, docID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return integrityErr(docID, "document has no chunks")
	}

	ordered := append([]store.DocumentChunk(nil), rows...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkOrder < ordered[j].ChunkOrder })
	for i, row := range ordered {
		if row.ChunkOrder != i {
			return integrityErr(docID, "chunkOrder is not dense: expected %d, found %d", i, row.ChunkOrder)
		}
	}

	bodies := make([]string, len(ordered))
	for i, row := range ordered {
		note, err := p.store.GetNote(ctx, row.NodeID)
		if err != nil {
			return integrityErr(docID, "chunk %d references missing note %s", i, row.NodeID)
		}
		if !note.Metadata.IsChunk {
			return integrityErr(docID, "note %s is not flagged as a chunk", note.ID)
		}
		if note.Metadata.ParentDocumentID != docID {
			return integrityErr(docID, "note %s points at document %s", note.ID, note.Metadata.ParentDocumentID)
		}
		bodies[i] = note.Body
	}

	canonical := strings.Join(bodies, store.ChunkSeparator)
	if canonical != doc.Body {
		return integrityErr(docID, "canonical body does not match joined chunk bodies")
	}
	for i, row := range ordered {
		if row.Offset+row.Length > len(canonical) ||
			canonical[row.Offset:row.Offset+row.Length] != bodies[i] {
			return integrityErr(docID, "chunk %d offset/length does not locate its body", i)
		}
	}

	return p.verifyStructuralEdges(ctx, doc, ordered)
}

func (p *Pipeline) verifyStructuralEdges(ctx context.Context, doc *store.Document, ordered []store.DocumentChunk) error {
	for i, row := range ordered {
		edges, err := p.store.EdgesForNote(ctx, row.NodeID)
		if err != nil {
			return err
		}
		hasParent := false
		nextNeighbor := false
		for _, edge := range edges {
			other := edge.Other(row.NodeID)
			switch edge.EdgeType {
			case store.EdgeTypeStructuralParent:
				if other == doc.RootNodeID {
					hasParent = true
				}
			case store.EdgeTypeStructuralSequential:
				if i+1 < len(ordered) && other == ordered[i+1].NodeID {
					nextNeighbor = true
				}
			}
		}
		if doc.RootNodeID != "" && !hasParent {
			return integrityErr(doc.ID, "chunk %d lacks a structural-parent edge to the root", i)
		}
		if i+1 < len(ordered) && !nextNeighbor {
			return integrityErr(doc.ID, "missing structural-sequential edge between chunks %d and %d", i, i+1)
		}
	}
	return nil
}

func integrityErr(docID, format string, args ...any) *forerrors.Error {
	return forerrors.New(forerrors.KindDocumentIntegrity, format, args...).
		WithDetail("document", docID)
}
