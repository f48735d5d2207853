// Package document owns the canonical-document pipeline: importing
// markdown as ordered chunk notes, keeping offsets, structural edges,
// and versions consistent through every supported edit path.
package document

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bwl/forest/internal/chunk"
	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/internal/embed"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/link"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/store"
)

// Pipeline coordinates document imports and edits. All multi-entity
// mutations commit in a single transaction; linking runs after commit.
type Pipeline struct {
	store    *store.Store
	engine   *link.Engine
	embedder embed.Embedder
	defaults config.ChunkingConfig
}

// New builds a Pipeline and registers its reflow hook with the engine,
// so direct chunk updates through the engine keep the document in sync.
func New(st *store.Store, engine *link.Engine, embedder embed.Embedder, defaults config.ChunkingConfig) *Pipeline {
	p := &Pipeline{store: st, engine: engine, embedder: embedder, defaults: defaults}
	engine.RegisterChunkReflow(p.ReflowAfterChunkEdit)
	return p
}

// ImportInput configures a document import.
type ImportInput struct {
	Title string
	Body  string
	// Strategy overrides the configured default when set.
	Strategy      string
	MaxChunkChars int
	OverlapChars  int
	// NoRoot skips the root summary note.
	NoRoot bool
	// NoAutoLink skips semantic linking after import.
	NoAutoLink bool
	SourceFile string
}

// ImportResult reports what an import created.
type ImportResult struct {
	DocumentID   string
	RootNodeID   string
	ChunkNodeIDs []string
}

// Import splits the body, creates chunk notes, an optional root note,
// the document record, and structural edges, atomically. Unless
// disabled, each created note is then linked.
func (p *Pipeline) Import(ctx context.Context, input ImportInput) (*ImportResult, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, forerrors.Validation("document title must not be empty")
	}

	opts := chunk.Options{
		Strategy:      input.Strategy,
		MaxChunkChars: input.MaxChunkChars,
		OverlapChars:  input.OverlapChars,
	}
	if opts.Strategy == "" {
		opts.Strategy = p.defaults.Strategy
	}
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = p.defaults.MaxChunkChars
	}
	if opts.OverlapChars <= 0 {
		opts.OverlapChars = p.defaults.OverlapChars
	}

	segments := chunk.Split(input.Body, opts)
	if len(segments) == 0 {
		return nil, forerrors.Validation("document body produced no segments")
	}

	docID := uuid.NewString()
	canonical := canonicalBody(segments)

	// Embeddings are acquired before the transaction; provider calls
	// never run under the store lock.
	notes := make([]*store.Note, len(segments))
	rows := make([]store.DocumentChunk, len(segments))
	offset := 0
	for i, seg := range segments {
		title := chunk.ChunkTitle(input.Title, i+1, len(segments), seg.Heading)
		notes[i] = p.buildNote(ctx, title, seg.Body, store.NoteMetadata{
			Origin:           store.OriginImport,
			CreatedBy:        "user",
			ParentDocumentID: docID,
			ChunkOrder:       i,
			IsChunk:          true,
		})
		rows[i] = store.DocumentChunk{
			DocumentID: docID,
			SegmentID:  uuid.NewString(),
			NodeID:     notes[i].ID,
			Offset:     offset,
			Length:     len(seg.Body),
			ChunkOrder: i,
			Checksum:   chunk.Checksum(seg.Body),
		}
		offset += len(seg.Body) + len(store.ChunkSeparator)
	}

	var root *store.Note
	if !input.NoRoot {
		root = p.buildNote(ctx, input.Title, canonical, store.NoteMetadata{
			Origin:           store.OriginImport,
			CreatedBy:        "user",
			ParentDocumentID: docID,
		})
	}

	doc := &store.Document{
		ID:    docID,
		Title: input.Title,
		Body:  canonical,
		Metadata: store.DocumentMetadata{
			ChunkStrategy: opts.Strategy,
			OverlapChars:  opts.OverlapChars,
			AutoLink:      !input.NoAutoLink,
			SourceFile:    input.SourceFile,
		},
	}
	if root != nil {
		doc.RootNodeID = root.ID
	}

	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, note := range notes {
			if err := tx.CreateNote(ctx, note); err != nil {
				return err
			}
		}
		if root != nil {
			if err := tx.CreateNote(ctx, root); err != nil {
				return err
			}
		}
		if err := tx.CreateDocument(ctx, doc, rows); err != nil {
			return err
		}
		return buildStructuralEdges(ctx, tx, doc, rows)
	})
	if err != nil {
		return nil, err
	}

	result := &ImportResult{DocumentID: docID, RootNodeID: doc.RootNodeID}
	for _, note := range notes {
		result.ChunkNodeIDs = append(result.ChunkNodeIDs, note.ID)
	}

	if !input.NoAutoLink {
		linkTargets := append([]string(nil), result.ChunkNodeIDs...)
		if root != nil {
			linkTargets = append(linkTargets, root.ID)
		}
		for _, id := range linkTargets {
			if err := p.engine.LinkOne(ctx, id); err != nil {
				slog.Warn("post_import_link_failed",
					slog.String("node_id", id),
					slog.String("error", err.Error()))
			}
		}
	}
	return result, nil
}

// buildNote derives signals and acquires an embedding for a new note.
func (p *Pipeline) buildNote(ctx context.Context, title, body string, meta store.NoteMetadata) *store.Note {
	derived := normalize.Normalize(title, body, nil)
	note := &store.Note{
		ID:          uuid.NewString(),
		Title:       title,
		Body:        body,
		Tags:        derived.Tags,
		TokenCounts: derived.TokenCounts,
		Metadata:    meta,
	}
	vector, err := p.embedder.Embed(ctx, derived.CanonicalText)
	if err != nil {
		slog.Warn("embedding_degraded_to_absent", slog.String("error", err.Error()))
		return note
	}
	if vector != nil {
		note.Embedding = vector
		note.EmbeddingModel = p.embedder.ModelName()
	}
	return note
}

// canonicalBody joins segment bodies with the fixed separator.
func canonicalBody(segments []chunk.Segment) string {
	bodies := make([]string, len(segments))
	for i, seg := range segments {
		bodies[i] = seg.Body
	}
	return strings.Join(bodies, store.ChunkSeparator)
}

// buildStructuralEdges creates parent and sequential edges for the
// current chunk list. Structural edges carry a fixed score and are
// exempt from the threshold policy.
func buildStructuralEdges(ctx context.Context, tx *store.Tx, doc *store.Document, rows []store.DocumentChunk) error {
	ordered := append([]store.DocumentChunk(nil), rows...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkOrder < ordered[j].ChunkOrder })

	if doc.RootNodeID != "" {
		for _, row := range ordered {
			edge := &store.Edge{
				SourceID: doc.RootNodeID,
				TargetID: row.NodeID,
				Score:    link.StructuralEdgeScore,
				EdgeType: store.EdgeTypeStructuralParent,
			}
			if err := tx.UpsertEdge(ctx, edge); err != nil {
				return err
			}
		}
	}
	for i := 0; i+1 < len(ordered); i++ {
		edge := &store.Edge{
			SourceID: ordered[i].NodeID,
			TargetID: ordered[i+1].NodeID,
			Score:    link.StructuralEdgeScore,
			EdgeType: store.EdgeTypeStructuralSequential,
		}
		if err := tx.UpsertEdge(ctx, edge); err != nil {
			return err
		}
	}
	return nil
}

// clearSequentialEdges removes structural-sequential edges among the
// document's chunks before a rebuild.
func clearSequentialEdges(ctx context.Context, tx *store.Tx, rows []store.DocumentChunk) error {
	chunkNodes := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		chunkNodes[row.NodeID] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, row := range rows {
		edges, err := tx.EdgesForNote(ctx, row.NodeID)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if edge.EdgeType != store.EdgeTypeStructuralSequential {
				continue
			}
			if _, ok := chunkNodes[edge.Other(row.NodeID)]; !ok {
				continue
			}
			if _, done := seen[edge.ID]; done {
				continue
			}
			seen[edge.ID] = struct{}{}
			if err := tx.DeleteEdge(ctx, edge.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// reflow recomputes offsets and lengths for rows ordered by ChunkOrder,
// given the chunk bodies, and returns the canonical body.
func reflow(rows []store.DocumentChunk, bodies map[string]string) (string, []store.DocumentChunk) {
	ordered := append([]store.DocumentChunk(nil), rows...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkOrder < ordered[j].ChunkOrder })

	parts := make([]string, len(ordered))
	offset := 0
	for i := range ordered {
		body := bodies[ordered[i].NodeID]
		parts[i] = body
		ordered[i].Offset = offset
		ordered[i].Length = len(body)
		ordered[i].Checksum = chunk.Checksum(body)
		offset += len(body) + len(store.ChunkSeparator)
	}
	return strings.Join(parts, store.ChunkSeparator), ordered
}
