// Package link is the linking engine: it owns note mutations and keeps
// the edge set consistent with the threshold policy as notes are
// captured, updated, and deleted.
package link

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/internal/embed"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/score"
	"github.com/bwl/forest/internal/store"
)

// Structural edges carry a fixed score outside the threshold policy.
const StructuralEdgeScore = 1.0

// Engine orchestrates the store, scorer, and embedder for note and edge
// mutations.
type Engine struct {
	store    *store.Store
	scorer   *score.Scorer
	embedder embed.Embedder

	acceptThreshold  float64
	suggestThreshold float64
	candidateK       int

	// reflowChunk re-enters the document pipeline after a direct update
	// of a chunk note. Registered by the pipeline at construction.
	reflowChunk func(ctx context.Context, chunkNodeID string) error
}

// New builds an Engine from its collaborators and linking configuration.
func New(st *store.Store, scorer *score.Scorer, embedder embed.Embedder, cfg config.LinkingConfig) *Engine {
	return &Engine{
		store:            st,
		scorer:           scorer,
		embedder:         embedder,
		acceptThreshold:  cfg.AcceptThreshold,
		suggestThreshold: cfg.SuggestThreshold,
		candidateK:       cfg.CandidateK,
	}
}

// Store exposes the underlying store for read-side consumers.
func (e *Engine) Store() *store.Store { return e.store }

// Scorer exposes the scorer for query-time ranking.
func (e *Engine) Scorer() *score.Scorer { return e.scorer }

// RegisterChunkReflow installs the document pipeline's reflow hook.
// UpdateNote calls it after writing a chunk note so offsets, checksums,
// the canonical body, and the document version stay in sync.
func (e *Engine) RegisterChunkReflow(fn func(ctx context.Context, chunkNodeID string) error) {
	e.reflowChunk = fn
}

// CaptureInput is the input for creating a note.
type CaptureInput struct {
	Title     string
	Body      string
	Tags      []string
	Origin    store.Origin
	CreatedBy string
	Model     string
	SourceIDs []string
	// AutoLink controls whether linkOne runs after the write. Defaults
	// to true; the document pipeline turns it off to batch-link later.
	NoAutoLink bool
	// metadata for chunk notes, set by the document pipeline only
	ParentDocumentID string
	ChunkOrder       int
	IsChunk          bool
}

// CaptureNote creates a note: derives tags and token counts, acquires an
// embedding (absent on provider failure), persists, then links. Returns
// the created note; an absent embedding is reported via the note itself,
// not an error.
func (e *Engine) CaptureNote(ctx context.Context, input CaptureInput) (*store.Note, error) {
	if err := validateNoteInput(input.Title, input.Body, input.Tags); err != nil {
		return nil, err
	}

	derived := normalize.Normalize(input.Title, input.Body, input.Tags)
	vector, model := e.embedText(ctx, derived.CanonicalText)

	origin := input.Origin
	if origin == "" {
		origin = store.OriginCapture
	}
	note := &store.Note{
		ID:             uuid.NewString(),
		Title:          input.Title,
		Body:           input.Body,
		Tags:           derived.Tags,
		TokenCounts:    derived.TokenCounts,
		Embedding:      vector,
		EmbeddingModel: model,
		Metadata: store.NoteMetadata{
			Origin:           origin,
			CreatedBy:        input.CreatedBy,
			Model:            input.Model,
			SourceNodeIDs:    input.SourceIDs,
			ParentDocumentID: input.ParentDocumentID,
			ChunkOrder:       input.ChunkOrder,
			IsChunk:          input.IsChunk,
		},
	}

	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.CreateNote(ctx, note)
	})
	if err != nil {
		return nil, err
	}

	if !input.NoAutoLink {
		if err := e.LinkOne(ctx, note.ID); err != nil {
			return nil, err
		}
	}
	return note, nil
}

// UpdateInput carries the changed fields for a note update. Nil fields
// are left as they are.
type UpdateInput struct {
	Title *string
	Body  *string
	Tags  []string // replaces explicit tags when non-nil
}

// UpdateNote rewrites a note's content, rederives tags and token counts,
// re-embeds when the text changed, then rescores the note's edges.
//
// Chunk notes may be updated here; the document pipeline re-enters
// afterwards to reflow offsets.
func (e *Engine) UpdateNote(ctx context.Context, noteID string, input UpdateInput) (*store.Note, error) {
	var updated *store.Note
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		note, err := tx.GetNote(ctx, noteID)
		if err != nil {
			return err
		}

		title := note.Title
		body := note.Body
		if input.Title != nil {
			title = *input.Title
		}
		if input.Body != nil {
			body = *input.Body
		}
		explicitTags := input.Tags
		if explicitTags == nil {
			explicitTags = note.Tags
		}
		if err := validateNoteInput(title, body, explicitTags); err != nil {
			return err
		}

		derived := normalize.Normalize(title, body, explicitTags)
		textChanged := title != note.Title || body != note.Body

		note.Title = title
		note.Body = body
		note.Tags = derived.Tags
		note.TokenCounts = derived.TokenCounts
		if textChanged {
			note.Embedding, note.EmbeddingModel = e.embedText(ctx, derived.CanonicalText)
		}

		if err := tx.UpdateNote(ctx, note); err != nil {
			return err
		}
		updated = note
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.RescoreOne(ctx, noteID); err != nil {
		return nil, err
	}
	if updated.Metadata.IsChunk && e.reflowChunk != nil {
		if err := e.reflowChunk(ctx, noteID); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// DeleteNote removes a note and its incident edges. Chunk notes and
// document root notes are refused here; the document pipeline owns them.
func (e *Engine) DeleteNote(ctx context.Context, noteID string) error {
	return e.deleteNote(ctx, noteID, false)
}

func (e *Engine) deleteNote(ctx context.Context, noteID string, fromPipeline bool) error {
	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		note, err := tx.GetNote(ctx, noteID)
		if err != nil {
			return err
		}
		if !fromPipeline {
			if note.Metadata.IsChunk {
				return forerrors.New(forerrors.KindDocumentIntegrity,
					"note %s is a chunk of document %s; delete it through the document pipeline",
					noteID, note.Metadata.ParentDocumentID)
			}
			if doc := e.rootDocumentOf(ctx, noteID); doc != "" {
				return forerrors.New(forerrors.KindDocumentIntegrity,
					"note %s is the root of document %s; delete the document instead",
					noteID, doc)
			}
		}
		return tx.DeleteNote(ctx, noteID)
	})
}

// DeleteNoteFromPipeline bypasses the chunk/root guard. Only the
// document pipeline calls this.
func (e *Engine) DeleteNoteFromPipeline(ctx context.Context, noteID string) error {
	return e.deleteNote(ctx, noteID, true)
}

func (e *Engine) rootDocumentOf(ctx context.Context, noteID string) string {
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return ""
	}
	for _, doc := range docs {
		if doc.RootNodeID == noteID {
			return doc.ID
		}
	}
	return ""
}

// embedText acquires an embedding for the canonical text, degrading to
// absent when the provider fails.
func (e *Engine) embedText(ctx context.Context, canonicalText string) ([]float32, string) {
	vector, err := e.embedder.Embed(ctx, canonicalText)
	if err != nil {
		slog.Warn("embedding_degraded_to_absent",
			slog.String("error", err.Error()))
		return nil, ""
	}
	if vector == nil {
		return nil, ""
	}
	return vector, e.embedder.ModelName()
}

func validateNoteInput(title, body string, tags []string) error {
	if strings.TrimSpace(title) == "" {
		return forerrors.Validation("note title must not be empty")
	}
	for _, tag := range tags {
		if strings.ContainsAny(tag, " \t\n") {
			return forerrors.Validation("tag %q must not contain whitespace", tag)
		}
	}
	return nil
}
