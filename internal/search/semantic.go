package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// DefaultLimit caps result pages when the caller provides no limit.
const DefaultLimit = 10

// SemanticQuery parameterizes a semantic search.
type SemanticQuery struct {
	Text   string
	Limit  int
	Offset int
	// MinScore drops hits below this similarity.
	MinScore float64
	// Tags restricts to notes whose tag set is a superset.
	Tags []string
	// IncludeChunks includes chunk notes in the candidate pool.
	IncludeChunks bool
}

// SemanticHit pairs a note with its similarity to the query.
type SemanticHit struct {
	Note       *store.Note
	Similarity float64
}

// SemanticResult is one page of ranked hits.
type SemanticResult struct {
	Hits  []SemanticHit
	Total int
	// Degraded is set when the query could not be embedded and the
	// service fell back to a term match; similarities are then zero.
	Degraded bool
}

// Semantic ranks notes by cosine similarity to the embedded query text.
// Notes without an embedding never match. When the query itself cannot
// be embedded, falls back to a metadata term search over the same pool.
func (s *Service) Semantic(ctx context.Context, q SemanticQuery) (*SemanticResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, forerrors.Validation("semantic search requires query text")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	query, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		slog.Warn("query_embedding_failed", slog.String("error", err.Error()))
		query = nil
	}
	if query == nil {
		return s.semanticFallback(ctx, q)
	}
	if len(query) != s.store.Dimensions() {
		return nil, forerrors.New(forerrors.KindDimensionMismatch,
			"query embedding has %d dimensions, store expects %d",
			len(query), s.store.Dimensions())
	}

	notes, err := s.store.ListNotes(ctx, store.ListNotesOptions{IncludeChunks: q.IncludeChunks})
	if err != nil {
		return nil, err
	}

	var hits []SemanticHit
	for _, note := range notes {
		if note.Embedding == nil || !hasAllTags(note, q.Tags) {
			continue
		}
		sim := cosine(query, note.Embedding)
		if sim < q.MinScore {
			continue
		}
		hits = append(hits, SemanticHit{Note: note, Similarity: sim})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].Note.UpdatedAt.Equal(hits[j].Note.UpdatedAt) {
			return hits[i].Note.UpdatedAt.After(hits[j].Note.UpdatedAt)
		}
		return hits[i].Note.ID < hits[j].Note.ID
	})

	result := &SemanticResult{Total: len(hits)}
	if q.Offset < len(hits) {
		hits = hits[q.Offset:]
		if len(hits) > q.Limit {
			hits = hits[:q.Limit]
		}
		result.Hits = hits
	}
	return result, nil
}

// semanticFallback answers a semantic query by term match when no query
// embedding is available.
func (s *Service) semanticFallback(ctx context.Context, q SemanticQuery) (*SemanticResult, error) {
	notes, total, err := s.Metadata(ctx, MetadataQuery{
		Term:       q.Text,
		TagsAll:    q.Tags,
		ShowChunks: q.IncludeChunks,
		Sort:       SortRecent,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		return nil, err
	}
	result := &SemanticResult{Total: total, Degraded: true}
	for _, note := range notes {
		result.Hits = append(result.Hits, SemanticHit{Note: note})
	}
	return result, nil
}
