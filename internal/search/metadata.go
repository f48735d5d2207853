package search

import (
	"context"
	"sort"
	"strings"
	"time"

	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// Sort orders for metadata search.
const (
	// SortRecent orders by updatedAt descending.
	SortRecent = "recent"
	// SortDegree orders by edge count descending.
	SortDegree = "degree"
	// SortScore orders by summed incident edge score descending.
	SortScore = "score"
)

// MetadataQuery filters notes by stored attributes. Every provided
// filter must hold; zero values are ignored.
type MetadataQuery struct {
	// ID matches a note id or unique id prefix.
	ID string
	// Title is a case-insensitive substring match on the title.
	Title string
	// Term is a case-insensitive substring match across title, tags,
	// and body.
	Term string
	// TagsAll requires every listed tag.
	TagsAll []string
	// TagsAny requires at least one listed tag.
	TagsAny []string
	// Since and Until bound updatedAt.
	Since time.Time
	Until time.Time
	Sort  string
	// Origin and CreatedBy filter provenance.
	Origin    store.Origin
	CreatedBy string
	// ShowChunks includes chunk notes, excluded by default.
	ShowChunks bool
	Limit      int
	Offset     int
}

// Metadata returns notes satisfying all provided filters, sorted per
// the query, with the pre-pagination total.
func (s *Service) Metadata(ctx context.Context, q MetadataQuery) ([]*store.Note, int, error) {
	switch q.Sort {
	case "", SortRecent, SortDegree, SortScore:
	default:
		return nil, 0, forerrors.Validation("unknown sort %q (want recent, degree, or score)", q.Sort)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	notes, err := s.store.ListNotes(ctx, store.ListNotesOptions{
		Origin:        q.Origin,
		CreatedBy:     q.CreatedBy,
		Term:          q.Term,
		IncludeChunks: q.ShowChunks,
	})
	if err != nil {
		return nil, 0, err
	}

	filtered := notes[:0]
	for _, note := range notes {
		if q.ID != "" && !strings.HasPrefix(note.ID, q.ID) {
			continue
		}
		if q.Title != "" && !strings.Contains(strings.ToLower(note.Title), strings.ToLower(q.Title)) {
			continue
		}
		if !hasAllTags(note, q.TagsAll) || !hasAnyTag(note, q.TagsAny) {
			continue
		}
		if !q.Since.IsZero() && note.UpdatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && note.UpdatedAt.After(q.Until) {
			continue
		}
		filtered = append(filtered, note)
	}

	if err := s.sortNotes(ctx, filtered, q.Sort); err != nil {
		return nil, 0, err
	}
	total := len(filtered)
	return page(filtered, q.Offset, q.Limit), total, nil
}

// sortNotes orders in place. ListNotes already yields recency order;
// degree and score need the edge table.
func (s *Service) sortNotes(ctx context.Context, notes []*store.Note, order string) error {
	switch order {
	case "", SortRecent:
		sortNotesByRecency(notes)
		return nil
	case SortDegree:
		degrees, err := s.store.Degrees(ctx)
		if err != nil {
			return err
		}
		sort.SliceStable(notes, func(i, j int) bool {
			if degrees[notes[i].ID] != degrees[notes[j].ID] {
				return degrees[notes[i].ID] > degrees[notes[j].ID]
			}
			return notes[i].ID < notes[j].ID
		})
		return nil
	case SortScore:
		weights, err := s.weightedDegrees(ctx)
		if err != nil {
			return err
		}
		sort.SliceStable(notes, func(i, j int) bool {
			if weights[notes[i].ID] != weights[notes[j].ID] {
				return weights[notes[i].ID] > weights[notes[j].ID]
			}
			return notes[i].ID < notes[j].ID
		})
		return nil
	}
	return nil
}

// weightedDegrees sums incident edge scores per node.
func (s *Service) weightedDegrees(ctx context.Context) (map[string]float64, error) {
	edges, err := s.store.AllEdges(ctx)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64)
	for _, edge := range edges {
		weights[edge.SourceID] += edge.Score
		weights[edge.TargetID] += edge.Score
	}
	return weights, nil
}
