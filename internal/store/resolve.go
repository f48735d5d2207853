package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	forerrors "github.com/bwl/forest/internal/errors"
)

// ResolveNote resolves a user-supplied note reference. A reference may
// be a full note ID, a unique ID prefix, an exact title, or an ordinal
// like @0 against the most-recently-updated list (chunks excluded).
// Ambiguous prefixes and titles fail with AMBIGUOUS_REFERENCE.
func (s *Store) ResolveNote(ctx context.Context, ref string) (*Note, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, forerrors.Validation("empty note reference")
	}

	if strings.HasPrefix(ref, "@") {
		return s.resolveOrdinal(ctx, ref)
	}

	// Exact ID wins over everything.
	if note, err := s.GetNote(ctx, ref); err == nil {
		return note, nil
	}

	// Unique ID prefix.
	ids, err := s.idsWithPrefix(ctx, ref, 3)
	if err != nil {
		return nil, err
	}
	switch len(ids) {
	case 1:
		return s.GetNote(ctx, ids[0])
	case 0:
		// fall through to title matching
	default:
		return nil, forerrors.Ambiguous(ref, ids)
	}

	// Exact title, case-insensitive.
	titleIDs, err := s.idsWithTitle(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch len(titleIDs) {
	case 1:
		return s.GetNote(ctx, titleIDs[0])
	case 0:
		return nil, forerrors.NotFound("note", ref)
	default:
		return nil, forerrors.Ambiguous(ref, titleIDs).
			WithSuggestion("reference the note by id instead of title")
	}
}

// resolveOrdinal handles @N references, 0 being the most recently
// updated non-chunk note.
func (s *Store) resolveOrdinal(ctx context.Context, ref string) (*Note, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(ref, "@"))
	if err != nil || n < 0 {
		return nil, forerrors.Validation("invalid ordinal reference %q", ref)
	}
	notes, err := s.ListNotes(ctx, ListNotesOptions{Limit: n + 1})
	if err != nil {
		return nil, err
	}
	if n >= len(notes) {
		return nil, forerrors.NotFound("note", ref).
			WithDetail("available", strconv.Itoa(len(notes)))
	}
	return notes[n], nil
}

// idsWithPrefix returns note IDs starting with prefix, capped at limit.
// The cap keeps ambiguity errors small.
func (s *Store) idsWithPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM notes WHERE id LIKE ? || '%' ORDER BY id LIMIT ?`,
		prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("query id prefix: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) idsWithTitle(ctx context.Context, title string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM notes WHERE title = ? COLLATE NOCASE ORDER BY updated_at DESC LIMIT 3`,
		title)
	if err != nil {
		return nil, fmt.Errorf("query title: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResolveEdge resolves an edge reference of the form "a::b" where each
// side is itself a note reference; endpoint order does not matter. A
// bare reference is treated as an edge ID.
func (s *Store) ResolveEdge(ctx context.Context, ref string) (*Edge, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, forerrors.Validation("empty edge reference")
	}

	if left, right, ok := strings.Cut(ref, "::"); ok {
		a, err := s.ResolveNote(ctx, left)
		if err != nil {
			return nil, err
		}
		b, err := s.ResolveNote(ctx, right)
		if err != nil {
			return nil, err
		}
		edge, err := s.GetEdgeByPair(ctx, a.ID, b.ID)
		if err != nil {
			return nil, forerrors.NotFound("edge", ref).
				WithDetail("source", a.ID).
				WithDetail("target", b.ID)
		}
		return edge, nil
	}

	return s.GetEdge(ctx, ref)
}
