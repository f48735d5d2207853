// Package search answers read-only queries over the graph: semantic
// k-NN over embeddings, metadata filtering, and neighborhood expansion.
// Nothing here mutates the store.
package search

import (
	"math"
	"sort"
	"strings"

	"github.com/bwl/forest/internal/embed"
	"github.com/bwl/forest/internal/store"
)

// Service executes searches against a store.
type Service struct {
	store    *store.Store
	embedder embed.Embedder
}

// New builds a search service.
func New(st *store.Store, embedder embed.Embedder) *Service {
	return &Service{store: st, embedder: embedder}
}

// cosine computes cosine similarity between equal-length vectors.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// hasAllTags reports whether the note's tag set is a superset of want.
func hasAllTags(note *store.Note, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(note.Tags))
	for _, t := range note.Tags {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// hasAnyTag reports whether the note carries at least one of want.
func hasAnyTag(note *store.Note, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, t := range note.Tags {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

// sortNotesByRecency orders most recently updated first, ids ascending on
// equal timestamps.
func sortNotesByRecency(notes []*store.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].UpdatedAt.Equal(notes[j].UpdatedAt) {
			return notes[i].UpdatedAt.After(notes[j].UpdatedAt)
		}
		return strings.Compare(notes[i].ID, notes[j].ID) < 0
	})
}

// page slices notes to [offset, offset+limit).
func page(notes []*store.Note, offset, limit int) []*store.Note {
	if offset >= len(notes) {
		return nil
	}
	notes = notes[offset:]
	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	return notes
}
