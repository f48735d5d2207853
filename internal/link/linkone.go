package link

import (
	"context"
	"sort"

	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/score"
	"github.com/bwl/forest/internal/store"
)

// LinkOne recomputes the note's edges against every other note and
// applies the threshold policy in a single transaction. Idempotent:
// with no intervening mutation, a second run changes nothing.
func (e *Engine) LinkOne(ctx context.Context, noteID string) error {
	others, err := e.store.ListNotes(ctx, store.ListNotesOptions{IncludeChunks: true})
	if err != nil {
		return err
	}
	candidates := make([]string, 0, len(others))
	for _, other := range others {
		if other.ID != noteID {
			candidates = append(candidates, other.ID)
		}
	}
	return e.applyThresholdPolicy(ctx, noteID, candidates)
}

// RescoreOne recomputes edges for the incremental candidate set: current
// neighbors, the top-K nearest notes in embedding space, and notes
// sharing any tag. K bounds the worst-case cost per edit.
func (e *Engine) RescoreOne(ctx context.Context, noteID string) error {
	candidates, err := e.candidateSet(ctx, noteID)
	if err != nil {
		return err
	}
	return e.applyThresholdPolicy(ctx, noteID, candidates)
}

// RescoreAll runs RescoreOne over every note, one transaction per note
// so concurrent user operations interleave. Per-note failures are
// collected; cancellation returns partial progress.
func (e *Engine) RescoreAll(ctx context.Context, progress func(noteID string, err error)) error {
	if err := ctx.Err(); err != nil {
		return forerrors.Wrap(forerrors.KindCancelled, err, "rescore cancelled")
	}
	notes, err := e.store.ListNotes(ctx, store.ListNotesOptions{IncludeChunks: true})
	if err != nil {
		return err
	}
	for _, note := range notes {
		if err := ctx.Err(); err != nil {
			return forerrors.Wrap(forerrors.KindCancelled, err, "rescore cancelled")
		}
		err := e.RescoreOne(ctx, note.ID)
		if progress != nil {
			progress(note.ID, err)
		}
		if err != nil && forerrors.KindOf(err) == forerrors.KindInternal {
			return err
		}
	}
	return nil
}

// candidateSet builds the incremental candidate set for noteID.
func (e *Engine) candidateSet(ctx context.Context, noteID string) ([]string, error) {
	seen := map[string]struct{}{noteID: {}}
	var candidates []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}

	edges, err := e.store.EdgesForNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		add(edge.Other(noteID))
	}

	note, err := e.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if note.Embedding != nil {
		// Over-fetch to absorb lazily deleted index entries.
		matches, err := e.store.Vectors().Search(note.Embedding, e.candidateK*2)
		if err != nil && !forerrors.IsKind(err, forerrors.KindDimensionMismatch) {
			return nil, err
		}
		for i, m := range matches {
			if i >= e.candidateK {
				break
			}
			add(m.NoteID)
		}
	}

	tagSharers, err := e.store.NotesWithAnyTag(ctx, note.Tags, noteID)
	if err != nil {
		return nil, err
	}
	for _, id := range tagSharers {
		add(id)
	}
	return candidates, nil
}

// applyThresholdPolicy scores noteID against each candidate and applies
// the accept threshold in one transaction:
//   - score >= accept: upsert as semantic (or bridge-tag when the bridge
//     tag is what lifts the pair over the threshold);
//   - score < accept: remove any existing auto-prunable edge;
//   - structural and manual edges only get their components refreshed.
func (e *Engine) applyThresholdPolicy(ctx context.Context, noteID string, candidates []string) error {
	// Deterministic order: candidate id ascending.
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		note, err := tx.GetNote(ctx, noteID)
		if err != nil {
			return err
		}

		for _, candidateID := range sorted {
			other, err := tx.GetNote(ctx, candidateID)
			if err != nil {
				if forerrors.IsKind(err, forerrors.KindNotFound) {
					continue // deleted since the candidate set was built
				}
				return err
			}

			result := e.scorer.Score(note, other)
			existing, err := tx.GetEdgeByPair(ctx, note.ID, other.ID)
			if err != nil && !forerrors.IsKind(err, forerrors.KindNotFound) {
				return err
			}

			if existing != nil && !existing.EdgeType.AutoPrunable() {
				// Structural and manual edges keep their identity and
				// score; only the breakdown is refreshed.
				existing.Components = result.Components
				if err := tx.UpsertEdge(ctx, existing); err != nil {
					return err
				}
				continue
			}

			if result.Score >= e.acceptThreshold {
				edge := &store.Edge{
					SourceID:      note.ID,
					TargetID:      other.ID,
					SemanticScore: result.SemanticScore,
					TagScore:      result.TagScore,
					Score:         result.Score,
					EdgeType:      e.classifyEdge(result),
					Components:    result.Components,
				}
				if err := tx.UpsertEdge(ctx, edge); err != nil {
					return err
				}
			} else if existing != nil {
				if err := tx.DeleteEdge(ctx, existing.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// classifyEdge labels an accepted edge. When the shared bridge tag is
// what lifts the pair over the accept threshold, the edge is bridge-tag;
// otherwise semantic.
func (e *Engine) classifyEdge(result score.Result) store.EdgeType {
	if result.Components.BridgeTag == "" {
		return store.EdgeTypeSemantic
	}
	withoutBridge := e.scorer.AggregateWithTagScore(result.SemanticScore, result.Components.TagOverlap)
	if withoutBridge < e.acceptThreshold {
		return store.EdgeTypeBridgeTag
	}
	return store.EdgeTypeSemantic
}

// Suggestion is a candidate pair in the suggest band, surfaced at query
// time and never persisted.
type Suggestion struct {
	NoteID string
	Result score.Result
}

// Suggestions ranks candidates scoring in [suggestThreshold,
// acceptThreshold) against the note, strongest first, capped at limit.
func (e *Engine) Suggestions(ctx context.Context, noteID string, limit int) ([]Suggestion, error) {
	note, err := e.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	candidates, err := e.candidateSet(ctx, noteID)
	if err != nil {
		return nil, err
	}
	sort.Strings(candidates)

	var suggestions []Suggestion
	for _, id := range candidates {
		other, err := e.store.GetNote(ctx, id)
		if err != nil {
			continue
		}
		result := e.scorer.Score(note, other)
		if result.Score >= e.suggestThreshold && result.Score < e.acceptThreshold {
			suggestions = append(suggestions, Suggestion{NoteID: id, Result: result})
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Result.Score != suggestions[j].Result.Score {
			return suggestions[i].Result.Score > suggestions[j].Result.Score
		}
		return suggestions[i].NoteID < suggestions[j].NoteID
	})
	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// CreateManualEdge links two notes by hand. Manual edges are exempt from
// the threshold policy and never removed by rescoring.
func (e *Engine) CreateManualEdge(ctx context.Context, a, b string) (*store.Edge, error) {
	var edge *store.Edge
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		noteA, err := tx.GetNote(ctx, a)
		if err != nil {
			return err
		}
		noteB, err := tx.GetNote(ctx, b)
		if err != nil {
			return err
		}
		result := e.scorer.Score(noteA, noteB)
		edge = &store.Edge{
			SourceID:      noteA.ID,
			TargetID:      noteB.ID,
			SemanticScore: result.SemanticScore,
			TagScore:      result.TagScore,
			Score:         result.Score,
			EdgeType:      store.EdgeTypeManual,
			Components:    result.Components,
		}
		return tx.UpsertEdge(ctx, edge)
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// RemoveEdge deletes an edge by ID regardless of type.
func (e *Engine) RemoveEdge(ctx context.Context, edgeID string) error {
	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.DeleteEdge(ctx, edgeID)
	})
}
