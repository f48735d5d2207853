// Package admin runs whole-graph batch maintenance: embedding
// recomputes, retagging, rescoring, and document backfill. Batches
// report progress per unit, honor cancellation, and summarize per-unit
// failures instead of aborting on the first one.
package admin

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bwl/forest/internal/document"
	"github.com/bwl/forest/internal/embed"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/link"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/store"
)

// DefaultConcurrency bounds in-flight provider calls per batch.
const DefaultConcurrency = 4

// maxReportedErrors caps the per-unit error list in a report.
const maxReportedErrors = 25

// Runner executes admin batches.
type Runner struct {
	store       *store.Store
	engine      *link.Engine
	pipeline    *document.Pipeline
	embedder    embed.Embedder
	tagger      Tagger
	concurrency int
}

// New builds a Runner. tagger may be nil, in which case tags are
// rederived locally from note content.
func New(st *store.Store, engine *link.Engine, pipeline *document.Pipeline, embedder embed.Embedder, tagger Tagger, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if tagger == nil {
		tagger = localTagger{}
	}
	return &Runner{
		store:       st,
		engine:      engine,
		pipeline:    pipeline,
		embedder:    embedder,
		tagger:      tagger,
		concurrency: concurrency,
	}
}

// Tagger derives tags for a note, possibly through an external
// provider.
type Tagger interface {
	Tags(ctx context.Context, title, body string) ([]string, error)
}

// localTagger rederives tags from content with the built-in normalizer.
type localTagger struct{}

func (localTagger) Tags(_ context.Context, title, body string) ([]string, error) {
	return normalize.Normalize(title, body, nil).Tags, nil
}

// Progress is one per-unit progress tick.
type Progress struct {
	Done   int
	Total  int
	NoteID string
	Err    error
}

// ProgressFunc receives progress ticks. May be nil.
type ProgressFunc func(Progress)

// UnitError records one failed unit.
type UnitError struct {
	ID  string
	Err string
}

// Report summarizes a batch run.
type Report struct {
	Processed int
	Skipped   int
	Failed    int
	// Errors holds up to maxReportedErrors per-unit failures.
	Errors []UnitError
}

func (r *Report) recordError(id string, err error) {
	r.Failed++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, UnitError{ID: id, Err: err.Error()})
	}
}

// RecomputeOptions configures RecomputeEmbeddings.
type RecomputeOptions struct {
	// Rescore runs a full edge rescore after the recompute.
	Rescore bool
	// Force re-embeds notes already on the current model.
	Force bool
}

// RecomputeEmbeddings re-embeds every note's canonical text with the
// current provider. Resumable: notes already carrying the current
// model's embedding are skipped unless Force is set. Provider calls run
// concurrently; store writes serialize through the single writer.
func (r *Runner) RecomputeEmbeddings(ctx context.Context, opts RecomputeOptions, progress ProgressFunc) (*Report, error) {
	notes, err := r.store.ListNotes(ctx, store.ListNotesOptions{IncludeChunks: true})
	if err != nil {
		return nil, err
	}

	report := &Report{}
	current := r.embedder.ModelName()

	var pending []*store.Note
	for _, note := range notes {
		if !opts.Force && note.Embedding != nil && note.EmbeddingModel == current {
			report.Skipped++
			continue
		}
		pending = append(pending, note)
	}

	var mu sync.Mutex
	var done int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, note := range pending {
		note := note
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return forerrors.Wrap(forerrors.KindCancelled, err, "recompute cancelled")
			}
			err := r.recomputeOne(gctx, note.ID)

			mu.Lock()
			done++
			if err != nil {
				report.recordError(note.ID, err)
			} else {
				report.Processed++
			}
			tick := Progress{Done: done, Total: len(pending), NoteID: note.ID, Err: err}
			mu.Unlock()

			if progress != nil {
				progress(tick)
			}
			if forerrors.IsKind(err, forerrors.KindCancelled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if opts.Rescore {
		if err := r.RescoreAll(ctx, progress); err != nil {
			return report, err
		}
	}
	return report, nil
}

// recomputeOne embeds one note's canonical text and persists it. The
// provider call stays outside the write transaction.
func (r *Runner) recomputeOne(ctx context.Context, noteID string) error {
	note, err := r.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	vector, err := r.embedder.Embed(ctx, normalize.CanonicalText(note.Title, note.Body))
	if err != nil {
		return err
	}
	model := ""
	if vector != nil {
		model = r.embedder.ModelName()
	}
	return r.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SetEmbedding(ctx, noteID, vector, model)
	})
}

// RetagOptions configures RetagAll.
type RetagOptions struct {
	// DryRun reports would-be changes without writing.
	DryRun bool
	// Limit caps examined notes after Skip; 0 means all.
	Limit int
	// Skip offsets into the note list, for resuming.
	Skip int
	// SkipUnchanged counts identical tag sets as skipped without a
	// write.
	SkipUnchanged bool
}

// TagChange records one note's tag difference.
type TagChange struct {
	NoteID string
	Before []string
	After  []string
}

// RetagReport extends Report with the observed tag changes.
type RetagReport struct {
	Report
	Changes []TagChange
}

// RetagAll rederives tags for every note, writing differences unless
// DryRun. Tagger failures are recorded per note and do not abort the
// batch.
func (r *Runner) RetagAll(ctx context.Context, opts RetagOptions, progress ProgressFunc) (*RetagReport, error) {
	notes, err := r.store.ListNotes(ctx, store.ListNotesOptions{IncludeChunks: true})
	if err != nil {
		return nil, err
	}
	// Deterministic resume order.
	sort.Slice(notes, func(i, j int) bool { return notes[i].ID < notes[j].ID })
	if opts.Skip > 0 {
		if opts.Skip >= len(notes) {
			notes = nil
		} else {
			notes = notes[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(notes) > opts.Limit {
		notes = notes[:opts.Limit]
	}

	report := &RetagReport{}
	for i, note := range notes {
		if err := ctx.Err(); err != nil {
			return report, forerrors.Wrap(forerrors.KindCancelled, err, "retag cancelled")
		}

		tags, err := r.tagger.Tags(ctx, note.Title, note.Body)
		if err != nil {
			report.recordError(note.ID, err)
			r.tickProgress(progress, i+1, len(notes), note.ID, err)
			continue
		}

		if sameTags(note.Tags, tags) {
			if opts.SkipUnchanged {
				report.Skipped++
				r.tickProgress(progress, i+1, len(notes), note.ID, nil)
				continue
			}
		} else {
			report.Changes = append(report.Changes, TagChange{
				NoteID: note.ID, Before: note.Tags, After: tags,
			})
		}

		if !opts.DryRun {
			note.Tags = tags
			err = r.store.WithTx(ctx, func(tx *store.Tx) error {
				return tx.UpdateNote(ctx, note)
			})
			if err != nil {
				report.recordError(note.ID, err)
				r.tickProgress(progress, i+1, len(notes), note.ID, err)
				continue
			}
		}
		report.Processed++
		r.tickProgress(progress, i+1, len(notes), note.ID, nil)
	}
	return report, nil
}

func (r *Runner) tickProgress(progress ProgressFunc, done, total int, noteID string, err error) {
	if progress != nil {
		progress(Progress{Done: done, Total: total, NoteID: noteID, Err: err})
	}
}

// RescoreAll re-applies the threshold policy to every note.
func (r *Runner) RescoreAll(ctx context.Context, progress ProgressFunc) error {
	done := 0
	return r.engine.RescoreAll(ctx, func(noteID string, err error) {
		done++
		if progress != nil {
			progress(Progress{Done: done, NoteID: noteID, Err: err})
		}
	})
}

// BackfillDocuments seeds missing document records from chunk notes.
func (r *Runner) BackfillDocuments(ctx context.Context) (*document.BackfillReport, error) {
	return r.pipeline.Backfill(ctx)
}

// sameTags compares tag sets ignoring order.
func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
