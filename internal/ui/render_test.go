package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bwl/forest/internal/search"
	"github.com/bwl/forest/internal/store"
	"github.com/bwl/forest/internal/temporal"
)

func plainRenderer() (*Renderer, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&buf), &buf
}

func TestNew_BufferIsPlain(t *testing.T) {
	r, _ := plainRenderer()
	assert.False(t, r.tty, "a bytes.Buffer is not a terminal")
}

func TestNoteRendering(t *testing.T) {
	r, buf := plainRenderer()
	note := &store.Note{
		ID:             "0123456789abcdef",
		Title:          "Salmon runs",
		Body:           "Upstream in autumn.",
		Tags:           []string{"fish", "river"},
		EmbeddingModel: "static-hash-256",
	}
	r.Note(note, []*store.Edge{{ID: "e1"}})

	out := buf.String()
	assert.Contains(t, out, "Salmon runs")
	assert.Contains(t, out, "01234567", "ids are abbreviated")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "fish river")
	assert.Contains(t, out, "edges: 1")
	assert.Contains(t, out, "Upstream in autumn.")
}

func TestSemanticHits(t *testing.T) {
	r, buf := plainRenderer()
	r.SemanticHits(&search.SemanticResult{
		Hits: []search.SemanticHit{
			{Note: &store.Note{ID: "aaaa", Title: "First"}, Similarity: 0.9123},
		},
		Total: 5,
	})

	out := buf.String()
	assert.Contains(t, out, "0.912")
	assert.Contains(t, out, "First")
	assert.Contains(t, out, "(1 of 5 results)")
}

func TestSemanticHits_DegradedWarns(t *testing.T) {
	r, buf := plainRenderer()
	r.SemanticHits(&search.SemanticResult{Degraded: true})
	assert.Contains(t, buf.String(), "term matches")
}

func TestDiffRendering(t *testing.T) {
	r, buf := plainRenderer()
	r.Diff(&temporal.Diff{
		Warning:     "no snapshot at or before the requested time",
		NodesBefore: 2, NodesAfter: 3,
		NodesAdded: temporal.NodeSection{
			Items:     []temporal.NodeChange{{ID: "n1", Title: "New note"}},
			Truncated: 4,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "no snapshot")
	assert.Contains(t, out, "nodes 2 -> 3")
	assert.Contains(t, out, "New note")
	assert.Contains(t, out, "and 4 more")
}

func TestGrowthRendering(t *testing.T) {
	r, buf := plainRenderer()
	r.Growth([]temporal.GrowthPoint{
		{TakenAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), NodeCount: 10, EdgeCount: 4, TagCount: 6},
		{TakenAt: time.Now(), NodeCount: 12, EdgeCount: 5, TagCount: 6, Live: true},
	})

	out := buf.String()
	assert.Contains(t, out, "2026-03-01 12:00")
	assert.Contains(t, out, "now")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestProgress_PlainWritesLines(t *testing.T) {
	r, buf := plainRenderer()
	r.Progress(1, 3, "notes")
	r.Progress(2, 3, "notes")
	assert.Equal(t, "1/3 notes\n2/3 notes\n", buf.String())
}
