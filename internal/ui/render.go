// Package ui renders Forest entities for the terminal: styled when
// writing to a TTY, plain text when piped.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/bwl/forest/internal/search"
	"github.com/bwl/forest/internal/store"
	"github.com/bwl/forest/internal/temporal"
	"github.com/bwl/forest/internal/topology"
)

// Renderer writes formatted output. Styling follows the destination:
// TTYs get color, pipes get plain text.
type Renderer struct {
	out    io.Writer
	styles Styles
	tty    bool
}

// New builds a renderer for out, detecting TTY capability.
func New(out io.Writer) *Renderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	r := &Renderer{out: out, tty: tty}
	if tty {
		r.styles = DefaultStyles()
	} else {
		r.styles = PlainStyles()
	}
	return r
}

// Printf writes unstyled text.
func (r *Renderer) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Success writes an accented line.
func (r *Renderer) Success(format string, args ...any) {
	fmt.Fprintln(r.out, r.styles.Accent.Render(fmt.Sprintf(format, args...)))
}

// Warn writes a warning line.
func (r *Renderer) Warn(format string, args ...any) {
	fmt.Fprintln(r.out, r.styles.Warning.Render(fmt.Sprintf(format, args...)))
}

// Error writes an error line.
func (r *Renderer) Error(format string, args ...any) {
	fmt.Fprintln(r.out, r.styles.Error.Render(fmt.Sprintf(format, args...)))
}

// Note renders one note with its metadata and edge count.
func (r *Renderer) Note(note *store.Note, edges []*store.Edge) {
	fmt.Fprintln(r.out, r.styles.Title.Render(note.Title))
	fmt.Fprintf(r.out, "%s %s\n", r.styles.Label.Render("id:"), shortID(note.ID))
	if len(note.Tags) > 0 {
		fmt.Fprintf(r.out, "%s %s\n", r.styles.Label.Render("tags:"), strings.Join(note.Tags, " "))
	}
	if note.EmbeddingModel != "" {
		fmt.Fprintf(r.out, "%s %s\n", r.styles.Label.Render("embedding:"), note.EmbeddingModel)
	}
	fmt.Fprintf(r.out, "%s %d\n", r.styles.Label.Render("edges:"), len(edges))
	if note.Body != "" {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, note.Body)
	}
}

// NoteLine renders one note as a single list row.
func (r *Renderer) NoteLine(note *store.Note) {
	tags := ""
	if len(note.Tags) > 0 {
		tags = "  " + r.styles.Dim.Render("#"+strings.Join(note.Tags, " #"))
	}
	fmt.Fprintf(r.out, "%s  %s%s\n",
		r.styles.Label.Render(shortID(note.ID)),
		r.styles.Title.Render(note.Title), tags)
}

// SemanticHits renders ranked search results.
func (r *Renderer) SemanticHits(result *search.SemanticResult) {
	if result.Degraded {
		r.Warn("query embedding unavailable; showing term matches")
	}
	for _, hit := range result.Hits {
		fmt.Fprintf(r.out, "%s  ", r.styles.Score.Render(fmt.Sprintf("%.3f", hit.Similarity)))
		r.NoteLine(hit.Note)
	}
	if result.Total > len(result.Hits) {
		fmt.Fprintln(r.out, r.styles.Dim.Render(
			fmt.Sprintf("(%d of %d results)", len(result.Hits), result.Total)))
	}
}

// Edge renders one edge with its score breakdown.
func (r *Renderer) Edge(edge *store.Edge) {
	fmt.Fprintf(r.out, "%s %s %s  %s  %s\n",
		shortID(edge.SourceID),
		r.styles.Dim.Render("<->"),
		shortID(edge.TargetID),
		r.styles.Score.Render(fmt.Sprintf("%.3f", edge.Score)),
		r.styles.Label.Render(string(edge.EdgeType)))
}

// Graph renders a neighborhood expansion.
func (r *Renderer) Graph(g *search.Graph) {
	for _, note := range g.Nodes {
		marker := "  "
		if note.ID == g.CenterID {
			marker = r.styles.Accent.Render("* ")
		}
		fmt.Fprint(r.out, marker)
		r.NoteLine(note)
	}
	for _, edge := range g.Edges {
		r.Edge(edge)
	}
}

// Topology renders a context summary.
func (r *Renderer) Topology(summary *topology.Summary) {
	fmt.Fprintln(r.out, summary.Rendered)
	if summary.Truncated {
		fmt.Fprintln(r.out, r.styles.Dim.Render("(truncated to budget)"))
	}
}

// Stats renders store statistics.
func (r *Renderer) Stats(stats *store.Stats) {
	rows := []struct {
		label string
		value any
	}{
		{"notes", stats.NoteCount},
		{"edges", stats.EdgeCount},
		{"documents", stats.DocumentCount},
		{"tags", stats.TagCount},
		{"embedded notes", stats.EmbeddedNotes},
		{"snapshots", stats.SnapshotCount},
		{"events", stats.EventCount},
		{"embedding model", stats.EmbeddingModel},
		{"dimensions", stats.Dimensions},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "%-18s %v\n", r.styles.Label.Render(row.label), row.value)
	}
}

// Diff renders a temporal diff.
func (r *Renderer) Diff(d *temporal.Diff) {
	if d.Warning != "" {
		r.Warn("%s", d.Warning)
	}
	fmt.Fprintf(r.out, "%s %d -> %d   %s %d -> %d\n",
		r.styles.Label.Render("nodes"), d.NodesBefore, d.NodesAfter,
		r.styles.Label.Render("edges"), d.EdgesBefore, d.EdgesAfter)

	r.nodeSection("added", d.NodesAdded)
	r.nodeSection("removed", d.NodesRemoved)
	r.nodeSection("updated", d.NodesUpdated)
	r.edgeSection("edges added", d.EdgesAdded)
	r.edgeSection("edges removed", d.EdgesRemoved)
	r.edgeSection("edges changed", d.EdgesChanged)
}

func (r *Renderer) nodeSection(label string, section temporal.NodeSection) {
	if len(section.Items) == 0 {
		return
	}
	fmt.Fprintln(r.out, r.styles.Title.Render(label))
	for _, item := range section.Items {
		fmt.Fprintf(r.out, "  %s  %s\n", r.styles.Label.Render(shortID(item.ID)), item.Title)
	}
	if section.Truncated > 0 {
		fmt.Fprintln(r.out, r.styles.Dim.Render(fmt.Sprintf("  ... and %d more", section.Truncated)))
	}
}

func (r *Renderer) edgeSection(label string, section temporal.EdgeSection) {
	if len(section.Items) == 0 {
		return
	}
	fmt.Fprintln(r.out, r.styles.Title.Render(label))
	for _, item := range section.Items {
		fmt.Fprintf(r.out, "  %s <-> %s  %.3f -> %.3f\n",
			shortID(item.SourceID), shortID(item.TargetID),
			item.ScoreBefore, item.ScoreAfter)
	}
	if section.Truncated > 0 {
		fmt.Fprintln(r.out, r.styles.Dim.Render(fmt.Sprintf("  ... and %d more", section.Truncated)))
	}
}

// Growth renders a growth timeline.
func (r *Renderer) Growth(points []temporal.GrowthPoint) {
	for _, p := range points {
		label := p.TakenAt.Format("2006-01-02 15:04")
		if p.Live {
			label = "now             "
		}
		fmt.Fprintf(r.out, "%s  %s  %s  %s\n",
			r.styles.Label.Render(label),
			fmt.Sprintf("nodes %4d", p.NodeCount),
			fmt.Sprintf("edges %4d", p.EdgeCount),
			fmt.Sprintf("tags %4d", p.TagCount))
	}
}

// Progress writes a batch progress tick: in-place on a TTY, one line
// per tick otherwise.
func (r *Renderer) Progress(done, total int, unit string) {
	if r.tty {
		fmt.Fprintf(r.out, "\r%s %d/%d %s", r.styles.Accent.Render(">"), done, total, unit)
		if done == total {
			fmt.Fprintln(r.out)
		}
		return
	}
	fmt.Fprintf(r.out, "%d/%d %s\n", done, total, unit)
}

// shortID abbreviates a uuid for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
