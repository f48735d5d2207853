// Package chunk splits canonical markdown into ordered segments for the
// document pipeline. Splitting is pure and deterministic: the same body
// and options always yield the same segments.
package chunk

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// Strategy names recognized by Split.
const (
	StrategyHeaders = "headers"
	StrategySize    = "size"
	StrategyHybrid  = "hybrid"
)

// Defaults for size-based splitting.
const (
	DefaultMaxChunkChars = 2000
	DefaultOverlapChars  = 200
)

var headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Segment is one split unit of a document body.
type Segment struct {
	// Heading is the nearest section heading, empty for preamble or
	// size-split bodies without headers.
	Heading string
	// Body is the segment text, trimmed of trailing newlines.
	Body string
}

// Options configures Split.
type Options struct {
	Strategy      string
	MaxChunkChars int
	OverlapChars  int
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyHybrid
	}
	if o.MaxChunkChars <= 0 {
		o.MaxChunkChars = DefaultMaxChunkChars
	}
	if o.OverlapChars < 0 || o.OverlapChars >= o.MaxChunkChars {
		o.OverlapChars = DefaultOverlapChars
	}
	return o
}

// Split divides a markdown body into segments per the strategy:
//
//   - headers: one segment per heading section; text before the first
//     heading becomes a preamble segment.
//   - size: paragraph packing up to MaxChunkChars with OverlapChars of
//     trailing context carried into the next segment.
//   - hybrid: headers first, then size-splitting of oversized sections.
//
// Fenced code blocks are never split across segments.
func Split(body string, opts Options) []Segment {
	opts = opts.withDefaults()
	if strings.TrimSpace(body) == "" {
		return nil
	}

	switch opts.Strategy {
	case StrategyHeaders:
		return splitByHeaders(body)
	case StrategySize:
		return splitBySize("", body, opts)
	default:
		var segments []Segment
		for _, sec := range splitByHeaders(body) {
			if len(sec.Body) > opts.MaxChunkChars {
				segments = append(segments, splitBySize(sec.Heading, sec.Body, opts)...)
			} else {
				segments = append(segments, sec)
			}
		}
		return segments
	}
}

// splitByHeaders cuts at markdown headings. Heading lines stay with
// their section body.
func splitByHeaders(body string) []Segment {
	lines := strings.Split(body, "\n")
	var segments []Segment
	var current strings.Builder
	heading := ""
	inFence := false

	flush := func() {
		text := strings.TrimRight(current.String(), "\n")
		if strings.TrimSpace(text) != "" {
			segments = append(segments, Segment{Heading: heading, Body: text})
		}
		current.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if match := headerPattern.FindStringSubmatch(line); match != nil {
				flush()
				heading = strings.TrimSpace(match[2])
			}
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()
	return segments
}

// splitBySize packs paragraphs up to the character budget, carrying
// overlap context forward. Paragraphs inside code fences are merged
// before packing so a fence is never split.
func splitBySize(heading, body string, opts Options) []Segment {
	paragraphs := mergeFences(strings.Split(body, "\n\n"))

	var segments []Segment
	var current strings.Builder

	flush := func() {
		text := strings.TrimRight(current.String(), "\n")
		if strings.TrimSpace(text) != "" {
			segments = append(segments, Segment{Heading: heading, Body: text})
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > opts.MaxChunkChars {
			flush()
			overlap := tailOverlap(current.String(), opts.OverlapChars)
			current.Reset()
			if overlap != "" {
				current.WriteString(overlap)
				current.WriteString("\n\n")
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return segments
}

// tailOverlap returns the last whole paragraph within the overlap
// budget, or "" when even one paragraph exceeds it.
func tailOverlap(text string, overlapChars int) string {
	if overlapChars <= 0 {
		return ""
	}
	paragraphs := strings.Split(strings.TrimRight(text, "\n"), "\n\n")
	last := strings.TrimSpace(paragraphs[len(paragraphs)-1])
	if last == "" || len(last) > overlapChars {
		return ""
	}
	return last
}

// mergeFences rejoins paragraphs split inside an unclosed code fence.
func mergeFences(paragraphs []string) []string {
	var result []string
	var fence strings.Builder
	inFence := false

	for _, para := range paragraphs {
		if inFence {
			fence.WriteString("\n\n")
			fence.WriteString(para)
			if strings.Count(para, "```")%2 == 1 {
				result = append(result, fence.String())
				fence.Reset()
				inFence = false
			}
			continue
		}
		if strings.Count(para, "```")%2 == 1 {
			inFence = true
			fence.WriteString(para)
			continue
		}
		result = append(result, para)
	}
	if inFence {
		result = append(result, fence.String())
	}
	return result
}

// Checksum returns the content hash used to detect changed segments.
func Checksum(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ChunkTitle derives the display title for chunk k of n (1-based k).
func ChunkTitle(docTitle string, k, n int, heading string) string {
	title := fmt.Sprintf("%s [%d/%d]", docTitle, k, n)
	if heading != "" {
		title += " " + heading
	}
	return title
}
