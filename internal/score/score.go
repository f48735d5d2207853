// Package score computes pairwise note similarity. Scoring is a pure
// function of the two notes and the configured weights; it never touches
// the store.
package score

import (
	"math"
	"path"
	"sort"

	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/internal/normalize"
	"github.com/bwl/forest/internal/store"
)

// Result is the full scoring breakdown for a note pair.
type Result struct {
	SemanticScore float64
	TagScore      float64
	Score         float64
	Components    store.ScoreComponents
}

// Scorer holds the weight configuration. Weights are validated at config
// load: each group sums to 1.
type Scorer struct {
	embeddingWeight float64
	tokenWeight     float64
	titleWeight     float64
	semanticVsTag   float64
	bridgePattern   string
}

// New builds a Scorer from scoring configuration.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{
		embeddingWeight: cfg.EmbeddingWeight,
		tokenWeight:     cfg.TokenWeight,
		titleWeight:     cfg.TitleWeight,
		semanticVsTag:   cfg.SemanticVsTag,
		bridgePattern:   cfg.BridgeTagPattern,
	}
}

// Score computes the dual-signal similarity of a and b.
//
// An absent embedding on either side forces embeddingSimilarity to 0
// rather than erroring; the pair is then carried by token, title, and
// tag signals alone.
func (s *Scorer) Score(a, b *store.Note) Result {
	components := store.ScoreComponents{
		EmbeddingSimilarity: embeddingSimilarity(a.Embedding, b.Embedding),
		TokenSimilarity:     weightedJaccard(a.TokenCounts, b.TokenCounts),
		TitleSimilarity:     titleSimilarity(a.Title, b.Title),
	}
	components.TagOverlap, components.SharedTags = tagOverlap(a.Tags, b.Tags)
	components.BridgeTag = s.bridgeTag(components.SharedTags)

	semantic := s.embeddingWeight*components.EmbeddingSimilarity +
		s.tokenWeight*components.TokenSimilarity +
		s.titleWeight*components.TitleSimilarity

	tag := components.TagOverlap
	if components.BridgeTag != "" {
		tag = 1.0
	}

	return Result{
		SemanticScore: clamp01(semantic),
		TagScore:      clamp01(tag),
		Score:         clamp01(s.semanticVsTag*semantic + (1-s.semanticVsTag)*tag),
		Components:    components,
	}
}

// AggregateWithTagScore recombines a semantic score with an alternative
// tag score using the configured weights. Used to judge what a pair
// would score without its bridge tag.
func (s *Scorer) AggregateWithTagScore(semantic, tag float64) float64 {
	return clamp01(s.semanticVsTag*semantic + (1-s.semanticVsTag)*tag)
}

// bridgeTag returns the first shared tag matching the bridge pattern,
// or "". SharedTags is sorted, so the choice is deterministic.
func (s *Scorer) bridgeTag(sharedTags []string) string {
	if s.bridgePattern == "" {
		return ""
	}
	for _, tag := range sharedTags {
		if ok, _ := path.Match(s.bridgePattern, tag); ok {
			return tag
		}
	}
	return ""
}

// embeddingSimilarity maps cosine similarity from [-1,1] into [0,1].
// Either side absent yields 0.
func embeddingSimilarity(a, b []float32) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	// Inputs are unit-norm; clamp against float drift.
	cos := math.Max(-1, math.Min(1, dot))
	return (cos + 1) / 2
}

// weightedJaccard computes sum(min)/sum(max) over the union of token
// counts. Both empty yields 0.
func weightedJaccard(a, b map[string]int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var minSum, maxSum float64
	for token, countA := range a {
		countB := b[token]
		minSum += float64(min(countA, countB))
		maxSum += float64(max(countA, countB))
	}
	for token, countB := range b {
		if _, seen := a[token]; !seen {
			maxSum += float64(countB)
		}
	}
	if maxSum == 0 {
		return 0
	}
	return minSum / maxSum
}

// titleSimilarity is token-set Jaccard over the normalized title tokens.
func titleSimilarity(a, b string) float64 {
	setA := normalize.TokenSet(a)
	setB := normalize.TokenSet(b)
	return setJaccard(setA, setB)
}

// tagOverlap is Jaccard over the tag sets, plus the sorted shared tags.
func tagOverlap(a, b []string) (float64, []string) {
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	var shared []string
	union := len(setA)
	for _, t := range b {
		if _, ok := setA[t]; ok {
			shared = append(shared, t)
		} else {
			union++
		}
	}
	sort.Strings(shared)
	if union == 0 {
		return 0, nil
	}
	return float64(len(shared)) / float64(union), shared
}

func setJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
