// Package normalize derives indexing signals from note text.
//
// Normalize is a pure function: given a title and markdown body it produces
// the canonical embedding text, the merged tag set, and the bag of token
// counts used for lexical similarity. Display text is never altered;
// lowercasing applies to derived signals only.
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// TokenizerVersion identifies the tokenization rules. Changing the rules
// invalidates stored token counts and requires an admin rescore.
const TokenizerVersion = "1"

// hashtagPattern matches inline hashtags, slash namespaces allowed
// (e.g. #ecology, #link/salmon-runs).
var hashtagPattern = regexp.MustCompile(`#([a-zA-Z0-9][a-zA-Z0-9/_-]*)`)

// stopWords is the fixed English stopword list applied to token counts.
// Stable across versions; extending it bumps TokenizerVersion.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "i": {}, "if": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "she": {}, "that": {}, "the": {}, "their": {},
	"them": {}, "they": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

// Result is the output of Normalize.
type Result struct {
	// CanonicalText is the exact string passed to the embedding provider:
	// title + "\n\n" + body.
	CanonicalText string
	// Tags is the merged tag set: hashtags extracted from the text plus
	// explicit tags, lowercased, deduplicated, sorted.
	Tags []string
	// TokenCounts maps token -> occurrence count over title+body after
	// stopword and punctuation filtering.
	TokenCounts map[string]int
}

// Normalize derives tags and token counts from a note's title and body,
// merging in explicitly provided tags. No I/O; never fails.
func Normalize(title, body string, explicitTags []string) Result {
	canonical := CanonicalText(title, body)
	return Result{
		CanonicalText: canonical,
		Tags:          MergeTags(ExtractHashtags(canonical), explicitTags),
		TokenCounts:   TokenCounts(canonical),
	}
}

// CanonicalText joins title and body exactly as embedded.
func CanonicalText(title, body string) string {
	return title + "\n\n" + body
}

// ExtractHashtags returns the lowercased hashtag names found in text.
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, strings.ToLower(m[1]))
	}
	return tags
}

// MergeTags merges tag lists case-insensitively, deduplicates, and sorts
// deterministically. Empty and whitespace-only tags are dropped.
func MergeTags(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, list := range lists {
		for _, tag := range list {
			t := strings.ToLower(strings.TrimSpace(tag))
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return tags
}

// TokenCounts tokenizes text on Unicode word boundaries, folds case,
// filters stopwords and single-character tokens, and counts occurrences.
func TokenCounts(text string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range Tokens(text) {
		counts[tok]++
	}
	return counts
}

// Tokens returns the filtered, lowercased tokens of text in order.
func Tokens(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < 2 {
			continue
		}
		if _, stop := stopWords[lower]; stop {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

// TokenSet returns the distinct tokens of text, used for title similarity.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(text) {
		set[tok] = struct{}{}
	}
	return set
}
