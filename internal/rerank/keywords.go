package rerank

import (
	"regexp"
	"sort"
	"strings"
)

var signatureTokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopWords covers common English and Japanese function words so the L2
// keyword signature keys on content words, not particles.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "to": {}, "in": {}, "on": {}, "for": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "and": {}, "or": {}, "with": {},
	"what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "me": {}, "my": {},
	"show": {}, "find": {}, "get": {}, "please": {}, "about": {}, "this": {}, "that": {},
	"の": {}, "は": {}, "が": {}, "を": {}, "に": {}, "へ": {}, "と": {}, "で": {}, "も": {},
	"です": {}, "ます": {}, "か": {},
}

const maxSignatureKeywords = 3

// keywordSignature picks up to maxSignatureKeywords content words from
// query, sorted by descending length then alphabetically, and joins them
// with "+". It is the L2 cache key component: queries that share their top
// keywords are treated as equivalent for rerank-cache purposes.
func keywordSignature(query string) string {
	lower := strings.ToLower(query)
	var words []string
	for _, w := range signatureTokenPattern.FindAllString(lower, -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if len([]rune(w)) < 2 {
			continue
		}
		words = append(words, w)
	}

	sort.Slice(words, func(i, j int) bool {
		li, lj := len([]rune(words[i])), len([]rune(words[j]))
		if li != lj {
			return li > lj
		}
		return words[i] < words[j]
	})

	if len(words) > maxSignatureKeywords {
		words = words[:maxSignatureKeywords]
	}
	return strings.Join(words, "+")
}
