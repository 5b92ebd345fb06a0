package chunking

import (
	"regexp"
	"strings"
)

// sentenceBoundaryPattern matches a sentence terminator (.!?) followed by
// whitespace or end of string.
var sentenceBoundaryPattern = regexp.MustCompile(`[^.!?]*[.!?]+(\s+|$)`)

// splitSentences splits text at sentence boundaries. Any trailing text with
// no terminator is kept as a final sentence.
func splitSentences(text string) []string {
	var sentences []string
	consumed := 0
	for _, loc := range sentenceBoundaryPattern.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[consumed:loc[1]])
		consumed = loc[1]
	}
	if consumed < len(text) {
		rest := text[consumed:]
		if strings.TrimSpace(rest) != "" {
			sentences = append(sentences, rest)
		}
	}
	return sentences
}

// greedyPack packs units into packs whose token count stays at or under
// maxTokens. A single unit exceeding maxTokens on its own is emitted as
// its own pack (the oversized-unit escape hatch at every packing level).
func greedyPack(units []string, maxTokens int) []string {
	var packs []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			packs = append(packs, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, unit := range units {
		trimmed := strings.TrimSpace(unit)
		if trimmed == "" {
			continue
		}
		unitTokens := countTokens(unit)

		if unitTokens > maxTokens {
			flush()
			packs = append(packs, unit)
			continue
		}

		if currentTokens+unitTokens > maxTokens && current.Len() > 0 {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(unit)
		currentTokens += unitTokens
	}
	flush()

	return packs
}
