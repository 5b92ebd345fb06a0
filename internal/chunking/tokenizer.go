package chunking

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenizer is the fixed tokenizer the chunker and indexer both use for
// token counting; switching it is a data-layout change, never done
// casually once chunk boundaries have been persisted.
var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// countTokens returns the token count of text under the fixed tokenizer.
// Falls back to a whitespace-word approximation if the encoder can't be
// loaded, so chunking degrades gracefully rather than failing closed.
func countTokens(text string) int {
	e, err := encoding()
	if err != nil {
		return approximateTokenCount(text)
	}
	return len(e.Encode(text, nil, nil))
}

func approximateTokenCount(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if isSpace {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	return words * 13 / 10
}
