package chunking

import (
	"fmt"
	"regexp"
	"strings"
)

// fencedCodeBlockPattern matches ``` ... ``` fences, including an optional
// language tag on the opening fence. Code blocks are atomic: the chunker
// never splits inside one.
var fencedCodeBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n?.*?```")

const codeBlockPlaceholderFormat = "\x00CODEBLOCK%d\x00"

// extractCodeBlocks replaces fenced code blocks with placeholder tokens,
// returning the placeholder text and the blocks to restore later, in order.
func extractCodeBlocks(markdown string) (string, []string) {
	var blocks []string
	replaced := fencedCodeBlockPattern.ReplaceAllStringFunc(markdown, func(block string) string {
		placeholder := fmt.Sprintf(codeBlockPlaceholderFormat, len(blocks))
		blocks = append(blocks, block)
		return placeholder
	})
	return replaced, blocks
}

// restoreCodeBlocks substitutes placeholder tokens back with their
// original fenced code block text.
func restoreCodeBlocks(text string, blocks []string) string {
	for i, block := range blocks {
		placeholder := fmt.Sprintf(codeBlockPlaceholderFormat, i)
		text = strings.ReplaceAll(text, placeholder, block)
	}
	return text
}
