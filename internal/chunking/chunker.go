// Package chunking implements the deterministic markdown chunker: it
// splits a memory's markdown content into an ordered list of Chunks honoring
// heading, paragraph, and sentence boundaries under a token budget, never
// splitting a fenced code block.
package chunking

import (
	"strings"

	"memoryvault/internal/config"
	"memoryvault/pkg/types"
)

// Chunker splits markdown content into Chunks.
type Chunker struct {
	maxTokens int
}

// New creates a Chunker from the chunking configuration.
func New(cfg config.ChunkingConfig) *Chunker {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Chunker{maxTokens: maxTokens}
}

// Chunk splits markdown into Chunks for memoryID. parentMetadata is copied
// into every chunk's metadata alongside memory_id and chunk_index.
func (c *Chunker) Chunk(memoryID, markdown string, parentMetadata map[string]any) []types.Chunk {
	withoutCode, codeBlocks := extractCodeBlocks(markdown)
	sections := splitByHeadings(withoutCode)

	var raw []string
	for _, section := range sections {
		raw = append(raw, c.packSection(section)...)
	}

	chunks := make([]types.Chunk, 0, len(raw))
	index := 0
	for _, text := range raw {
		restored := strings.TrimSpace(restoreCodeBlocks(text, codeBlocks))
		if restored == "" {
			continue
		}

		metadata := make(map[string]any, len(parentMetadata)+2)
		for k, v := range parentMetadata {
			metadata[k] = v
		}
		metadata["memory_id"] = memoryID
		metadata["chunk_index"] = index

		chunks = append(chunks, types.Chunk{
			ID:         types.ChunkID(memoryID, index),
			MemoryID:   memoryID,
			Index:      index,
			Text:       restored,
			TokenCount: countTokens(restored),
			Metadata:   metadata,
		})
		index++
	}
	return chunks
}

// packSection packs one heading section into token-bounded chunk bodies:
// paragraph packing first, falling back to sentence packing for any
// paragraph that alone exceeds the budget.
func (c *Chunker) packSection(section string) []string {
	if countTokens(section) <= c.maxTokens {
		return []string{section}
	}

	paragraphs := splitParagraphs(section)
	packs := greedyPack(paragraphs, c.maxTokens)

	var out []string
	for _, pack := range packs {
		if countTokens(pack) <= c.maxTokens {
			out = append(out, pack)
			continue
		}
		sentences := splitSentences(pack)
		out = append(out, greedyPack(sentences, c.maxTokens)...)
	}
	return out
}

// ChunkConversation emits a single (user, assistant) turn as one chunk
// under the fixed layout when it fits the token budget; otherwise it falls
// through to the generic markdown algorithm on the rendered turn.
func (c *Chunker) ChunkConversation(memoryID, userText, assistantText string, parentMetadata map[string]any) []types.Chunk {
	rendered := "**User:**\n" + userText + "\n\n**Assistant:**\n" + assistantText

	if countTokens(rendered) <= c.maxTokens {
		metadata := make(map[string]any, len(parentMetadata)+2)
		for k, v := range parentMetadata {
			metadata[k] = v
		}
		metadata["memory_id"] = memoryID
		metadata["chunk_index"] = 0

		return []types.Chunk{{
			ID:         types.ChunkID(memoryID, 0),
			MemoryID:   memoryID,
			Index:      0,
			Text:       rendered,
			TokenCount: countTokens(rendered),
			Metadata:   metadata,
		}}
	}

	return c.Chunk(memoryID, rendered, parentMetadata)
}
