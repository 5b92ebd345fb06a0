// Package indexer implements the indexer: embeds chunks and writes
// them to the vector store and lexical index, computing each chunk's
// salience weight along the way.
package indexer

import (
	"context"
	"math"

	"memoryvault/internal/lexical"
	"memoryvault/internal/llmgateway"
	"memoryvault/internal/logging"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

// Indexer wires the gateway's embedding call into the vector store and
// lexical index writes.
type Indexer struct {
	vectors *vectorstore.HNSWStore
	lex     *lexical.Index
	gateway *llmgateway.Gateway
	logger  *logging.EnhancedLogger
}

// New creates an Indexer over the given stores and gateway.
func New(vectors *vectorstore.HNSWStore, lex *lexical.Index, gateway *llmgateway.Gateway) *Indexer {
	return &Indexer{
		vectors: vectors,
		lex:     lex,
		gateway: gateway,
		logger:  logging.GetComponentLogger("indexer"),
	}
}

// IndexChunks embeds and writes each chunk to both stores. A chunk that
// fails to embed or index is logged and skipped; the rest still index.
// With no gateway configured, chunks are written without an embedding:
// they reach the lexical index and metadata lookups but not vector search.
func (ix *Indexer) IndexChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	lexicalBatch := make(map[string]string, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]

		var embedding []float32
		if ix.gateway != nil {
			emb, err := ix.gateway.Embed(ctx, chunk.Text)
			if err != nil {
				ix.logger.WithError(err).Warn("chunk embedding failed, skipping", "chunk_id", chunk.ID)
				continue
			}
			embedding = emb
		}
		chunk.Embedding = embedding
		chunk.SalienceWeight = salienceWeight(chunk.TokenCount)

		metadata := make(map[string]any, len(chunk.Metadata)+1)
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		metadata["salience_weight"] = chunk.SalienceWeight

		if err := ix.vectors.Add(ctx, chunk.ID, embedding, metadata, chunk.Text); err != nil {
			ix.logger.WithError(err).Warn("chunk vector write failed, skipping", "chunk_id", chunk.ID)
			continue
		}
		lexicalBatch[chunk.ID] = chunk.Text
	}

	if err := ix.lex.AddDocuments(ctx, lexicalBatch); err != nil {
		ix.logger.WithError(err).Warn("lexical batch write failed")
		return err
	}
	return nil
}

// DeleteByMemoryID removes every chunk entry belonging to memoryID from
// both stores, leaving the memory's own metadata entry untouched.
func (ix *Indexer) DeleteByMemoryID(ctx context.Context, memoryID string) error {
	entries, err := ix.vectors.ListByMetadata(ctx, vectorstore.Filter{"memory_id": memoryID}, false, false)
	if err != nil {
		return err
	}

	var chunkIDs []string
	for _, e := range entries {
		if types.IsMemoryMetadataID(e.ID) {
			continue
		}
		if isMemory, ok := e.Metadata["is_memory_entry"].(bool); ok && isMemory {
			continue
		}
		chunkIDs = append(chunkIDs, e.ID)
	}

	for _, id := range chunkIDs {
		if err := ix.vectors.Delete(ctx, id); err != nil {
			ix.logger.WithError(err).Warn("vector delete failed", "chunk_id", id)
		}
		if err := ix.lex.Delete(ctx, id); err != nil {
			ix.logger.WithError(err).Warn("lexical delete failed", "chunk_id", id)
		}
	}
	return nil
}

// salienceWeight implements the normalized chunk-length bonus with
// optimal range 256-384 tokens.
func salienceWeight(tokens int) float64 {
	switch {
	case tokens >= 256 && tokens <= 384:
		w := 1.0 - 0.05*(math.Abs(float64(tokens-320))/128.0)
		return clamp(w, 0.95, 1.0)
	case tokens < 256:
		w := 0.5 + 0.45*(float64(tokens)/256.0)
		return clamp(w, 0.5, 0.95)
	default:
		w := 0.95 - 0.15*math.Log(1+(float64(tokens-384))/384.0)
		return clamp(w, 0.5, 0.95)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
