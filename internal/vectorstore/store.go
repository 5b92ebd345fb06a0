// Package vectorstore implements the ANN vector store: similarity
// search plus metadata filtering over a collection of embedded documents.
package vectorstore

import (
	"context"

	"memoryvault/pkg/types"
)

// Filter is an equality filter over scalar metadata keys; multiple keys
// are combined with AND.
type Filter map[string]any

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	ID         string
	Content    string
	Metadata   map[string]any
	Similarity float64
}

// Stats holds cheap operational counters for diagnostics; no RPC method
// returns them.
type Stats struct {
	OperationCounts map[string]int64
	ErrorCounts     map[string]int64
	EntryCount      int
}

// Store is the vector store contract. Implementations must treat an
// absent id on Delete as a no-op and an empty collection on Search as an
// empty result, not an error.
type Store interface {
	Add(ctx context.Context, id string, embedding []float32, metadata map[string]any, document string) error
	BatchAdd(ctx context.Context, entries []types.IndexedEntry) error
	Search(ctx context.Context, queryEmbedding []float32, topK int, filter Filter) ([]SearchResult, error)
	Get(ctx context.Context, id string) (*types.IndexedEntry, bool, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	Delete(ctx context.Context, id string) error
	BatchDelete(ctx context.Context, ids []string) error
	ListByMetadata(ctx context.Context, filter Filter, includeDocs, includeEmbeddings bool) ([]types.IndexedEntry, error)
	Count(ctx context.Context) (int, error)
	Stats() Stats
	Save() error
	Close() error
}

// matchesFilter applies pure-AND equality matching over scalar metadata
// values, the reference semantics for list_by_metadata and search filters.
func matchesFilter(metadata map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok {
			return false
		}
		if !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int:
		return numEqual(float64(av), b)
	case int64:
		return numEqual(float64(av), b)
	case float64:
		return numEqual(av, b)
	case float32:
		return numEqual(float64(av), b)
	default:
		return a == b
	}
}

func numEqual(a float64, b any) bool {
	switch bv := b.(type) {
	case int:
		return a == float64(bv)
	case int64:
		return a == float64(bv)
	case float64:
		return a == bv
	case float32:
		return a == float64(bv)
	default:
		return false
	}
}
