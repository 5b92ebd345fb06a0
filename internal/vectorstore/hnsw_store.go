package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"memoryvault/internal/memerr"
	"memoryvault/pkg/types"
)

// HNSWStore is the default Store implementation: a coder/hnsw ANN graph
// for similarity search, backed by a sqlite side table for document and
// metadata persistence. A graph that fails to load surfaces as
// memerr.Corruption; metadata store failures surface as memerr.Io.
type HNSWStore struct {
	mu       sync.RWMutex
	graphDir string
	meta     *metadataStore
	index    *ann
	dim      int

	ops    sync.Map // string -> *int64
	errors sync.Map // string -> *int64
}

// Open creates or resumes an HNSWStore rooted at dataDir. dim is the
// embedding dimensionality used for validation and lazily inferred from
// the first Add if zero.
func Open(dataDir string, graphPath, metadataDBPath string, dim int) (*HNSWStore, error) {
	idx, err := loadANN(graphPath)
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, "load vector graph", err)
	}
	if idx == nil {
		idx = newANN(dim)
	}

	meta, err := openMetadataStore(metadataDBPath)
	if err != nil {
		return nil, memerr.Wrap(memerr.Io, "open metadata store", err)
	}

	return &HNSWStore{
		graphDir: graphPath,
		meta:     meta,
		index:    idx,
		dim:      dim,
	}, nil
}

func (s *HNSWStore) bump(counters *sync.Map, key string) {
	v, _ := counters.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// Add upserts an entry. An entry with an empty embedding is stored for Get
// and ListByMetadata but kept out of the ANN graph, so Search never
// returns it.
func (s *HNSWStore) Add(ctx context.Context, id string, embedding []float32, metadata map[string]any, document string) error {
	s.bump(&s.ops, "add")
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(embedding) > 0 {
		if s.dim == 0 {
			s.dim = len(embedding)
			s.index.dim = s.dim
		}
		if err := s.index.add(id, embedding); err != nil {
			s.bump(&s.errors, "add")
			return memerr.Wrap(memerr.Validation, "add vector", err)
		}
	} else {
		s.index.delete(id)
	}
	entry := types.IndexedEntry{ID: id, Embedding: embedding, Metadata: metadata, Document: document}
	if err := s.meta.put(ctx, entry); err != nil {
		s.bump(&s.errors, "add")
		return memerr.Wrap(memerr.Io, "persist entry metadata", err)
	}
	return nil
}

func (s *HNSWStore) BatchAdd(ctx context.Context, entries []types.IndexedEntry) error {
	for _, e := range entries {
		if err := s.Add(ctx, e.ID, e.Embedding, e.Metadata, e.Document); err != nil {
			return err
		}
	}
	return nil
}

func (s *HNSWStore) Search(ctx context.Context, queryEmbedding []float32, topK int, filter Filter) ([]SearchResult, error) {
	s.bump(&s.ops, "search")
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(queryEmbedding) != s.dim {
		return nil, memerr.New(memerr.Validation, fmt.Sprintf("query embedding dimension mismatch: expected %d, got %d", s.dim, len(queryEmbedding)))
	}

	// Oversample when a filter is present since ANN search happens before
	// filtering; the caller's topK is a post-filter guarantee attempt, not
	// a hard one (documents matching the filter may be scarce).
	k := topK
	if len(filter) > 0 {
		k = topK * 4
		if k < 50 {
			k = 50
		}
	}

	hits := s.index.search(queryEmbedding, k)
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		entry, ok, err := s.meta.get(ctx, h.ID)
		if err != nil {
			s.bump(&s.errors, "search")
			return nil, memerr.Wrap(memerr.Io, "load entry metadata", err)
		}
		if !ok {
			continue
		}
		if len(filter) > 0 && !matchesFilter(entry.Metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:         entry.ID,
			Content:    entry.Document,
			Metadata:   entry.Metadata,
			Similarity: h.Score,
		})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

func (s *HNSWStore) Get(ctx context.Context, id string) (*types.IndexedEntry, bool, error) {
	s.bump(&s.ops, "get")
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok, err := s.meta.get(ctx, id)
	if err != nil {
		s.bump(&s.errors, "get")
		return nil, false, memerr.Wrap(memerr.Io, "get entry", err)
	}
	return entry, ok, nil
}

func (s *HNSWStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	s.bump(&s.ops, "update_metadata")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.meta.updateMetadata(ctx, id, metadata); err != nil {
		s.bump(&s.errors, "update_metadata")
		return memerr.Wrap(memerr.Io, "update entry metadata", err)
	}
	return nil
}

func (s *HNSWStore) Delete(ctx context.Context, id string) error {
	s.bump(&s.ops, "delete")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.delete(id)
	if err := s.meta.delete(ctx, id); err != nil {
		s.bump(&s.errors, "delete")
		return memerr.Wrap(memerr.Io, "delete entry", err)
	}
	return nil
}

func (s *HNSWStore) BatchDelete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *HNSWStore) ListByMetadata(ctx context.Context, filter Filter, includeDocs, includeEmbeddings bool) ([]types.IndexedEntry, error) {
	s.bump(&s.ops, "list_by_metadata")
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.meta.all(ctx)
	if err != nil {
		s.bump(&s.errors, "list_by_metadata")
		return nil, memerr.Wrap(memerr.Io, "list entries", err)
	}

	out := make([]types.IndexedEntry, 0, len(all))
	for _, e := range all {
		if !matchesFilter(e.Metadata, filter) {
			continue
		}
		if !includeDocs {
			e.Document = ""
		}
		if !includeEmbeddings {
			e.Embedding = nil
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *HNSWStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.meta.count(ctx)
	if err != nil {
		return 0, memerr.Wrap(memerr.Io, "count entries", err)
	}
	return n, nil
}

func (s *HNSWStore) Stats() Stats {
	ops := make(map[string]int64)
	s.ops.Range(func(k, v any) bool {
		ops[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	errs := make(map[string]int64)
	s.errors.Range(func(k, v any) bool {
		errs[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return Stats{OperationCounts: ops, ErrorCounts: errs, EntryCount: s.index.count()}
}

func (s *HNSWStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.index.save(s.graphDir); err != nil {
		return memerr.Wrap(memerr.Io, "save vector graph", err)
	}
	return nil
}

func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.close()
}

var _ Store = (*HNSWStore)(nil)
