// Package projectpool implements the project memory pool: a
// TTL-cached, size-bounded set of a project's most recent memory ids, used
// to warm the search and rerank caches before the user's first query
// against that project lands (the session coordinator's prefetch trigger).
package projectpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"memoryvault/internal/logging"
	"memoryvault/internal/rerank"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

const defaultPoolSize = 100

type entry struct {
	memoryIDs []string
	loadedAt  time.Time
}

// Pool is the project memory pool.
type Pool struct {
	mu       sync.Mutex
	cache    map[string]entry
	vectors  *vectorstore.HNSWStore
	reranker *rerank.Reranker
	size     int
	ttl      time.Duration
	logger   *logging.EnhancedLogger
}

// New creates a Pool. reranker may be nil, in which case WarmCache only
// loads the id set and skips semantic-cache warming.
func New(vectors *vectorstore.HNSWStore, reranker *rerank.Reranker, size int, ttl time.Duration) *Pool {
	if size <= 0 {
		size = defaultPoolSize
	}
	return &Pool{
		cache:    make(map[string]entry),
		vectors:  vectors,
		reranker: reranker,
		size:     size,
		ttl:      ttl,
		logger:   logging.GetComponentLogger("projectpool"),
	}
}

// LoadProject returns the project's memory ids, using the cached set if it
// is still within TTL, otherwise querying the vector store's metadata
// entries for the project and caching the result.
func (p *Pool) LoadProject(ctx context.Context, projectID string) ([]string, error) {
	if cached, ok := p.cached(projectID); ok {
		return cached, nil
	}
	return p.load(ctx, projectID)
}

func (p *Pool) cached(projectID string) ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.cache[projectID]
	if !ok {
		return nil, false
	}
	if p.ttl > 0 && time.Since(e.loadedAt) > p.ttl {
		delete(p.cache, projectID)
		return nil, false
	}
	return append([]string(nil), e.memoryIDs...), true
}

func (p *Pool) load(ctx context.Context, projectID string) ([]string, error) {
	entries, err := p.vectors.ListByMetadata(ctx, vectorstore.Filter{
		"project_id":      projectID,
		"is_memory_entry": true,
	}, false, false)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return createdAt(entries[i]).After(createdAt(entries[j]))
	})
	if len(entries) > p.size {
		entries = entries[:p.size]
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	p.mu.Lock()
	p.cache[projectID] = entry{memoryIDs: ids, loadedAt: time.Now()}
	p.mu.Unlock()

	return ids, nil
}

func createdAt(e types.IndexedEntry) time.Time {
	switch v := e.Metadata["created_at"].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// GetMemoryIDs is an alias for LoadProject with cache-first semantics,
// matching the external interface's get_memory_ids operation name.
func (p *Pool) GetMemoryIDs(ctx context.Context, projectID string) ([]string, error) {
	return p.LoadProject(ctx, projectID)
}

// WarmCache loads the project's pool and, if a reranker is configured,
// primes its L3 semantic cache with each pooled memory's own embedding, so
// a subsequent real query that resembles one of this project's memories
// can hit L3 instead of paying for an LLM call. Each metadata entry already
// carries the embedding computed when it was indexed, so no fresh call to
// the LLM gateway is needed here.
func (p *Pool) WarmCache(ctx context.Context, projectID string) error {
	ids, err := p.LoadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.reranker == nil || len(ids) == 0 {
		return nil
	}

	embeddings := make(map[string][]float32, len(ids))
	for _, id := range ids {
		e, found, err := p.vectors.Get(ctx, id)
		if err != nil || !found || len(e.Embedding) == 0 {
			continue
		}
		embeddings[id] = e.Embedding
	}
	p.reranker.WarmSemanticCacheFromPool(embeddings)
	return nil
}

// ClearPool evicts the cached id set for a single project.
func (p *Pool) ClearPool(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, projectID)
}

// ClearAllPools evicts every cached project.
func (p *Pool) ClearAllPools() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]entry)
}
