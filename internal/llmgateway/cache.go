package llmgateway

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// embeddingCache is an LRU cache with TTL eviction for embedding vectors,
// keyed by a hash of (model, text).
type embeddingCache struct {
	mu        sync.RWMutex
	entries   map[string]*list.Element
	lru       *list.List
	maxSize   int
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
}

type embeddingCacheEntry struct {
	key       string
	value     []float32
	createdAt time.Time
}

func newEmbeddingCache(maxSize int, ttl time.Duration) *embeddingCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &embeddingCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *embeddingCache) key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return fmt.Sprintf("%x", sum)
}

func (c *embeddingCache) get(model, text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(model, text)
	el, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*embeddingCacheEntry)
	if time.Since(entry.createdAt) > c.ttl {
		c.lru.Remove(el)
		delete(c.entries, k)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits++

	out := make([]float32, len(entry.value))
	copy(out, entry.value)
	return out, true
}

func (c *embeddingCache) set(model, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(model, text)
	stored := make([]float32, len(vec))
	copy(stored, vec)

	if el, ok := c.entries[k]; ok {
		el.Value.(*embeddingCacheEntry).value = stored
		el.Value.(*embeddingCacheEntry).createdAt = time.Now()
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&embeddingCacheEntry{key: k, value: stored, createdAt: time.Now()})
	c.entries[k] = el

	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*embeddingCacheEntry).key)
		c.evictions++
	}
}
