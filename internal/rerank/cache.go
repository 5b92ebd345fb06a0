package rerank

import (
	"container/list"
	"math"
	"sync"
	"time"
)

// scoreCache is an LRU+TTL cache for a float64 score keyed by an opaque
// string. It backs both L1 (exact match) and L2 (keyword signature) tiers;
// only the key construction differs between them.
type scoreCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration

	hits   int64
	misses int64
}

type scoreCacheEntry struct {
	key       string
	value     float64
	createdAt time.Time
}

func newScoreCache(maxSize int, ttl time.Duration) *scoreCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &scoreCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *scoreCache) get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return 0, false
	}
	entry := el.Value.(*scoreCacheEntry)
	if time.Since(entry.createdAt) > c.ttl {
		c.lru.Remove(el)
		delete(c.entries, key)
		c.misses++
		return 0, false
	}
	c.lru.MoveToFront(el)
	c.hits++
	return entry.value, true
}

func (c *scoreCache) set(key string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*scoreCacheEntry).value = value
		el.Value.(*scoreCacheEntry).createdAt = time.Now()
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&scoreCacheEntry{key: key, value: value, createdAt: time.Now()})
	c.entries[key] = el

	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*scoreCacheEntry).key)
	}
}

func (c *scoreCache) snapshot() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// l3Entry is one historical (query embedding, score) observation recorded
// against a candidate.
type l3Entry struct {
	embedding []float32
	score     float64
	at        time.Time
}

const l3EntriesPerCandidate = 10

// l3Cache holds, per candidate, the last l3EntriesPerCandidate query
// embeddings that were scored against it. A later query reuses a banded
// estimate when it is similar enough to one of these past queries, rather
// than calling the LLM again.
type l3Cache struct {
	mu            sync.Mutex
	byCandidate   map[string][]l3Entry
	insertOrder   []string
	maxCandidates int
	ladder        ladder

	hitsHigh, hitsMed, hitsLow, misses int64
}

func newL3Cache(maxCandidates int, highThreshold float64) *l3Cache {
	if maxCandidates <= 0 {
		maxCandidates = 256
	}
	return &l3Cache{
		byCandidate:   make(map[string][]l3Entry),
		maxCandidates: maxCandidates,
		ladder:        newLadder(highThreshold),
	}
}

// lookup returns the banded score estimate for candidateID given the
// query's embedding, or ok=false if no past observation clears the lowest
// confidence band.
func (c *l3Cache) lookup(candidateID string, queryEmbedding []float32) (score float64, ok bool) {
	c.mu.Lock()
	entries := append([]l3Entry(nil), c.byCandidate[candidateID]...)
	c.mu.Unlock()

	bestSim := -1.0
	for _, e := range entries {
		sim := cosineSimilarity(queryEmbedding, e.embedding)
		if sim > bestSim {
			bestSim = sim
		}
	}

	matched, bandOK := c.ladder.confidenceBand(bestSim)
	if !bandOK {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return 0, false
	}

	c.mu.Lock()
	switch {
	case bestSim >= c.ladder.high:
		c.hitsHigh++
	case bestSim >= c.ladder.med:
		c.hitsMed++
	default:
		c.hitsLow++
	}
	c.mu.Unlock()

	return clamp01(bestSim * matched.multiplier), true
}

// record appends a fresh LLM observation for candidateID, bounding the
// per-candidate list to the last l3EntriesPerCandidate entries and
// evicting the oldest candidate overall once maxCandidates is exceeded.
func (c *l3Cache) record(candidateID string, queryEmbedding []float32, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, seen := c.byCandidate[candidateID]
	entry := l3Entry{embedding: append([]float32(nil), queryEmbedding...), score: score, at: time.Now()}
	existing = append(existing, entry)
	if len(existing) > l3EntriesPerCandidate {
		existing = existing[len(existing)-l3EntriesPerCandidate:]
	}
	c.byCandidate[candidateID] = existing

	if !seen {
		c.insertOrder = append(c.insertOrder, candidateID)
		for len(c.insertOrder) > c.maxCandidates {
			evict := c.insertOrder[0]
			c.insertOrder = c.insertOrder[1:]
			delete(c.byCandidate, evict)
		}
	}
}

// seed appends a sentinel (vector, 0.0, now) observation for candidateID,
// warming L3 from a pool embedding with no LLM-scored history. lookup never
// reads an entry's score, only its embedding, so the sentinel score never
// surfaces: a later hit is always the banded similarity estimate.
func (c *l3Cache) seed(candidateID string, embedding []float32) {
	c.record(candidateID, embedding, 0.0)
}

func (c *l3Cache) embeddingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entries := range c.byCandidate {
		n += len(entries)
	}
	return n
}

func (c *l3Cache) snapshot() (high, med, low, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitsHigh, c.hitsMed, c.hitsLow, c.misses
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
