package rerank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/config"
)

func testConfig() config.CrossEncoderConfig {
	cfg := config.DefaultConfig().CrossEncoder
	cfg.SkipRerankForSimpleQueries = false
	return cfg
}

func TestRerankDisabledReturnsUnchanged(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	r := New(cfg, nil)

	candidates := []Candidate{{ID: "a"}, {ID: "b"}}
	out, err := r.Rerank(context.Background(), "some longer query here", candidates, false)
	require.NoError(t, err)
	assert.Equal(t, candidates, out)
}

func TestRerankSkipsSimpleQueries(t *testing.T) {
	cfg := testConfig()
	cfg.SkipRerankForSimpleQueries = true
	cfg.SimpleQueryMaxWords = 3
	r := New(cfg, nil)

	candidates := []Candidate{{ID: "a"}, {ID: "b"}}
	out, err := r.Rerank(context.Background(), "two words", candidates, false)
	require.NoError(t, err)
	assert.Equal(t, candidates, out)
}

func TestRerankFallsBackWithoutGateway(t *testing.T) {
	cfg := testConfig()
	cfg.MaxParallel = 2
	r := New(cfg, nil)

	candidates := []Candidate{
		{ID: "a", Components: map[string]float64{"vector": 0.2, "bm25": 0.1, "metadata": 0.0, "recency": 0.0}},
		{ID: "b", Components: map[string]float64{"vector": 0.9, "bm25": 0.8, "metadata": 1.0, "recency": 1.0}},
	}

	out, err := r.Rerank(context.Background(), "a proper multi word query", candidates, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "a", out[1].ID)
}

func TestRerankAppendsRemainderBeyondMaxCandidates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCandidates = 1
	r := New(cfg, nil)

	candidates := []Candidate{
		{ID: "a", Components: map[string]float64{}},
		{ID: "b", Components: map[string]float64{}},
		{ID: "c", Components: map[string]float64{}},
	}
	out, err := r.Rerank(context.Background(), "a proper multi word query", candidates, false)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "c", out[2].ID)
}

func TestFallbackScoreWeights(t *testing.T) {
	score := fallbackScore(map[string]float64{"vector": 1.0, "bm25": 1.0, "metadata": 1.0, "recency": 1.0})
	assert.InDelta(t, 1.0, score, 1e-9)

	score = fallbackScore(map[string]float64{"vector": 1.0, "bm25": 0, "metadata": 0, "recency": 0})
	assert.InDelta(t, 0.4, score, 1e-9)
}

func TestParseRelevanceScore(t *testing.T) {
	assert.InDelta(t, 0.75, parseRelevanceScore("0.75"), 1e-9)
	assert.InDelta(t, 0.75, parseRelevanceScore("0.75 because it matches closely"), 1e-9)
	assert.Equal(t, 0.0, parseRelevanceScore("not a number"))
	assert.Equal(t, 0.0, parseRelevanceScore("1.5"))
	assert.Equal(t, 0.0, parseRelevanceScore(""))
}

func TestKeywordSignatureOrdering(t *testing.T) {
	sig := keywordSignature("What happened during the deployment timeline review")
	assert.Equal(t, "deployment+happened+timeline", sig)
}

func TestKeywordSignatureDropsStopWords(t *testing.T) {
	sig := keywordSignature("の payments は")
	assert.Equal(t, "payments", sig)
}

func TestConfidenceBand(t *testing.T) {
	l := newLadder(0.80)

	_, ok := l.confidenceBand(0.5)
	assert.False(t, ok)

	b, ok := l.confidenceBand(0.65)
	require.True(t, ok)
	assert.InDelta(t, 0.85, b.multiplier, 1e-9)

	b, ok = l.confidenceBand(0.85)
	require.True(t, ok)
	assert.InDelta(t, 0.95, b.multiplier, 1e-9)
}

func TestScoreCacheTTLExpiry(t *testing.T) {
	c := newScoreCache(10, 10*time.Millisecond)
	c.set("k", 0.42)

	v, ok := c.get("k")
	require.True(t, ok)
	assert.InDelta(t, 0.42, v, 1e-9)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.get("k")
	assert.False(t, ok)
}

func TestScoreCacheEvictsOldest(t *testing.T) {
	c := newScoreCache(2, time.Hour)
	c.set("a", 1)
	c.set("b", 2)
	c.set("c", 3)

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestL3CacheLookupMissWithoutPriorObservation(t *testing.T) {
	l3 := newL3Cache(10, 0.80)
	_, ok := l3.lookup("cand-1", []float32{1, 0, 0})
	assert.False(t, ok)
}

func TestL3CacheLookupHitsOnSimilarEmbedding(t *testing.T) {
	l3 := newL3Cache(10, 0.80)
	l3.record("cand-1", []float32{1, 0, 0}, 0.8)

	score, ok := l3.lookup("cand-1", []float32{1, 0, 0})
	require.True(t, ok)
	assert.InDelta(t, 0.95, score, 1e-6)
}

func TestL3CacheBoundsEntriesPerCandidate(t *testing.T) {
	l3 := newL3Cache(10, 0.80)
	for i := 0; i < 20; i++ {
		l3.record("cand-1", []float32{float32(i), 0, 0}, 0.5)
	}
	assert.Len(t, l3.byCandidate["cand-1"], l3EntriesPerCandidate)
}

func TestL3CacheEvictsOldestCandidate(t *testing.T) {
	l3 := newL3Cache(1, 0.80)
	l3.record("cand-1", []float32{1, 0}, 0.5)
	l3.record("cand-2", []float32{0, 1}, 0.5)

	assert.NotContains(t, l3.byCandidate, "cand-1")
	assert.Contains(t, l3.byCandidate, "cand-2")
}

func TestCosineSimilarityIdentical(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestL3CacheSeedIsHitOnSimilarQuery(t *testing.T) {
	l3 := newL3Cache(10, 0.80)
	l3.seed("cand-1", []float32{1, 0, 0})

	score, ok := l3.lookup("cand-1", []float32{1, 0, 0})
	require.True(t, ok)
	assert.InDelta(t, 0.95, score, 1e-6, "seed's 0.0 sentinel score must never surface; lookup always rebands on embedding similarity")
}

func TestWarmSemanticCacheFromPoolSeedsEachCandidate(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, nil)

	n := r.WarmSemanticCacheFromPool(map[string][]float32{
		"cand-1": {1, 0, 0},
		"cand-2": {0, 1, 0},
	})
	assert.Equal(t, 2, n)

	score, ok := r.l3.lookup("cand-1", []float32{1, 0, 0})
	require.True(t, ok)
	assert.InDelta(t, 0.95, score, 1e-6)
}

func TestWarmSemanticCacheFromPoolSkipsEmptyVectors(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, nil)

	n := r.WarmSemanticCacheFromPool(map[string][]float32{
		"cand-1": nil,
		"cand-2": {},
	})
	assert.Equal(t, 0, n)
}

func TestMetricsTotalCacheHitRateExcludesLLMCalls(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, nil)

	r.l1.set("k1", 0.5)
	r.l1.get("k1")
	r.l1.get("k1")
	r.l1.get("missing")
	r.metrics.recordLLM(time.Millisecond, true)

	m := r.Metrics()
	// pairs_scored = l1Hits(2) + l1Misses(1) = 3, llm_calls = 1.
	assert.InDelta(t, 1-1.0/3.0, m.TotalCacheHitRate, 1e-9)
}
