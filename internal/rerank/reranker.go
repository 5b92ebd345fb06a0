// Package rerank implements the cross-encoder reranker: an LLM-scored
// relevance pass over the top search candidates, backed by a three-tier
// cache (exact match, keyword signature, semantic similarity) so that
// repeated or merely-similar queries rarely pay for a fresh LLM call.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"memoryvault/internal/config"
	"memoryvault/internal/llmgateway"
	"memoryvault/internal/logging"
)

// Candidate is one search result awaiting (or carrying) a cross-encoder
// score. Components holds the rule-based sub-scores the orchestrator computed for it
// (vector, bm25, metadata, recency); they feed the heuristic fallback score
// used when no gateway is configured, the queue wait runs past its limit,
// or the LLM call fails.
type Candidate struct {
	ID         string
	Content    string
	ProjectID  string
	Embedding  []float32
	Components map[string]float64
	CrossScore float64
	Scored     bool
}

// Reranker runs the cross-encoder reranking pipeline.
type Reranker struct {
	cfg     config.CrossEncoderConfig
	gateway *llmgateway.Gateway
	logger  *logging.EnhancedLogger

	l1 *scoreCache
	l2 *scoreCache
	l3 *l3Cache

	sem     chan struct{}
	metrics metricsCollector
}

// New creates a Reranker. gateway may be nil; candidates are then scored
// with the heuristic fallback instead of an LLM call.
func New(cfg config.CrossEncoderConfig, gateway *llmgateway.Gateway) *Reranker {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	parallel := cfg.MaxParallel
	if parallel <= 0 {
		parallel = 1
	}
	return &Reranker{
		cfg:     cfg,
		gateway: gateway,
		logger:  logging.GetComponentLogger("rerank"),
		l1:      newScoreCache(cfg.CacheMaxEntries, ttl),
		l2:      newScoreCache(cfg.CacheMaxEntries, ttl),
		l3:      newL3Cache(cfg.CacheMaxEntries, cfg.SemanticSimilarityThreshold),
		sem:     make(chan struct{}, parallel),
	}
}

func simpleQuery(query string, maxWords int) bool {
	words := strings.Fields(query)
	return len(words) <= maxWords
}

// Rerank scores candidates[:min(len, MaxCandidates)] against query and
// returns them sorted by descending cross-encoder score, with any
// remaining candidates appended unchanged. prefetch marks a call made to
// proactively warm the caches (a session's project-hint prefetch); it runs the
// identical pipeline, just discarded by the caller.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate, prefetch bool) ([]Candidate, error) {
	if !r.cfg.Enabled || len(candidates) == 0 {
		return candidates, nil
	}
	if r.cfg.SkipRerankForSimpleQueries && simpleQuery(query, r.cfg.SimpleQueryMaxWords) {
		return candidates, nil
	}

	limit := r.cfg.MaxCandidates
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	toScore := candidates[:limit]
	remainder := candidates[limit:]

	var queryEmbedding []float32
	if r.gateway != nil {
		if emb, err := r.gateway.Embed(ctx, query); err == nil {
			queryEmbedding = emb
		} else {
			r.logger.WithError(err).Warn("query embedding failed, L3 tier disabled for this call")
		}
	}

	scored := make([]Candidate, len(toScore))
	copy(scored, toScore)

	workers := r.cfg.MaxParallel
	if workers <= 0 {
		workers = 1
	}
	if workers > len(scored) {
		workers = len(scored)
	}

	// r.sem bounds total in-flight LLM calls across every concurrent
	// Rerank call on this Reranker; the errgroup below only bounds this
	// call's own goroutine fan-out and propagates the first error/ctx
	// cancellation.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range scored {
		i := i
		g.Go(func() error {
			submittedAt := time.Now()
			select {
			case r.sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			wait := time.Since(submittedAt)
			r.metrics.recordQueueWait(wait)

			score := r.scoreOne(gctx, query, queryEmbedding, &scored[i], wait)
			scored[i].CrossScore = score
			scored[i].Scored = true

			<-r.sem
			return nil
		})
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		r.logger.WithError(err).Warn("rerank worker pool interrupted")
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].CrossScore > scored[j].CrossScore
	})

	out := make([]Candidate, 0, len(candidates))
	out = append(out, scored...)
	out = append(out, remainder...)
	return out, nil
}

// scoreOne runs the full cache-chain + LLM state machine for a single
// candidate and returns its cross-encoder score.
func (r *Reranker) scoreOne(ctx context.Context, query string, queryEmbedding []float32, c *Candidate, queueWait time.Duration) float64 {
	l1Key := r.l1Key(query, c)
	if score, ok := r.l1.get(l1Key); ok {
		return score
	}

	l2Key := r.l2Key(query, c)
	if score, ok := r.l2.get(l2Key); ok {
		r.l1.set(l1Key, score)
		return score
	}

	if queryEmbedding != nil {
		if score, ok := r.l3.lookup(c.ID, queryEmbedding); ok {
			r.l1.set(l1Key, score)
			r.l2.set(l2Key, score)
			return score
		}
	}

	if r.cfg.FallbackMode == "heuristic" && r.cfg.FallbackMaxWaitMS > 0 &&
		queueWait > time.Duration(r.cfg.FallbackMaxWaitMS)*time.Millisecond {
		r.metrics.recordQueueRejection()
		return fallbackScore(c.Components)
	}

	if r.gateway == nil {
		return fallbackScore(c.Components)
	}

	score, err := r.scoreWithLLM(ctx, query, c.Content)
	if err != nil {
		r.logger.WithError(err).Warn("llm rerank scoring failed, falling back to heuristic", "candidate_id", c.ID)
		return fallbackScore(c.Components)
	}

	r.l1.set(l1Key, score)
	r.l2.set(l2Key, score)
	if queryEmbedding != nil {
		r.l3.record(c.ID, queryEmbedding, score)
	}
	return score
}

func (r *Reranker) l1Key(query string, c *Candidate) string {
	return query + "::" + c.ProjectID + "::" + c.ID
}

func (r *Reranker) l2Key(query string, c *Candidate) string {
	return keywordSignature(query) + "::" + c.ProjectID + "::" + c.ID
}

// scoreWithLLM asks the gateway for a single relevance float in [0,1]. The
// response is parsed from its first whitespace-delimited token; anything
// unparsable or out of range scores 0.0 rather than failing the call.
func (r *Reranker) scoreWithLLM(ctx context.Context, query, content string) (float64, error) {
	timeout := time.Duration(r.cfg.LLMTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Rate how relevant this passage is to the query on a scale from 0.0 to 1.0. "+
			"Respond with only the number.\n\nQuery: %s\n\nPassage: %s", query, content)

	start := time.Now()
	raw, err := r.gateway.Classify(ctx, prompt)
	latency := time.Since(start)
	r.metrics.recordLLM(latency, err == nil)
	if err != nil {
		return 0, err
	}

	return parseRelevanceScore(raw), nil
}

func parseRelevanceScore(raw string) float64 {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0.0
	}
	v, err := strconv.ParseFloat(strings.Trim(fields[0], ".,"), 64)
	if err != nil {
		return 0.0
	}
	if v < 0 || v > 1 {
		return 0.0
	}
	return v
}

// fallbackScore computes the heuristic blend used when the LLM path is
// unavailable or overloaded: 0.4 vector + 0.3 bm25 + 0.2 metadata + 0.1
// recency.
func fallbackScore(components map[string]float64) float64 {
	return clamp01(0.4*components["vector"] + 0.3*components["bm25"] + 0.2*components["metadata"] + 0.1*components["recency"])
}

// WarmSemanticCacheFromPool seeds the L3 tier with one sentinel observation
// per candidate in embeddings, so the first real query against a project
// resembling one of these candidates can hit L3 instead of paying for an
// LLM call. It does not call the LLM itself; seeded entries carry a 0.0
// score and only contribute a banded similarity estimate once a real query
// embedding is looked up against them. Returns the number of candidates
// seeded.
func (r *Reranker) WarmSemanticCacheFromPool(embeddings map[string][]float32) int {
	n := 0
	for candidateID, vec := range embeddings {
		if len(vec) == 0 {
			continue
		}
		r.l3.seed(candidateID, vec)
		n++
	}
	return n
}

// Metrics returns a snapshot of the reranker's observable counters.
func (r *Reranker) Metrics() Metrics {
	l1Hits, l1Misses := r.l1.snapshot()
	l2Hits, l2Misses := r.l2.snapshot()
	l3High, l3Med, l3Low, l3Misses := r.l3.snapshot()
	calls, failures, meanLatency, maxLatency, meanWait, maxWait, rejections := r.metrics.snapshot()

	// Every scoreOne call checks L1 exactly once, so l1Hits+l1Misses is the
	// total count of pairs run through the cache chain, matching the
	// pairs_scored denominator.
	pairsScored := l1Hits + l1Misses
	var hitRate float64
	if pairsScored > 0 {
		hitRate = 1 - float64(calls)/float64(pairsScored)
	}

	return Metrics{
		L1Hits: l1Hits, L1Misses: l1Misses,
		L2Hits: l2Hits, L2Misses: l2Misses,
		L3HitsHigh: l3High, L3HitsMed: l3Med, L3HitsLow: l3Low, L3Misses: l3Misses,
		TotalCacheHitRate:  hitRate,
		PoolEmbeddingCount: r.l3.embeddingCount(),
		LLMCalls:           calls,
		LLMFailures:        failures,
		LLMMeanLatencyMS:   meanLatency,
		LLMMaxLatencyMS:    maxLatency,
		QueueWaitMeanMS:    meanWait,
		QueueWaitMaxMS:     maxWait,
		QueueRejections:    rejections,
	}
}
