// Package search implements the hybrid search orchestrator: it fans a
// query out to the vector store and lexical index, rescales both scores
// onto a common rule-based blend, deduplicates candidates that resolve to
// the same memory, and hands the survivors to the cross-encoder reranker.
package search

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"memoryvault/internal/config"
	"memoryvault/internal/lexical"
	"memoryvault/internal/logging"
	"memoryvault/internal/queryattrs"
	"memoryvault/internal/rerank"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

// Result is one ranked hit returned by Search.
type Result struct {
	EntryID          string
	MemoryID         string
	Content          string
	Metadata         map[string]any
	Score            float64
	VectorSimilarity float64
	BM25Score        float64
	CrossScore       float64
}

// Embedder is the narrow slice of the LLM Gateway this package needs;
// *llmgateway.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Orchestrator runs the hybrid search pipeline.
type Orchestrator struct {
	vectors   *vectorstore.HNSWStore
	lex       *lexical.Index
	gateway   Embedder
	extractor *queryattrs.Extractor
	reranker  *rerank.Reranker
	cfg       config.SearchConfig
	logger    *logging.EnhancedLogger
}

// New creates an Orchestrator over the engine's stores, the query
// attribute extractor, and the reranker.
func New(vectors *vectorstore.HNSWStore, lex *lexical.Index, gateway Embedder,
	extractor *queryattrs.Extractor, reranker *rerank.Reranker, cfg config.SearchConfig) *Orchestrator {
	return &Orchestrator{
		vectors:   vectors,
		lex:       lex,
		gateway:   gateway,
		extractor: extractor,
		reranker:  reranker,
		cfg:       cfg,
		logger:    logging.GetComponentLogger("search"),
	}
}

// candidate accumulates the raw signals for one indexed entry during merge,
// before the rule-based rescore converts it into a Result.
type candidate struct {
	entry      types.IndexedEntry
	similarity float64
	hasVector  bool
	bm25       float64
	hasBM25    bool
}

// Search runs extraction, retrieval, scoring, dedup, and reranking.
// callerFilter is an explicit equality filter supplied by the caller (e.g.
// an already-known project_id); it always wins over attribute-derived
// filter values. prefetch is forwarded to the reranker for cache-warming
// calls that discard their own results.
func (o *Orchestrator) Search(ctx context.Context, query string, callerFilter map[string]any, prefetch bool) ([]Result, error) {
	attrs := o.extractor.Extract(ctx, query)
	filter := mergeFilter(callerFilter, attrs)

	queryEmbedding, err := o.gateway.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidateCount := o.cfg.CandidateCount
	if candidateCount <= 0 {
		candidateCount = 50
	}

	vectorHits, err := o.vectors.Search(ctx, queryEmbedding, candidateCount, vectorstore.Filter(filter))
	if err != nil {
		return nil, err
	}

	bm25Hits, err := o.lex.Search(ctx, query, candidateCount)
	if err != nil {
		return nil, err
	}

	merged := o.merge(ctx, vectorHits, bm25Hits, filter)

	results := make([]Result, 0, len(merged))
	for _, c := range merged {
		results = append(results, o.score(c, attrs, query))
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	deduped := dedupByMemory(results)

	resultCount := o.cfg.ResultCount
	if resultCount <= 0 || resultCount > len(deduped) {
		resultCount = len(deduped)
	}
	trimmed := deduped[:resultCount]

	reranked, err := o.rerank(ctx, query, trimmed, attrs, prefetch)
	if err != nil {
		return nil, err
	}
	return reranked, nil
}

// mergeFilter builds the equality filter passed to the vector store,
// preferring the caller's explicit values over attribute-derived ones.
func mergeFilter(callerFilter map[string]any, attrs types.QueryAttributes) map[string]any {
	filter := make(map[string]any, len(callerFilter)+4)
	if attrs.ProjectName != "" {
		filter["project_id"] = attrs.ProjectName
	}
	for k, v := range callerFilter {
		filter[k] = v
	}
	return filter
}

func (o *Orchestrator) merge(ctx context.Context, vectorHits []vectorstore.SearchResult, bm25Hits []lexical.Hit, filter map[string]any) map[string]*candidate {
	merged := make(map[string]*candidate, len(vectorHits)+len(bm25Hits))

	for _, v := range vectorHits {
		merged[v.ID] = &candidate{
			entry:      types.IndexedEntry{ID: v.ID, Metadata: v.Metadata, Document: v.Content},
			similarity: v.Similarity,
			hasVector:  true,
		}
	}

	for _, h := range bm25Hits {
		if c, ok := merged[h.ID]; ok {
			c.bm25 = h.Score
			c.hasBM25 = true
			continue
		}

		entry, found, err := o.vectors.Get(ctx, h.ID)
		if err != nil || !found {
			continue
		}
		if !matchesFilter(entry.Metadata, filter) {
			continue
		}
		merged[h.ID] = &candidate{entry: *entry, bm25: h.Score, hasBM25: true}
	}

	return merged
}

func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		if got, ok := metadata[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// score applies the rule-based hybrid scoring formula:
//
//	score = 0.3*strength + 0.2*recency + 0.1*refs_reliability +
//	        0.2*normalized_bm25 + 0.2*vector_similarity + metadata_bonus
func (o *Orchestrator) score(c *candidate, attrs types.QueryAttributes, query string) Result {
	metadata := c.entry.Metadata

	strength := floatField(metadata, "strength", 0.5)
	recency := recencyScore(metadata, o.cfg.RecencyHalfLifeHours)
	refsReliability := refsReliability(metadata)

	normalizedBM25 := 0.0
	if c.hasBM25 {
		normalizedBM25 = sigmoid(0.1 * c.bm25)
	}
	vectorSimilarity := 0.0
	if c.hasVector {
		vectorSimilarity = c.similarity
	}

	bonus := metadataBonus(metadata, attrs, query)

	total := clamp01(0.3*strength + 0.2*recency + 0.1*refsReliability +
		0.2*normalizedBM25 + 0.2*vectorSimilarity + bonus)

	return Result{
		EntryID:          c.entry.ID,
		MemoryID:         memoryIDOf(c.entry),
		Content:          c.entry.Document,
		Metadata:         metadata,
		Score:            total,
		VectorSimilarity: vectorSimilarity,
		BM25Score:        normalizedBM25,
	}
}

func floatField(metadata map[string]any, key string, fallback float64) float64 {
	switch v := metadata[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func recencyScore(metadata map[string]any, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		halfLifeHours = 24
	}
	created := stringField(metadata, "created_at")
	if created == "" {
		return 0
	}
	age, ok := ageHours(created)
	if !ok {
		return 0
	}

	tier := types.MemoryTier(stringField(metadata, "tier"))
	halfLife := halfLifeHours * tier.TierMultiplier()
	if halfLife <= 0 {
		return 0
	}
	return math.Exp(-math.Ln2 * age / halfLife)
}

func refsReliability(metadata map[string]any) float64 {
	n := 0
	switch v := metadata["refs"].(type) {
	case []string:
		n = len(v)
	case []any:
		n = len(v)
	}
	return clamp01(math.Log(1+float64(n)) / math.Log(11))
}

// incidentCuePattern matches the informal "something's broken" vocabulary
// the scoring formula treats as an incident cue.
var incidentCuePattern = regexp.MustCompile(`(?i)\b(incident|bug|error|crash|fail(ed|ure)?|broke|outage)\b`)

// metadataBonus applies the scoring formula's metadata_bonus terms: a
// topic match/mismatch, an incident-cue bonus for high-severity entries,
// a project match/mismatch, doc_type and severity matches, and a fixed
// penalty for session-sourced entries.
func metadataBonus(metadata map[string]any, attrs types.QueryAttributes, query string) float64 {
	bonus := 0.0

	topic := stringField(metadata, "topic")
	if attrs.Topic != "" {
		if topic == attrs.Topic {
			bonus += 0.05
		} else if topic != "" {
			bonus -= 0.01
		}
	}

	severity := stringField(metadata, "severity")
	if severity == "high" && incidentCuePattern.MatchString(query) {
		bonus += 0.05
	}

	projectID := stringField(metadata, "project_id")
	if attrs.ProjectName != "" {
		if projectID == attrs.ProjectName {
			bonus += 0.03
		} else {
			bonus -= 0.05
		}
	}

	if attrs.DocType != "" && stringField(metadata, "doc_type") == attrs.DocType {
		bonus += 0.03
	}
	if attrs.Severity != "" && severity == attrs.Severity {
		bonus += 0.02
	}
	if stringField(metadata, "source") == "session" {
		bonus -= 0.05
	}

	return bonus
}

func stringField(metadata map[string]any, key string) string {
	v, _ := metadata[key].(string)
	return v
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
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

func memoryIDOf(entry types.IndexedEntry) string {
	if id, ok := entry.Metadata["memory_id"].(string); ok && id != "" {
		return id
	}
	if types.IsMemoryMetadataID(entry.ID) {
		return strings.TrimSuffix(entry.ID, "-metadata")
	}
	return entry.ID
}

// dedupByMemory keeps one representative Result per memory_id, preferring
// the memory's own metadata entry over any of its chunks, then falls back
// to a (project_id, topic, source, created_at) fingerprint to catch
// near-duplicate memories that were never chunked from the same parent.
func dedupByMemory(results []Result) []Result {
	type group struct {
		best Result
	}
	byMemory := make(map[string]*group, len(results))
	order := make([]string, 0, len(results))

	for _, r := range results {
		g, ok := byMemory[r.MemoryID]
		if !ok {
			byMemory[r.MemoryID] = &group{best: r}
			order = append(order, r.MemoryID)
			continue
		}
		if isMemoryEntry(r) && !isMemoryEntry(g.best) {
			g.best = r
		}
	}

	seenFingerprint := make(map[string]struct{}, len(order))
	out := make([]Result, 0, len(order))
	for _, id := range order {
		r := byMemory[id].best
		fp := fingerprint(r.Metadata)
		if fp != "" {
			if _, dup := seenFingerprint[fp]; dup {
				continue
			}
			seenFingerprint[fp] = struct{}{}
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func isMemoryEntry(r Result) bool {
	if v, ok := r.Metadata["is_memory_entry"].(bool); ok && v {
		return true
	}
	return types.IsMemoryMetadataID(r.EntryID)
}

func fingerprint(metadata map[string]any) string {
	projectID := stringField(metadata, "project_id")
	topic := stringField(metadata, "topic")
	source := stringField(metadata, "source")
	createdAt := stringField(metadata, "created_at")
	if projectID == "" && topic == "" && source == "" && createdAt == "" {
		return ""
	}
	return strings.Join([]string{projectID, topic, source, createdAt}, "::")
}

func (o *Orchestrator) rerank(ctx context.Context, query string, results []Result, attrs types.QueryAttributes, prefetch bool) ([]Result, error) {
	candidates := make([]rerank.Candidate, len(results))
	for i, r := range results {
		candidates[i] = rerank.Candidate{
			ID:        r.EntryID,
			Content:   r.Content,
			ProjectID: stringField(r.Metadata, "project_id"),
			Components: map[string]float64{
				"vector":   r.VectorSimilarity,
				"bm25":     r.BM25Score,
				"metadata": clamp01(metadataBonus(r.Metadata, attrs, query) / 0.2),
				"recency":  recencyScore(r.Metadata, o.cfg.RecencyHalfLifeHours),
			},
		}
	}

	scored, err := o.reranker.Rerank(ctx, query, candidates, prefetch)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.EntryID] = r
	}

	out := make([]Result, len(scored))
	for i, c := range scored {
		r := byID[c.ID]
		r.CrossScore = c.CrossScore
		out[i] = r
	}
	return out, nil
}
