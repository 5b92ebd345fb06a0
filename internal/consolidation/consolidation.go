// Package consolidation implements the consolidation engine: the
// background loop that migrates aging working memories to the short-term
// tier, clusters near-duplicate memories across every tier and picks a
// representative, decays strength and recomputes importance, and forgets
// memories that have become both unimportant and old.
package consolidation

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"memoryvault/internal/config"
	"memoryvault/internal/indexer"
	"memoryvault/internal/logging"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

// processConcurrency bounds how many strength/importance recomputes run
// in flight at once during the process step.
const processConcurrency = 8

// Engine runs the consolidation pipeline. Each step is failure-isolated: an error in
// one memory's processing is logged and the step continues with the rest,
// and a failing step does not block the steps after it (the engine is not
// transactional).
type Engine struct {
	vectors    *vectorstore.HNSWStore
	indexer    *indexer.Indexer
	cfg        config.ConsolidationConfig
	workingCfg config.WorkingMemoryConfig
	logger     *logging.EnhancedLogger
}

// New creates an Engine.
func New(vectors *vectorstore.HNSWStore, ix *indexer.Indexer, cfg config.ConsolidationConfig, workingCfg config.WorkingMemoryConfig) *Engine {
	return &Engine{
		vectors:    vectors,
		indexer:    ix,
		cfg:        cfg,
		workingCfg: workingCfg,
		logger:     logging.GetComponentLogger("consolidation"),
	}
}

// Stats summarizes the outcome of one Run, surfaced by consolidate_memories.
type Stats struct {
	Migrated  int `json:"migrated"`
	Clustered int `json:"clustered"`
	Processed int `json:"processed"`
	Forgotten int `json:"forgotten"`
}

// Run executes migrate, cluster, process, and forget in sequence.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	migrated, err := e.migrate(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("migration step failed")
	}
	stats.Migrated = migrated

	clustered, err := e.cluster(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("clustering step failed")
	}
	stats.Clustered = clustered

	processed, err := e.process(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("strength/importance step failed")
	}
	stats.Processed = processed

	forgotten, err := e.forget(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("forgetting step failed")
	}
	stats.Forgotten = forgotten

	return stats, nil
}

// migrate moves working-tier memories older than the retention window to
// the short_term tier and returns how many were moved.
func (e *Engine) migrate(ctx context.Context) (int, error) {
	entries, err := e.memoryEntries(ctx, string(types.TierWorking), false)
	if err != nil {
		return 0, err
	}

	cutoff := time.Duration(e.workingCfg.RetentionHours) * time.Hour
	moved := 0
	for _, entry := range entries {
		age, ok := ageOf(entry.Metadata)
		if !ok || age < cutoff {
			continue
		}
		if err := e.vectors.UpdateMetadata(ctx, entry.ID, map[string]any{"tier": string(types.TierShortTerm)}); err != nil {
			e.logger.WithError(err).Warn("migrate update failed", "entry_id", entry.ID)
			continue
		}
		moved++
	}
	return moved, nil
}

// cluster groups memory entries across every tier whose summary embeddings
// are cosine-similar above the configured threshold, then picks one
// representative per cluster and flags the rest as compressed.
func (e *Engine) cluster(ctx context.Context) (int, error) {
	entries, err := e.vectors.ListByMetadata(ctx, vectorstore.Filter{"is_memory_entry": true}, false, true)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	threshold := e.cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.9
	}

	var clusters [][]types.IndexedEntry
	for _, entry := range entries {
		placed := false
		for i, c := range clusters {
			if cosineSimilarity(entry.Embedding, c[0].Embedding) >= threshold {
				clusters[i] = append(clusters[i], entry)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []types.IndexedEntry{entry})
		}
	}

	minSize := e.cfg.MinClusterSize
	if minSize <= 0 {
		minSize = 2
	}

	clustered := 0
	for _, members := range clusters {
		if len(members) < minSize {
			continue
		}
		repIdx := representativeIndex(members)
		clusterID := "cluster-" + members[repIdx].ID
		now := time.Now().Format(time.RFC3339Nano)

		for j, m := range members {
			update := map[string]any{
				"cluster_id":   clusterID,
				"cluster_size": len(members),
			}
			if j == repIdx {
				update["is_representative"] = true
				update["is_compressed"] = false
			} else {
				update["is_representative"] = false
				update["is_compressed"] = true
				update["compressed_at"] = now
			}
			if err := e.vectors.UpdateMetadata(ctx, m.ID, update); err != nil {
				e.logger.WithError(err).Warn("cluster update failed", "entry_id", m.ID)
				continue
			}
			clustered++
		}
	}
	return clustered, nil
}

// process recomputes each memory's strength (time-decayed since last
// access) and importance score (strength, reference count, and tier
// blended). Updates run over a bounded worker pool since each entry's
// recompute is independent of the others.
func (e *Engine) process(ctx context.Context) (int, error) {
	entries, err := e.vectors.ListByMetadata(ctx, vectorstore.Filter{"is_memory_entry": true}, false, false)
	if err != nil {
		return 0, err
	}

	var processed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(processConcurrency)

	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			strength := updateMemoryStrength(entry.Metadata)
			importance := calculateImportanceScore(entry.Metadata, strength)

			if err := e.vectors.UpdateMetadata(gctx, entry.ID, map[string]any{
				"strength":   strength,
				"importance": importance,
			}); err != nil {
				e.logger.WithError(err).Warn("process update failed", "entry_id", entry.ID)
				return nil
			}
			atomic.AddInt64(&processed, 1)
			return nil
		})
	}
	err = g.Wait()
	return int(processed), err
}

// forget deletes memories whose importance has fallen below threshold and
// whose age exceeds the configured number of days, removing both the
// memory's chunks (via the indexer) and its own metadata entry.
func (e *Engine) forget(ctx context.Context) (int, error) {
	entries, err := e.vectors.ListByMetadata(ctx, vectorstore.Filter{"is_memory_entry": true}, false, false)
	if err != nil {
		return 0, err
	}

	importanceThreshold := e.cfg.ImportanceThreshold
	ageThreshold := time.Duration(e.cfg.AgeThresholdDays) * 24 * time.Hour

	forgotten := 0
	for _, entry := range entries {
		importance := floatField(entry.Metadata, "importance", 0.5)
		age, ok := ageOf(entry.Metadata)
		if !ok || importance >= importanceThreshold || age < ageThreshold {
			continue
		}

		memoryID := stringField(entry.Metadata, "memory_id")
		if memoryID == "" {
			memoryID = entry.ID
		}
		if err := e.indexer.DeleteByMemoryID(ctx, memoryID); err != nil {
			e.logger.WithError(err).Warn("forget chunk delete failed", "memory_id", memoryID)
			continue
		}
		if err := e.vectors.Delete(ctx, entry.ID); err != nil {
			e.logger.WithError(err).Warn("forget metadata delete failed", "entry_id", entry.ID)
			continue
		}
		forgotten++
	}
	return forgotten, nil
}

func (e *Engine) memoryEntries(ctx context.Context, tier string, includeEmbeddings bool) ([]types.IndexedEntry, error) {
	return e.vectors.ListByMetadata(ctx, vectorstore.Filter{"is_memory_entry": true, "tier": tier}, false, includeEmbeddings)
}

// representativeIndex picks the cluster member maximizing
// 0.5*content_length + 0.3*(1000*recency_factor) + 0.2*(1000*importance),
// where recency_factor = 1/(1+age_days).
func representativeIndex(members []types.IndexedEntry) int {
	best, bestScore := 0, math.Inf(-1)
	for i, m := range members {
		contentLen := float64(len(m.Document))
		ageDays := 0.0
		if age, ok := ageOf(m.Metadata); ok {
			ageDays = age.Hours() / 24
		}
		recencyFactor := 1.0 / (1.0 + ageDays)
		importance := floatField(m.Metadata, "importance", 0.5)

		score := 0.5*contentLen + 0.3*(1000*recencyFactor) + 0.2*(1000*importance)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// updateMemoryStrength decays strength exponentially since last access,
// with a half-life of 30 days.
func updateMemoryStrength(metadata map[string]any) float64 {
	strength := floatField(metadata, "strength", 1.0)
	lastAccessed := stringField(metadata, "last_accessed")
	if lastAccessed == "" {
		lastAccessed = stringField(metadata, "created_at")
	}
	t, err := time.Parse(time.RFC3339Nano, lastAccessed)
	if err != nil {
		return strength
	}

	ageDays := time.Since(t).Hours() / 24
	const halfLifeDays = 30.0
	decayed := strength * math.Exp(-math.Ln2*ageDays/halfLifeDays)
	return clamp01(decayed)
}

// calculateImportanceScore blends strength, reference count, and tier
// priority into a single [0,1] importance score.
func calculateImportanceScore(metadata map[string]any, strength float64) float64 {
	refsCount := 0
	switch v := metadata["refs"].(type) {
	case []string:
		refsCount = len(v)
	case []any:
		refsCount = len(v)
	}
	refsBonus := clamp01(math.Log(1+float64(refsCount)) / math.Log(11))

	tier := types.MemoryTier(stringField(metadata, "tier"))
	tierBonus := 1.0 / float64(tier.Priority()+1)

	return clamp01(0.6*strength + 0.25*refsBonus + 0.15*tierBonus)
}

func ageOf(metadata map[string]any) (time.Duration, bool) {
	created := stringField(metadata, "created_at")
	if created == "" {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return 0, false
	}
	return time.Since(t), true
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

func stringField(metadata map[string]any, key string) string {
	v, _ := metadata[key].(string)
	return v
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
