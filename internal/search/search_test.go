package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/config"
	"memoryvault/internal/lexical"
	"memoryvault/internal/queryattrs"
	"memoryvault/internal/rerank"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

type fakeEmbedder struct {
	vec []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *vectorstore.HNSWStore, *lexical.Index) {
	t.Helper()
	dir := t.TempDir()

	vectors, err := vectorstore.Open(dir, filepath.Join(dir, "vectors.hnsw"), filepath.Join(dir, "meta.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	lex, err := lexical.Open(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	extractor := queryattrs.New(nil, 0.4)

	cfg := config.DefaultConfig()
	cfg.CrossEncoder.Enabled = false
	reranker := rerank.New(cfg.CrossEncoder, nil)

	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}}

	o := New(vectors, lex, embedder, extractor, reranker, cfg.Search)
	return o, vectors, lex
}

func TestSearchRanksVectorMatchAboveLexicalOnly(t *testing.T) {
	ctx := context.Background()
	o, vectors, lex := newTestOrchestrator(t)

	now := time.Now().Format(time.RFC3339Nano)
	require.NoError(t, vectors.Add(ctx, "m1-chunk-0", []float32{1, 0, 0},
		map[string]any{"memory_id": "m1", "strength": 0.8, "created_at": now, "tier": "working"}, "deployment runbook content"))
	require.NoError(t, vectors.Add(ctx, "m2-chunk-0", []float32{0, 1, 0},
		map[string]any{"memory_id": "m2", "strength": 0.1, "created_at": now, "tier": "working"}, "unrelated content"))

	require.NoError(t, lex.AddDocument(ctx, "m1-chunk-0", "deployment runbook content"))
	require.NoError(t, lex.AddDocument(ctx, "m2-chunk-0", "unrelated content"))

	results, err := o.Search(ctx, "deployment runbook", nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].MemoryID)
}

func TestSearchPrefersMemoryEntryOverChunkInDedup(t *testing.T) {
	ctx := context.Background()
	o, vectors, _ := newTestOrchestrator(t)

	now := time.Now().Format(time.RFC3339Nano)
	require.NoError(t, vectors.Add(ctx, "m1-chunk-0", []float32{1, 0, 0},
		map[string]any{"memory_id": "m1", "strength": 0.5, "created_at": now, "tier": "working"}, "chunk text"))
	require.NoError(t, vectors.Add(ctx, "m1-metadata", []float32{1, 0, 0},
		map[string]any{"memory_id": "m1", "is_memory_entry": true, "strength": 0.5, "created_at": now, "tier": "working"}, "memory summary"))

	results, err := o.Search(ctx, "chunk text memory summary", nil, false)
	require.NoError(t, err)

	var count int
	for _, r := range results {
		if r.MemoryID == "m1" {
			count++
			assert.Equal(t, "m1-metadata", r.EntryID)
		}
	}
	assert.Equal(t, 1, count)
}

func TestMergeFilterCallerOverridesAttrs(t *testing.T) {
	attrs := types.QueryAttributes{ProjectName: "from-attrs"}
	filter := mergeFilter(map[string]any{"project_id": "from-caller"}, attrs)
	assert.Equal(t, "from-caller", filter["project_id"])
}

func TestMergeFilterUsesAttrsWhenCallerSilent(t *testing.T) {
	attrs := types.QueryAttributes{ProjectName: "from-attrs"}
	filter := mergeFilter(nil, attrs)
	assert.Equal(t, "from-attrs", filter["project_id"])
}

func TestRecencyScoreDecaysWithAge(t *testing.T) {
	fresh := recencyScore(map[string]any{
		"created_at": time.Now().Format(time.RFC3339Nano),
		"tier":       "working",
	}, 24)
	old := recencyScore(map[string]any{
		"created_at": time.Now().Add(-240 * time.Hour).Format(time.RFC3339Nano),
		"tier":       "working",
	}, 24)
	assert.Greater(t, fresh, old)
}

func TestRefsReliabilityClampedAndMonotonic(t *testing.T) {
	none := refsReliability(map[string]any{})
	some := refsReliability(map[string]any{"refs": []string{"a", "b"}})
	many := refsReliability(map[string]any{"refs": []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}})

	assert.Equal(t, 0.0, none)
	assert.Greater(t, some, none)
	assert.Greater(t, many, some)
	assert.LessOrEqual(t, many, 1.0)
}

func TestMetadataBonusAccumulates(t *testing.T) {
	attrs := types.QueryAttributes{Topic: "deployment", DocType: "runbook"}
	bonus := metadataBonus(map[string]any{"topic": "deployment", "doc_type": "runbook"}, attrs, "how do I deploy")
	assert.InDelta(t, 0.08, bonus, 1e-9)
}

func TestMetadataBonusPenalizesMismatchAndSessionSource(t *testing.T) {
	attrs := types.QueryAttributes{Topic: "deployment", ProjectName: "acme"}
	bonus := metadataBonus(map[string]any{"topic": "billing", "project_id": "other", "source": "session"}, attrs, "")
	assert.InDelta(t, -0.01-0.05-0.05, bonus, 1e-9)
}

func TestMetadataBonusRewardsIncidentCueOnHighSeverity(t *testing.T) {
	attrs := types.QueryAttributes{}
	bonus := metadataBonus(map[string]any{"severity": "high"}, attrs, "production outage, need help")
	assert.InDelta(t, 0.05, bonus, 1e-9)
}
