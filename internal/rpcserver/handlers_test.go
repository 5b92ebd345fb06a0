package rpcserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/chunking"
	"memoryvault/internal/config"
	"memoryvault/internal/consolidation"
	"memoryvault/internal/indexer"
	"memoryvault/internal/ingest"
	"memoryvault/internal/lexical"
	"memoryvault/internal/projectstore"
	"memoryvault/internal/queryattrs"
	"memoryvault/internal/rerank"
	"memoryvault/internal/search"
	"memoryvault/internal/session"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return f.vec, nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	vectors, err := vectorstore.Open(dir, filepath.Join(dir, "vectors.hnsw"), filepath.Join(dir, "meta.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	lex, err := lexical.Open(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	cfg := config.DefaultConfig()
	cfg.CrossEncoder.Enabled = false

	ix := indexer.New(vectors, lex, nil)
	extractor := queryattrs.New(nil, 0.4)
	reranker := rerank.New(cfg.CrossEncoder, nil)
	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}}
	orchestrator := search.New(vectors, lex, embedder, extractor, reranker, cfg.Search)

	chunker := chunking.New(cfg.Chunking)
	pipeline := ingest.New(nil, extractor, chunker, ix, vectors, cfg.Gateway)

	sessions := session.New(nil, nil)
	consolidationEngine := consolidation.New(vectors, ix, cfg.Consolidation, cfg.WorkingMemory)

	projects, err := projectstore.Open(dir)
	require.NoError(t, err)

	return NewEngine(pipeline, orchestrator, sessions, consolidationEngine, projects, reranker, vectors)
}

func call(t *testing.T, e *Engine, fn handlerFunc, params any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return fn(context.Background(), raw)
}

func TestIngestConversationThenGetMemory(t *testing.T) {
	e := newTestEngine(t)

	res, err := call(t, e, e.ingestConversation, map[string]any{
		"conversation": map[string]any{
			"user":       "how do I deploy",
			"assistant":  "run the deploy script",
			"timestamp":  time.Now().Format(time.RFC3339),
			"source":     "session",
			"project_id": "acme",
		},
	})
	require.NoError(t, err)
	memoryID := res.(map[string]any)["memory_id"].(string)
	assert.NotEmpty(t, memoryID)

	got, err := call(t, e, e.getMemory, map[string]any{"memory_id": memoryID})
	require.NoError(t, err)
	body := got.(map[string]any)
	assert.Equal(t, memoryID, body["memory_id"])
	assert.NotEmpty(t, body["chunks"])
}

func TestGetMemoryNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := call(t, e, e.getMemory, map[string]any{"memory_id": "missing"})
	assert.Error(t, err)
}

func TestSearchMemoryMergesSessionProjectHintAboveConfidenceFloor(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.vectors.Add(ctx, "m1-chunk-0", []float32{1, 0, 0},
		map[string]any{"memory_id": "m1", "strength": 0.8, "created_at": time.Now().Format(time.RFC3339Nano), "tier": "working", "project_id": "acme"}, "deploy runbook"))

	e.sessions.StartSession("s1")
	require.NoError(t, e.sessions.SetProjectHint("s1", types.ProjectHint{ProjectID: "acme", Confidence: 0.9, Source: "manual_rpc"}))

	res, err := call(t, e, e.searchMemory, map[string]any{"query": "deploy", "session_id": "s1"})
	require.NoError(t, err)
	body := res.(map[string]any)
	assert.Equal(t, 1, body["count"])
}

func TestSearchMemoryRejectsEmptyQuery(t *testing.T) {
	e := newTestEngine(t)
	_, err := call(t, e, e.searchMemory, map[string]any{"query": ""})
	assert.Error(t, err)
}

func TestConsolidateMemoriesReturnsStats(t *testing.T) {
	e := newTestEngine(t)
	res, err := call(t, e, e.consolidateMemories, map[string]any{})
	require.NoError(t, err)
	stats, ok := res.(consolidation.Stats)
	require.True(t, ok)
	assert.Equal(t, 0, stats.Migrated)
}

func TestSessionLifecycleAndProjectHint(t *testing.T) {
	e := newTestEngine(t)

	_, err := call(t, e, e.startSession, map[string]any{"session_id": "s1"})
	require.NoError(t, err)

	_, err = call(t, e, e.addCommand, map[string]any{"session_id": "s1", "command": "ls"})
	require.NoError(t, err)

	res, err := call(t, e, e.sessionSetProject, map[string]any{"session_id": "s1", "project_id": "acme", "confidence": 0.8})
	require.NoError(t, err)
	assert.Equal(t, "acme", res.(map[string]any)["project_id"])

	res, err = call(t, e, e.sessionGetHint, map[string]any{"session_id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "acme", res.(map[string]any)["project_id"])

	_, err = call(t, e, e.sessionClearProject, map[string]any{"session_id": "s1"})
	require.NoError(t, err)

	res, err = call(t, e, e.sessionGetHint, map[string]any{"session_id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "", res.(map[string]any)["project_id"])
}

func TestProjectCRUDViaHandlers(t *testing.T) {
	e := newTestEngine(t)

	res, err := call(t, e, e.createProject, map[string]any{"id": "p1", "name": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", res.(*types.Project).Name)

	listRes, err := call(t, e, e.listProjects, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1, listRes.(map[string]any)["count"])

	_, err = call(t, e, e.deleteProject, map[string]any{"project_id": "p1"})
	require.NoError(t, err)

	_, err = call(t, e, e.getProject, map[string]any{"project_id": "p1"})
	assert.Error(t, err)
}

func TestBookmarkCreateAndUse(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.vectors.Add(ctx, "m1-chunk-0", []float32{1, 0, 0},
		map[string]any{"memory_id": "m1", "strength": 0.8, "created_at": time.Now().Format(time.RFC3339Nano), "tier": "working"}, "deploy runbook"))

	_, err := call(t, e, e.createBookmark, map[string]any{"id": "b1", "name": "deploys", "query": "deploy"})
	require.NoError(t, err)

	res, err := call(t, e, e.useBookmark, map[string]any{"bookmark_id": "b1"})
	require.NoError(t, err)
	body := res.(map[string]any)
	assert.Equal(t, 1, body["count"])
}

func TestGetRerankerMetricsReturnsSnapshot(t *testing.T) {
	e := newTestEngine(t)
	res, err := call(t, e, e.getRerankerMetrics, map[string]any{})
	require.NoError(t, err)
	_, ok := res.(rerank.Metrics)
	assert.True(t, ok)
}
