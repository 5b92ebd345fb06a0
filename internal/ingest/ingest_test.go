package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/chunking"
	"memoryvault/internal/config"
	"memoryvault/internal/indexer"
	"memoryvault/internal/lexical"
	"memoryvault/internal/queryattrs"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

func newTestPipeline(t *testing.T) (*Pipeline, *vectorstore.HNSWStore) {
	t.Helper()
	dir := t.TempDir()

	vectors, err := vectorstore.Open(dir, filepath.Join(dir, "vectors.hnsw"), filepath.Join(dir, "meta.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	lex, err := lexical.Open(filepath.Join(dir, "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lex.Close() })

	cfg := config.DefaultConfig()
	ix := indexer.New(vectors, lex, nil)
	chunker := chunking.New(cfg.Chunking)
	extractor := queryattrs.New(nil, 0.4)

	p := New(nil, extractor, chunker, ix, vectors, cfg.Gateway)
	return p, vectors
}

func validConversation() Conversation {
	return Conversation{
		User:      "how do I roll back the deploy",
		Assistant: "run `deploy rollback <version>` to revert to the previous release",
		Timestamp: time.Now(),
		Source:    "session",
		ProjectID: "acme",
	}
}

func TestValidateRequiresAllFields(t *testing.T) {
	base := validConversation()
	assert.NoError(t, base.Validate())

	noUser := base
	noUser.User = ""
	assert.Error(t, noUser.Validate())

	noAssistant := base
	noAssistant.Assistant = ""
	assert.Error(t, noAssistant.Validate())

	noTimestamp := base
	noTimestamp.Timestamp = time.Time{}
	assert.Error(t, noTimestamp.Validate())

	noSource := base
	noSource.Source = ""
	assert.Error(t, noSource.Validate())
}

func TestIngestWithNilGatewayUsesFallbackSummaryAndProcessSchema(t *testing.T) {
	ctx := context.Background()
	p, vectors := newTestPipeline(t)

	id, err := p.Ingest(ctx, validConversation())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	mem := types.Memory{ID: id}
	entry, found, err := vectors.Get(ctx, mem.MetadataEntryID())
	require.NoError(t, err)
	require.True(t, found, "metadata entry should be written even with a nil gateway")
	assert.Equal(t, string(types.SchemaProcess), entry.Metadata["schema_type"])
	assert.Equal(t, "working", entry.Metadata["tier"])
	assert.Equal(t, "acme", entry.Metadata["project_id"])
}

func TestIngestRejectsInvalidConversation(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)

	bad := validConversation()
	bad.Source = ""

	_, err := p.Ingest(ctx, bad)
	assert.Error(t, err)
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)

	good := validConversation()
	bad := validConversation()
	bad.User = ""

	ids := p.IngestBatch(ctx, []Conversation{good, bad, good})
	assert.Len(t, ids, 2)
}

func TestFallbackSummaryUsesMetadataAndFirstAssistantLine(t *testing.T) {
	conv := validConversation()
	conv.Metadata = map[string]any{"topic": "deploys", "doc_type": "runbook"}
	conv.Assistant = "first line\nsecond line"

	p, _ := newTestPipeline(t)
	summary := p.fallbackSummary(conv)

	assert.Contains(t, summary, "Topic: deploys")
	assert.Contains(t, summary, "DocType: runbook")
	assert.Contains(t, summary, "Project: acme")
	assert.Contains(t, summary, "first line")
	assert.NotContains(t, summary, "second line")
}

func TestMergeAttrsDoesNotOverwriteCallerFields(t *testing.T) {
	metadata := map[string]any{"topic": "caller-topic"}
	attrs := types.QueryAttributes{Topic: "extracted-topic", DocType: "snippet", Severity: "high"}

	merged := mergeAttrs(metadata, attrs)

	assert.Equal(t, "caller-topic", merged["topic"])
	assert.Equal(t, "snippet", merged["doc_type"])
	assert.Equal(t, "high", merged["severity"])
}

func TestMergeAttrsLeavesEmptyAttrsUnset(t *testing.T) {
	merged := mergeAttrs(nil, types.QueryAttributes{})
	_, ok := merged["topic"]
	assert.False(t, ok)
}

func TestSanitizeDropsNestedAndNilValues(t *testing.T) {
	metadata := map[string]any{
		"topic":  "deploys",
		"count":  3,
		"nested": map[string]any{"a": 1},
		"list":   []string{"a", "b"},
		"empty":  nil,
	}
	out := sanitize(metadata)

	assert.Equal(t, "deploys", out["topic"])
	assert.Equal(t, 3, out["count"])
	_, hasNested := out["nested"]
	_, hasList := out["list"]
	_, hasEmpty := out["empty"]
	assert.False(t, hasNested)
	assert.False(t, hasList)
	assert.False(t, hasEmpty)
}
