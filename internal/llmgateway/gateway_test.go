package llmgateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutingTableDefaults(t *testing.T) {
	assert.Equal(t, TierLocal, routingTable[TaskEmbedding])
	assert.Equal(t, TierLocal, routingTable[TaskClassify])
	assert.Equal(t, TierLocal, routingTable[TaskShortSummary])
	assert.Equal(t, TierCloud, routingTable[TaskLongSummary])
	assert.Equal(t, TierCloud, routingTable[TaskReasoning])
	assert.Equal(t, TierCloud, routingTable[TaskConsolidation])
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	c := newEmbeddingCache(10, 0)
	_, ok := c.get("model-a", "hello")
	assert.False(t, ok)

	c.set("model-a", "hello", []float32{1, 2, 3})
	got, ok := c.get("model-a", "hello")
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)
}

func TestEmbeddingCacheEviction(t *testing.T) {
	c := newEmbeddingCache(2, 0)
	c.set("m", "a", []float32{1})
	c.set("m", "b", []float32{2})
	c.set("m", "c", []float32{3})

	_, ok := c.get("m", "a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.get("m", "c")
	assert.True(t, ok)
}
