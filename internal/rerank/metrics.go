package rerank

import (
	"sync"
	"time"
)

// Metrics is a snapshot of the reranker's observable counters, suitable
// for the get_reranker_metrics RPC method.
type Metrics struct {
	L1Hits, L1Misses  int64
	L2Hits, L2Misses  int64
	L3HitsHigh        int64
	L3HitsMed         int64
	L3HitsLow         int64
	L3Misses          int64
	TotalCacheHitRate float64

	PoolEmbeddingCount int

	LLMCalls         int64
	LLMFailures      int64
	LLMMeanLatencyMS float64
	LLMMaxLatencyMS  float64

	QueueWaitMeanMS float64
	QueueWaitMaxMS  float64
	QueueRejections int64
}

type metricsCollector struct {
	mu sync.Mutex

	llmCalls      int64
	llmFailures   int64
	llmLatencySum time.Duration
	llmLatencyMax time.Duration

	queueWaitSum    time.Duration
	queueWaitMax    time.Duration
	queueWaitCount  int64
	queueRejections int64
}

func (m *metricsCollector) recordLLM(latency time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llmCalls++
	if !ok {
		m.llmFailures++
	}
	m.llmLatencySum += latency
	if latency > m.llmLatencyMax {
		m.llmLatencyMax = latency
	}
}

func (m *metricsCollector) recordQueueWait(wait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueWaitSum += wait
	m.queueWaitCount++
	if wait > m.queueWaitMax {
		m.queueWaitMax = wait
	}
}

func (m *metricsCollector) recordQueueRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueRejections++
}

func (m *metricsCollector) snapshot() (calls, failures int64, meanLatencyMS, maxLatencyMS, meanWaitMS, maxWaitMS float64, rejections int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls, failures = m.llmCalls, m.llmFailures
	if calls > 0 {
		meanLatencyMS = float64(m.llmLatencySum.Milliseconds()) / float64(calls)
	}
	maxLatencyMS = float64(m.llmLatencyMax.Milliseconds())

	if m.queueWaitCount > 0 {
		meanWaitMS = float64(m.queueWaitSum.Milliseconds()) / float64(m.queueWaitCount)
	}
	maxWaitMS = float64(m.queueWaitMax.Milliseconds())
	rejections = m.queueRejections
	return
}
