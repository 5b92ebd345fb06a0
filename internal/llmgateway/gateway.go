// Package llmgateway implements the LLM gateway: task-routed access to
// a local tier (embeddings + short generation) and a cloud tier (long
// generation + reasoning), with automatic fallback and a force-routing
// override for callers with their own policy (the ingestion pipeline's language handling).
package llmgateway

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"memoryvault/internal/logging"
	"memoryvault/internal/memerr"
	"memoryvault/internal/retry"
)

// TaskKind is the routing key for a gateway call.
type TaskKind string

const (
	TaskEmbedding     TaskKind = "embedding"
	TaskClassify      TaskKind = "classification"
	TaskShortSummary  TaskKind = "short_summary"
	TaskLongSummary   TaskKind = "long_summary"
	TaskReasoning     TaskKind = "reasoning"
	TaskConsolidation TaskKind = "consolidation"
)

// Tier is which model pool serves a call.
type Tier string

const (
	TierLocal Tier = "local"
	TierCloud Tier = "cloud"
)

// cloudRecursionGuardEnv is set in the child process environment around
// cloud calls so external tracing/recording wrappers skip re-entrant
// instrumentation of the gateway's own outbound request.
const cloudRecursionGuardEnv = "MEMORYVAULT_CLOUD_CALL_IN_PROGRESS"

// routingTable maps each task kind to its default tier. embedding,
// classification and short summaries are local; long summaries,
// reasoning and consolidation default cloud with fallback.
var routingTable = map[TaskKind]Tier{
	TaskEmbedding:     TierLocal,
	TaskClassify:      TierLocal,
	TaskShortSummary:  TierLocal,
	TaskLongSummary:   TierCloud,
	TaskReasoning:     TierCloud,
	TaskConsolidation: TierCloud,
}

// Config configures the gateway's model selection and timeouts.
type Config struct {
	APIKey             string
	EmbeddingModel     string
	LocalModel         string
	CloudModel         string
	RequestTimeout     time.Duration
	EmbeddingCacheSize int
	EmbeddingCacheTTL  time.Duration
}

// Gateway is the LLM gateway.
type Gateway struct {
	client  *openai.Client
	cfg     Config
	cache   *embeddingCache
	logger  *logging.EnhancedLogger
	retrier *retry.Retrier
}

// New creates a Gateway. Embedding and classification calls are forced
// local regardless of routing; callers needing a generation tier go
// through Generate/GenerateForLanguage.
func New(cfg Config) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Gateway{
		client:  openai.NewClient(cfg.APIKey),
		cfg:     cfg,
		cache:   newEmbeddingCache(cfg.EmbeddingCacheSize, cfg.EmbeddingCacheTTL),
		logger:  logging.GatewayLogger,
		retrier: retry.New(defaultRetryConfig()),
	}
}

// Embed generates an embedding vector for text. Always routed local.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, memerr.New(memerr.Validation, "text cannot be empty")
	}
	if cached, ok := g.cache.get(g.cfg.EmbeddingModel, text); ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var resp openai.EmbeddingResponse
	result := g.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(g.cfg.EmbeddingModel),
		})
		return err
	})
	if result.Err != nil {
		return nil, memerr.Wrap(memerr.ModelUnavailable, "create embedding", result.Err)
	}
	if len(resp.Data) == 0 {
		return nil, memerr.New(memerr.ModelUnavailable, "no embeddings returned")
	}

	vec := resp.Data[0].Embedding
	g.cache.set(g.cfg.EmbeddingModel, text, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, reusing the cache
// for texts already seen.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var uncached []string
	var uncachedIdx []int
	for i, t := range texts {
		if cached, ok := g.cache.get(g.cfg.EmbeddingModel, t); ok {
			results[i] = cached
			continue
		}
		uncached = append(uncached, t)
		uncachedIdx = append(uncachedIdx, i)
	}
	if len(uncached) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var resp openai.EmbeddingResponse
	result := g.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: uncached,
			Model: openai.EmbeddingModel(g.cfg.EmbeddingModel),
		})
		return err
	})
	if result.Err != nil {
		return nil, memerr.Wrap(memerr.ModelUnavailable, "create batch embeddings", result.Err)
	}
	if len(resp.Data) != len(uncached) {
		return nil, memerr.New(memerr.ModelUnavailable, "embedding count mismatch")
	}
	for i, d := range resp.Data {
		results[uncachedIdx[i]] = d.Embedding
		g.cache.set(g.cfg.EmbeddingModel, uncached[i], d.Embedding)
	}
	return results, nil
}

// Generate routes a text-generation call by task kind. forceRouting, when
// non-empty, overrides the routing table (the ingestion pipeline's language
// policy uses this to pin a task to a specific tier).
func (g *Gateway) Generate(ctx context.Context, task TaskKind, prompt string, forceRouting Tier, allowFallback bool) (string, error) {
	tier := routingTable[task]
	if forceRouting != "" {
		tier = forceRouting
	}

	if tier == TierCloud {
		out, err := g.callCloud(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if !allowFallback {
			return "", memerr.Wrap(memerr.ModelUnavailable, "cloud generation failed", err)
		}
		g.logger.WithError(err).Warn("cloud generation failed, falling back to local", "task", string(task))
		tier = TierLocal
	}

	return g.callLocal(ctx, prompt)
}

func (g *Gateway) callLocal(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	result := g.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.cfg.LocalModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		return err
	})
	if result.Err != nil {
		return "", memerr.Wrap(memerr.ModelUnavailable, "local generation failed", result.Err)
	}
	return firstChoice(resp)
}

func (g *Gateway) callCloud(ctx context.Context, prompt string) (string, error) {
	if err := os.Setenv(cloudRecursionGuardEnv, "1"); err != nil {
		return "", memerr.Wrap(memerr.Internal, "set cloud recursion guard", err)
	}
	defer func() { _ = os.Unsetenv(cloudRecursionGuardEnv) }()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	result := g.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.cfg.CloudModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		return err
	})
	if result.Err != nil {
		return "", memerr.Wrap(memerr.ModelUnavailable, "cloud generation failed", result.Err)
	}
	return firstChoice(resp)
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", memerr.New(memerr.ModelUnavailable, "no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// ShortSummary is a convenience wrapper for TaskShortSummary, always local.
func (g *Gateway) ShortSummary(ctx context.Context, prompt string) (string, error) {
	return g.Generate(ctx, TaskShortSummary, prompt, TierLocal, false)
}

// Classify is a convenience wrapper for TaskClassify, always local.
func (g *Gateway) Classify(ctx context.Context, prompt string) (string, error) {
	return g.Generate(ctx, TaskClassify, prompt, TierLocal, false)
}

// LongSummary routes to cloud with local fallback unless disabled.
func (g *Gateway) LongSummary(ctx context.Context, prompt string, allowFallback bool) (string, error) {
	return g.Generate(ctx, TaskLongSummary, prompt, "", allowFallback)
}

// Reason routes to cloud with local fallback unless disabled.
func (g *Gateway) Reason(ctx context.Context, prompt string, allowFallback bool) (string, error) {
	return g.Generate(ctx, TaskReasoning, prompt, "", allowFallback)
}

// Consolidate routes to cloud with local fallback unless disabled.
func (g *Gateway) Consolidate(ctx context.Context, prompt string, allowFallback bool) (string, error) {
	return g.Generate(ctx, TaskConsolidation, prompt, "", allowFallback)
}

// GenerateForLanguage forces a tier per a language routing policy, used by
// the ingestion pipeline to send a summary of a language outside the
// supported set to the cloud tier regardless of task kind.
func (g *Gateway) GenerateForLanguage(ctx context.Context, task TaskKind, prompt string, pinnedTier Tier) (string, error) {
	if pinnedTier == "" {
		return "", fmt.Errorf("pinned tier must be set")
	}
	return g.Generate(ctx, task, prompt, pinnedTier, false)
}
