// Package ingest implements the ingestion pipeline: it validates a
// conversation payload, classifies and summarizes it, builds a Working-tier
// Memory, chunks and indexes it, and writes its metadata entry.
package ingest

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"memoryvault/internal/chunking"
	"memoryvault/internal/config"
	"memoryvault/internal/indexer"
	"memoryvault/internal/llmgateway"
	"memoryvault/internal/logging"
	"memoryvault/internal/memerr"
	"memoryvault/internal/queryattrs"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

// langOverrideEnv pins the ingestion language policy regardless of what
// the classifier detects, for operators running in a single-language
// environment who'd rather not pay for a detection call every time.
const langOverrideEnv = "MEMORYVAULT_LANG_OVERRIDE"

// Conversation is the raw payload handed to ingest_conversation.
type Conversation struct {
	User      string
	Assistant string
	Timestamp time.Time
	Source    string
	ProjectID string
	Refs      []string
	Metadata  map[string]any
}

// Pipeline runs the ingestion pipeline.
type Pipeline struct {
	gateway   *llmgateway.Gateway
	extractor *queryattrs.Extractor
	chunker   *chunking.Chunker
	indexer   *indexer.Indexer
	vectors   *vectorstore.HNSWStore
	cfg       config.GatewayConfig
	logger    *logging.EnhancedLogger
}

// New creates a Pipeline. vectors is the same store ix writes chunks into;
// the pipeline uses it directly for the memory's own metadata entry.
func New(gateway *llmgateway.Gateway, extractor *queryattrs.Extractor, chunker *chunking.Chunker, ix *indexer.Indexer, vectors *vectorstore.HNSWStore, cfg config.GatewayConfig) *Pipeline {
	return &Pipeline{
		gateway:   gateway,
		extractor: extractor,
		chunker:   chunker,
		indexer:   ix,
		vectors:   vectors,
		cfg:       cfg,
		logger:    logging.GetComponentLogger("ingest"),
	}
}

// Validate checks the required fields are present.
func (conv Conversation) Validate() error {
	if conv.User == "" {
		return memerr.New(memerr.Validation, "user is required")
	}
	if conv.Assistant == "" {
		return memerr.New(memerr.Validation, "assistant is required")
	}
	if conv.Timestamp.IsZero() {
		return memerr.New(memerr.Validation, "timestamp is required")
	}
	if conv.Source == "" {
		return memerr.New(memerr.Validation, "source is required")
	}
	return nil
}

// Ingest runs the full pipeline and returns the new memory's id.
func (p *Pipeline) Ingest(ctx context.Context, conv Conversation) (string, error) {
	if err := conv.Validate(); err != nil {
		return "", err
	}

	memoryID := uuid.New().String()
	transcript := "User: " + conv.User + "\n\nAssistant: " + conv.Assistant

	schema := p.classify(ctx, transcript)
	attrs := p.extractor.Extract(ctx, transcript)
	conv.Metadata = mergeAttrs(conv.Metadata, attrs)
	summary := p.summarize(ctx, conv, transcript)

	now := time.Now()
	mem := types.Memory{
		ID:           memoryID,
		Schema:       schema,
		Content:      transcript,
		Summary:      summary,
		Refs:         conv.Refs,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
		Strength:     1.0,
		Importance:   0.5,
		Tier:         types.TierWorking,
		ProjectID:    conv.ProjectID,
		Metadata:     conv.Metadata,
	}
	if err := mem.Validate(); err != nil {
		return "", err
	}

	parentMetadata := map[string]any{
		"memory_id":  mem.ID,
		"project_id": mem.ProjectID,
		"source":     conv.Source,
		"created_at": mem.CreatedAt.Format(time.RFC3339Nano),
		"tier":       string(mem.Tier),
	}
	chunks := p.chunker.ChunkConversation(mem.ID, conv.User, conv.Assistant, parentMetadata)

	if err := p.indexer.IndexChunks(ctx, chunks); err != nil {
		return "", memerr.Wrap(memerr.Io, "index chunks", err)
	}

	if err := p.writeMetadataEntry(ctx, mem, conv.Source); err != nil {
		p.logger.WithError(err).Warn("memory metadata write failed, chunks remain searchable", "memory_id", mem.ID)
	}

	return mem.ID, nil
}

// IngestBatch runs Ingest over each item; a failing item is logged and
// skipped, it does not abort the rest of the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, convs []Conversation) []string {
	ids := make([]string, 0, len(convs))
	for i, conv := range convs {
		id, err := p.Ingest(ctx, conv)
		if err != nil {
			p.logger.WithError(err).Warn("batch item failed, skipping", "index", i)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (p *Pipeline) classify(ctx context.Context, transcript string) types.SchemaKind {
	if p.gateway == nil {
		return types.SchemaProcess
	}
	prompt := "Classify this conversation as exactly one of: incident, snippet, decision, process. " +
		"Respond with only the word.\n\n" + transcript

	raw, err := p.gateway.Classify(ctx, prompt)
	if err != nil {
		p.logger.WithError(err).Warn("classification failed, defaulting to process")
		return types.SchemaProcess
	}

	kind := types.SchemaKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return types.SchemaProcess
	}
	return kind
}

const structuredSummaryTemplate = "Topic: %s\nDocType: %s\nProject: %s\nKeyActions:\n- %s"

// summarize generates the five-line structured summary, routing per the
// language policy: an explicit override always wins; otherwise a detected
// language outside the supported set forces the cloud tier so more
// capable models handle it, and an undetected language keeps the default
// routing.
func (p *Pipeline) summarize(ctx context.Context, conv Conversation, transcript string) string {
	if p.gateway == nil {
		return p.fallbackSummary(conv)
	}

	prompt := "Summarize this conversation in exactly five lines:\n" +
		"Topic: <topic>\nDocType: <doc type>\nProject: <project name or empty>\n" +
		"KeyActions:\n- <bullet>\n- <bullet as needed>\n\n" + transcript

	tier := p.routingTier(ctx, conv, transcript)

	var (
		out string
		err error
	)
	if tier != "" {
		out, err = p.gateway.GenerateForLanguage(ctx, llmgateway.TaskShortSummary, prompt, tier)
	} else {
		out, err = p.gateway.ShortSummary(ctx, prompt)
	}
	if err != nil {
		p.logger.WithError(err).Warn("summary generation failed, using structured fallback")
		return p.fallbackSummary(conv)
	}
	return out
}

// routingTier resolves the language policy to a forced tier, or "" to use
// the gateway's default routing. An explicit override (metadata field or
// env var) wins outright; otherwise an unsupported detected language
// forces cloud.
func (p *Pipeline) routingTier(ctx context.Context, conv Conversation, transcript string) llmgateway.Tier {
	if override, ok := conv.Metadata["language_override"].(string); ok && override != "" {
		return p.tierForLanguage(override)
	}
	if override := os.Getenv(langOverrideEnv); override != "" {
		return p.tierForLanguage(override)
	}

	lang := p.detectLanguage(ctx, transcript)
	if lang == "" {
		return ""
	}
	for _, supported := range p.cfg.SupportedLanguages {
		if supported == lang {
			return ""
		}
	}
	return llmgateway.TierCloud
}

func (p *Pipeline) tierForLanguage(lang string) llmgateway.Tier {
	for _, supported := range p.cfg.SupportedLanguages {
		if supported == lang {
			return ""
		}
	}
	return llmgateway.TierCloud
}

var langCodePattern = regexp.MustCompile(`[a-z]{2}`)

// detectLanguage asks the gateway to classify the transcript's ISO 639-1
// language code. Unparsable or failed detection returns "" (policy then
// leaves routing untouched).
func (p *Pipeline) detectLanguage(ctx context.Context, transcript string) string {
	prompt := "Respond with only the ISO 639-1 two-letter code for the language this text is written in.\n\n" + transcript
	raw, err := p.gateway.Classify(ctx, prompt)
	if err != nil {
		return ""
	}
	return langCodePattern.FindString(strings.ToLower(strings.TrimSpace(raw)))
}

func (p *Pipeline) fallbackSummary(conv Conversation) string {
	topic, _ := conv.Metadata["topic"].(string)
	docType, _ := conv.Metadata["doc_type"].(string)
	return fmt.Sprintf(structuredSummaryTemplate, topic, docType, conv.ProjectID, firstLine(conv.Assistant))
}

// mergeAttrs folds the extractor's attributes into the conversation's
// metadata, without overwriting fields the caller already set explicitly.
func mergeAttrs(metadata map[string]any, attrs types.QueryAttributes) map[string]any {
	out := make(map[string]any, len(metadata)+4)
	for k, v := range metadata {
		out[k] = v
	}
	if _, ok := out["topic"]; !ok && attrs.Topic != "" {
		out["topic"] = attrs.Topic
	}
	if _, ok := out["doc_type"]; !ok && attrs.DocType != "" {
		out["doc_type"] = attrs.DocType
	}
	if _, ok := out["severity"]; !ok && attrs.Severity != "" {
		out["severity"] = attrs.Severity
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// writeMetadataEntry embeds the summary and writes the memory's own
// `<mid>-metadata` entry, sanitizing metadata down to scalar values.
func (p *Pipeline) writeMetadataEntry(ctx context.Context, mem types.Memory, source string) error {
	var embedding []float32
	if p.gateway != nil {
		emb, err := p.gateway.Embed(ctx, mem.Summary)
		if err != nil {
			return memerr.Wrap(memerr.ModelUnavailable, "embed summary", err)
		}
		embedding = emb
	}

	metadata := sanitize(mem.Metadata)
	metadata["is_memory_entry"] = true
	metadata["schema_type"] = string(mem.Schema)
	metadata["memory_id"] = mem.ID
	metadata["tier"] = string(mem.Tier)
	metadata["strength"] = mem.Strength
	metadata["importance"] = mem.Importance
	metadata["created_at"] = mem.CreatedAt.Format(time.RFC3339Nano)
	metadata["project_id"] = mem.ProjectID
	metadata["source"] = source

	return p.vectors.Add(ctx, mem.MetadataEntryID(), embedding, metadata, mem.Summary)
}

// sanitize drops nested and nil values, keeping only scalar metadata per
// the serialization boundary invariant.
func sanitize(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch v.(type) {
		case string, bool, int, int64, float32, float64:
			out[k] = v
		}
	}
	return out
}
