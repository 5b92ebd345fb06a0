// Package config provides configuration management for the memory engine,
// handling environment variables and runtime defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the typed configuration surface. Every field has a default;
// the fields read in loadFromEnv can be overridden by an environment
// variable. Consolidation.RetentionHours always follows
// WorkingMemory.RetentionHours after loading.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Gateway       GatewayConfig
	Chunking      ChunkingConfig
	Search        SearchConfig
	CrossEncoder  CrossEncoderConfig
	Pool          PoolConfig
	Consolidation ConsolidationConfig
	WorkingMemory WorkingMemoryConfig
	Logging       LoggingConfig
}

// ServerConfig controls the stdio JSON-RPC façade.
type ServerConfig struct {
	DataDir string
}

// StorageConfig controls persisted state layout.
type StorageConfig struct {
	VectorDir        string
	LexicalIndexPath string
	MetadataDBPath   string
	ProjectsPath     string
	BookmarksPath    string
	LogDir           string
	MaxLogSizeMB     int
}

// GatewayConfig controls the LLM gateway.
type GatewayConfig struct {
	OpenAIAPIKey       string
	EmbeddingModel     string
	LocalModel         string
	CloudModel         string
	RequestTimeoutSecs int
	SupportedLanguages []string
}

// ChunkingConfig controls the chunker.
type ChunkingConfig struct {
	MaxTokens int
}

// SearchConfig controls the hybrid search orchestrator.
type SearchConfig struct {
	CandidateCount       int
	ResultCount          int
	RecencyHalfLifeHours float64
}

// CrossEncoderConfig controls the reranker.
type CrossEncoderConfig struct {
	Enabled                     bool
	MaxCandidates               int
	CacheMaxEntries             int
	CacheTTLSeconds             int
	MaxParallel                 int
	FallbackMaxWaitMS           int
	FallbackMode                string
	SemanticSimilarityThreshold float64
	SkipRerankForSimpleQueries  bool
	SimpleQueryMaxWords         int
	LLMTimeoutSeconds           int
}

// PoolConfig controls the project memory pool.
type PoolConfig struct {
	Size       int
	TTLSeconds int
}

// ConsolidationConfig controls the consolidation engine.
type ConsolidationConfig struct {
	RetentionHours      int
	SimilarityThreshold float64
	MinClusterSize      int
	ImportanceThreshold float64
	AgeThresholdDays    int
}

// WorkingMemoryConfig controls working-tier retention.
type WorkingMemoryConfig struct {
	RetentionHours int
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string
	JSON  bool
}

// DefaultConfig returns the configuration with every documented default
// applied, matching the flat configuration map in the external interfaces.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir: "./data",
		},
		Storage: StorageConfig{
			VectorDir:        "chroma_db",
			LexicalIndexPath: "bm25_index.pkl",
			MetadataDBPath:   "metadata.db",
			ProjectsPath:     "projects.json",
			BookmarksPath:    "bookmarks.json",
			LogDir:           "logs",
			MaxLogSizeMB:     10,
		},
		Gateway: GatewayConfig{
			EmbeddingModel:     "text-embedding-3-small",
			LocalModel:         "gpt-4o-mini",
			CloudModel:         "gpt-4o",
			RequestTimeoutSecs: 60,
			SupportedLanguages: []string{"en", "ja", "es"},
		},
		Chunking: ChunkingConfig{
			MaxTokens: 512,
		},
		Search: SearchConfig{
			CandidateCount:       50,
			ResultCount:          10,
			RecencyHalfLifeHours: 24,
		},
		CrossEncoder: CrossEncoderConfig{
			Enabled:                     true,
			MaxCandidates:               5,
			CacheMaxEntries:             256,
			CacheTTLSeconds:             28800,
			MaxParallel:                 1,
			FallbackMaxWaitMS:           0,
			FallbackMode:                "heuristic",
			SemanticSimilarityThreshold: 0.80,
			SkipRerankForSimpleQueries:  true,
			SimpleQueryMaxWords:         3,
			LLMTimeoutSeconds:           60,
		},
		Pool: PoolConfig{
			Size:       100,
			TTLSeconds: 28800,
		},
		Consolidation: ConsolidationConfig{
			RetentionHours:      8,
			SimilarityThreshold: 0.9,
			MinClusterSize:      2,
			ImportanceThreshold: 0.3,
			AgeThresholdDays:    30,
		},
		WorkingMemory: WorkingMemoryConfig{
			RetentionHours: 8,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// LoadConfig loads configuration from a .env file (if present) and
// environment variables layered over the defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	setStringFromEnv("MEMORY_DATA_DIR", &cfg.Server.DataDir)
	setStringFromEnv("OPENAI_API_KEY", &cfg.Gateway.OpenAIAPIKey)
	setStringFromEnv("MEMORY_EMBEDDING_MODEL", &cfg.Gateway.EmbeddingModel)
	setStringFromEnv("MEMORY_LOCAL_MODEL", &cfg.Gateway.LocalModel)
	setStringFromEnv("MEMORY_CLOUD_MODEL", &cfg.Gateway.CloudModel)
	setIntFromEnv("MEMORY_GATEWAY_TIMEOUT_SECONDS", &cfg.Gateway.RequestTimeoutSecs)

	setIntFromEnv("MEMORY_CHUNK_MAX_TOKENS", &cfg.Chunking.MaxTokens)

	setIntFromEnv("MEMORY_CANDIDATE_COUNT", &cfg.Search.CandidateCount)
	setIntFromEnv("MEMORY_RESULT_COUNT", &cfg.Search.ResultCount)
	setFloatFromEnv("MEMORY_RECENCY_HALF_LIFE_HOURS", &cfg.Search.RecencyHalfLifeHours)

	setBoolFromEnv("MEMORY_CROSS_ENCODER_ENABLED", &cfg.CrossEncoder.Enabled)
	setIntFromEnv("MEMORY_CROSS_ENCODER_MAX_CANDIDATES", &cfg.CrossEncoder.MaxCandidates)
	setIntFromEnv("MEMORY_CROSS_ENCODER_CACHE_MAX_ENTRIES", &cfg.CrossEncoder.CacheMaxEntries)
	setIntFromEnv("MEMORY_CROSS_ENCODER_CACHE_TTL_SECONDS", &cfg.CrossEncoder.CacheTTLSeconds)
	setIntFromEnv("MEMORY_CROSS_ENCODER_MAX_PARALLEL", &cfg.CrossEncoder.MaxParallel)
	setIntFromEnv("MEMORY_CROSS_ENCODER_FALLBACK_MAX_WAIT_MS", &cfg.CrossEncoder.FallbackMaxWaitMS)
	setStringFromEnv("MEMORY_CROSS_ENCODER_FALLBACK_MODE", &cfg.CrossEncoder.FallbackMode)
	setFloatFromEnv("MEMORY_CROSS_ENCODER_SEMANTIC_SIMILARITY_THRESHOLD", &cfg.CrossEncoder.SemanticSimilarityThreshold)
	setBoolFromEnv("MEMORY_CROSS_ENCODER_SKIP_SIMPLE_QUERIES", &cfg.CrossEncoder.SkipRerankForSimpleQueries)
	setIntFromEnv("MEMORY_CROSS_ENCODER_SIMPLE_QUERY_MAX_WORDS", &cfg.CrossEncoder.SimpleQueryMaxWords)

	setIntFromEnv("MEMORY_POOL_SIZE", &cfg.Pool.Size)
	setIntFromEnv("MEMORY_POOL_TTL_SECONDS", &cfg.Pool.TTLSeconds)

	setIntFromEnv("MEMORY_CONSOLIDATION_RETENTION_HOURS", &cfg.Consolidation.RetentionHours)
	setFloatFromEnv("MEMORY_CONSOLIDATION_SIMILARITY_THRESHOLD", &cfg.Consolidation.SimilarityThreshold)
	setIntFromEnv("MEMORY_CONSOLIDATION_MIN_CLUSTER_SIZE", &cfg.Consolidation.MinClusterSize)
	setFloatFromEnv("MEMORY_CONSOLIDATION_IMPORTANCE_THRESHOLD", &cfg.Consolidation.ImportanceThreshold)
	setIntFromEnv("MEMORY_CONSOLIDATION_AGE_THRESHOLD_DAYS", &cfg.Consolidation.AgeThresholdDays)

	setIntFromEnv("MEMORY_WORKING_RETENTION_HOURS", &cfg.WorkingMemory.RetentionHours)
	cfg.Consolidation.RetentionHours = cfg.WorkingMemory.RetentionHours

	setStringFromEnv("MEMORY_LOG_LEVEL", &cfg.Logging.Level)
	setBoolFromEnv("LOG_JSON", &cfg.Logging.JSON)
}

func setStringFromEnv(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setIntFromEnv(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setFloatFromEnv(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setBoolFromEnv(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Chunking.MaxTokens <= 0 {
		return errors.New("chunking max tokens must be positive")
	}
	if c.Search.CandidateCount <= 0 {
		return errors.New("candidate count must be positive")
	}
	if c.Search.ResultCount <= 0 {
		return errors.New("result count must be positive")
	}
	if c.CrossEncoder.SemanticSimilarityThreshold < 0 || c.CrossEncoder.SemanticSimilarityThreshold > 1 {
		return errors.New("semantic similarity threshold must be in [0,1]")
	}
	if c.CrossEncoder.FallbackMode != "heuristic" && c.CrossEncoder.FallbackMode != "" {
		return fmt.Errorf("unrecognized fallback mode: %s", c.CrossEncoder.FallbackMode)
	}
	if c.Consolidation.ImportanceThreshold < 0 || c.Consolidation.ImportanceThreshold > 1 {
		return errors.New("importance threshold must be in [0,1]")
	}
	return nil
}

// DataPath resolves a relative storage path under the configured data
// directory, creating the directory tree if needed.
func (c *Config) DataPath(rel string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(c.Server.DataDir, rel))
	if err != nil {
		return "", fmt.Errorf("resolve data path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return abs, nil
}

// AsFlatMap exposes the recognized options as a flat map, matching the
// external-interfaces configuration surface.
func (c *Config) AsFlatMap() map[string]any {
	return map[string]any{
		"candidate_count":                              c.Search.CandidateCount,
		"result_count":                                 c.Search.ResultCount,
		"recency_half_life_hours":                      c.Search.RecencyHalfLifeHours,
		"cross_encoder.enabled":                        c.CrossEncoder.Enabled,
		"cross_encoder.max_candidates":                 c.CrossEncoder.MaxCandidates,
		"cross_encoder.cache_max_entries":              c.CrossEncoder.CacheMaxEntries,
		"cross_encoder.cache_ttl_seconds":              c.CrossEncoder.CacheTTLSeconds,
		"cross_encoder.max_parallel":                   c.CrossEncoder.MaxParallel,
		"cross_encoder.fallback_max_wait_ms":           c.CrossEncoder.FallbackMaxWaitMS,
		"cross_encoder.fallback_mode":                  c.CrossEncoder.FallbackMode,
		"cross_encoder.semantic_similarity_threshold":  c.CrossEncoder.SemanticSimilarityThreshold,
		"cross_encoder.skip_rerank_for_simple_queries": c.CrossEncoder.SkipRerankForSimpleQueries,
		"cross_encoder.simple_query_max_words":         c.CrossEncoder.SimpleQueryMaxWords,
		"pool.size":                                    c.Pool.Size,
		"pool.ttl_seconds":                             c.Pool.TTLSeconds,
		"working_memory.retention_hours":               c.WorkingMemory.RetentionHours,
	}
}
