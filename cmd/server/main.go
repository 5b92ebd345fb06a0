// server is the memoryvault engine binary: it wires the vector store,
// lexical index, LLM gateway, search orchestrator, ingestion pipeline,
// consolidation engine, project store, and project pool together and
// serves them over a JSON-RPC 2.0 stdio façade.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"memoryvault/internal/chunking"
	"memoryvault/internal/config"
	"memoryvault/internal/consolidation"
	"memoryvault/internal/indexer"
	"memoryvault/internal/ingest"
	"memoryvault/internal/lexical"
	"memoryvault/internal/llmgateway"
	"memoryvault/internal/projectpool"
	"memoryvault/internal/projectstore"
	"memoryvault/internal/queryattrs"
	"memoryvault/internal/rerank"
	"memoryvault/internal/rpcserver"
	"memoryvault/internal/search"
	"memoryvault/internal/session"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

// embeddingDimension is the vector width produced by the configured
// embedding model (text-embedding-3-small and its siblings all emit
// 1536-dimensional vectors).
const embeddingDimension = 1536

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, cleanup, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	defer cleanup()

	rpc := rpcserver.New()
	engine.Register(rpc)

	log.Printf("memoryvault engine listening on stdio, data dir %s", cfg.Server.DataDir)
	if err := rpc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("rpc server stopped: %v", err)
	}
}

// buildEngine constructs every collaborator in dependency order: stores
// first, then the gateway, then the components that compose over them,
// finishing with the pool and session coordinator that tie prefetch and
// auto-ingestion back into the running engine. cleanup persists and
// closes the stores; callers must still defer it even on a build error
// that leaves some stores open.
func buildEngine(cfg *config.Config) (*rpcserver.Engine, func(), error) {
	graphPath, err := cfg.DataPath(filepath.Join(cfg.Storage.VectorDir, "graph.hnsw"))
	if err != nil {
		return nil, func() {}, err
	}
	metadataDBPath, err := cfg.DataPath(cfg.Storage.MetadataDBPath)
	if err != nil {
		return nil, func() {}, err
	}
	lexicalPath, err := cfg.DataPath(cfg.Storage.LexicalIndexPath)
	if err != nil {
		return nil, func() {}, err
	}
	projectsDir, err := cfg.DataPath(".")
	if err != nil {
		return nil, func() {}, err
	}

	vectors, err := vectorstore.Open(filepath.Dir(graphPath), graphPath, metadataDBPath, embeddingDimension)
	if err != nil {
		return nil, func() {}, err
	}

	lex, err := lexical.Open(lexicalPath)
	if err != nil {
		return nil, func() { _ = vectors.Close() }, err
	}

	projects, err := projectstore.Open(projectsDir)
	if err != nil {
		return nil, func() { _ = vectors.Close(); _ = lex.Close() }, err
	}

	cleanup := func() {
		if err := vectors.Save(); err != nil {
			log.Printf("vector store save failed: %v", err)
		}
		if err := vectors.Close(); err != nil {
			log.Printf("vector store close failed: %v", err)
		}
		if err := lex.Close(); err != nil {
			log.Printf("lexical index close failed: %v", err)
		}
	}

	gateway := llmgateway.New(llmgateway.Config{
		APIKey:         cfg.Gateway.OpenAIAPIKey,
		EmbeddingModel: cfg.Gateway.EmbeddingModel,
		LocalModel:     cfg.Gateway.LocalModel,
		CloudModel:     cfg.Gateway.CloudModel,
		RequestTimeout: time.Duration(cfg.Gateway.RequestTimeoutSecs) * time.Second,
	})

	ix := indexer.New(vectors, lex, gateway)
	chunker := chunking.New(cfg.Chunking)
	extractor := queryattrs.New(gateway, 0.4)
	reranker := rerank.New(cfg.CrossEncoder, gateway)
	orchestrator := search.New(vectors, lex, gateway, extractor, reranker, cfg.Search)
	pipeline := ingest.New(gateway, extractor, chunker, ix, vectors, cfg.Gateway)
	consolidationEngine := consolidation.New(vectors, ix, cfg.Consolidation, cfg.WorkingMemory)

	logDir := filepath.Join(cfg.Server.DataDir, cfg.Storage.LogDir)

	pool := projectpool.New(vectors, reranker, cfg.Pool.Size, time.Duration(cfg.Pool.TTLSeconds)*time.Second)
	sessions := session.New(pool, ingestAdapter(pipeline)).WithCommandLog(logDir, cfg.Storage.MaxLogSizeMB)

	engine := rpcserver.NewEngine(pipeline, orchestrator, sessions, consolidationEngine, projects, reranker, vectors)
	return engine, cleanup, nil
}

// ingestAdapter bridges the session coordinator's end-of-session payload
// into the ingestion pipeline's conversation shape; the two packages
// don't share a type since a session's conversation is many commands
// flattened into one transcript, not a literal user/assistant pair.
func ingestAdapter(pipeline *ingest.Pipeline) session.IngestFunc {
	return func(ctx context.Context, conv session.Conversation) error {
		user, assistant := flattenCommands(conv.Commands)
		_, err := pipeline.Ingest(ctx, ingest.Conversation{
			User:      user,
			Assistant: assistant,
			Timestamp: time.Now(),
			Source:    "session",
			ProjectID: conv.ProjectID,
		})
		return err
	}
}

// flattenCommands splits a session's transcript into the user/assistant
// halves the ingestion pipeline expects: commands as the user side,
// their output as the assistant side.
func flattenCommands(commands []types.SessionCommand) (user, assistant string) {
	for _, cmd := range commands {
		user += "$ " + cmd.Command + "\n"
		if cmd.Output != "" {
			assistant += cmd.Output + "\n"
		}
	}
	if assistant == "" {
		assistant = "(no output recorded)"
	}
	return user, assistant
}
