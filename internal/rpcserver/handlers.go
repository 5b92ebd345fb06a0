package rpcserver

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"memoryvault/internal/consolidation"
	"memoryvault/internal/ingest"
	"memoryvault/internal/memerr"
	"memoryvault/internal/projectstore"
	"memoryvault/internal/rerank"
	"memoryvault/internal/search"
	"memoryvault/internal/session"
	"memoryvault/internal/vectorstore"
	"memoryvault/pkg/types"
)

// hintConfidenceFloor is the minimum session project-hint confidence that
// the search_memory session filter merge will act on.
const hintConfidenceFloor = 0.55

// Engine holds every collaborator a handler needs and registers the full
// JSON-RPC method table against a Server.
type Engine struct {
	pipeline      *ingest.Pipeline
	orchestrator  *search.Orchestrator
	sessions      *session.Manager
	consolidation *consolidation.Engine
	projects      *projectstore.Store
	reranker      *rerank.Reranker
	vectors       *vectorstore.HNSWStore
}

// NewEngine wires an Engine over the engine's running collaborators.
func NewEngine(pipeline *ingest.Pipeline, orchestrator *search.Orchestrator, sessions *session.Manager,
	consolidationEngine *consolidation.Engine, projects *projectstore.Store, reranker *rerank.Reranker,
	vectors *vectorstore.HNSWStore) *Engine {
	return &Engine{
		pipeline:      pipeline,
		orchestrator:  orchestrator,
		sessions:      sessions,
		consolidation: consolidationEngine,
		projects:      projects,
		reranker:      reranker,
		vectors:       vectors,
	}
}

// Register wires every RPC method onto s.
func (e *Engine) Register(s *Server) {
	s.Register("ingest_conversation", e.ingestConversation)
	s.Register("search_memory", e.searchMemory)
	s.Register("get_memory", e.getMemory)
	s.Register("list_recent_memories", e.listRecentMemories)
	s.Register("consolidate_memories", e.consolidateMemories)
	s.Register("start_session", e.startSession)
	s.Register("end_session", e.endSession)
	s.Register("add_command", e.addCommand)
	s.Register("session_get_hint", e.sessionGetHint)
	s.Register("session_set_project", e.sessionSetProject)
	s.Register("session_clear_project", e.sessionClearProject)
	s.Register("create_project", e.createProject)
	s.Register("list_projects", e.listProjects)
	s.Register("get_project", e.getProject)
	s.Register("delete_project", e.deleteProject)
	s.Register("search_in_project", e.searchInProject)
	s.Register("create_bookmark", e.createBookmark)
	s.Register("list_bookmarks", e.listBookmarks)
	s.Register("use_bookmark", e.useBookmark)
	s.Register("get_reranker_metrics", e.getRerankerMetrics)
}

func badParams(err error) error {
	return memerr.Wrap(memerr.Validation, "invalid params", err)
}

// --- ingest_conversation ---

type ingestConversationParams struct {
	Conversation struct {
		User      string         `json:"user"`
		Assistant string         `json:"assistant"`
		Timestamp time.Time      `json:"timestamp"`
		Source    string         `json:"source"`
		Metadata  map[string]any `json:"metadata"`
		Refs      []string       `json:"refs"`
		ProjectID string         `json:"project_id"`
	} `json:"conversation"`
}

func (e *Engine) ingestConversation(ctx context.Context, raw json.RawMessage) (any, error) {
	var p ingestConversationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}

	memoryID, err := e.pipeline.Ingest(ctx, ingest.Conversation{
		User:      p.Conversation.User,
		Assistant: p.Conversation.Assistant,
		Timestamp: p.Conversation.Timestamp,
		Source:    p.Conversation.Source,
		ProjectID: p.Conversation.ProjectID,
		Refs:      p.Conversation.Refs,
		Metadata:  p.Conversation.Metadata,
	})
	if err != nil {
		return nil, err
	}

	if e.projects != nil && p.Conversation.ProjectID != "" {
		// project bookkeeping never blocks a completed ingest
		_ = e.projects.TouchMemory(p.Conversation.ProjectID)
	}

	return map[string]any{"memory_id": memoryID}, nil
}

// --- search_memory ---

type searchMemoryParams struct {
	Query          string         `json:"query"`
	TopK           int            `json:"top_k"`
	FilterMetadata map[string]any `json:"filter_metadata"`
	SessionID      string         `json:"session_id"`
}

func (e *Engine) searchMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var p searchMemoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	if p.Query == "" {
		return nil, memerr.New(memerr.Validation, "query cannot be empty")
	}

	filter := p.FilterMetadata
	if filter == nil {
		filter = make(map[string]any)
	}
	if p.SessionID != "" {
		if _, ok := filter["project_id"]; !ok {
			if hint, err := e.sessions.GetProjectHint(p.SessionID); err == nil && hint != nil && hint.Confidence >= hintConfidenceFloor {
				filter["project_id"] = hint.ProjectID
			}
		}
	}

	results, err := e.orchestrator.Search(ctx, p.Query, filter, false)
	if err != nil {
		return nil, err
	}
	if p.TopK > 0 && p.TopK < len(results) {
		results = results[:p.TopK]
	}

	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"id":                r.EntryID,
			"content":           r.Content,
			"metadata":          r.Metadata,
			"score":             r.Score,
			"vector_similarity": r.VectorSimilarity,
			"bm25_score":        r.BM25Score,
			"combined_score":    r.Score,
			"cross_score":       r.CrossScore,
			"components": map[string]any{
				"vector_similarity": r.VectorSimilarity,
				"bm25_score":        r.BM25Score,
				"cross_score":       r.CrossScore,
			},
		})
	}
	return map[string]any{"results": out, "count": len(out)}, nil
}

// --- get_memory ---

type getMemoryParams struct {
	MemoryID string `json:"memory_id"`
}

func (e *Engine) getMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var p getMemoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	if p.MemoryID == "" {
		return nil, memerr.New(memerr.Validation, "memory_id cannot be empty")
	}

	metaID := p.MemoryID + "-metadata"
	entry, found, err := e.vectors.Get(ctx, metaID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, memerr.New(memerr.NotFound, "memory not found: "+p.MemoryID)
	}

	siblings, err := e.vectors.ListByMetadata(ctx, vectorstore.Filter{"memory_id": p.MemoryID}, true, false)
	if err != nil {
		return nil, err
	}
	chunks := make([]map[string]any, 0, len(siblings))
	for _, s := range siblings {
		if types.IsMemoryMetadataID(s.ID) {
			continue
		}
		chunks = append(chunks, map[string]any{
			"id":       s.ID,
			"content":  s.Document,
			"metadata": s.Metadata,
		})
	}

	return map[string]any{
		"memory_id": p.MemoryID,
		"content":   entry.Document,
		"metadata":  entry.Metadata,
		"chunks":    chunks,
	}, nil
}

// --- list_recent_memories ---

type listRecentMemoriesParams struct {
	Limit          int            `json:"limit"`
	FilterMetadata map[string]any `json:"filter_metadata"`
}

func (e *Engine) listRecentMemories(ctx context.Context, raw json.RawMessage) (any, error) {
	var p listRecentMemoriesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}

	filter := vectorstore.Filter{"is_memory_entry": true}
	for k, v := range p.FilterMetadata {
		filter[k] = v
	}

	entries, err := e.vectors.ListByMetadata(ctx, filter, true, false)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		ci, _ := entries[i].Metadata["created_at"].(string)
		cj, _ := entries[j].Metadata["created_at"].(string)
		return ci > cj
	})

	limit := p.Limit
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	entries = entries[:limit]

	out := make([]map[string]any, 0, len(entries))
	for _, en := range entries {
		out = append(out, map[string]any{
			"id":       en.ID,
			"content":  en.Document,
			"metadata": en.Metadata,
		})
	}
	return map[string]any{"memories": out, "count": len(out)}, nil
}

// --- consolidate_memories ---

func (e *Engine) consolidateMemories(ctx context.Context, _ json.RawMessage) (any, error) {
	stats, err := e.consolidation.Run(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// --- session lifecycle ---

type sessionIDParams struct {
	SessionID string `json:"session_id"`
}

func (e *Engine) startSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	if p.SessionID == "" {
		return nil, memerr.New(memerr.Validation, "session_id cannot be empty")
	}
	s := e.sessions.StartSession(p.SessionID)
	return map[string]any{"session_id": s.ID}, nil
}

func (e *Engine) endSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	if err := e.sessions.EndSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"session_id": p.SessionID}, nil
}

type addCommandParams struct {
	SessionID string         `json:"session_id"`
	Command   string         `json:"command"`
	Output    string         `json:"output"`
	ExitCode  int            `json:"exit_code"`
	Metadata  map[string]any `json:"metadata"`
}

func (e *Engine) addCommand(ctx context.Context, raw json.RawMessage) (any, error) {
	var p addCommandParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	cmd := types.SessionCommand{
		Command:  p.Command,
		Output:   p.Output,
		ExitCode: p.ExitCode,
		Metadata: p.Metadata,
	}
	if err := e.sessions.AddCommand(p.SessionID, cmd); err != nil {
		return nil, err
	}
	return map[string]any{"session_id": p.SessionID}, nil
}

// --- session project hint ---

type sessionProjectParams struct {
	SessionID  string  `json:"session_id"`
	ProjectID  string  `json:"project_id"`
	Project    string  `json:"project"`
	Confidence float64 `json:"confidence"`
}

func (e *Engine) sessionGetHint(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	hint, err := e.sessions.GetProjectHint(p.SessionID)
	if err != nil {
		return nil, err
	}
	return hintResult(p.SessionID, hint), nil
}

func (e *Engine) sessionSetProject(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionProjectParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	projectID := p.ProjectID
	if projectID == "" {
		projectID = p.Project
	}
	confidence := p.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}
	hint := types.ProjectHint{Name: p.Project, ProjectID: projectID, Confidence: confidence, Source: "manual_rpc"}
	if err := e.sessions.SetProjectHint(p.SessionID, hint); err != nil {
		return nil, err
	}
	return hintResult(p.SessionID, &hint), nil
}

func (e *Engine) sessionClearProject(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	if err := e.sessions.ClearProjectHint(p.SessionID); err != nil {
		return nil, err
	}
	return hintResult(p.SessionID, nil), nil
}

func hintResult(sessionID string, hint *types.ProjectHint) map[string]any {
	if hint == nil {
		return map[string]any{"session_id": sessionID, "project_hint": nil, "project_id": "", "confidence": 0.0, "source": ""}
	}
	return map[string]any{
		"session_id":   sessionID,
		"project_hint": hint.Name,
		"project_id":   hint.ProjectID,
		"confidence":   hint.Confidence,
		"source":       hint.Source,
	}
}

// --- project CRUD ---

type projectIDParams struct {
	ProjectID string `json:"project_id"`
}

type createProjectParams struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (e *Engine) createProject(ctx context.Context, raw json.RawMessage) (any, error) {
	var p createProjectParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	proj := &types.Project{ID: p.ID, Name: p.Name, Description: p.Description, Tags: p.Tags}
	if err := e.projects.CreateProject(proj); err != nil {
		return nil, err
	}
	return proj, nil
}

func (e *Engine) listProjects(ctx context.Context, _ json.RawMessage) (any, error) {
	list := e.projects.ListProjects()
	return map[string]any{"projects": list, "count": len(list)}, nil
}

func (e *Engine) getProject(ctx context.Context, raw json.RawMessage) (any, error) {
	var p projectIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	proj, err := e.projects.GetProject(p.ProjectID)
	if err != nil {
		return nil, err
	}
	return proj, nil
}

func (e *Engine) deleteProject(ctx context.Context, raw json.RawMessage) (any, error) {
	var p projectIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	if err := e.projects.DeleteProject(p.ProjectID); err != nil {
		return nil, err
	}
	return map[string]any{"project_id": p.ProjectID}, nil
}

type searchInProjectParams struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
}

func (e *Engine) searchInProject(ctx context.Context, raw json.RawMessage) (any, error) {
	var p searchInProjectParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	if p.Query == "" {
		return nil, memerr.New(memerr.Validation, "query cannot be empty")
	}

	results, err := e.orchestrator.Search(ctx, p.Query, map[string]any{"project_id": p.ProjectID}, false)
	if err != nil {
		return nil, err
	}
	if p.TopK > 0 && p.TopK < len(results) {
		results = results[:p.TopK]
	}

	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"id":       r.EntryID,
			"content":  r.Content,
			"metadata": r.Metadata,
			"score":    r.Score,
		})
	}
	return map[string]any{"results": out, "count": len(out)}, nil
}

// --- bookmarks ---

type createBookmarkParams struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Query  string         `json:"query"`
	Filter map[string]any `json:"filter"`
}

func (e *Engine) createBookmark(ctx context.Context, raw json.RawMessage) (any, error) {
	var p createBookmarkParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	b := &types.SearchBookmark{ID: p.ID, Name: p.Name, Query: p.Query, Filter: p.Filter}
	if err := e.projects.CreateBookmark(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *Engine) listBookmarks(ctx context.Context, _ json.RawMessage) (any, error) {
	list := e.projects.ListBookmarks()
	return map[string]any{"bookmarks": list, "count": len(list)}, nil
}

type useBookmarkParams struct {
	BookmarkID string `json:"bookmark_id"`
}

func (e *Engine) useBookmark(ctx context.Context, raw json.RawMessage) (any, error) {
	var p useBookmarkParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, badParams(err)
	}
	b, err := e.projects.UseBookmark(p.BookmarkID)
	if err != nil {
		return nil, err
	}

	results, err := e.orchestrator.Search(ctx, b.Query, b.Filter, false)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"id":       r.EntryID,
			"content":  r.Content,
			"metadata": r.Metadata,
			"score":    r.Score,
		})
	}
	return map[string]any{"bookmark": b, "results": out, "count": len(out)}, nil
}

// --- reranker metrics ---

func (e *Engine) getRerankerMetrics(ctx context.Context, _ json.RawMessage) (any, error) {
	return e.reranker.Metrics(), nil
}
