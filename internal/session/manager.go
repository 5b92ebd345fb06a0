// Package session implements the session coordinator: per-session
// command tracking, project-hint updates, and the single-shot prefetch
// trigger that warms a project's caches before the user's first search.
package session

import (
	"context"
	"sync"
	"time"

	"memoryvault/internal/logging"
	"memoryvault/internal/memerr"
	"memoryvault/internal/sessionlog"
	"memoryvault/pkg/types"
)

// Prefetcher is called, asynchronously and at most once per session, when
// a project hint first clears the prefetch confidence bar.
type Prefetcher interface {
	WarmCache(ctx context.Context, projectID string) error
}

// IngestFunc packages a finished session's commands into a conversation
// memory via the ingestion pipeline's entry point.
type IngestFunc func(ctx context.Context, conversation Conversation) error

// Conversation is the payload end_session hands to ingestion.
type Conversation struct {
	SessionID             string
	Commands              []types.SessionCommand
	ProjectID             string
	ProjectHintConfidence float64
	ProjectHintSource     string
}

// Manager tracks active sessions.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*types.Session
	prefetcher Prefetcher
	ingest     IngestFunc
	logger     *logging.EnhancedLogger

	logDir       string
	maxLogSizeMB int
	commandLogs  map[string]*sessionlog.Writer
}

// New creates a Manager. prefetcher and ingest may be nil in tests that
// don't exercise those side effects.
func New(prefetcher Prefetcher, ingest IngestFunc) *Manager {
	return &Manager{
		sessions:    make(map[string]*types.Session),
		prefetcher:  prefetcher,
		ingest:      ingest,
		logger:      logging.GetComponentLogger("session"),
		commandLogs: make(map[string]*sessionlog.Writer),
	}
}

// WithCommandLog enables persisting each session's command transcript to
// logDir/<session_id>.log, rotating once a file passes maxLogSizeMB. Call
// before any session starts; a zero logDir leaves logging disabled.
func (m *Manager) WithCommandLog(logDir string, maxLogSizeMB int) *Manager {
	m.logDir = logDir
	m.maxLogSizeMB = maxLogSizeMB
	return m
}

// StartSession registers a new session, or returns the existing one if the
// id is already active.
func (m *Manager) StartSession(sessionID string) *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := &types.Session{ID: sessionID, StartedAt: time.Now(), LastActivity: time.Now()}
	m.sessions[sessionID] = s
	return s
}

// AddCommand appends a command to the session's transcript. It never
// blocks on prefetch: a prefetch that becomes eligible is dispatched in
// its own goroutine.
func (m *Manager) AddCommand(sessionID string, cmd types.SessionCommand) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return memerr.New(memerr.NotFound, "session not found: "+sessionID)
	}
	cmd.At = time.Now()
	s.Commands = append(s.Commands, cmd)
	s.LastActivity = time.Now()

	shouldPrefetch := s.PrefetchEligible()
	var projectID string
	if shouldPrefetch {
		s.PrefetchDone = true
		projectID = s.ProjectHint.ProjectID
	}

	logWriter, logErr := m.logWriterLocked(sessionID)
	m.mu.Unlock()

	if logErr != nil {
		m.logger.WithError(logErr).Warn("session log unavailable", "session_id", sessionID)
	} else if logWriter != nil {
		if err := logWriter.AppendCommand(cmd); err != nil {
			m.logger.WithError(err).Warn("session log write failed", "session_id", sessionID)
		}
	}

	if shouldPrefetch && m.prefetcher != nil {
		go func() {
			if err := m.prefetcher.WarmCache(context.Background(), projectID); err != nil {
				m.logger.WithError(err).Warn("project prefetch failed", "project_id", projectID)
			}
		}()
	}
	return nil
}

// logWriterLocked returns the session's command-log writer, opening it on
// first use. Callers must hold m.mu.
func (m *Manager) logWriterLocked(sessionID string) (*sessionlog.Writer, error) {
	if m.logDir == "" {
		return nil, nil
	}
	if w, ok := m.commandLogs[sessionID]; ok {
		return w, nil
	}
	w, err := sessionlog.Open(m.logDir, sessionID, m.maxLogSizeMB)
	if err != nil {
		return nil, err
	}
	m.commandLogs[sessionID] = w
	return w, nil
}

// SetProjectHint overwrites the session's hint only if the new one has
// higher confidence, or came directly from an explicit RPC call (a user
// telling the system the project, not a heuristic guess).
func (m *Manager) SetProjectHint(sessionID string, hint types.ProjectHint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return memerr.New(memerr.NotFound, "session not found: "+sessionID)
	}

	if s.ProjectHint == nil || hint.Source == "manual_rpc" || hint.Confidence > s.ProjectHint.Confidence {
		h := hint
		s.ProjectHint = &h
	}
	return nil
}

// GetProjectHint returns the session's current hint, or nil if unset.
func (m *Manager) GetProjectHint(sessionID string) (*types.ProjectHint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, memerr.New(memerr.NotFound, "session not found: "+sessionID)
	}
	return s.ProjectHint, nil
}

// ClearProjectHint removes the session's hint.
func (m *Manager) ClearProjectHint(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return memerr.New(memerr.NotFound, "session not found: "+sessionID)
	}
	s.ProjectHint = nil
	return nil
}

// EndSession packages the session's commands into a Conversation and hands
// it to the configured IngestFunc, then drops the session from memory.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return memerr.New(memerr.NotFound, "session not found: "+sessionID)
	}
	delete(m.sessions, sessionID)
	w, hadLog := m.commandLogs[sessionID]
	delete(m.commandLogs, sessionID)
	m.mu.Unlock()

	if hadLog {
		if err := w.Close(); err != nil {
			m.logger.WithError(err).Warn("session log close failed", "session_id", sessionID)
		}
	}

	if len(s.Commands) == 0 || m.ingest == nil {
		return nil
	}

	conv := Conversation{SessionID: s.ID, Commands: s.Commands}
	if s.ProjectHint != nil {
		conv.ProjectID = s.ProjectHint.ProjectID
		conv.ProjectHintConfidence = s.ProjectHint.Confidence
		conv.ProjectHintSource = s.ProjectHint.Source
	}
	return m.ingest(ctx, conv)
}
