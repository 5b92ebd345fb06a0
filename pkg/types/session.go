package types

import "time"

// ProjectHint is a session-scoped (name, confidence, source) triple used
// to inject project_id filters and to trigger prefetch.
type ProjectHint struct {
	Name       string
	ProjectID  string
	Confidence float64
	Source     string
}

// SessionCommand is one logged command in a session's transcript.
type SessionCommand struct {
	Command  string
	Output   string
	ExitCode int
	Metadata map[string]any
	At       time.Time
}

// Session tracks per-session state for the coordinator.
type Session struct {
	ID           string
	StartedAt    time.Time
	LastActivity time.Time
	Commands     []SessionCommand
	ProjectHint  *ProjectHint
	PrefetchDone bool
}

// PrefetchEligible reports whether the current hint clears the prefetch
// confidence bar and a prefetch hasn't already fired this session.
func (s *Session) PrefetchEligible() bool {
	if s.PrefetchDone || s.ProjectHint == nil {
		return false
	}
	return s.ProjectHint.Confidence >= 0.55
}
