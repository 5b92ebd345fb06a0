package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/pkg/types"
)

type fakePrefetcher struct {
	mu     sync.Mutex
	warmed []string
	done   chan struct{}
}

func (f *fakePrefetcher) WarmCache(_ context.Context, projectID string) error {
	f.mu.Lock()
	f.warmed = append(f.warmed, projectID)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func TestStartSessionIsIdempotent(t *testing.T) {
	m := New(nil, nil)
	s1 := m.StartSession("sess-1")
	s2 := m.StartSession("sess-1")
	assert.Same(t, s1, s2)
}

func TestAddCommandRequiresExistingSession(t *testing.T) {
	m := New(nil, nil)
	err := m.AddCommand("missing", types.SessionCommand{Command: "ls"})
	assert.Error(t, err)
}

func TestSetProjectHintKeepsHigherConfidenceHint(t *testing.T) {
	m := New(nil, nil)
	m.StartSession("sess-1")

	require.NoError(t, m.SetProjectHint("sess-1", types.ProjectHint{ProjectID: "p1", Confidence: 0.3, Source: "heuristic"}))
	require.NoError(t, m.SetProjectHint("sess-1", types.ProjectHint{ProjectID: "p2", Confidence: 0.2, Source: "heuristic"}))

	hint, err := m.GetProjectHint("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", hint.ProjectID, "lower-confidence hint should not overwrite")
}

func TestSetProjectHintManualRPCAlwaysWins(t *testing.T) {
	m := New(nil, nil)
	m.StartSession("sess-1")

	require.NoError(t, m.SetProjectHint("sess-1", types.ProjectHint{ProjectID: "p1", Confidence: 0.9, Source: "heuristic"}))
	require.NoError(t, m.SetProjectHint("sess-1", types.ProjectHint{ProjectID: "p2", Confidence: 0.1, Source: "manual_rpc"}))

	hint, err := m.GetProjectHint("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "p2", hint.ProjectID)
}

func TestClearProjectHint(t *testing.T) {
	m := New(nil, nil)
	m.StartSession("sess-1")
	require.NoError(t, m.SetProjectHint("sess-1", types.ProjectHint{ProjectID: "p1", Confidence: 0.9}))
	require.NoError(t, m.ClearProjectHint("sess-1"))

	hint, err := m.GetProjectHint("sess-1")
	require.NoError(t, err)
	assert.Nil(t, hint)
}

func TestAddCommandFiresPrefetchOnce(t *testing.T) {
	fp := &fakePrefetcher{done: make(chan struct{}, 4)}
	m := New(fp, nil)
	m.StartSession("sess-1")
	require.NoError(t, m.SetProjectHint("sess-1", types.ProjectHint{ProjectID: "p1", Confidence: 0.8}))

	require.NoError(t, m.AddCommand("sess-1", types.SessionCommand{Command: "a"}))
	select {
	case <-fp.done:
	case <-time.After(time.Second):
		t.Fatal("expected prefetch to fire")
	}

	require.NoError(t, m.AddCommand("sess-1", types.SessionCommand{Command: "b"}))
	select {
	case <-fp.done:
		t.Fatal("prefetch should only fire once per session")
	case <-time.After(50 * time.Millisecond):
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.Equal(t, []string{"p1"}, fp.warmed)
}

func TestEndSessionInvokesIngestWithCommands(t *testing.T) {
	var captured Conversation
	ingest := func(_ context.Context, conv Conversation) error {
		captured = conv
		return nil
	}
	m := New(nil, ingest)
	m.StartSession("sess-1")
	require.NoError(t, m.SetProjectHint("sess-1", types.ProjectHint{ProjectID: "p1", Confidence: 0.9, Source: "heuristic"}))
	require.NoError(t, m.AddCommand("sess-1", types.SessionCommand{Command: "a"}))

	require.NoError(t, m.EndSession(context.Background(), "sess-1"))
	assert.Equal(t, "sess-1", captured.SessionID)
	assert.Len(t, captured.Commands, 1)
	assert.Equal(t, "p1", captured.ProjectID)

	_, err := m.GetProjectHint("sess-1")
	assert.Error(t, err, "session should be dropped after end_session")
}

func TestEndSessionSkipsIngestWhenNoCommands(t *testing.T) {
	called := false
	ingest := func(_ context.Context, _ Conversation) error {
		called = true
		return nil
	}
	m := New(nil, ingest)
	m.StartSession("sess-1")
	require.NoError(t, m.EndSession(context.Background(), "sess-1"))
	assert.False(t, called)
}
