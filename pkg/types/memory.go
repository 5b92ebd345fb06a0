// Package types provides the core data structures shared across the
// memory engine: memories, chunks, indexed entries, projects, bookmarks,
// query attributes, and sessions.
package types

import (
	"errors"
	"fmt"
	"time"
)

// SchemaKind classifies a Memory's shape.
type SchemaKind string

const (
	SchemaIncident SchemaKind = "incident"
	SchemaSnippet  SchemaKind = "snippet"
	SchemaDecision SchemaKind = "decision"
	SchemaProcess  SchemaKind = "process"
)

// Valid reports whether k is a recognized schema kind.
func (k SchemaKind) Valid() bool {
	switch k {
	case SchemaIncident, SchemaSnippet, SchemaDecision, SchemaProcess:
		return true
	}
	return false
}

// MemoryTier is the consolidation lifecycle stage of a Memory.
type MemoryTier string

const (
	TierWorking   MemoryTier = "working"
	TierShortTerm MemoryTier = "short_term"
	TierLongTerm  MemoryTier = "long_term"
)

// Valid reports whether t is a recognized tier.
func (t MemoryTier) Valid() bool {
	switch t {
	case TierWorking, TierShortTerm, TierLongTerm:
		return true
	}
	return false
}

// TierMultiplier is the recency half-life multiplier per tier, used by the
// hybrid scoring formula's recency term.
func (t MemoryTier) TierMultiplier() float64 {
	switch t {
	case TierWorking:
		return 1.0
	case TierShortTerm:
		return 3.0
	case TierLongTerm:
		return 6.0
	default:
		return 4.0
	}
}

// Priority ranks tiers for the consolidation importance score's tier
// bonus: lower ranks higher.
func (t MemoryTier) Priority() int {
	switch t {
	case TierWorking:
		return 0
	case TierShortTerm:
		return 1
	case TierLongTerm:
		return 2
	default:
		return 3
	}
}

// Memory is the conceptual record stored by the engine. It is not itself
// the on-wire shape of any single storage entry; its fields are split
// across an IndexedEntry (the `-metadata` entry) and the conversation
// payload that produced it.
type Memory struct {
	ID               string
	Schema           SchemaKind
	Content          string
	Summary          string
	Refs             []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastAccessed     time.Time
	Strength         float64
	Importance       float64
	Tags             []string
	Metadata         map[string]any
	Tier             MemoryTier
	ClusterID        string
	IsRepresentative bool
	IsCompressed     bool
	ProjectID        string
}

// Validate enforces the invariants from the data model: strength and
// importance never exceed 1.0, schema and tier are from their closed
// vocabularies.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return errors.New("memory id cannot be empty")
	}
	if !m.Schema.Valid() {
		return fmt.Errorf("invalid schema kind: %s", m.Schema)
	}
	if !m.Tier.Valid() {
		return fmt.Errorf("invalid memory tier: %s", m.Tier)
	}
	if m.Strength < 0 || m.Strength > 1 {
		return errors.New("strength must be in [0,1]")
	}
	if m.Importance < 0 || m.Importance > 1 {
		return errors.New("importance must be in [0,1]")
	}
	return nil
}

// MetadataEntryID is the id of the Indexed Entry that carries this
// Memory's summary embedding and top-level metadata.
func (m *Memory) MetadataEntryID() string {
	return m.ID + "-metadata"
}

// Chunk is an atomic, bounded-length piece of a Memory's content.
type Chunk struct {
	ID             string
	MemoryID       string
	Index          int
	Text           string
	TokenCount     int
	Embedding      []float32
	SalienceWeight float64
	Metadata       map[string]any
}

// ChunkID builds the stable chunk id `<memory_id>-chunk-<index>`.
func ChunkID(memoryID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", memoryID, index)
}

// IsMemoryMetadataID reports whether id refers to a memory-level entry
// rather than a chunk entry.
func IsMemoryMetadataID(id string) bool {
	const suffix = "-metadata"
	return len(id) > len(suffix) && id[len(id)-len(suffix):] == suffix
}
