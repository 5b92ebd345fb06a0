package types

// IndexedEntry is the unit of storage in the vector store. The
// distinction between a "chunk entry" and a "memory metadata entry" is a
// routing discriminator carried in Metadata, not a separate store.
type IndexedEntry struct {
	ID        string
	Embedding []float32
	Metadata  map[string]any
	Document  string
}

// MemoryIDOf reads the memory_id routing key out of an entry's metadata.
func (e *IndexedEntry) MemoryIDOf() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["memory_id"].(string); ok {
		return v
	}
	return ""
}

// IsMemoryEntry reports whether this entry is a memory-level (`-metadata`)
// entry rather than a chunk entry, per the `is_memory_entry` flag or the
// id suffix convention.
func (e *IndexedEntry) IsMemoryEntry() bool {
	if e == nil {
		return false
	}
	if v, ok := e.Metadata["is_memory_entry"].(bool); ok && v {
		return true
	}
	return IsMemoryMetadataID(e.ID)
}

// ChunkIndexOf reads the chunk_index metadata field, if present.
func (e *IndexedEntry) ChunkIndexOf() (int, bool) {
	if e == nil || e.Metadata == nil {
		return 0, false
	}
	switch v := e.Metadata["chunk_index"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// ScoredEntry is a vector or lexical search hit before hybrid merging.
type ScoredEntry struct {
	Entry      IndexedEntry
	Similarity float64 // vector store cosine similarity, [0,1]
	BM25Score  float64 // lexical raw score, unbounded non-negative
}
