package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo

	"memoryvault/pkg/types"
)

// metadataStore is the sqlite-backed side table for entry documents,
// metadata, and embeddings. The HNSW graph only knows about vectors and
// opaque keys; this table is the durable source of truth for everything
// Get/ListByMetadata need to return.
type metadataStore struct {
	db *sql.DB
}

func openMetadataStore(path string) (*metadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer per process, per the concurrency model

	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	metadata TEXT NOT NULL,
	embedding BLOB
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}

	return &metadataStore{db: db}, nil
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func (m *metadataStore) put(ctx context.Context, entry types.IndexedEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO entries (id, document, metadata, embedding) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document=excluded.document, metadata=excluded.metadata, embedding=excluded.embedding`,
		entry.ID, entry.Document, string(metaJSON), encodeEmbedding(entry.Embedding))
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

func (m *metadataStore) updateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `UPDATE entries SET metadata = ? WHERE id = ?`, string(metaJSON), id)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

func (m *metadataStore) delete(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (m *metadataStore) get(ctx context.Context, id string) (*types.IndexedEntry, bool, error) {
	row := m.db.QueryRowContext(ctx, `SELECT document, metadata, embedding FROM entries WHERE id = ?`, id)
	var doc, metaJSON string
	var embBytes []byte
	if err := row.Scan(&doc, &metaJSON, &embBytes); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scan entry: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, false, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &types.IndexedEntry{
		ID:        id,
		Document:  doc,
		Metadata:  meta,
		Embedding: decodeEmbedding(embBytes),
	}, true, nil
}

func (m *metadataStore) all(ctx context.Context) ([]types.IndexedEntry, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, document, metadata, embedding FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.IndexedEntry
	for rows.Next() {
		var id, doc, metaJSON string
		var embBytes []byte
		if err := rows.Scan(&id, &doc, &metaJSON, &embBytes); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var meta map[string]any
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, types.IndexedEntry{
			ID:        id,
			Document:  doc,
			Metadata:  meta,
			Embedding: decodeEmbedding(embBytes),
		})
	}
	return out, rows.Err()
}

func (m *metadataStore) count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (m *metadataStore) close() error {
	return m.db.Close()
}
