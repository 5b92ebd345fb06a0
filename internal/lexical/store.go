// Package lexical implements the BM25 keyword index: a document id ->
// text map scored with Okapi BM25 and persisted as an opaque blob.
package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/char/html"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"

	"memoryvault/internal/memerr"
)

const whitespaceAnalyzerName = "memoryvault_whitespace"

// Hit is one scored result from Search.
type Hit struct {
	ID    string
	Score float64
}

// bleveDoc is the indexed shape; only Content participates in scoring.
type bleveDoc struct {
	Content string `json:"content"`
}

// Index is the BM25 lexical index. Tokenization is fixed: lowercase,
// whitespace split. Corrupt on-disk blobs fall back to a fresh empty index
// rather than failing open.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Open creates or resumes an index at path. An empty path creates an
// in-memory index (used by tests).
func Open(path string) (*Index, error) {
	indexMapping, err := buildMapping()
	if err != nil {
		return nil, memerr.Wrap(memerr.Internal, "build lexical index mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
		if err != nil {
			return nil, memerr.Wrap(memerr.Internal, "create in-memory lexical index", err)
		}
		return &Index{index: idx, path: path}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, memerr.Wrap(memerr.Io, "create lexical index directory", err)
		}
	}

	if err := validateIntegrity(path); err != nil {
		_ = os.RemoveAll(path)
	}

	idx, err = bleve.Open(path)
	switch {
	case err == bleve.ErrorIndexPathDoesNotExist:
		idx, err = bleve.New(path, indexMapping)
	case err != nil && isCorruptionError(err):
		_ = os.RemoveAll(path)
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.Corruption, "open lexical index", err)
	}

	return &Index{index: idx, path: path}, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	if err := m.AddCustomAnalyzer(whitespaceAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"char_filters":  []string{html.Name},
		"tokenizer":     whitespace.Name,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("add whitespace analyzer: %w", err)
	}
	m.DefaultAnalyzer = whitespaceAnalyzerName
	m.ScoringModel = "bm25"
	return m, nil
}

// validateIntegrity mirrors the corruption-on-restart check: a missing or
// empty index_meta.json means the index cannot be trusted to open cleanly.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json empty")
	}
	data, err := os.ReadFile(metaPath) //nolint:gosec // operator-configured path
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// AddDocument indexes a single document, replacing any prior document under
// the same id.
func (idx *Index) AddDocument(ctx context.Context, id, text string) error {
	return idx.AddDocuments(ctx, map[string]string{id: text})
}

// AddDocuments indexes a batch of documents in one write.
func (idx *Index) AddDocuments(ctx context.Context, docs map[string]string) error {
	if len(docs) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return memerr.New(memerr.Internal, "lexical index is closed")
	}

	batch := idx.index.NewBatch()
	for id, text := range docs {
		if err := batch.Index(id, bleveDoc{Content: text}); err != nil {
			return memerr.Wrap(memerr.Internal, fmt.Sprintf("index document %s", id), err)
		}
	}
	if err := idx.index.Batch(batch); err != nil {
		return memerr.Wrap(memerr.Io, "execute lexical batch", err)
	}
	return nil
}

// Delete removes a document. Deleting a missing id is a no-op.
func (idx *Index) Delete(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return memerr.New(memerr.Internal, "lexical index is closed")
	}
	if err := idx.index.Delete(id); err != nil {
		return memerr.Wrap(memerr.Io, "delete lexical document", err)
	}
	return nil
}

// Search returns up to topK hits ranked by BM25 score. Zero-score results
// are omitted; ties keep Bleve's insertion-stable ordering.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, memerr.New(memerr.Internal, "lexical index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	if topK <= 0 {
		topK = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	matchQuery.Analyzer = whitespaceAnalyzerName

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = topK

	result, err := idx.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, memerr.Wrap(memerr.Io, "lexical search", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		if h.Score <= 0 {
			continue
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (idx *Index) Count() (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return 0, nil
	}
	n, err := idx.index.DocCount()
	if err != nil {
		return 0, memerr.Wrap(memerr.Io, "count lexical documents", err)
	}
	return int(n), nil
}

// Close releases index resources. Safe to call more than once.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	if err := idx.index.Close(); err != nil {
		return memerr.Wrap(memerr.Io, "close lexical index", err)
	}
	return nil
}
