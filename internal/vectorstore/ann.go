package vectorstore

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// ann wraps a coder/hnsw graph with the string-id <-> uint64-key mapping
// the library needs. Deletion is lazy: a deleted key is dropped from the
// mapping but left in the graph, avoiding a known coder/hnsw bug where
// deleting the graph's last remaining node corrupts it.
type ann struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	dim     int
}

type annMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dim     int
}

func newANN(dim int) *ann {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &ann{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		dim:    dim,
	}
}

func (a *ann) add(id string, vec []float32) error {
	if a.dim != 0 && len(vec) != a.dim {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", a.dim, len(vec))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.idMap[id]; ok {
		delete(a.keyMap, existing)
		delete(a.idMap, id)
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	key := a.nextKey
	a.nextKey++

	a.graph.Add(hnsw.MakeNode(key, normalized))
	a.idMap[id] = key
	a.keyMap[key] = id
	return nil
}

type annHit struct {
	ID    string
	Score float64
}

func (a *ann) search(vec []float32, k int) []annHit {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.graph.Len() == 0 {
		return nil
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	nodes := a.graph.Search(normalized, k)
	hits := make([]annHit, 0, len(nodes))
	for _, node := range nodes {
		id, ok := a.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := a.graph.Distance(normalized, node.Value)
		hits = append(hits, annHit{ID: id, Score: 1.0 - float64(distance)/2.0})
	}
	return hits
}

func (a *ann) delete(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if key, ok := a.idMap[id]; ok {
		delete(a.keyMap, key)
		delete(a.idMap, id)
	}
}

func (a *ann) contains(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.idMap[id]
	return ok
}

func (a *ann) count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.idMap)
}

func (a *ann) save(path string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create vector store directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // path is operator-configured, not user input
	if err != nil {
		return fmt.Errorf("create graph temp file: %w", err)
	}
	if err := a.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close graph temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename graph file: %w", err)
	}

	return a.saveMeta(path + ".meta")
}

func (a *ann) saveMeta(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // operator-configured path
	if err != nil {
		return fmt.Errorf("create meta temp file: %w", err)
	}
	meta := annMeta{IDMap: a.idMap, NextKey: a.nextKey, Dim: a.dim}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close meta temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

func loadANN(path string) (*ann, error) {
	metaPath := path + ".meta"
	mf, err := os.Open(metaPath) //nolint:gosec // operator-configured path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open meta file: %w", err)
	}
	defer func() { _ = mf.Close() }()

	var meta annMeta
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}

	a := newANN(meta.Dim)
	a.idMap = meta.IDMap
	a.nextKey = meta.NextKey
	a.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		a.keyMap[key] = id
	}

	gf, err := os.Open(path) //nolint:gosec // operator-configured path
	if err != nil {
		if os.IsNotExist(err) {
			return a, nil
		}
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer func() { _ = gf.Close() }()

	if err := a.graph.Import(bufio.NewReader(gf)); err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	return a, nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
