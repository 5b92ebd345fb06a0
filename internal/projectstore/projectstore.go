// Package projectstore implements Project and SearchBookmark CRUD backed by
// two JSON files (projects.json, bookmarks.json), written atomically so a
// crash mid-save never leaves a truncated file behind.
package projectstore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"memoryvault/internal/memerr"
	"memoryvault/pkg/types"
)

const storeVersion = "1"

type projectsFile struct {
	Version     string           `json:"version"`
	LastUpdated time.Time        `json:"last_updated"`
	Projects    []*types.Project `json:"projects"`
}

type bookmarksFile struct {
	Version     string                  `json:"version"`
	LastUpdated time.Time               `json:"last_updated"`
	Bookmarks   []*types.SearchBookmark `json:"bookmarks"`
}

// Store is the JSON-file-backed Project/Bookmark CRUD layer. A Store is
// single-writer-per-process, per the persisted-state shared-resource policy;
// it does not coordinate with other processes touching the same files.
type Store struct {
	mu sync.Mutex

	projectsPath  string
	bookmarksPath string

	projects  map[string]*types.Project
	bookmarks map[string]*types.SearchBookmark
}

// Open loads (or creates) projects.json and bookmarks.json under dataDir.
func Open(dataDir string) (*Store, error) {
	s := &Store{
		projectsPath:  filepath.Join(dataDir, "projects.json"),
		bookmarksPath: filepath.Join(dataDir, "bookmarks.json"),
		projects:      make(map[string]*types.Project),
		bookmarks:     make(map[string]*types.SearchBookmark),
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, memerr.Wrap(memerr.Io, "create data directory", err)
	}

	pf, err := readJSON[projectsFile](s.projectsPath)
	if err != nil {
		return nil, err
	}
	for _, p := range pf.Projects {
		s.projects[p.ID] = p
	}

	bf, err := readJSON[bookmarksFile](s.bookmarksPath)
	if err != nil {
		return nil, err
	}
	for _, b := range bf.Bookmarks {
		s.bookmarks[b.ID] = b
	}

	return s, nil
}

func readJSON[T any](path string) (*T, error) {
	var out T
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &out, nil
		}
		return nil, memerr.Wrap(memerr.Io, "read "+path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, memerr.Wrap(memerr.Corruption, "parse "+path, err)
	}
	return &out, nil
}

func (s *Store) saveProjectsLocked() error {
	list := make([]*types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		list = append(list, p)
	}
	doc := projectsFile{Version: storeVersion, LastUpdated: time.Now(), Projects: list}
	return writeJSON(s.projectsPath, doc)
}

func (s *Store) saveBookmarksLocked() error {
	list := make([]*types.SearchBookmark, 0, len(s.bookmarks))
	for _, b := range s.bookmarks {
		list = append(list, b)
	}
	doc := bookmarksFile{Version: storeVersion, LastUpdated: time.Now(), Bookmarks: list}
	return writeJSON(s.bookmarksPath, doc)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return memerr.Wrap(memerr.Internal, "marshal "+path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return memerr.Wrap(memerr.Io, "write "+path, err)
	}
	return nil
}

// CreateProject validates p, enforces a case-insensitive unique name, stamps
// timestamps, and persists it.
func (s *Store) CreateProject(p *types.Project) error {
	if err := p.Validate(); err != nil {
		return memerr.Wrap(memerr.Validation, "invalid project", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.projects {
		if strings.EqualFold(existing.Name, p.Name) {
			return memerr.New(memerr.Validation, "project name already in use")
		}
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.projects[p.ID] = p

	return s.saveProjectsLocked()
}

// GetProject returns the project with id, or a NotFound error.
func (s *Store) GetProject(id string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, memerr.New(memerr.NotFound, "project not found: "+id)
	}
	return p, nil
}

// ListProjects returns all projects, ordered by name.
func (s *Store) ListProjects() []*types.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sortProjectsByName(out)
	return out
}

// DeleteProject removes a project by id. Delete is idempotent: deleting an
// absent project is not an error, per the propagation policy.
func (s *Store) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return nil
	}
	delete(s.projects, id)
	return s.saveProjectsLocked()
}

// TouchMemory increments a project's memory count and last-accessed time.
// It is a no-op if the project does not exist, since the core's ingest path
// should never fail an ingest over a dangling project_id.
func (s *Store) TouchMemory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	p.MemoryCount++
	p.LastAccessed = time.Now()
	p.UpdatedAt = p.LastAccessed
	return s.saveProjectsLocked()
}

// CreateBookmark validates b and persists it.
func (s *Store) CreateBookmark(b *types.SearchBookmark) error {
	if err := b.Validate(); err != nil {
		return memerr.Wrap(memerr.Validation, "invalid bookmark", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bookmarks[b.ID] = b
	return s.saveBookmarksLocked()
}

// ListBookmarks returns all bookmarks, ordered by name.
func (s *Store) ListBookmarks() []*types.SearchBookmark {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.SearchBookmark, 0, len(s.bookmarks))
	for _, b := range s.bookmarks {
		out = append(out, b)
	}
	sortBookmarksByName(out)
	return out
}

// UseBookmark records a use (bumping usage_count and last_used) and returns
// the bookmark so the caller can run its saved query.
func (s *Store) UseBookmark(id string) (*types.SearchBookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookmarks[id]
	if !ok {
		return nil, memerr.New(memerr.NotFound, "bookmark not found: "+id)
	}
	b.UsageCount++
	b.LastUsed = time.Now()

	if err := s.saveBookmarksLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

func sortProjectsByName(projects []*types.Project) {
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
}

func sortBookmarksByName(bookmarks []*types.SearchBookmark) {
	sort.Slice(bookmarks, func(i, j int) bool { return bookmarks[i].Name < bookmarks[j].Name })
}
