package projectstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/memerr"
	"memoryvault/pkg/types"
)

func TestCreateAndGetProject(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	p := &types.Project{ID: "p1", Name: "acme"}
	require.NoError(t, s.CreateProject(p))

	got, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateProjectRejectsDuplicateNameCaseInsensitive(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.CreateProject(&types.Project{ID: "p1", Name: "Acme"}))
	err = s.CreateProject(&types.Project{ID: "p2", Name: "ACME"})
	assert.Error(t, err)
	assert.Equal(t, memerr.Validation, memerr.KindOf(err))
}

func TestGetProjectNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetProject("missing")
	assert.Equal(t, memerr.NotFound, memerr.KindOf(err))
}

func TestDeleteProjectIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.CreateProject(&types.Project{ID: "p1", Name: "acme"}))
	require.NoError(t, s.DeleteProject("p1"))
	require.NoError(t, s.DeleteProject("p1"))

	_, err = s.GetProject("p1")
	assert.Equal(t, memerr.NotFound, memerr.KindOf(err))
}

func TestListProjectsOrderedByName(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.CreateProject(&types.Project{ID: "p1", Name: "zeta"}))
	require.NoError(t, s.CreateProject(&types.Project{ID: "p2", Name: "alpha"}))

	list := s.ListProjects()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestTouchMemoryIncrementsCountAndIgnoresMissingProject(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.CreateProject(&types.Project{ID: "p1", Name: "acme"}))
	require.NoError(t, s.TouchMemory("p1"))

	got, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MemoryCount)

	assert.NoError(t, s.TouchMemory("missing"))
}

func TestProjectsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s1.CreateProject(&types.Project{ID: "p1", Name: "acme"}))

	s2, err := Open(dir)
	require.NoError(t, err)
	got, err := s2.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
}

func TestOpenOnCorruptFileReturnsCorruptionError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeRaw(filepath.Join(dir, "projects.json"), "not json"))

	_, err := Open(dir)
	assert.Equal(t, memerr.Corruption, memerr.KindOf(err))
}

func TestBookmarkCreateListUse(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	b := &types.SearchBookmark{ID: "b1", Name: "deploys", Query: "deployment runbook"}
	require.NoError(t, s.CreateBookmark(b))

	list := s.ListBookmarks()
	require.Len(t, list, 1)
	assert.Equal(t, "deploys", list[0].Name)

	used, err := s.UseBookmark("b1")
	require.NoError(t, err)
	assert.Equal(t, 1, used.UsageCount)
	assert.False(t, used.LastUsed.IsZero())
}

func TestUseBookmarkNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.UseBookmark("missing")
	assert.Equal(t, memerr.NotFound, memerr.KindOf(err))
}

func TestCreateBookmarkRejectsInvalid(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	err = s.CreateBookmark(&types.SearchBookmark{ID: "b1"})
	assert.Error(t, err)
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
