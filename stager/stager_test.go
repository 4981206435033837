package stager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/storage/cas"
)

type fakeHead struct {
	m map[string]hash.Hash
}

func (f *fakeHead) Hash(path string) (hash.Hash, bool) {
	h, ok := f.m[path]
	return h, ok
}

func newEnv(t *testing.T) (*Stager, string, cas.Store) {
	t.Helper()
	workingDir := t.TempDir()
	stateDir := filepath.Join(workingDir, RepoDirName)
	store := cas.NewFSStore(filepath.Join(workingDir, ".cas"))
	require.NoError(t, store.Init(context.Background()))
	s, err := Open(stateDir, workingDir, store)
	require.NoError(t, err)
	return s, workingDir, store
}

func TestAddNewFileIsAdded(t *testing.T) {
	s, dir, _ := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("a,b\n1,2"), 0o644))

	head := &fakeHead{m: map[string]hash.Hash{}}
	require.NoError(t, s.Add(context.Background(), "a.csv", head))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Added, entries[0].Status)
	assert.Equal(t, "a.csv", entries[0].Path)
}

func TestAddModifiedFile(t *testing.T) {
	s, dir, _ := newEnv(t)
	priorHash := hash.Sum([]byte("old content"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("new content"), 0o644))

	head := &fakeHead{m: map[string]hash.Hash{"a.csv": priorHash}}
	require.NoError(t, s.Add(context.Background(), "a.csv", head))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Modified, entries[0].Status)
}

func TestAddIdenticalToHeadUnstages(t *testing.T) {
	s, dir, _ := newEnv(t)
	content := []byte("same content")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), content, 0o644))
	head := &fakeHead{m: map[string]hash.Hash{"a.csv": hash.Sum(content)}}

	require.NoError(t, s.Add(context.Background(), "a.csv", head))
	assert.Empty(t, s.Entries())
}

func TestAddRecursesDirectoryExcludingRepoDir(t *testing.T) {
	s, dir, _ := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "a.csv"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "b.csv"), []byte("b"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, RepoDirName, "internal"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, RepoDirName, "internal", "stage.bin"), []byte("x"), 0o644))

	head := &fakeHead{m: map[string]hash.Hash{}}
	require.NoError(t, s.Add(context.Background(), ".", head))

	entries := s.Entries()
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotContains(t, e.Path, RepoDirName)
	}
}

func TestRemoveStagedOnlyKeepsFile(t *testing.T) {
	s, dir, _ := newEnv(t)
	path := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	head := &fakeHead{m: map[string]hash.Hash{"a.csv": hash.Sum([]byte("old"))}}

	require.NoError(t, s.Remove("a.csv", false, true, head))
	_, err := os.Stat(path)
	require.NoError(t, err, "staged_only removal must not delete the working copy file")

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Removed, entries[0].Status)
}

func TestRemoveDirectoryRequiresRecursive(t *testing.T) {
	s, dir, _ := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "a.csv"), []byte("a"), 0o644))

	head := &fakeHead{m: map[string]hash.Hash{}}
	err := s.Remove("data", false, false, head)
	require.Error(t, err)
}

func TestRestoreAddedDropsEntry(t *testing.T) {
	s, dir, _ := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("a"), 0o644))
	head := &fakeHead{m: map[string]hash.Hash{}}
	require.NoError(t, s.Add(context.Background(), "a.csv", head))

	materialized := false
	err := s.Restore(context.Background(), "a.csv", head, func(ctx context.Context, path string, h hash.Hash) error {
		materialized = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, materialized)
	assert.Empty(t, s.Entries())
}

func TestRestoreModifiedRematerializes(t *testing.T) {
	s, dir, _ := newEnv(t)
	priorHash := hash.Sum([]byte("original"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("changed"), 0o644))
	head := &fakeHead{m: map[string]hash.Hash{"a.csv": priorHash}}
	require.NoError(t, s.Add(context.Background(), "a.csv", head))

	var gotHash hash.Hash
	err := s.Restore(context.Background(), "a.csv", head, func(ctx context.Context, path string, h hash.Hash) error {
		gotHash = h
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, priorHash, gotHash)
}

func TestClearDropsEverything(t *testing.T) {
	s, dir, _ := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("a"), 0o644))
	head := &fakeHead{m: map[string]hash.Hash{}}
	require.NoError(t, s.Add(context.Background(), "a.csv", head))
	require.NoError(t, s.Clear())
	assert.Empty(t, s.Entries())
}

func TestStatusReportsUntrackedAndModifiedUnstaged(t *testing.T) {
	s, dir, _ := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "untracked.csv"), []byte("u"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracked.csv"), []byte("new bytes"), 0o644))

	head := &fakeHead{m: map[string]hash.Hash{"tracked.csv": hash.Sum([]byte("old bytes"))}}
	status, err := s.Status(head)
	require.NoError(t, err)
	assert.Contains(t, status.Untracked, "untracked.csv")
	assert.Contains(t, status.ModifiedUnstaged, "tracked.csv")
}

func TestPersistenceSurvivesReopen(t *testing.T) {
	workingDir := t.TempDir()
	stateDir := filepath.Join(workingDir, RepoDirName)
	store := cas.NewFSStore(filepath.Join(workingDir, ".cas"))
	require.NoError(t, store.Init(context.Background()))
	s, err := Open(stateDir, workingDir, store)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workingDir, "a.csv"), []byte("a"), 0o644))
	head := &fakeHead{m: map[string]hash.Hash{}}
	require.NoError(t, s.Add(context.Background(), "a.csv", head))

	reopened, err := Open(stateDir, workingDir, store)
	require.NoError(t, err)
	assert.Len(t, reopened.Entries(), 1)
}
