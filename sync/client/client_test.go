package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/commitbuilder"
	"github.com/tabvc/tabvc/internal/logging"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/sync/server"
)

func newLocalRepo(t *testing.T, dir string) *repo.Repository {
	t.Helper()
	rp, err := repo.Init(dir, nil, logging.Discard())
	require.NoError(t, err)
	return rp
}

func TestPushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// server side: an empty repository the test pre-creates directly
	// against the Registry, mirroring what POST /repos would do.
	serverRoot := filepath.Join(root, "server")
	registry := server.NewRegistry(serverRoot, logging.Discard())
	_, err := registry.Create("acme", "widgets")
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewHandler(registry, logging.Discard()))
	defer ts.Close()

	// client side: a local repository with one committed file.
	clientDir := filepath.Join(root, "client")
	rp := newLocalRepo(t, clientDir)
	workingDir := filepath.Join(clientDir, "work")
	require.NoError(t, os.MkdirAll(workingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workingDir, "hello.txt"), []byte("hello world"), 0o644))

	st, err := rp.Stager(workingDir)
	require.NoError(t, err)
	head, err := rp.HeadLookup()
	require.NoError(t, err)
	require.NoError(t, st.Add(ctx, ".", head))

	commit, err := rp.Builder.Commit(ctx, st, commitbuilder.Request{
		Branch:    rp.Config.DefaultBranch,
		Message:   "initial",
		Author:    "tester",
		Email:     "tester@example.com",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	c := New(ts.URL, "acme", "widgets", "", nil, 0)

	var bytesDone, filesDone int64
	require.NoError(t, c.Push(ctx, rp, rp.Config.DefaultBranch, func(b, f int64) {
		bytesDone, filesDone = b, f
	}))
	assert.Greater(t, filesDone, int64(0))
	assert.Greater(t, bytesDone, int64(0))

	remoteHead, err := c.GetBranch(ctx, rp.Config.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, commit.Hash, remoteHead)

	// pulling side: a second, empty local repository.
	pullDir := filepath.Join(root, "pull")
	pullRepo := newLocalRepo(t, pullDir)
	pullWorkingDir := filepath.Join(root, "pull-work")

	c2 := New(ts.URL, "acme", "widgets", "", nil, 0)
	require.NoError(t, c2.Pull(ctx, pullRepo, rp.Config.DefaultBranch, true, pullWorkingDir, nil))

	got, err := pullRepo.Refs.GetBranch(rp.Config.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, commit.Hash, got)

	data, err := os.ReadFile(filepath.Join(pullWorkingDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFetchIsShallow(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	serverRoot := filepath.Join(root, "server")
	registry := server.NewRegistry(serverRoot, logging.Discard())
	_, err := registry.Create("acme", "widgets")
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewHandler(registry, logging.Discard()))
	defer ts.Close()

	clientDir := filepath.Join(root, "client")
	rp := newLocalRepo(t, clientDir)
	workingDir := filepath.Join(clientDir, "work")
	require.NoError(t, os.MkdirAll(workingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workingDir, "a.txt"), []byte("a"), 0o644))

	st, err := rp.Stager(workingDir)
	require.NoError(t, err)
	head, err := rp.HeadLookup()
	require.NoError(t, err)
	require.NoError(t, st.Add(ctx, ".", head))
	_, err = rp.Builder.Commit(ctx, st, commitbuilder.Request{
		Branch: rp.Config.DefaultBranch, Message: "m", Author: "t", Email: "t@example.com",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	c := New(ts.URL, "acme", "widgets", "", nil, 0)
	require.NoError(t, c.Push(ctx, rp, rp.Config.DefaultBranch, nil))

	fetchDir := filepath.Join(root, "fetch")
	fetchRepo := newLocalRepo(t, fetchDir)
	c2 := New(ts.URL, "acme", "widgets", "", nil, 0)
	require.NoError(t, c2.Fetch(ctx, fetchRepo, rp.Config.DefaultBranch, nil))

	_, err = os.Stat(filepath.Join(fetchDir, "a.txt"))
	assert.True(t, os.IsNotExist(err), "fetch must not materialize a working copy")
}
