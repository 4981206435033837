package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/internal/logging"
	"github.com/tabvc/tabvc/repo"
)

func TestShardLayoutMigrationUpAndDown(t *testing.T) {
	dir := t.TempDir()
	rp, err := repo.Init(dir, nil, logging.Discard())
	require.NoError(t, err)
	rp.Close()

	versionsDir := filepath.Join(dir, versionsDirName)
	require.NoError(t, os.MkdirAll(versionsDir, 0o755))
	flatName := "abcdef0123456789"
	require.NoError(t, os.WriteFile(filepath.Join(versionsDir, flatName), []byte("blob"), 0o644))

	runner := NewRunner(logging.Discard(), ShardLayoutMigration{})
	require.NoError(t, runner.Up(context.Background(), dir))

	shardedPath := filepath.Join(versionsDir, flatName[:shardPrefixLen], flatName[shardPrefixLen:])
	data, err := os.ReadFile(shardedPath)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))

	require.NoError(t, runner.Down(context.Background(), dir))
	data, err = os.ReadFile(filepath.Join(versionsDir, flatName))
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))
}

func TestUpAllLogsAndContinuesPastFailure(t *testing.T) {
	root := t.TempDir()
	goodDir := filepath.Join(root, "ns", "good")
	badDir := filepath.Join(root, "ns", "bad")

	rp, err := repo.Init(goodDir, nil, logging.Discard())
	require.NoError(t, err)
	rp.Close()

	// bad is a real repository whose migration lock is already held, so
	// its Up fails with LockContention; UpAll must log that and still
	// migrate good, which listRepos visits after bad.
	rpBad, err := repo.Init(badDir, nil, logging.Discard())
	require.NoError(t, err)
	rpBad.Close()
	require.NoError(t, os.WriteFile(filepath.Join(badDir, lockFileName), []byte("held\n"), 0o644))

	goodVersions := filepath.Join(goodDir, versionsDirName)
	require.NoError(t, os.MkdirAll(goodVersions, 0o755))
	flatName := "abcdef0123456789"
	require.NoError(t, os.WriteFile(filepath.Join(goodVersions, flatName), []byte("blob"), 0o644))

	runner := NewRunner(logging.Discard(), ShardLayoutMigration{})
	require.NoError(t, runner.UpAll(context.Background(), root))

	_, err = os.Stat(filepath.Join(goodVersions, flatName[:shardPrefixLen], flatName[shardPrefixLen:]))
	require.NoError(t, err)
}
