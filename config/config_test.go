package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "main", cfg.DefaultBranch)
	require.Equal(t, config.BackendDisk, cfg.StorageBackend)
	require.Equal(t, int64(64*1024), cfg.ChunkSize)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SetRemote(config.Remote{Name: "origin", URL: "https://example.com/ns/repo", Token: "secret"})
	require.NoError(t, config.Save(dir, &cfg))

	loaded, err := config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, cfg.DefaultBranch, loaded.DefaultBranch)
	r, ok := loaded.Remote("origin")
	require.True(t, ok)
	require.Equal(t, "https://example.com/ns/repo", r.URL)
	require.Equal(t, "secret", r.Token)
}

func TestSetRemoteReplacesExisting(t *testing.T) {
	cfg := config.Default()
	cfg.SetRemote(config.Remote{Name: "origin", URL: "https://a"})
	cfg.SetRemote(config.Remote{Name: "origin", URL: "https://b"})
	require.Len(t, cfg.Remotes, 1)
	r, ok := cfg.Remote("origin")
	require.True(t, ok)
	require.Equal(t, "https://b", r.URL)
}

func TestRemoveRemote(t *testing.T) {
	cfg := config.Default()
	cfg.SetRemote(config.Remote{Name: "origin", URL: "https://a"})
	require.True(t, cfg.RemoveRemote("origin"))
	require.False(t, cfg.RemoveRemote("origin"))
	require.Empty(t, cfg.Remotes)
}
