package chunker

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/storage/cas"
)

func writeRandomFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "source.bin")
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestCAS(t *testing.T) cas.Store {
	t.Helper()
	s := cas.NewFSStore(t.TempDir())
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestPackUnpackRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestCAS(t)
	src := writeRandomFile(t, 250*1024)

	m, err := Pack(ctx, src, store, 64*1024)
	require.NoError(t, err)
	assert.Equal(t, 4, m.ChunkCount()) // 250KiB / 64KiB -> 4 chunks, last partial

	encoded := m.Encode()
	decoded, err := DecodeManifest(encoded)
	require.NoError(t, err)
	assert.Equal(t, m.ChunkHashes, decoded.ChunkHashes)

	dest := filepath.Join(t.TempDir(), "rebuilt.bin")
	require.NoError(t, Unpack(ctx, decoded, store, dest, 4))

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPackSkipsExistingChunks(t *testing.T) {
	ctx := context.Background()
	store := newTestCAS(t)
	src := writeRandomFile(t, 10*1024)

	_, err := Pack(ctx, src, store, 4*1024)
	require.NoError(t, err)
	// second pack of the same content must not error even though every
	// chunk already exists.
	_, err = Pack(ctx, src, store, 4*1024)
	require.NoError(t, err)
}

func TestUnpackMissingChunkFails(t *testing.T) {
	ctx := context.Background()
	store := newTestCAS(t)
	src := writeRandomFile(t, 1024)

	m, err := Pack(ctx, src, store, 512)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, m.ChunkHashes[0]))

	dest := filepath.Join(t.TempDir(), "out.bin")
	err = Unpack(ctx, m, store, dest, 2)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "failed unpack must not leave a partial file behind")
}

func TestUnpackEmptyManifest(t *testing.T) {
	ctx := context.Background()
	store := newTestCAS(t)
	m := &Manifest{Filename: "empty.bin"}

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, Unpack(ctx, m, store, dest, 4))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Empty(t, got)
}
