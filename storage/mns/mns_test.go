package mns

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/tabvcerr"
)

func TestShardWriteAndLookup(t *testing.T) {
	dir := t.TempDir()
	w := NewShardWriter(dir)

	f := &objects.FileNode{Name: "a.csv", Length: 3}
	f.Finalize()
	d := &objects.DirectoryNode{Name: "root"}
	d.Finalize()

	w.Add(f.Hash, objects.KindFile, f.Encode())
	w.Add(d.Hash, objects.KindDirectory, d.Encode())
	assert.Equal(t, 2, w.Len())

	name, err := w.Finalize()
	require.NoError(t, err)
	require.NotEmpty(t, name)

	sh, err := OpenShard(name, filepath.Join(dir, name))
	require.NoError(t, err)
	defer sh.Close()

	kind, payload, ok := sh.Lookup(f.Hash)
	require.True(t, ok)
	assert.Equal(t, objects.KindFile, kind)
	decoded, err := objects.DecodeFile(payload)
	require.NoError(t, err)
	assert.Equal(t, f.Name, decoded.Name)

	assert.Len(t, sh.Hashes(), 2)
}

func TestShardDeduplicatesWithinWrite(t *testing.T) {
	w := NewShardWriter(t.TempDir())
	h := hash.Sum([]byte("x"))
	w.Add(h, objects.KindFile, []byte("payload"))
	w.Add(h, objects.KindFile, []byte("payload"))
	assert.Equal(t, 1, w.Len())
}

func TestEmptyWriterIsNoop(t *testing.T) {
	w := NewShardWriter(t.TempDir())
	name, err := w.Finalize()
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestStoreAcrossMultipleShards(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	f1 := &objects.FileNode{Name: "one"}
	f1.Finalize()
	w1 := store.NewWriter()
	w1.Add(f1.Hash, objects.KindFile, f1.Encode())
	require.NoError(t, store.Commit(w1))

	f2 := &objects.FileNode{Name: "two"}
	f2.Finalize()
	w2 := store.NewWriter()
	w2.Add(f2.Hash, objects.KindFile, f2.Encode())
	require.NoError(t, store.Commit(w2))

	assert.Equal(t, 2, store.ShardCount())
	assert.True(t, store.Exists(f1.Hash))
	assert.True(t, store.Exists(f2.Hash))

	n, err := store.Get(f1.Hash)
	require.NoError(t, err)
	fn, ok := n.(*objects.FileNode)
	require.True(t, ok)
	assert.Equal(t, "one", fn.Name)
}

func TestStoreReopensExistingShards(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	f := &objects.FileNode{Name: "persisted"}
	f.Finalize()
	w := store.NewWriter()
	w.Add(f.Hash, objects.KindFile, f.Encode())
	require.NoError(t, store.Commit(w))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Exists(f.Hash))
}

func TestStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(hash.Sum([]byte("missing")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.NotFound))
}

func TestDirHashesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	commitID := hash.Sum([]byte("commit-1"))
	d := NewDirHashes()
	d.Set("data/train.csv", hash.Sum([]byte("train")))
	d.Set("data/test.csv", hash.Sum([]byte("test")))
	require.NoError(t, store.WriteDirHashes(commitID, d))

	loaded, err := store.ReadDirHashes(commitID)
	require.NoError(t, err)
	h, ok := loaded.Get("data/train.csv")
	require.True(t, ok)
	assert.Equal(t, hash.Sum([]byte("train")), h)
	assert.Equal(t, []string{"data/test.csv", "data/train.csv"}, loaded.Paths())
}

func TestDirHashesMissingCommit(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.ReadDirHashes(hash.Sum([]byte("nope")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.NotFound))
}
