package cas

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s := NewFSStoreOnFilesystem(memfs.New())
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestPutIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	content := []byte("hello world")
	h := hash.Sum(content)

	require.NoError(t, s.Put(ctx, h, bytes.NewReader(content)))
	require.NoError(t, s.Put(ctx, h, bytes.NewReader(content))) // idempotent

	ok, err := s.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutIntegrityMismatchRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wrongHash := hash.Sum([]byte("not this"))

	err := s.Put(ctx, wrongHash, bytes.NewReader([]byte("hello world")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.IntegrityMismatch))

	ok, _ := s.Exists(ctx, wrongHash)
	assert.False(t, ok, "a failed put must not leave a blob visible under the wrong hash")
}

func TestChunkedPutAndAssemble(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	full := []byte("0123456789abcdef0123456789abcdef")
	h := hash.Sum(full)

	chunks := [][]byte{full[:10], full[10:20], full[20:]}
	for i, c := range chunks {
		require.NoError(t, s.PutChunk(ctx, h, i, c))
	}
	require.NoError(t, s.Assemble(ctx, h, len(chunks), true))

	r, err := s.Open(ctx, h)
	require.NoError(t, err)
	defer r.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, full, buf.Bytes())
}

func TestAssembleIntegrityMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	h := hash.Sum([]byte("expected"))
	require.NoError(t, s.PutChunk(ctx, h, 0, []byte("not expected")))

	err := s.Assemble(ctx, h, 1, false)
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.IntegrityMismatch))
}

func TestGetRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	content := []byte("0123456789")
	h := hash.Sum(content)
	require.NoError(t, s.Put(ctx, h, bytes.NewReader(content)))

	b, err := s.GetRange(ctx, h, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("3456"), b)
}

func TestCopyToMaterializesWorkingCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	content := []byte("row data")
	h := hash.Sum(content)
	require.NoError(t, s.Put(ctx, h, bytes.NewReader(content)))

	dest := filepath.Join(t.TempDir(), "nested", "a.csv")
	require.NoError(t, s.CopyTo(ctx, h, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Open(ctx, hash.Sum([]byte("nope")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.NotFound))
}

func TestDeleteThenList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := hash.Sum([]byte("a"))
	b := hash.Sum([]byte("b"))
	require.NoError(t, s.Put(ctx, a, bytes.NewReader([]byte("a"))))
	require.NoError(t, s.Put(ctx, b, bytes.NewReader([]byte("b"))))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.Delete(ctx, a))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, b, list[0])
}
