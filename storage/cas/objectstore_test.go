package cas

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

// memObjectServer is a minimal in-memory stand-in for an S3-compatible
// gateway, just enough to exercise ObjectStore's PUT/GET/HEAD/DELETE
// and Range-header handling.
type memObjectServer struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectServer() *memObjectServer {
	return &memObjectServer{objects: map[string][]byte{}}
}

func (s *memObjectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		s.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := s.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	case http.MethodHead:
		if _, ok := s.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(s.objects, key)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestObjectStore(t *testing.T) *ObjectStore {
	t.Helper()
	srv := httptest.NewServer(newMemObjectServer())
	t.Cleanup(srv.Close)
	return NewObjectStore(srv.URL, srv.Client())
}

func TestObjectStorePutOpenDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestObjectStore(t)
	content := []byte("hello over http")
	h := hash.Sum(content)

	require.NoError(t, s.Put(ctx, h, bytes.NewReader(content)))

	ok, err := s.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := s.Open(ctx, h)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, s.Delete(ctx, h))
	ok, err = s.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObjectStorePutIntegrityMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestObjectStore(t)
	wrongHash := hash.Sum([]byte("not this"))

	err := s.Put(ctx, wrongHash, bytes.NewReader([]byte("hello over http")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.IntegrityMismatch))
}

func TestObjectStoreChunkedAssemble(t *testing.T) {
	ctx := context.Background()
	s := newTestObjectStore(t)
	full := []byte("abcdefghij0123456789")
	h := hash.Sum(full)

	require.NoError(t, s.PutChunk(ctx, h, 0, full[:10]))
	require.NoError(t, s.PutChunk(ctx, h, 1, full[10:]))
	require.NoError(t, s.Assemble(ctx, h, 2, true))

	r, err := s.Open(ctx, h)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestObjectStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestObjectStore(t)
	_, err := s.Open(ctx, hash.Sum([]byte("absent")))
	require.Error(t, err)
	assert.True(t, tabvcerr.Is(err, tabvcerr.NotFound))
}

func TestObjectStoreGetRange(t *testing.T) {
	ctx := context.Background()
	s := newTestObjectStore(t)
	content := []byte("0123456789")
	h := hash.Sum(content)
	require.NoError(t, s.Put(ctx, h, bytes.NewReader(content)))

	b, err := s.GetRange(ctx, h, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("234"), b)
}
