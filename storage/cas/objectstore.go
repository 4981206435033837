package cas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

// ObjectStore is the HTTP object-store CAS backend of §4.1, for
// deployments that keep blobs in a remote object store reachable over
// plain HTTP PUT/GET/DELETE (e.g. an S3-compatible gateway) rather than
// on local disk. The examples pack carries no object-storage SDK, so
// this talks to the store the same way backend/http/http.go talks to
// clients: raw net/http, one verb per operation, no framework.
//
// Keys follow prefix + "/" + hash for whole blobs and
// prefix + "/" + hash + "/chunks/" + index for chunks. Unlike FSStore,
// keys are not sharded by a hash-prefix directory.
type ObjectStore struct {
	baseURL string
	client  *http.Client
}

// NewObjectStore opens an HTTP object-store backend rooted at baseURL
// (e.g. "https://objects.example.com/tabvc-blobs"). client may be nil,
// in which case http.DefaultClient is used.
func NewObjectStore(baseURL string, client *http.Client) *ObjectStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &ObjectStore{baseURL: baseURL, client: client}
}

var _ Store = (*ObjectStore)(nil)

func (s *ObjectStore) Init(ctx context.Context) error {
	return nil
}

func (s *ObjectStore) blobURL(h hash.Hash) string {
	return fmt.Sprintf("%s/%s", s.baseURL, h.String())
}

func (s *ObjectStore) chunkURL(h hash.Hash, index int) string {
	return fmt.Sprintf("%s/%s/chunks/%08d", s.baseURL, h.String(), index)
}

func (s *ObjectStore) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "build request %s %s", method, url)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "%s %s", method, url)
	}
	return resp, nil
}

func (s *ObjectStore) put(ctx context.Context, url string, body []byte) error {
	resp, err := s.do(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return tabvcerr.New(tabvcerr.IO, "PUT %s: unexpected status %s", url, resp.Status)
	}
	return nil
}

func (s *ObjectStore) Put(ctx context.Context, h hash.Hash, r io.Reader) error {
	if ok, _ := s.Exists(ctx, h); ok {
		return nil
	}
	buf, hasher := new(bytes.Buffer), hash.New()
	if _, err := io.Copy(io.MultiWriter(buf, hasher), r); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "read blob %s", h.Short())
	}
	var sum hash.Hash
	copy(sum[:], hasher.Sum(nil))
	if sum != h {
		return tabvcerr.New(tabvcerr.IntegrityMismatch, "put %s: computed %s", h.Short(), sum.Short())
	}
	return s.put(ctx, s.blobURL(h), buf.Bytes())
}

func (s *ObjectStore) PutChunk(ctx context.Context, h hash.Hash, index int, p []byte) error {
	return s.put(ctx, s.chunkURL(h, index), p)
}

// Assemble downloads every numbered chunk, concatenates and verifies
// them locally, then PUTs the whole blob and (if cleanup) DELETEs the
// chunks. The object store itself has no server-side concatenation
// verb to call.
func (s *ObjectStore) Assemble(ctx context.Context, h hash.Hash, chunkCount int, cleanup bool) error {
	buf, hasher := new(bytes.Buffer), hash.New()
	for i := 0; i < chunkCount; i++ {
		resp, err := s.do(ctx, http.MethodGet, s.chunkURL(h, i), nil)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return tabvcerr.New(tabvcerr.NotFound, "missing chunk %s/%d", h.Short(), i)
		}
		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return tabvcerr.New(tabvcerr.IO, "GET chunk %s/%d: unexpected status %s", h.Short(), i, resp.Status)
		}
		_, err = io.Copy(io.MultiWriter(buf, hasher), resp.Body)
		resp.Body.Close()
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "assemble %s", h.Short())
		}
	}

	var sum hash.Hash
	copy(sum[:], hasher.Sum(nil))
	if sum != h {
		return tabvcerr.New(tabvcerr.IntegrityMismatch, "assemble %s: computed %s", h.Short(), sum.Short())
	}
	if err := s.put(ctx, s.blobURL(h), buf.Bytes()); err != nil {
		return err
	}

	if cleanup {
		for i := 0; i < chunkCount; i++ {
			resp, err := s.do(ctx, http.MethodDelete, s.chunkURL(h, i), nil)
			if err != nil {
				continue
			}
			resp.Body.Close()
		}
	}
	return nil
}

type httpReadSeekCloser struct {
	body []byte
	pos  int64
}

func (r *httpReadSeekCloser) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.body)) {
		return 0, io.EOF
	}
	n := copy(p, r.body[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *httpReadSeekCloser) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = r.pos
	case io.SeekEnd:
		base = int64(len(r.body))
	}
	r.pos = base + offset
	return r.pos, nil
}

func (r *httpReadSeekCloser) Close() error { return nil }

func (s *ObjectStore) Open(ctx context.Context, h hash.Hash) (ReadSeekCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, s.blobURL(h), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, tabvcerr.New(tabvcerr.NotFound, "blob %s", h.Short())
	}
	if resp.StatusCode/100 != 2 {
		return nil, tabvcerr.New(tabvcerr.IO, "GET %s: unexpected status %s", h.Short(), resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read blob %s", h.Short())
	}
	return &httpReadSeekCloser{body: body}, nil
}

func (s *ObjectStore) GetRange(ctx context.Context, h hash.Hash, offset, length int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.blobURL(h), nil)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "build range request %s", h.Short())
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "range get %s", h.Short())
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, tabvcerr.New(tabvcerr.NotFound, "blob %s", h.Short())
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, tabvcerr.New(tabvcerr.IO, "range GET %s: unexpected status %s", h.Short(), resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read range %s", h.Short())
	}
	if resp.StatusCode == http.StatusOK && int64(len(body)) > length {
		end := offset + length
		if end > int64(len(body)) {
			end = int64(len(body))
		}
		if offset > int64(len(body)) {
			offset = int64(len(body))
		}
		body = body[offset:end]
	}
	return body, nil
}

func (s *ObjectStore) CopyTo(ctx context.Context, h hash.Hash, destPath string) error {
	src, err := s.Open(ctx, h)
	if err != nil {
		return err
	}
	defer src.Close()

	dir := destPath[:max(0, lastSlash(destPath))]
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", dir)
		}
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create %s", destPath)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "copy blob %s to %s", h.Short(), destPath)
	}
	return nil
}

func (s *ObjectStore) Exists(ctx context.Context, h hash.Hash) (bool, error) {
	resp, err := s.do(ctx, http.MethodHead, s.blobURL(h), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode/100 != 2 {
		return false, tabvcerr.New(tabvcerr.IO, "HEAD %s: unexpected status %s", h.Short(), resp.Status)
	}
	return true, nil
}

func (s *ObjectStore) Delete(ctx context.Context, h hash.Hash) error {
	resp, err := s.do(ctx, http.MethodDelete, s.blobURL(h), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return tabvcerr.New(tabvcerr.IO, "DELETE %s: unexpected status %s", h.Short(), resp.Status)
	}
	return nil
}

// List has no cheap remote equivalent over plain HTTP PUT/GET/DELETE
// (no bucket-listing verb is assumed of the gateway); object stores are
// enumerated out of band by the deployment's own inventory tooling.
func (s *ObjectStore) List(ctx context.Context) ([]hash.Hash, error) {
	return nil, tabvcerr.New(tabvcerr.IO, "object store backend does not support List")
}
