package cas

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

// shardLen is the number of leading hex characters used to shard
// blobs across directories, matching §6's on-disk layout
// (versions/files/{first_2}/{remainder}).
const shardLen = 2

// FSStore is the local filesystem CAS backend of §4.1, sharded by the
// first shardLen hex characters of the hash to avoid huge directories.
// Grounded on storage/filesystem/dotgit/writers.go's pattern of
// writing to a temp file and renaming into place so a reader never
// observes a partial write.
type FSStore struct {
	fs billy.Filesystem
}

// NewFSStore opens a local CAS backend rooted at root.
func NewFSStore(root string) *FSStore {
	return &FSStore{fs: osfs.New(root)}
}

// NewFSStoreOnFilesystem opens a local CAS backend on an arbitrary
// billy.Filesystem, so tests can use an in-memory one.
func NewFSStoreOnFilesystem(fs billy.Filesystem) *FSStore {
	return &FSStore{fs: fs}
}

var _ Store = (*FSStore)(nil)

func (s *FSStore) Init(ctx context.Context) error {
	return s.mkdirAll(".")
}

func (s *FSStore) mkdirAll(p string) error {
	if err := s.fs.MkdirAll(p, 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", p)
	}
	return nil
}

func (s *FSStore) blobPath(h hash.Hash) string {
	hex := h.String()
	return s.fs.Join(hex[:shardLen], hex[shardLen:])
}

func (s *FSStore) chunkPath(h hash.Hash, index int) string {
	return s.fs.Join(s.blobDir(h), "chunks", fmt.Sprintf("%08d", index))
}

func (s *FSStore) blobDir(h hash.Hash) string {
	hex := h.String()
	return s.fs.Join(hex[:shardLen], hex[shardLen:]+".d")
}

func (s *FSStore) Put(ctx context.Context, h hash.Hash, r io.Reader) error {
	if ok, _ := s.Exists(ctx, h); ok {
		return nil
	}
	p := s.blobPath(h)
	if err := s.mkdirAll(h.String()[:shardLen]); err != nil {
		return err
	}

	tmp, err := s.fs.TempFile(h.String()[:shardLen], "tmp_obj_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp file")
	}

	hasher := hash.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), r); err != nil {
		tmp.Close()
		s.fs.Remove(tmp.Name())
		return tabvcerr.Wrap(tabvcerr.IO, err, "write blob %s", h.Short())
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close temp file")
	}

	var sum hash.Hash
	copy(sum[:], hasher.Sum(nil))
	if sum != h {
		s.fs.Remove(tmp.Name())
		return tabvcerr.New(tabvcerr.IntegrityMismatch, "put %s: computed %s", h.Short(), sum.Short())
	}

	if err := s.fs.Rename(tmp.Name(), p); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "rename into place %s", h.Short())
	}
	return nil
}

func (s *FSStore) PutChunk(ctx context.Context, h hash.Hash, index int, p []byte) error {
	cp := s.chunkPath(h, index)
	if err := s.mkdirAll(s.fs.Join(s.blobDir(h), "chunks")); err != nil {
		return err
	}
	f, err := s.fs.Create(cp)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create chunk %s/%d", h.Short(), index)
	}
	defer f.Close()
	if _, err := f.Write(p); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "write chunk %s/%d", h.Short(), index)
	}
	return nil
}

func (s *FSStore) Assemble(ctx context.Context, h hash.Hash, chunkCount int, cleanup bool) error {
	if err := s.mkdirAll(h.String()[:shardLen]); err != nil {
		return err
	}
	tmp, err := s.fs.TempFile(h.String()[:shardLen], "tmp_asm_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp assemble file")
	}

	hasher := hash.New()
	for i := 0; i < chunkCount; i++ {
		cf, err := s.fs.Open(s.chunkPath(h, i))
		if err != nil {
			tmp.Close()
			s.fs.Remove(tmp.Name())
			return tabvcerr.Wrap(tabvcerr.NotFound, err, "missing chunk %s/%d", h.Short(), i)
		}
		_, err = io.Copy(io.MultiWriter(tmp, hasher), cf)
		cf.Close()
		if err != nil {
			tmp.Close()
			s.fs.Remove(tmp.Name())
			return tabvcerr.Wrap(tabvcerr.IO, err, "assemble %s", h.Short())
		}
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close assemble temp file")
	}

	var sum hash.Hash
	copy(sum[:], hasher.Sum(nil))
	if sum != h {
		s.fs.Remove(tmp.Name())
		return tabvcerr.New(tabvcerr.IntegrityMismatch, "assemble %s: computed %s", h.Short(), sum.Short())
	}

	p := s.blobPath(h)
	if err := s.mkdirAll(h.String()[:shardLen]); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp.Name(), p); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "rename assembled blob %s", h.Short())
	}

	if cleanup {
		for i := 0; i < chunkCount; i++ {
			s.fs.Remove(s.chunkPath(h, i))
		}
	}
	return nil
}

func (s *FSStore) Open(ctx context.Context, h hash.Hash) (ReadSeekCloser, error) {
	f, err := s.fs.Open(s.blobPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tabvcerr.New(tabvcerr.NotFound, "blob %s", h.Short())
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "open blob %s", h.Short())
	}
	return f, nil
}

func (s *FSStore) GetRange(ctx context.Context, h hash.Hash, offset, length int64) ([]byte, error) {
	f, err := s.Open(ctx, h)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "seek blob %s", h.Short())
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read range blob %s", h.Short())
	}
	return buf[:n], nil
}

func (s *FSStore) CopyTo(ctx context.Context, h hash.Hash, destPath string) error {
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

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return i
		}
	}
	return -1
}

func (s *FSStore) Exists(ctx context.Context, h hash.Hash) (bool, error) {
	_, err := s.fs.Stat(s.blobPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, tabvcerr.Wrap(tabvcerr.IO, err, "stat blob %s", h.Short())
	}
	return true, nil
}

func (s *FSStore) Delete(ctx context.Context, h hash.Hash) error {
	if err := s.fs.Remove(s.blobPath(h)); err != nil && !os.IsNotExist(err) {
		return tabvcerr.Wrap(tabvcerr.IO, err, "delete blob %s", h.Short())
	}
	return nil
}

func (s *FSStore) List(ctx context.Context) ([]hash.Hash, error) {
	var out []hash.Hash
	shards, err := s.fs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "list shards")
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != shardLen {
			continue
		}
		entries, err := s.fs.ReadDir(shard.Name())
		if err != nil {
			return nil, tabvcerr.Wrap(tabvcerr.IO, err, "list shard %s", shard.Name())
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			h, err := hash.FromHex(shard.Name() + e.Name())
			if err != nil {
				continue
			}
			out = append(out, h)
		}
	}
	return out, nil
}
