// Package cas implements the Content-Addressed Chunk Store of §4.1: an
// immutable-blob store keyed by content hash, with sub-file chunk
// support so large transfers survive interruption.
//
// Storage backends are pluggable through one capability set (§9
// "Trait-object-flavored 'store' polymorphism ... expressed as a
// single capability set"); two concrete implementations are provided —
// a local filesystem backend (fsstore.go) and an HTTP object-store
// backend (objectstore.go) — selected by a config string, never a
// runtime type switch.
package cas

import (
	"context"
	"io"

	"github.com/tabvc/tabvc/hash"
)

// Store is the capability set every CAS backend implements.
type Store interface {
	// Init prepares the backend's root location (creating directories,
	// verifying connectivity), idempotently.
	Init(ctx context.Context) error

	// Put stores p under hash, succeeding without rewriting if hash
	// already exists. Writes are atomic.
	Put(ctx context.Context, h hash.Hash, r io.Reader) error

	// PutChunk stores one numbered chunk of a future blob identified by
	// the blob's eventual hash.
	PutChunk(ctx context.Context, h hash.Hash, index int, p []byte) error

	// Assemble verifies all numbered chunks of h are present, writes
	// the concatenated blob under h, verifies the resulting hash, and
	// (if cleanup) deletes the chunks. Returns IntegrityMismatch if the
	// computed hash differs from h.
	Assemble(ctx context.Context, h hash.Hash, chunkCount int, cleanup bool) error

	// Open returns a seekable reader over the blob stored under h.
	Open(ctx context.Context, h hash.Hash) (ReadSeekCloser, error)

	// GetRange reads length bytes starting at offset from the blob
	// stored under h.
	GetRange(ctx context.Context, h hash.Hash, offset, length int64) ([]byte, error)

	// CopyTo materializes the blob stored under h at destPath on the
	// local filesystem (the caller's working copy or sandbox).
	CopyTo(ctx context.Context, h hash.Hash, destPath string) error

	// Exists reports whether h is stored.
	Exists(ctx context.Context, h hash.Hash) (bool, error)

	// Delete removes the blob stored under h, if present.
	Delete(ctx context.Context, h hash.Hash) error

	// List enumerates every stored hash. Intended for GC and tests, not
	// the request hot path.
	List(ctx context.Context) ([]hash.Hash, error)
}

// ReadSeekCloser is what Open returns.
type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}
