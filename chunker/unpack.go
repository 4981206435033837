package chunker

import (
	"context"
	"io"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/tabvcerr"
)

const defaultUnpackConcurrency = 8

type chunkResult struct {
	index int
	data  []byte
	err   error
}

// Unpack reassembles a file described by m from store into destPath.
//
// Reads are asynchronously scheduled and bounded by concurrency: up to
// that many chunks are being read from store at once, each result
// tagged with its index. A chunk's permit is released as soon as its
// read finishes, so memory use is not bounded by concurrency: chunks
// that arrive ahead of their predecessors stay buffered until written.
// A single reassembler goroutine (this one) buffers out-of-order
// arrivals and writes sequentially once a result's predecessors have
// all landed. On the first error, the context is
// canceled so workers still waiting on the semaphore are abandoned —
// never awaited — and the partially written destination file is
// removed rather than left truncated-but-present.
func Unpack(ctx context.Context, m *Manifest, store cas.Store, destPath string, concurrency int64) error {
	if concurrency <= 0 {
		concurrency = defaultUnpackConcurrency
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan chunkResult, len(m.ChunkHashes))
	sem := semaphore.NewWeighted(concurrency)
	for i, h := range m.ChunkHashes {
		i, h := i, h
		go fetchChunk(ctx, store, sem, i, h, results)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create %s", destPath)
	}
	ok := false
	defer func() {
		out.Close()
		if !ok {
			os.Remove(destPath)
		}
	}()

	pending := map[int][]byte{}
	next := 0
	for next < len(m.ChunkHashes) {
		if data, have := pending[next]; have {
			if _, err := out.Write(data); err != nil {
				cancel()
				return tabvcerr.Wrap(tabvcerr.IO, err, "write %s", destPath)
			}
			delete(pending, next)
			next++
			continue
		}

		select {
		case r := <-results:
			if r.err != nil {
				cancel()
				return r.err
			}
			if r.index == next {
				if _, err := out.Write(r.data); err != nil {
					cancel()
					return tabvcerr.Wrap(tabvcerr.IO, err, "write %s", destPath)
				}
				next++
			} else {
				pending[r.index] = r.data
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ok = true
	return nil
}

func fetchChunk(ctx context.Context, store cas.Store, sem *semaphore.Weighted, index int, h hash.Hash, results chan<- chunkResult) {
	if err := sem.Acquire(ctx, 1); err != nil {
		results <- chunkResult{index: index, err: err}
		return
	}
	defer sem.Release(1)

	r, err := store.Open(ctx, h)
	if err != nil {
		results <- chunkResult{index: index, err: err}
		return
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		results <- chunkResult{index: index, err: tabvcerr.Wrap(tabvcerr.IO, err, "read chunk %d", index)}
		return
	}
	results <- chunkResult{index: index, data: data}
}
