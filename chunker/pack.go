package chunker

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/tabvcerr"
)

type chunkSpan struct {
	index  int
	offset int64
	length int
}

func spans(size int64, chunkSize int) []chunkSpan {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var out []chunkSpan
	for offset, i := int64(0), 0; offset < size; i++ {
		length := chunkSize
		if remaining := size - offset; remaining < int64(chunkSize) {
			length = int(remaining)
		}
		out = append(out, chunkSpan{index: i, offset: offset, length: length})
		offset += int64(length)
	}
	return out
}

// Pack splits the file at srcPath into fixed-size chunks, hashes and
// stores each one in store (skipping chunks already present), and
// returns the manifest describing how to reassemble it.
//
// Packing is parallel across CPU cores: each worker is handed one
// chunk's (index, offset, length), opens its own read handle via
// io.NewSectionReader over a shared *os.File (safe for concurrent
// reads — every worker seeks independently), and writes its result
// into a pre-sized slot so no two workers ever touch the same memory.
// Grounded on errgroup's fan-out-with-first-error-wins idiom (adopted
// here in place of the teacher's hand-rolled piece Manager, since the
// teacher's reference sync.Mutex-per-piece bookkeeping exists to
// support out-of-order network delivery, a concern this in-process
// pack step does not have).
func Pack(ctx context.Context, srcPath string, store cas.Store, chunkSize int) (*Manifest, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "open %s", srcPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "stat %s", srcPath)
	}

	chunkSpans := spans(info.Size(), chunkSize)
	hashes := make([]hash.Hash, len(chunkSpans))

	g, gctx := errgroup.WithContext(ctx)
	for _, sp := range chunkSpans {
		sp := sp
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			buf := make([]byte, sp.length)
			section := io.NewSectionReader(f, sp.offset, int64(sp.length))
			if _, err := io.ReadFull(section, buf); err != nil {
				return tabvcerr.Wrap(tabvcerr.IO, err, "read chunk %d of %s", sp.index, srcPath)
			}
			h := hash.Sum(buf)
			hashes[sp.index] = h

			exists, err := store.Exists(gctx, h)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			if err := store.Put(gctx, h, bytes.NewReader(buf)); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Manifest{
		Filename:     filepath.Base(srcPath),
		OriginalSize: info.Size(),
		ChunkSize:    chunkSize,
		ChunkHashes:  hashes,
	}, nil
}
