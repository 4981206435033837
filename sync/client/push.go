package client

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/sync/wire"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Push uploads every local commit on branch the remote lacks, then
// advances the remote branch, per §4.8.1.
func (c *Client) Push(ctx context.Context, rp *repo.Repository, branch string, sink ProgressSink) error {
	localHead, err := rp.Refs.GetBranch(branch)
	if err != nil {
		return err
	}
	remoteHead, err := c.GetBranch(ctx, branch)
	if err != nil {
		return err
	}
	if localHead == remoteHead {
		return nil
	}

	commits, err := collectNewCommits(rp.Nodes, localHead, remoteHead)
	if err != nil {
		return err
	}

	var bytesDone, filesDone int64
	for _, ch := range commits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.pushShard(ctx, rp, ch); err != nil {
			return err
		}

		root, err := commitRoot(rp, ch)
		if err != nil {
			return err
		}
		candidates, err := reachableFileHashes(rp.Nodes, root)
		if err != nil {
			return err
		}
		missing, err := c.missingHashes(ctx, candidates)
		if err != nil {
			return err
		}
		if err := c.uploadContents(ctx, rp, missing, &bytesDone, &filesDone, sink); err != nil {
			return err
		}
	}

	return c.UpdateBranch(ctx, branch, remoteHead, localHead)
}

func commitRoot(rp *repo.Repository, h hash.Hash) (hash.Hash, error) {
	node, err := rp.Nodes.Get(h)
	if err != nil {
		return hash.Zero, err
	}
	c, ok := node.(*objects.CommitNode)
	if !ok {
		return hash.Zero, tabvcerr.New(tabvcerr.Corrupted, "%s is not a commit", h.Short())
	}
	return c.Root, nil
}

// pushShard uploads the single MNS shard file that covers commit ch's
// hash, per §4.8.1 step 3a. A commit's build writes everything it
// touches into one shard (storage/mns's append-once-per-write design),
// so the shard containing the commit hash itself is the whole tree.
func (c *Client) pushShard(ctx context.Context, rp *repo.Repository, ch hash.Hash) error {
	name, ok := rp.Nodes.ShardContaining(ch)
	if !ok {
		return tabvcerr.New(tabvcerr.Corrupted, "no shard contains commit %s", ch.Short())
	}
	data, err := os.ReadFile(rp.Nodes.ShardPath(name))
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "read shard %s", name)
	}
	return c.uploadShard(ctx, name, data)
}

// uploadContents uploads each missing hash, bounded by c.concurrency
// in-flight transfers, per §4.8.4.
func (c *Client) uploadContents(ctx context.Context, rp *repo.Repository, missing []hash.Hash, bytesDone, filesDone *int64, sink ProgressSink) error {
	if len(missing) == 0 {
		return nil
	}
	sem := semaphore.NewWeighted(c.concurrency)
	errCh := make(chan error, len(missing))
	for _, h := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(h hash.Hash) {
			defer sem.Release(1)
			n, err := c.uploadOneContent(ctx, rp, h)
			if err == nil {
				atomic.AddInt64(bytesDone, n)
				atomic.AddInt64(filesDone, 1)
				sink.report(atomic.LoadInt64(bytesDone), atomic.LoadInt64(filesDone))
			}
			errCh <- err
		}(h)
	}
	for range missing {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) uploadOneContent(ctx context.Context, rp *repo.Repository, h hash.Hash) (int64, error) {
	rsc, err := rp.CAS.Open(ctx, h)
	if err != nil {
		return 0, err
	}
	defer rsc.Close()
	size, err := rsc.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, tabvcerr.Wrap(tabvcerr.IO, err, "seek %s", h.Short())
	}
	if _, err := rsc.Seek(0, io.SeekStart); err != nil {
		return 0, tabvcerr.Wrap(tabvcerr.IO, err, "seek %s", h.Short())
	}

	threshold := rp.Config.ChunkSize
	if size <= threshold {
		resp, err := c.do(ctx, "POST", c.path("/versions/%s", h.String()), rsc, nil)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return size, nil
	}
	return size, c.uploadChunked(ctx, rp, h, size, threshold)
}

func (c *Client) uploadChunked(ctx context.Context, rp *repo.Repository, h hash.Hash, size, chunkSize int64) error {
	count := int((size + chunkSize - 1) / chunkSize)
	for i := 0; i < count; i++ {
		offset := int64(i) * chunkSize
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		data, err := rp.CAS.GetRange(ctx, h, offset, length)
		if err != nil {
			return err
		}
		resp, err := c.do(ctx, "POST", c.path("/versions/%s/chunks/%d", h.String(), i), bytes.NewReader(data), nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
	}
	return c.doJSON(ctx, "POST", c.path("/versions/%s/assemble", h.String()), wire.AssembleRequest{ChunkCount: count, Cleanup: true}, nil)
}
