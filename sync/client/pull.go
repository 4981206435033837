package client

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Pull implements §4.8.2: download the remote branch's new commits'
// trees, then their file contents, materializing the working copy at
// workingDir if deep is true ("a 'shallow' pull stops here" otherwise).
// RefDB is updated last, so a failure partway through leaves only
// already-downloaded objects behind, safely retryable.
func (c *Client) Pull(ctx context.Context, rp *repo.Repository, branch string, deep bool, workingDir string, sink ProgressSink) error {
	localHead, err := rp.Refs.GetBranch(branch)
	if err != nil && !tabvcerr.Is(err, tabvcerr.NotFound) {
		return err
	}
	remoteHead, err := c.GetBranch(ctx, branch)
	if err != nil {
		return err
	}
	if remoteHead.IsZero() || remoteHead == localHead {
		return nil
	}

	if err := c.downloadTree(ctx, rp, remoteHead, localHead); err != nil {
		return err
	}

	root, err := commitRoot(rp, remoteHead)
	if err != nil {
		return err
	}
	var bytesDone, filesDone int64
	if err := c.downloadContents(ctx, rp, root, &bytesDone, &filesDone, sink); err != nil {
		return err
	}

	if deep {
		if err := materializeWorkingCopy(ctx, rp, root, workingDir); err != nil {
			return err
		}
	}

	return rp.Refs.UpdateBranch(branch, localHead, remoteHead)
}

// Fetch is Pull with deep=false: tree and blobs only, no working copy
// materialization, per §4.8's "fetch (tree only)".
func (c *Client) Fetch(ctx context.Context, rp *repo.Repository, branch string, sink ProgressSink) error {
	return c.Pull(ctx, rp, branch, false, "", sink)
}

// downloadTree walks remote commits from head back to known (exclusive)
// or a root commit, fetching each commit's full node tree via
// downloadNodeTree and committing the accumulated shard once the walk
// is done.
func (c *Client) downloadTree(ctx context.Context, rp *repo.Repository, head, known hash.Hash) error {
	visited := map[hash.Hash]bool{}
	frontier := []hash.Hash{head}
	w := rp.Nodes.NewWriter()
	wrote := false
	for len(frontier) > 0 {
		h := frontier[0]
		frontier = frontier[1:]
		if visited[h] || h == known || h.IsZero() {
			continue
		}
		visited[h] = true

		if rp.Nodes.Exists(h) {
			if node, err := rp.Nodes.Get(h); err == nil {
				if cn, ok := node.(*objects.CommitNode); ok {
					frontier = append(frontier, cn.Parents...)
					continue
				}
			}
		}

		node, err := c.downloadNodeTree(ctx, w, h)
		if err != nil {
			return err
		}
		wrote = true
		commit, ok := node.(*objects.CommitNode)
		if !ok {
			return tabvcerr.New(tabvcerr.Corrupted, "%s is not a commit", h.Short())
		}
		frontier = append(frontier, commit.Parents...)
	}
	if wrote {
		return rp.Nodes.Commit(w)
	}
	return nil
}

// downloadNodeTree fetches h and every node it transitively references
// (directories, vnodes, files; not file content bytes) via GET
// /tree/{hash}, queuing each into w and returning the decoded node for
// h itself. Grounded on walk.go's reachableFileHashes, generalized here
// to fetch remote nodes instead of reading local ones and to queue
// every node kind, not just files.
func (c *Client) downloadNodeTree(ctx context.Context, w *mns.ShardWriter, h hash.Hash) (objects.Node, error) {
	seen := map[hash.Hash]bool{}
	var root objects.Node
	var walk func(h hash.Hash) error
	walk = func(h hash.Hash) error {
		if h.IsZero() || seen[h] {
			return nil
		}
		seen[h] = true

		resp, err := c.getNode(ctx, h)
		if err != nil {
			return err
		}
		kind := objects.Kind(resp.Kind)
		node, err := objects.Decode(kind, resp.Payload)
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.Corrupted, err, "decode %s", h.Short())
		}
		w.Add(h, kind, resp.Payload)
		if root == nil {
			root = node
		}

		switch n := node.(type) {
		case *objects.CommitNode:
			return walk(n.Root)
		case *objects.DirectoryNode:
			for _, ref := range n.Children {
				if err := walk(ref.Hash); err != nil {
					return err
				}
			}
		case *objects.VNode:
			for _, ref := range n.Children {
				if err := walk(ref.Hash); err != nil {
					return err
				}
			}
		case *objects.FileNode:
			// content bytes are fetched separately by downloadContents
		}
		return nil
	}
	if err := walk(h); err != nil {
		return nil, err
	}
	return root, nil
}

// downloadContents downloads every CAS blob reachable from root that
// isn't already stored locally, bounded by c.concurrency in-flight
// transfers, per §4.8.4.
func (c *Client) downloadContents(ctx context.Context, rp *repo.Repository, root hash.Hash, bytesDone, filesDone *int64, sink ProgressSink) error {
	candidates, err := reachableFileHashes(rp.Nodes, root)
	if err != nil {
		return err
	}
	var missing []hash.Hash
	for _, h := range candidates {
		ok, err := rp.CAS.Exists(ctx, h)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, h)
		}
	}
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
			n, err := c.downloadOneContent(ctx, rp, h)
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

// downloadOneContent fetches blob h via a plain GET (§4.8.2's "ranged
// GETs with retry" is a resumability optimization over this same call;
// a fresh GET is always correct since Put is idempotent) and stores it
// locally.
func (c *Client) downloadOneContent(ctx context.Context, rp *repo.Repository, h hash.Hash) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, c.path("/versions/%s", h.String()), nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := rp.CAS.Put(ctx, h, resp.Body); err != nil {
		return 0, err
	}
	return resp.ContentLength, nil
}

// materializeWorkingCopy walks root's directory tree and writes every
// file's content to workingDir, resolving chunked layouts by
// concatenating each chunk's blob in order.
func materializeWorkingCopy(ctx context.Context, rp *repo.Repository, root hash.Hash, workingDir string) error {
	var walkDir func(h hash.Hash, prefix string) error
	walkDir = func(h hash.Hash, prefix string) error {
		if h.IsZero() {
			return nil
		}
		node, err := rp.Nodes.Get(h)
		if err != nil {
			return err
		}
		dir, ok := node.(*objects.DirectoryNode)
		if !ok {
			return tabvcerr.New(tabvcerr.Corrupted, "%s is not a directory", h.Short())
		}
		for _, ref := range dir.Children {
			switch ref.Kind {
			case objects.KindDirectory:
				if err := walkDir(ref.Hash, filepath.Join(prefix, ref.Name)); err != nil {
					return err
				}
			case objects.KindVNode:
				vnode, err := rp.Nodes.Get(ref.Hash)
				if err != nil {
					return err
				}
				v, ok := vnode.(*objects.VNode)
				if !ok {
					return tabvcerr.New(tabvcerr.Corrupted, "%s is not a vnode", ref.Hash.Short())
				}
				for _, vc := range v.Children {
					if err := materializeFile(ctx, rp, vc, prefix); err != nil {
						return err
					}
				}
			default:
				if err := materializeFile(ctx, rp, ref, prefix); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walkDir(root, workingDir)
}

func materializeFile(ctx context.Context, rp *repo.Repository, ref objects.ChildRef, prefix string) error {
	if ref.Kind != objects.KindFile {
		return nil
	}
	node, err := rp.Nodes.Get(ref.Hash)
	if err != nil {
		return err
	}
	f, ok := node.(*objects.FileNode)
	if !ok {
		return tabvcerr.New(tabvcerr.Corrupted, "%s is not a file", ref.Hash.Short())
	}
	destPath := filepath.Join(prefix, ref.Name)

	if f.Layout != objects.LayoutChunked {
		return rp.CAS.CopyTo(ctx, f.PayloadHash, destPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", filepath.Dir(destPath))
	}
	out, err := os.Create(destPath)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create %s", destPath)
	}
	defer out.Close()
	for _, ch := range f.ChunkHashes {
		rsc, err := rp.CAS.Open(ctx, ch)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, rsc)
		rsc.Close()
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "write chunk of %s", destPath)
		}
	}
	return nil
}
