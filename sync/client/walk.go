package client

import (
	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

// collectNewCommits walks nodes from head's parents back until known
// (exclusive) or a root commit, returning the commits not yet known to
// the remote in parent-before-child order, per §4.8.1 step 3 ("for
// each such commit in parent→child order"). Order is exact for linear
// history and a reasonable approximation across merges (both parents
// of a merge land before the merge commit, since a BFS visits the
// merge before either parent and the final reverse restores that).
func collectNewCommits(nodes *mns.Store, head, known hash.Hash) ([]hash.Hash, error) {
	if head.IsZero() || head == known {
		return nil, nil
	}
	var order []hash.Hash
	visited := map[hash.Hash]bool{}
	frontier := []hash.Hash{head}
	for len(frontier) > 0 {
		h := frontier[0]
		frontier = frontier[1:]
		if visited[h] || h == known || h.IsZero() {
			continue
		}
		visited[h] = true
		order = append(order, h)
		node, err := nodes.Get(h)
		if err != nil {
			return nil, err
		}
		c, ok := node.(*objects.CommitNode)
		if !ok {
			return nil, tabvcerr.New(tabvcerr.Corrupted, "%s is not a commit", h.Short())
		}
		frontier = append(frontier, c.Parents...)
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// casHashes returns the hashes a FileNode actually occupies in CAS:
// its payload hash for a single-file layout, or its chunk hashes for a
// chunked one.
func casHashes(f *objects.FileNode) []hash.Hash {
	if f.Layout == objects.LayoutChunked {
		return f.ChunkHashes
	}
	return []hash.Hash{f.PayloadHash}
}

// reachableFileHashes walks root's directory tree (including sharded
// VNode buckets) collecting every CAS hash reachable from it, deduped.
// Grounded on workspace/resolve.go's single-path walker, generalized
// here to a full-tree traversal since push/pull need every file under
// a commit rather than one path.
func reachableFileHashes(nodes *mns.Store, root hash.Hash) ([]hash.Hash, error) {
	seen := map[hash.Hash]bool{}
	var out []hash.Hash
	var walkDir func(h hash.Hash) error
	walkDir = func(h hash.Hash) error {
		if h.IsZero() {
			return nil
		}
		node, err := nodes.Get(h)
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
				if err := walkDir(ref.Hash); err != nil {
					return err
				}
			case objects.KindVNode:
				vnode, err := nodes.Get(ref.Hash)
				if err != nil {
					return err
				}
				v, ok := vnode.(*objects.VNode)
				if !ok {
					return tabvcerr.New(tabvcerr.Corrupted, "%s is not a vnode", ref.Hash.Short())
				}
				for _, vc := range v.Children {
					if err := walkChild(nodes, vc, seen, &out); err != nil {
						return err
					}
				}
			default:
				if err := walkChild(nodes, ref, seen, &out); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walkDir(root); err != nil {
		return nil, err
	}
	return out, nil
}

func walkChild(nodes *mns.Store, ref objects.ChildRef, seen map[hash.Hash]bool, out *[]hash.Hash) error {
	if ref.Kind != objects.KindFile {
		return nil
	}
	node, err := nodes.Get(ref.Hash)
	if err != nil {
		return err
	}
	f, ok := node.(*objects.FileNode)
	if !ok {
		return tabvcerr.New(tabvcerr.Corrupted, "%s is not a file", ref.Hash.Short())
	}
	for _, h := range casHashes(f) {
		if !seen[h] {
			seen[h] = true
			*out = append(*out, h)
		}
	}
	return nil
}
