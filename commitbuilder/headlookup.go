package commitbuilder

import (
	"strings"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/storage/mns"
)

// TreeLookup implements stager.HeadLookup over the Merkle tree of one
// commit, walking only the directories on the path to each queried
// file rather than loading the whole tree. Deliberately decoupled from
// Stager itself (§4.5's documented seam) so the staging area never
// needs its own tree-walking logic.
type TreeLookup struct {
	nodes *mns.Store
	root  hash.Hash // zero if there is no commit yet
}

// NewTreeLookupAt pins a lookup at an arbitrary commit's root tree,
// rather than the repository's current HEAD. Used by the workspace
// engine, which must resolve paths against a workspace's base commit
// even if HEAD has since moved.
func NewTreeLookupAt(nodes *mns.Store, root hash.Hash) *TreeLookup {
	return &TreeLookup{nodes: nodes, root: root}
}

// Hash resolves path to the raw content hash of the file there (the
// FileNode's PayloadHash, not the FileNode's own wrapper hash), since
// that is what the Stager compares against a working copy file's hash.
func (t *TreeLookup) Hash(path string) (hash.Hash, bool) {
	if t.root.IsZero() || path == "" {
		return hash.Zero, false
	}
	return t.resolve(t.root, strings.Split(path, "/"))
}

func (t *TreeLookup) resolve(dirHash hash.Hash, segments []string) (hash.Hash, bool) {
	node, err := t.nodes.Get(dirHash)
	if err != nil {
		return hash.Zero, false
	}
	dir, ok := node.(*objects.DirectoryNode)
	if !ok {
		return hash.Zero, false
	}

	ref, ok := t.findChild(dir, segments[0])
	if !ok {
		return hash.Zero, false
	}
	if len(segments) == 1 {
		if ref.Kind != objects.KindFile {
			return hash.Zero, false
		}
		node, err := t.nodes.Get(ref.Hash)
		if err != nil {
			return hash.Zero, false
		}
		f, ok := node.(*objects.FileNode)
		if !ok {
			return hash.Zero, false
		}
		return f.PayloadHash, true
	}
	if ref.Kind != objects.KindDirectory {
		return hash.Zero, false
	}
	return t.resolve(ref.Hash, segments[1:])
}

func (t *TreeLookup) findChild(dir *objects.DirectoryNode, name string) (objects.ChildRef, bool) {
	if !dir.Sharded() {
		for _, c := range dir.Children {
			if c.Name == name {
				return c, true
			}
		}
		return objects.ChildRef{}, false
	}

	bucket := objects.BucketFor(name)
	key := vnodeChildName(bucket)
	for _, c := range dir.Children {
		if c.Name != key {
			continue
		}
		node, err := t.nodes.Get(c.Hash)
		if err != nil {
			return objects.ChildRef{}, false
		}
		v, ok := node.(*objects.VNode)
		if !ok {
			return objects.ChildRef{}, false
		}
		for _, vc := range v.Children {
			if vc.Name == name {
				return vc, true
			}
		}
		return objects.ChildRef{}, false
	}
	return objects.ChildRef{}, false
}
