package workspace

import (
	"fmt"
	"strings"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

// resolveFile walks root looking up path, returning the committed
// FileNode there. Grounded on commitbuilder.TreeLookup's walk, which
// resolves to a bare content hash; indexing needs the full node
// (extension, data type, schema hash), so this is its own small walker
// rather than a reuse of that one.
func resolveFile(nodes *mns.Store, root hash.Hash, path string) (*objects.FileNode, error) {
	if root.IsZero() {
		return nil, tabvcerr.New(tabvcerr.NotFound, "%s: empty repository", path)
	}
	segments := strings.Split(path, "/")
	dirHash := root
	for i, seg := range segments {
		node, err := nodes.Get(dirHash)
		if err != nil {
			return nil, tabvcerr.Wrap(tabvcerr.NotFound, err, "resolve %s", path)
		}
		dir, ok := node.(*objects.DirectoryNode)
		if !ok {
			return nil, tabvcerr.New(tabvcerr.NotFound, "%s: not a directory on the way to %s", seg, path)
		}
		ref, ok := findChild(nodes, dir, seg)
		if !ok {
			return nil, tabvcerr.New(tabvcerr.NotFound, "%s: no such path", path)
		}
		if i == len(segments)-1 {
			if ref.Kind != objects.KindFile {
				return nil, tabvcerr.New(tabvcerr.NotFound, "%s: not a file", path)
			}
			fnode, err := nodes.Get(ref.Hash)
			if err != nil {
				return nil, tabvcerr.Wrap(tabvcerr.NotFound, err, "load file %s", path)
			}
			f, ok := fnode.(*objects.FileNode)
			if !ok {
				return nil, tabvcerr.New(tabvcerr.Corrupted, "expected file at %s", path)
			}
			return f, nil
		}
		if ref.Kind != objects.KindDirectory {
			return nil, tabvcerr.New(tabvcerr.NotFound, "%s: not a directory", path)
		}
		dirHash = ref.Hash
	}
	return nil, tabvcerr.New(tabvcerr.NotFound, "%s: empty path", path)
}

func findChild(nodes *mns.Store, dir *objects.DirectoryNode, name string) (objects.ChildRef, bool) {
	if !dir.Sharded() {
		for _, c := range dir.Children {
			if c.Name == name {
				return c, true
			}
		}
		return objects.ChildRef{}, false
	}
	bucket := objects.BucketFor(name)
	key := vnodeKey(bucket)
	for _, c := range dir.Children {
		if c.Name != key {
			continue
		}
		node, err := nodes.Get(c.Hash)
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

func vnodeKey(bucket uint32) string {
	return fmt.Sprintf("%03d", bucket)
}
