package commitbuilder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/stager"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

// ShardThreshold is the direct-child count past which a directory's
// entries are bucketed into VNodes rather than listed flat (§3, §8
// "directory with >10k entries"). Once sharded, a directory never
// un-shards, the same way git never repacks loose objects back apart.
// A var, not a const, so tests can exercise sharding without building
// thousands of files.
var ShardThreshold = 1024

// stagedOp is one staged path carried through tree recursion: segments
// holds the remaining path components below the directory currently
// being rewritten.
type stagedOp struct {
	segments []string
	entry    stager.StagedEntry
}

func isLeaf(ops []stagedOp) bool {
	return len(ops) == 1 && len(ops[0].segments) == 0
}

func groupByHead(ops []stagedOp) map[string][]stagedOp {
	grouped := make(map[string][]stagedOp, len(ops))
	for _, op := range ops {
		head := op.segments[0]
		grouped[head] = append(grouped[head], stagedOp{segments: op.segments[1:], entry: op.entry})
	}
	return grouped
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func vnodeChildName(bucket uint32) string {
	return fmt.Sprintf("%03d", bucket)
}

func sortChildren(children []objects.ChildRef) {
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
}

// rewriteState carries the values constant across one Commit's entire
// tree rewrite, so recursive calls don't thread a long parameter list.
type rewriteState struct {
	ctx       context.Context
	writer    *mns.ShardWriter
	commitID  hash.Hash
	timestamp time.Time

	// touched records, for every directory rewritten by this commit,
	// its repo-relative path ("" for root) mapped to its new hash. Used
	// to update the dir_hashes secondary index.
	touched map[string]hash.Hash
}

func (b *Builder) loadDir(name string, h hash.Hash) (*objects.DirectoryNode, error) {
	if h.IsZero() {
		return &objects.DirectoryNode{Name: name}, nil
	}
	node, err := b.nodes.Get(h)
	if err != nil {
		return nil, err
	}
	d, ok := node.(*objects.DirectoryNode)
	if !ok {
		return nil, tabvcerr.New(tabvcerr.Corrupted, "expected directory at %s", h.Short())
	}
	if d.LastCommitID.IsZero() {
		return nil, tabvcerr.New(tabvcerr.Corrupted, "directory %s has a zero last commit id", h.Short())
	}
	return d, nil
}

func (b *Builder) loadVNode(bucket uint32, h hash.Hash) (*objects.VNode, error) {
	if h.IsZero() {
		return &objects.VNode{Bucket: bucket}, nil
	}
	node, err := b.nodes.Get(h)
	if err != nil {
		return nil, err
	}
	v, ok := node.(*objects.VNode)
	if !ok {
		return nil, tabvcerr.New(tabvcerr.Corrupted, "expected vnode at %s", h.Short())
	}
	return v, nil
}

func (b *Builder) loadFile(h hash.Hash) (*objects.FileNode, error) {
	node, err := b.nodes.Get(h)
	if err != nil {
		return nil, err
	}
	f, ok := node.(*objects.FileNode)
	if !ok {
		return nil, tabvcerr.New(tabvcerr.Corrupted, "expected file at %s", h.Short())
	}
	if f.CommitID.IsZero() {
		return nil, tabvcerr.New(tabvcerr.Corrupted, "file %s has a zero commit id", h.Short())
	}
	return f, nil
}

// upsertChild applies ref (nil meaning "delete") for name into
// children, keeping index in sync. Order is not meaningful here;
// sortChildren restores canonical order before the directory/vnode is
// finalized.
func upsertChild(children []objects.ChildRef, index map[string]int, name string, exists bool, idx int, ref *objects.ChildRef) []objects.ChildRef {
	if ref == nil {
		if !exists {
			return children
		}
		children = append(children[:idx], children[idx+1:]...)
		delete(index, name)
		for i := idx; i < len(children); i++ {
			index[children[i].Name] = i
		}
		return children
	}
	if exists {
		children[idx] = *ref
		return children
	}
	children = append(children, *ref)
	index[name] = len(children) - 1
	return children
}

// rewriteDir produces a new DirectoryNode for existingHash (zero for a
// not-yet-existing directory) with ops applied, recursing into
// subdirectories that contain staged changes. It returns the new node
// and the net byte-size delta versus the directory it replaces, so the
// caller can bubble that delta into its own parent without reloading
// any unrelated sibling.
func (b *Builder) rewriteDir(rs *rewriteState, name string, existingHash hash.Hash, ops []stagedOp, path string) (*objects.DirectoryNode, int64, error) {
	dir, err := b.loadDir(name, existingHash)
	if err != nil {
		return nil, 0, err
	}
	oldSize := int64(dir.Size)
	grouped := groupByHead(ops)

	var delta int64
	if dir.Sharded() {
		delta, err = b.rewriteSharded(rs, dir, grouped, path)
	} else {
		delta, err = b.rewriteFlat(rs, dir, grouped, path)
		if err == nil && len(dir.Children) > ShardThreshold {
			err = b.shardDirectory(dir)
		}
	}
	if err != nil {
		return nil, 0, err
	}

	dir.Name = name
	dir.Size = uint64(oldSize + delta)
	dir.LastCommitID = rs.commitID
	dir.Finalize()
	rs.writer.Add(dir.Hash, objects.KindDirectory, dir.Encode())
	if rs.touched == nil {
		rs.touched = map[string]hash.Hash{}
	}
	rs.touched[path] = dir.Hash
	return dir, int64(dir.Size) - oldSize, nil
}

func (b *Builder) rewriteFlat(rs *rewriteState, dir *objects.DirectoryNode, grouped map[string][]stagedOp, path string) (int64, error) {
	index := make(map[string]int, len(dir.Children))
	for i, c := range dir.Children {
		index[c.Name] = i
	}

	var delta int64
	for name, subOps := range grouped {
		idx, exists := index[name]

		if isLeaf(subOps) {
			var existingRef *objects.ChildRef
			if exists {
				r := dir.Children[idx]
				existingRef = &r
			}
			newRef, d, err := b.applyFileOp(rs, name, existingRef, subOps[0].entry)
			if err != nil {
				return 0, err
			}
			delta += d
			dir.Children = upsertChild(dir.Children, index, name, exists, idx, newRef)
			continue
		}

		var childHash hash.Hash
		if exists && dir.Children[idx].Kind == objects.KindDirectory {
			childHash = dir.Children[idx].Hash
		}
		newDir, d, err := b.rewriteDir(rs, name, childHash, subOps, joinPath(path, name))
		if err != nil {
			return 0, err
		}
		delta += d
		ref := objects.ChildRef{Name: name, Kind: objects.KindDirectory, Hash: newDir.Hash}
		dir.Children = upsertChild(dir.Children, index, name, exists, idx, &ref)
	}
	sortChildren(dir.Children)
	return delta, nil
}

// rewriteSharded applies ops to an already-sharded directory, loading
// and rewriting only the VNode buckets the touched names fall into.
func (b *Builder) rewriteSharded(rs *rewriteState, dir *objects.DirectoryNode, grouped map[string][]stagedOp, path string) (int64, error) {
	byBucket := make(map[uint32]map[string][]stagedOp)
	for name, ops := range grouped {
		bucket := objects.BucketFor(name)
		if byBucket[bucket] == nil {
			byBucket[bucket] = make(map[string][]stagedOp)
		}
		byBucket[bucket][name] = ops
	}

	index := make(map[string]int, len(dir.Children))
	for i, c := range dir.Children {
		index[c.Name] = i
	}

	var delta int64
	for bucket, opsForBucket := range byBucket {
		key := vnodeChildName(bucket)
		idx, exists := index[key]
		var existingVHash hash.Hash
		if exists {
			existingVHash = dir.Children[idx].Hash
		}

		v, err := b.loadVNode(bucket, existingVHash)
		if err != nil {
			return 0, err
		}
		vIndex := make(map[string]int, len(v.Children))
		for i, c := range v.Children {
			vIndex[c.Name] = i
		}

		for name, subOps := range opsForBucket {
			vidx, vexists := vIndex[name]

			if isLeaf(subOps) {
				var existingRef *objects.ChildRef
				if vexists {
					r := v.Children[vidx]
					existingRef = &r
				}
				newRef, d, err := b.applyFileOp(rs, name, existingRef, subOps[0].entry)
				if err != nil {
					return 0, err
				}
				delta += d
				v.Children = upsertChild(v.Children, vIndex, name, vexists, vidx, newRef)
				continue
			}

			var childHash hash.Hash
			if vexists && v.Children[vidx].Kind == objects.KindDirectory {
				childHash = v.Children[vidx].Hash
			}
			newDir, d, err := b.rewriteDir(rs, name, childHash, subOps, joinPath(path, name))
			if err != nil {
				return 0, err
			}
			delta += d
			ref := objects.ChildRef{Name: name, Kind: objects.KindDirectory, Hash: newDir.Hash}
			v.Children = upsertChild(v.Children, vIndex, name, vexists, vidx, &ref)
		}

		sortChildren(v.Children)
		if len(v.Children) == 0 {
			dir.Children = upsertChild(dir.Children, index, key, exists, idx, nil)
			continue
		}
		v.Finalize()
		rs.writer.Add(v.Hash, objects.KindVNode, v.Encode())
		ref := objects.ChildRef{Name: key, Kind: objects.KindVNode, Hash: v.Hash}
		dir.Children = upsertChild(dir.Children, index, key, exists, idx, &ref)
	}
	sortChildren(dir.Children)
	return delta, nil
}

// shardDirectory converts a flat directory's children into VNode
// buckets, once it has grown past ShardThreshold.
func (b *Builder) shardDirectory(dir *objects.DirectoryNode) error {
	buckets := make(map[uint32][]objects.ChildRef)
	for _, c := range dir.Children {
		bucket := objects.BucketFor(c.Name)
		buckets[bucket] = append(buckets[bucket], c)
	}
	refs := make([]objects.ChildRef, 0, len(buckets))
	for bucket, children := range buckets {
		sortChildren(children)
		v := &objects.VNode{Bucket: bucket, Children: children}
		v.Finalize()
		refs = append(refs, objects.ChildRef{Name: vnodeChildName(bucket), Kind: objects.KindVNode, Hash: v.Hash})
	}
	sortChildren(refs)
	dir.Children = refs
	return nil
}

// applyFileOp applies one staged entry against the directory's
// existing child ref for that name (nil if the path is new), queuing
// any new FileNode into the shard under construction. It returns the
// new ref (nil meaning "no longer a child") and the byte-size delta
// versus the file it replaces.
func (b *Builder) applyFileOp(rs *rewriteState, name string, existingRef *objects.ChildRef, entry stager.StagedEntry) (*objects.ChildRef, int64, error) {
	switch entry.Status {
	case stager.Removed:
		if existingRef == nil {
			return nil, 0, nil
		}
		old, err := b.loadFile(existingRef.Hash)
		if err != nil {
			return nil, 0, err
		}
		return nil, -int64(old.Length), nil

	case stager.Added, stager.Modified:
		var oldLength int64
		if existingRef != nil {
			if old, err := b.loadFile(existingRef.Hash); err == nil {
				oldLength = int64(old.Length)
			}
		}
		f, err := b.buildFileNode(rs, name, entry.NewHash)
		if err != nil {
			return nil, 0, err
		}
		rs.writer.Add(f.Hash, objects.KindFile, f.Encode())
		ref := objects.ChildRef{Name: name, Kind: objects.KindFile, Hash: f.Hash}
		return &ref, int64(f.Length) - oldLength, nil

	default:
		return nil, 0, tabvcerr.New(tabvcerr.Corrupted, "unrecognized staged status for %q", name)
	}
}
