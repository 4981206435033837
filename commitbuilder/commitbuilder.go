// Package commitbuilder implements the Commit Builder of §4.6: turn a
// Stager's staged changes plus the current HEAD tree into a new
// commit. Grounded on the teacher's plumbing/object tree-building
// helpers (go-git builds a new tree object per commit from an index)
// generalized to this spec's structural-sharing rule: only directories
// on the path to a changed file are rewritten, everything else keeps
// its existing hash.
package commitbuilder

import (
	"context"
	"strings"
	"time"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/refdb"
	"github.com/tabvc/tabvc/stager"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Builder turns staged changes into commits against one repository's
// node store, reference database, and content store.
type Builder struct {
	nodes *mns.Store
	refs  *refdb.DB
	cas   cas.Store
}

// New builds a Builder over the given stores.
func New(nodes *mns.Store, refs *refdb.DB, store cas.Store) *Builder {
	return &Builder{nodes: nodes, refs: refs, cas: store}
}

// Request describes the commit to build.
type Request struct {
	// Branch is advanced to the new commit. Ignored if HEAD is
	// currently detached (DetachHead is advanced instead). Required if
	// the repository has no commits yet.
	Branch string

	Message   string
	Author    string
	Email     string
	Timestamp time.Time

	// MergeParents are additional parent commits beyond the current
	// tip, for a merge commit.
	MergeParents []hash.Hash
}

// HeadLookup resolves the current HEAD tree for use as the stager.HeadLookup
// passed to Stager.Add/Remove/Status/Restore.
func (b *Builder) HeadLookup() (*TreeLookup, error) {
	_, h, _, err := b.refs.Head()
	if err != nil {
		if tabvcerr.Is(err, tabvcerr.NotFound) {
			return &TreeLookup{nodes: b.nodes}, nil
		}
		return nil, err
	}
	if h.IsZero() {
		return &TreeLookup{nodes: b.nodes}, nil
	}
	node, err := b.nodes.Get(h)
	if err != nil {
		return nil, err
	}
	c, ok := node.(*objects.CommitNode)
	if !ok {
		return nil, tabvcerr.New(tabvcerr.Corrupted, "HEAD %s is not a commit", h.Short())
	}
	return &TreeLookup{nodes: b.nodes, root: c.Root}, nil
}

// Commit builds a new commit from st's staged entries (§4.6 steps
// 1-6), then clears st (step 7). Entries and merge parents both empty
// is rejected: there is nothing to commit.
func (b *Builder) Commit(ctx context.Context, st *stager.Stager, req Request) (*objects.CommitNode, error) {
	entries := st.Entries()
	if len(entries) == 0 && len(req.MergeParents) == 0 {
		return nil, tabvcerr.New(tabvcerr.Forbidden, "nothing to commit")
	}

	target, wasDetached, oldHash, err := b.resolveHead(req.Branch)
	if err != nil {
		return nil, err
	}
	if !wasDetached && target == "" {
		return nil, tabvcerr.New(tabvcerr.Forbidden, "no branch specified and HEAD is unset")
	}

	var oldRoot hash.Hash
	if !oldHash.IsZero() {
		node, err := b.nodes.Get(oldHash)
		if err != nil {
			return nil, err
		}
		oc, ok := node.(*objects.CommitNode)
		if !ok {
			return nil, tabvcerr.New(tabvcerr.Corrupted, "parent %s is not a commit", oldHash.Short())
		}
		oldRoot = oc.Root
	}

	parents := make([]hash.Hash, 0, 1+len(req.MergeParents))
	if !oldHash.IsZero() {
		parents = append(parents, oldHash)
	}
	parents = append(parents, req.MergeParents...)

	draft := &objects.CommitNode{
		Message:   req.Message,
		Author:    req.Author,
		Email:     req.Email,
		Timestamp: req.Timestamp.UTC(),
		Parents:   parents,
	}
	// The commit's id is fixed here, before its tree is built: every
	// rewritten DirectoryNode stores this id as LastCommitID (§4.6 step
	// 3), and IdentityHash is defined precisely to not depend on Root.
	commitID := draft.IdentityHash()

	ops := make([]stagedOp, 0, len(entries))
	for _, e := range entries {
		ops = append(ops, stagedOp{segments: strings.Split(e.Path, "/"), entry: e})
	}

	w := b.nodes.NewWriter()
	rs := &rewriteState{
		ctx:       ctx,
		writer:    w,
		commitID:  commitID,
		timestamp: draft.Timestamp,
	}

	rootDir, _, err := b.rewriteDir(rs, "", oldRoot, ops, "")
	if err != nil {
		return nil, err
	}

	draft.Root = rootDir.Hash
	draft.Finalize()
	w.Add(draft.Hash, objects.KindCommit, draft.Encode())

	if err := b.nodes.Commit(w); err != nil {
		return nil, err
	}
	if err := b.writeDirHashes(oldHash, draft.Hash, rs.touched); err != nil {
		return nil, err
	}

	if wasDetached {
		if err := b.refs.DetachHead(draft.Hash); err != nil {
			return nil, err
		}
	} else {
		if err := b.refs.UpdateBranch(target, oldHash, draft.Hash); err != nil {
			return nil, err
		}
		if err := b.refs.SetHead(target); err != nil {
			return nil, err
		}
	}

	if err := st.Clear(); err != nil {
		return nil, err
	}
	return draft, nil
}

// resolveHead reports the branch to advance (empty if detached), and
// the commit HEAD currently points at (zero for a brand new
// repository).
func (b *Builder) resolveHead(requestedBranch string) (target string, detached bool, oldHash hash.Hash, err error) {
	branch, h, det, headErr := b.refs.Head()
	switch {
	case headErr == nil:
		detached = det
		oldHash = h
		if !det {
			target = branch
		} else {
			target = requestedBranch
		}
	case tabvcerr.Is(headErr, tabvcerr.NotFound):
		target = requestedBranch
	default:
		return "", false, hash.Zero, headErr
	}
	return target, detached, oldHash, nil
}

func (b *Builder) writeDirHashes(oldCommit, newCommit hash.Hash, touched map[string]hash.Hash) error {
	d := mns.NewDirHashes()
	if !oldCommit.IsZero() {
		prev, err := b.nodes.ReadDirHashes(oldCommit)
		if err != nil && !tabvcerr.Is(err, tabvcerr.NotFound) {
			return err
		}
		if prev != nil {
			for _, p := range prev.Paths() {
				h, _ := prev.Get(p)
				d.Set(p, h)
			}
		}
	}
	for path, h := range touched {
		d.Set(path, h)
	}
	return b.nodes.WriteDirHashes(newCommit, d)
}
