// Package refdb implements the branch/HEAD reference database of §4.3:
// one small file per branch holding its current commit hash, plus a
// HEAD file that is either attached to a branch name or detached at a
// raw commit hash. Grounded on
// storage/filesystem/internal/dotgit/refs.go's one-file-per-ref layout
// and dotgit_setref.go's compare-and-swap update, simplified from
// git's packed-refs/loose-refs split (this spec has no equivalent of
// packed-refs) down to loose files only.
package refdb

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

const headFile = "HEAD"
const headsDir = "heads"
const attachedPrefix = "ref: "

// DB is a reference database rooted at one directory.
type DB struct {
	dir string
}

// Open opens (or creates) a reference database at dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(filepath.Join(dir, headsDir), 0o755); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", dir)
	}
	return &DB{dir: dir}, nil
}

func (d *DB) branchPath(name string) string {
	return filepath.Join(d.dir, headsDir, name)
}

// GetBranch returns the commit hash a branch currently points at.
func (d *DB) GetBranch(name string) (hash.Hash, error) {
	b, err := os.ReadFile(d.branchPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return hash.Zero, tabvcerr.New(tabvcerr.NotFound, "branch %q", name)
		}
		return hash.Zero, tabvcerr.Wrap(tabvcerr.IO, err, "read branch %q", name)
	}
	h, err := hash.FromHex(strings.TrimSpace(string(b)))
	if err != nil {
		return hash.Zero, tabvcerr.Wrap(tabvcerr.Corrupted, err, "branch %q", name)
	}
	return h, nil
}

// BranchExists reports whether name has a ref file.
func (d *DB) BranchExists(name string) bool {
	_, err := os.Stat(d.branchPath(name))
	return err == nil
}

// ListBranches returns every branch name, lexicographically ordered.
// Ordering is produced by a treeset rather than a post-hoc sort.Strings.
// Branch names containing "/" are stored in nested directories under
// heads/ and listed by their slash-separated relative path.
func (d *DB) ListBranches() ([]string, error) {
	root := filepath.Join(d.dir, headsDir)
	set := treeset.NewWith(utils.StringComparator)
	err := filepath.WalkDir(root, func(p string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		set.Add(filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "list branches")
	}
	names := make([]string, 0, set.Size())
	for _, v := range set.Values() {
		names = append(names, v.(string))
	}
	return names, nil
}

// UpdateBranch compares-and-swaps name's ref: it must currently equal
// old (hash.Zero meaning "must not exist yet") or the update is
// rejected with RevisionConflict, mirroring dotgit_setref.go's old-ref
// check before a write. The write itself is atomic (temp file +
// rename).
func (d *DB) UpdateBranch(name string, old, new hash.Hash) error {
	current, err := d.GetBranch(name)
	exists := true
	if tabvcerr.Is(err, tabvcerr.NotFound) {
		exists = false
		current = hash.Zero
	} else if err != nil {
		return err
	}

	if exists && old.IsZero() {
		return tabvcerr.New(tabvcerr.RevisionConflict, "branch %q already exists at %s", name, current.Short())
	}
	if !exists && !old.IsZero() {
		return tabvcerr.New(tabvcerr.RevisionConflict, "branch %q does not exist", name)
	}
	if exists && current != old {
		return tabvcerr.New(tabvcerr.RevisionConflict, "branch %q is at %s, expected %s", name, current.Short(), old.Short())
	}

	return d.writeBranchFile(name, new)
}

func (d *DB) writeBranchFile(name string, h hash.Hash) error {
	dir := filepath.Join(d.dir, headsDir)
	tmp, err := os.CreateTemp(dir, "tmp_ref_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp ref")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(h.String() + "\n"); err != nil {
		tmp.Close()
		return tabvcerr.Wrap(tabvcerr.IO, err, "write ref %q", name)
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close temp ref")
	}
	if err := os.MkdirAll(filepath.Dir(d.branchPath(name)), 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir for ref %q", name)
	}
	if err := os.Rename(tmpPath, d.branchPath(name)); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "rename ref %q into place", name)
	}
	return nil
}

// DeleteBranch removes a branch's ref file.
func (d *DB) DeleteBranch(name string) error {
	if err := os.Remove(d.branchPath(name)); err != nil {
		if os.IsNotExist(err) {
			return tabvcerr.New(tabvcerr.NotFound, "branch %q", name)
		}
		return tabvcerr.Wrap(tabvcerr.IO, err, "delete branch %q", name)
	}
	return nil
}

func (d *DB) headPath() string {
	return filepath.Join(d.dir, headFile)
}

// SetHead attaches HEAD to branch, without requiring the branch to
// already exist (a fresh repository's HEAD is set before its first
// commit creates the branch).
func (d *DB) SetHead(branch string) error {
	return d.writeHeadFile(attachedPrefix + branch + "\n")
}

// DetachHead points HEAD directly at a commit hash, leaving no branch
// attached.
func (d *DB) DetachHead(h hash.Hash) error {
	return d.writeHeadFile(h.String() + "\n")
}

func (d *DB) writeHeadFile(content string) error {
	tmp, err := os.CreateTemp(d.dir, "tmp_head_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp HEAD")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return tabvcerr.Wrap(tabvcerr.IO, err, "write HEAD")
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close temp HEAD")
	}
	if err := os.Rename(tmpPath, d.headPath()); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "rename HEAD into place")
	}
	return nil
}

// Head resolves HEAD. If attached, branch is the branch name and h is
// that branch's current commit hash; detached is false. If detached,
// branch is empty and h is read directly from HEAD.
func (d *DB) Head() (branch string, h hash.Hash, detached bool, err error) {
	b, readErr := os.ReadFile(d.headPath())
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "", hash.Zero, false, tabvcerr.New(tabvcerr.NotFound, "HEAD")
		}
		return "", hash.Zero, false, tabvcerr.Wrap(tabvcerr.IO, readErr, "read HEAD")
	}
	content := strings.TrimSpace(string(b))

	if rest, ok := strings.CutPrefix(content, attachedPrefix); ok {
		h, err := d.GetBranch(rest)
		return rest, h, false, err
	}

	detachedHash, err := hash.FromHex(content)
	if err != nil {
		return "", hash.Zero, false, tabvcerr.Wrap(tabvcerr.Corrupted, err, "HEAD")
	}
	return "", detachedHash, true, nil
}

// CurrentBranch returns the branch HEAD is attached to, and false if
// HEAD is detached.
func (d *DB) CurrentBranch() (string, bool, error) {
	branch, _, detached, err := d.Head()
	if err != nil {
		return "", false, err
	}
	return branch, !detached, nil
}
