// Package repo ties the Content-Addressed Chunk Store, Merkle Node
// Store, Reference Store, Stager, Commit Builder and Workspace Engine
// together into one on-disk repository, mirroring the role the
// teacher's top-level Repository type plays over its own Storer/
// Worktree/config triad.
package repo

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/tabvc/tabvc/commitbuilder"
	"github.com/tabvc/tabvc/config"
	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/logging"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/refdb"
	"github.com/tabvc/tabvc/stager"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
	"github.com/tabvc/tabvc/workspace"
)

const (
	treeDirName       = "tree"
	versionsDirName   = "versions"
	workspacesDirName = "workspaces"
	stagedDirName     = "staged"
)

// Repository is one repository's open handle: every component of §4
// wired against the same hidden control directory.
type Repository struct {
	Dir    string
	Config *config.Config

	CAS        cas.Store
	Nodes      *mns.Store
	Refs       *refdb.DB
	Builder    *commitbuilder.Builder
	Workspaces *workspace.Manager
	Log        *logging.Logger

	stagedDir string

	sizeMu    sync.Mutex
	sizeCache map[hash.Hash]uint64
}

// Init creates a brand-new repository at dir with cfg (or config.Default()
// if cfg is nil), and opens it.
func Init(dir string, cfg *config.Config, log *logging.Logger) (*Repository, error) {
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
		return nil, tabvcerr.New(tabvcerr.AlreadyExists, "repository already initialized at %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", dir)
	}
	if cfg == nil {
		c := config.Default()
		cfg = &c
	}
	if err := config.Save(dir, cfg); err != nil {
		return nil, err
	}
	return Open(dir, log)
}

// Open opens an existing repository rooted at dir, constructing the
// CAS backend config.StorageBackend names.
func Open(dir string, log *logging.Logger) (*Repository, error) {
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("repo")

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	var store cas.Store
	switch cfg.StorageBackend {
	case config.BackendS3:
		remote, ok := cfg.Remote("origin")
		if !ok {
			return nil, tabvcerr.New(tabvcerr.Corrupted, "storage_backend is %q but no remote is configured", cfg.StorageBackend)
		}
		store = cas.NewObjectStore(remote.URL, nil)
	default:
		store = cas.NewFSStore(filepath.Join(dir, versionsDirName))
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	nodes, err := mns.Open(filepath.Join(dir, treeDirName))
	if err != nil {
		return nil, err
	}
	refs, err := refdb.Open(dir)
	if err != nil {
		return nil, err
	}
	builder := commitbuilder.New(nodes, refs, store)
	workspaces := workspace.NewManager(filepath.Join(dir, workspacesDirName), nodes, store, refs, log)

	return &Repository{
		Dir:        dir,
		Config:     cfg,
		CAS:        store,
		Nodes:      nodes,
		Refs:       refs,
		Builder:    builder,
		Workspaces: workspaces,
		Log:        log,
		stagedDir:  filepath.Join(dir, stagedDirName),
		sizeCache:  map[hash.Hash]uint64{},
	}, nil
}

// Stager opens this repository's single working-copy Stager, rooted at
// workingDir.
func (r *Repository) Stager(workingDir string) (*stager.Stager, error) {
	return stager.Open(r.stagedDir, workingDir, r.CAS)
}

// HeadLookup returns the stager.HeadLookup for the current HEAD tree,
// for Add/Remove/Status/Restore calls against the working copy.
func (r *Repository) HeadLookup() (*commitbuilder.TreeLookup, error) {
	return r.Builder.HeadLookup()
}

// Size returns the total byte size of every file reachable from
// commitHash, per the supplemented Repository size cache (grounded on
// oxen-rust's repo_size.rs cacher). A DirectoryNode already stores its
// own aggregate Size (bubbled up during commit build, §4.6), so this
// is an O(1) lookup of the root node; the cache exists purely to save
// repeat decodes of the same commit across calls.
func (r *Repository) Size(commitHash hash.Hash) (uint64, error) {
	r.sizeMu.Lock()
	if size, ok := r.sizeCache[commitHash]; ok {
		r.sizeMu.Unlock()
		return size, nil
	}
	r.sizeMu.Unlock()

	node, err := r.Nodes.Get(commitHash)
	if err != nil {
		return 0, err
	}
	c, ok := node.(*objects.CommitNode)
	if !ok {
		return 0, tabvcerr.New(tabvcerr.Corrupted, "%s is not a commit", commitHash.Short())
	}
	if c.Root.IsZero() {
		r.sizeMu.Lock()
		r.sizeCache[commitHash] = 0
		r.sizeMu.Unlock()
		return 0, nil
	}

	root, err := r.Nodes.Get(c.Root)
	if err != nil {
		return 0, err
	}
	dir, ok := root.(*objects.DirectoryNode)
	if !ok {
		return 0, tabvcerr.New(tabvcerr.Corrupted, "commit %s root is not a directory", commitHash.Short())
	}

	r.sizeMu.Lock()
	r.sizeCache[commitHash] = dir.Size
	r.sizeMu.Unlock()
	return dir.Size, nil
}

// Close releases every node-store shard's memory-mapped handle.
func (r *Repository) Close() error {
	return r.Nodes.Close()
}
