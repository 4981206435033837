package migrate

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/tabvcerr"
)

const versionsDirName = "versions"

// ShardLayoutMigration rewrites a repository's CAS blob directory
// between a legacy flat layout (one file per hash directly under
// versions/) and the current two-level sharded layout
// (versions/{first_2}/{remainder}, §6's on-disk layout table).
// Grounded on oxen-rust's UpdateVersionFilesMigration
// (original_source: command/migrate/update_version_files.rs), which
// renames every blob under its repository's versions/ directory into
// a new naming scheme and reverses that rename on down; the file
// moves here are the same shape, adapted to this module's two-char
// hex sharding instead of oxen's per-commit extension-named files.
type ShardLayoutMigration struct{}

func (ShardLayoutMigration) Name() string { return "shard_layout_v2" }

func (ShardLayoutMigration) Up(ctx context.Context, rp *repo.Repository) error {
	dir := filepath.Join(rp.Dir, versionsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return tabvcerr.Wrap(tabvcerr.IO, err, "list %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) < shardPrefixLen {
			continue
		}
		name := e.Name()
		shardDir := filepath.Join(dir, name[:shardPrefixLen])
		if err := os.MkdirAll(shardDir, 0o755); err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", shardDir)
		}
		dest := filepath.Join(shardDir, name[shardPrefixLen:])
		if err := os.Rename(filepath.Join(dir, name), dest); err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "rename %s", name)
		}
	}
	return nil
}

func (ShardLayoutMigration) Down(ctx context.Context, rp *repo.Repository) error {
	dir := filepath.Join(rp.Dir, versionsDirName)
	shards, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return tabvcerr.Wrap(tabvcerr.IO, err, "list %s", dir)
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != shardPrefixLen {
			continue
		}
		shardDir := filepath.Join(dir, shard.Name())
		blobs, err := os.ReadDir(shardDir)
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "list %s", shardDir)
		}
		for _, b := range blobs {
			if b.IsDir() {
				continue
			}
			flatName := shard.Name() + b.Name()
			if err := os.Rename(filepath.Join(shardDir, b.Name()), filepath.Join(dir, flatName)); err != nil {
				return tabvcerr.Wrap(tabvcerr.IO, err, "rename %s", b.Name())
			}
		}
		if err := os.Remove(shardDir); err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "remove %s", shardDir)
		}
	}
	return nil
}

// shardPrefixLen mirrors storage/cas.shardLen; kept as its own
// unexported constant since migrate intentionally works beneath the
// cas.Store interface, on the raw directory layout a format version
// describes, not through the interface a live repository uses it
// through.
const shardPrefixLen = 2
