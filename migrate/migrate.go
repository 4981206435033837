// Package migrate implements the Migration Engine of §4.9: between
// repository format versions, rewrite on-disk artifacts while holding
// an exclusive per-repository lock file (migrate.lock). The Commit
// Builder does not take this lock.
//
// Grounded on oxen-rust's command/migrate package (original_source),
// whose Migrate trait (name/up/down, each either operating on one
// repository or, with all, walking every namespace/repo under a root
// and logging-and-continuing past failures) is carried over here
// nearly structurally unchanged; only the concrete migration in
// shard_layout.go differs, since this module's CAS layout has no
// equivalent of oxen's per-commit extension-named version files to
// rename.
package migrate

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tabvc/tabvc/config"
	"github.com/tabvc/tabvc/internal/lock"
	"github.com/tabvc/tabvc/internal/logging"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/tabvcerr"
)

const lockFileName = "migrate.lock"

// Migration is one named, reversible on-disk format change.
type Migration interface {
	Name() string
	// Up rewrites dir's on-disk artifacts forward to this migration's
	// format. rp is already open against dir.
	Up(ctx context.Context, rp *repo.Repository) error
	// Down reverses Up.
	Down(ctx context.Context, rp *repo.Repository) error
}

// Runner applies a fixed, ordered set of migrations to one or many
// repositories.
type Runner struct {
	migrations []Migration
	log        *logging.Logger
}

// NewRunner builds a Runner over migrations, applied in the order
// given for Up and reverse order for Down.
func NewRunner(log *logging.Logger, migrations ...Migration) *Runner {
	if log == nil {
		log = logging.Discard()
	}
	return &Runner{migrations: migrations, log: log.With("migrate")}
}

// Up runs every migration forward against the single repository at
// dir, under its exclusive lock.
func (r *Runner) Up(ctx context.Context, dir string) error {
	return r.runOne(ctx, dir, func(ctx context.Context, rp *repo.Repository, m Migration) error {
		return m.Up(ctx, rp)
	}, false)
}

// Down runs every migration backward, in reverse registration order,
// against the single repository at dir.
func (r *Runner) Down(ctx context.Context, dir string) error {
	return r.runOne(ctx, dir, func(ctx context.Context, rp *repo.Repository, m Migration) error {
		return m.Down(ctx, rp)
	}, true)
}

func (r *Runner) runOne(ctx context.Context, dir string, apply func(context.Context, *repo.Repository, Migration) error, reverse bool) error {
	l, err := lock.Acquire(filepath.Join(dir, lockFileName))
	if err != nil {
		return err
	}
	defer l.Unlock()

	rp, err := repo.Open(dir, r.log)
	if err != nil {
		return err
	}
	defer rp.Close()

	order := r.migrations
	if reverse {
		order = reversed(r.migrations)
	}
	for _, m := range order {
		r.log.Info("running migration", "name", m.Name(), "repo", dir, "reverse", reverse)
		if err := apply(ctx, rp, m); err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "migration %s on %s", m.Name(), dir)
		}
	}
	return nil
}

// UpAll walks every namespace/repo directory under root and runs Up
// against each, logging and continuing past any single repository's
// failure so one bad repo never blocks a fleet-wide migration (§4.9
// "failed migrations log and continue to the next repository").
func (r *Runner) UpAll(ctx context.Context, root string) error {
	return r.runAll(ctx, root, r.Up)
}

// DownAll is UpAll's reverse-direction counterpart.
func (r *Runner) DownAll(ctx context.Context, root string) error {
	return r.runAll(ctx, root, r.Down)
}

func (r *Runner) runAll(ctx context.Context, root string, apply func(context.Context, string) error) error {
	repos, err := listRepos(root)
	if err != nil {
		return err
	}
	r.log.Info("migrating repositories", "count", len(repos), "root", root)
	for _, dir := range repos {
		if err := apply(ctx, dir); err != nil {
			r.log.Error("migration failed, continuing", "repo", dir, "error", err)
			continue
		}
	}
	return nil
}

// listRepos enumerates every {root}/{namespace}/{name} directory that
// holds an initialized repository (identified by the presence of
// config.FileName), mirroring the registry's own {namespace}/{name}
// layout (sync/server/registry.go).
func listRepos(root string) ([]string, error) {
	namespaces, err := os.ReadDir(root)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "list namespaces under %s", root)
	}
	var out []string
	for _, ns := range namespaces {
		if !ns.IsDir() {
			continue
		}
		nsDir := filepath.Join(root, ns.Name())
		repoEntries, err := os.ReadDir(nsDir)
		if err != nil {
			return nil, tabvcerr.Wrap(tabvcerr.IO, err, "list repos under %s", nsDir)
		}
		for _, re := range repoEntries {
			if !re.IsDir() {
				continue
			}
			repoDir := filepath.Join(nsDir, re.Name())
			if _, err := os.Stat(filepath.Join(repoDir, config.FileName)); err == nil {
				out = append(out, repoDir)
			}
		}
	}
	return out, nil
}

func reversed(in []Migration) []Migration {
	out := make([]Migration, len(in))
	for i, m := range in {
		out[len(in)-1-i] = m
	}
	return out
}
