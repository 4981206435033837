// Package server implements the HTTP side of the Sync Protocol (§4.8,
// §6): a Registry of on-disk repositories under one root, fronted by
// handlers for the endpoint table §6 names. Grounded on the teacher's
// backend/http package (a net/http.Handler wired against a
// storer.Storer, no router framework) adapted from git's
// upload-pack/receive-pack duo to this spec's REST-shaped verbs.
package server

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/tabvc/tabvc/internal/logging"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Registry opens and caches repositories found under root, one
// directory per {namespace}/{name}.
type Registry struct {
	root string
	log  *logging.Logger

	mu   sync.Mutex
	open map[string]*repo.Repository
}

// NewRegistry builds a Registry rooted at root.
func NewRegistry(root string, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Discard()
	}
	return &Registry{root: root, log: log.With("sync.server"), open: map[string]*repo.Repository{}}
}

func (reg *Registry) key(namespace, name string) string {
	return namespace + "/" + name
}

func (reg *Registry) dir(namespace, name string) string {
	return filepath.Join(reg.root, namespace, name)
}

// Create initializes a new repository at {namespace}/{name}, per
// POST /repos.
func (reg *Registry) Create(namespace, name string) (*repo.Repository, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	dir := reg.dir(namespace, name)
	r, err := repo.Init(dir, nil, reg.log)
	if err != nil {
		return nil, err
	}
	reg.open[reg.key(namespace, name)] = r
	return r, nil
}

// Open returns the repository at {namespace}/{name}, opening and
// caching it on first use.
func (reg *Registry) Open(namespace, name string) (*repo.Repository, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	k := reg.key(namespace, name)
	if r, ok := reg.open[k]; ok {
		return r, nil
	}
	dir := reg.dir(namespace, name)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, tabvcerr.New(tabvcerr.NotFound, "repository %s/%s", namespace, name)
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "stat %s", dir)
	}
	r, err := repo.Open(dir, reg.log)
	if err != nil {
		return nil, err
	}
	reg.open[k] = r
	return r, nil
}
