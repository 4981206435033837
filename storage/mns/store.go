package mns

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Store is the Merkle Node Store of §4.2: a directory of immutable
// shards, searched newest-first so a node written by a later commit
// shadows nothing (nodes are content-addressed, so the same hash in
// two shards always carries identical bytes) but is found without
// scanning every shard ever written.
type Store struct {
	dir string

	mu     sync.RWMutex
	shards []*Shard // oldest first; Get scans in reverse
}

// Open opens (or creates) a node store rooted at dir, loading every
// existing shard.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", dir)
	}
	s := &Store{dir: dir}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "list shards in %s", s.dir)
	}
	names := make(map[string]bool, len(s.shards))
	for _, sh := range s.shards {
		names[sh.name] = true
	}
	var names2 []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mns") {
			continue
		}
		if names[e.Name()] {
			continue
		}
		names2 = append(names2, e.Name())
	}
	sort.Strings(names2)
	for _, n := range names2 {
		sh, err := OpenShard(n, filepath.Join(s.dir, n))
		if err != nil {
			return err
		}
		s.shards = append(s.shards, sh)
	}
	return nil
}

// NewWriter begins a new shard write against this store's directory.
func (s *Store) NewWriter() *ShardWriter {
	return NewShardWriter(s.dir)
}

// Commit finalizes w and makes its nodes visible to subsequent Get
// calls. An empty writer is a harmless no-op.
func (s *Store) Commit(w *ShardWriter) error {
	name, err := w.Finalize()
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, err := OpenShard(name, filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	s.shards = append(s.shards, sh)
	return nil
}

// GetRaw returns the kind and raw encoded payload stored under h.
func (s *Store) GetRaw(h hash.Hash) (objects.Kind, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.shards) - 1; i >= 0; i-- {
		if kind, payload, ok := s.shards[i].Lookup(h); ok {
			return kind, payload, nil
		}
	}
	return 0, nil, tabvcerr.New(tabvcerr.NotFound, "node %s", h.Short())
}

// Get decodes the node stored under h.
func (s *Store) Get(h hash.Hash) (objects.Node, error) {
	kind, payload, err := s.GetRaw(h)
	if err != nil {
		return nil, err
	}
	return objects.Decode(kind, payload)
}

// Exists reports whether h is present in any shard.
func (s *Store) Exists(h hash.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.shards) - 1; i >= 0; i-- {
		if _, _, ok := s.shards[i].Lookup(h); ok {
			return true
		}
	}
	return false
}

// ShardCount reports how many shard files currently back the store.
func (s *Store) ShardCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shards)
}

// ShardNames returns every shard file name currently known to this
// store, oldest first.
func (s *Store) ShardNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.shards))
	for i, sh := range s.shards {
		out[i] = sh.name
	}
	return out
}

// ShardPath returns the on-disk path of a shard by name, for the sync
// protocol to stream directly off disk rather than through Get/GetRaw.
func (s *Store) ShardPath(name string) string {
	return filepath.Join(s.dir, name)
}

// ShardContaining reports the name of the shard holding h, so a sync
// client can identify which single file to request to obtain a node
// its local store lacks.
func (s *Store) ShardContaining(h hash.Hash) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.shards) - 1; i >= 0; i-- {
		if _, _, ok := s.shards[i].Lookup(h); ok {
			return s.shards[i].name, true
		}
	}
	return "", false
}

// ImportShard adopts an externally-received shard file (already written
// at ShardPath(name) inside this store's directory, e.g. via a temp-file-then
// rename by the caller) by loading it into the in-memory shard list.
// Idempotent: re-importing an already-loaded shard name is a no-op.
func (s *Store) ImportShard(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.shards {
		if sh.name == name {
			return nil
		}
	}
	sh, err := OpenShard(name, filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	s.shards = append(s.shards, sh)
	return nil
}

// Hashes returns every node hash reachable by scanning every shard.
func (s *Store) Hashes() []hash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []hash.Hash
	for _, sh := range s.shards {
		out = append(out, sh.Hashes()...)
	}
	return out
}

// Close releases every shard's mapping.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, sh := range s.shards {
		if err := sh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
