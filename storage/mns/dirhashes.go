package mns

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
	"github.com/tabvc/tabvc/tabvcerr"
)

// DirHashes is the "schema reader"/dir_hashes secondary index: a
// per-commit path-to-node-hash lookup table, so a caller asking "what
// is the hash of path p at commit c" does not have to walk the
// DirectoryNode tree from the root one level at a time. Grounded on
// oxen-rust's CommitDirEntryReader dir_hashes index, which exists for
// exactly this reason.
type DirHashes struct {
	entries map[string]hash.Hash
}

// NewDirHashes returns an empty index to populate before writing.
func NewDirHashes() *DirHashes {
	return &DirHashes{entries: map[string]hash.Hash{}}
}

// Set records the node hash at path.
func (d *DirHashes) Set(path string, h hash.Hash) {
	d.entries[path] = h
}

// Get looks up the node hash at path.
func (d *DirHashes) Get(path string) (hash.Hash, bool) {
	h, ok := d.entries[path]
	return h, ok
}

// Paths returns every indexed path, sorted.
func (d *DirHashes) Paths() []string {
	paths := make([]string, 0, len(d.entries))
	for p := range d.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (d *DirHashes) encode() []byte {
	paths := d.Paths()
	buf := new(bytes.Buffer)
	w := encoding.NewWriter(buf)
	w.Uint32(uint32(len(paths)))
	for _, p := range paths {
		w.String(p)
		w.Hash(d.entries[p])
	}
	return buf.Bytes()
}

func decodeDirHashes(payload []byte) (*DirHashes, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	n := r.Uint32()
	d := NewDirHashes()
	for i := uint32(0); i < n; i++ {
		p := r.String()
		h := r.Hash()
		if r.Err() != nil {
			break
		}
		d.entries[p] = h
	}
	if err := r.Err(); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.Corrupted, err, "decode dir_hashes")
	}
	return d, nil
}

func (s *Store) dirHashesPath(commitID hash.Hash) string {
	return filepath.Join(s.dir, "dir_hashes", commitID.String()+".bin")
}

// WriteDirHashes persists d for commitID, atomically.
func (s *Store) WriteDirHashes(commitID hash.Hash, d *DirHashes) error {
	dir := filepath.Join(s.dir, "dir_hashes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "tmp_dirhashes_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp dir_hashes")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(d.encode()); err != nil {
		tmp.Close()
		return tabvcerr.Wrap(tabvcerr.IO, err, "write dir_hashes")
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close temp dir_hashes")
	}
	if err := os.Rename(tmpPath, s.dirHashesPath(commitID)); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "rename dir_hashes into place")
	}
	return nil
}

// ReadDirHashes loads the index written for commitID.
func (s *Store) ReadDirHashes(commitID hash.Hash) (*DirHashes, error) {
	payload, err := os.ReadFile(s.dirHashesPath(commitID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tabvcerr.New(tabvcerr.NotFound, "dir_hashes for commit %s", commitID.Short())
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read dir_hashes for commit %s", commitID.Short())
	}
	return decodeDirHashes(payload)
}
