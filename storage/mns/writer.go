package mns

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/tabvcerr"
)

// pendingNode is one node queued into a shard before it is written.
type pendingNode struct {
	hash    hash.Hash
	kind    objects.Kind
	payload []byte
}

// ShardWriter accumulates every node produced by a single commit (or
// migration pass) and finalizes them into one immutable shard file,
// written atomically via a temp-file-then-rename, the same pattern
// storage/cas.FSStore.Put uses for blobs.
type ShardWriter struct {
	dir   string
	nodes []pendingNode
	seen  map[hash.Hash]struct{}
}

// NewShardWriter begins a new shard under dir (created if absent).
func NewShardWriter(dir string) *ShardWriter {
	return &ShardWriter{dir: dir, seen: map[hash.Hash]struct{}{}}
}

// Add queues a node for the shard. Duplicate hashes (structural
// sharing between commits re-adding an unchanged node) are silently
// deduplicated within the shard.
func (w *ShardWriter) Add(h hash.Hash, kind objects.Kind, payload []byte) {
	if _, ok := w.seen[h]; ok {
		return
	}
	w.seen[h] = struct{}{}
	w.nodes = append(w.nodes, pendingNode{hash: h, kind: kind, payload: payload})
}

// Len reports how many distinct nodes are queued.
func (w *ShardWriter) Len() int {
	return len(w.nodes)
}

// Finalize writes the shard to disk and returns its content-addressed
// file name (relative to dir). An empty writer is a no-op.
func (w *ShardWriter) Finalize() (string, error) {
	if len(w.nodes) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", w.dir)
	}

	entries := make([]indexEntry, 0, len(w.nodes))
	data := make([]byte, 0, 4096)
	for _, n := range w.nodes {
		entries = append(entries, indexEntry{
			Hash:   n.hash,
			Kind:   n.kind,
			Offset: uint64(len(data)),
			Length: uint64(len(n.payload)),
		})
		data = append(data, n.payload...)
	}
	sortEntries(entries)
	name := shardName(entries)

	tmp, err := os.CreateTemp(w.dir, "tmp_shard_")
	if err != nil {
		return "", tabvcerr.Wrap(tabvcerr.IO, err, "create temp shard")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeShard(tmp, entries, data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", tabvcerr.Wrap(tabvcerr.IO, err, "close temp shard")
	}

	dest := filepath.Join(w.dir, name)
	if _, err := os.Stat(dest); err == nil {
		// identical shard already present (structural sharing of a
		// whole commit's worth of nodes); nothing to do.
		return name, nil
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", tabvcerr.Wrap(tabvcerr.IO, err, "rename shard into place")
	}
	return name, nil
}

func writeShard(f *os.File, entries []indexEntry, data []byte) error {
	if _, err := f.Write(shardMagic); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "write shard magic")
	}
	if err := binary.Write(f, binary.BigEndian, shardVersion); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "write shard version")
	}
	if _, err := f.Write(data); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "write shard data")
	}

	indexOffset := uint64(len(shardMagic) + 4 + len(data))
	for _, e := range entries {
		if _, err := f.Write(encodeEntry(e)); err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "write shard index entry")
		}
	}

	hasher := hash.New()
	hasher.Write(shardMagic)
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], shardVersion)
	hasher.Write(versionBuf[:])
	hasher.Write(data)
	for _, e := range entries {
		hasher.Write(encodeEntry(e))
	}
	var sum hash.Hash
	copy(sum[:], hasher.Sum(nil))

	footer := make([]byte, footerSize)
	binary.BigEndian.PutUint64(footer[0:8], indexOffset)
	binary.BigEndian.PutUint32(footer[8:12], uint32(len(entries)))
	copy(footer[12:12+hash.Size], sum[:])
	if _, err := f.Write(footer); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "write shard footer")
	}
	return nil
}
