// Package mns implements the Merkle Node Store of §4.2: an append-once,
// shard-per-write index over the node payloads that objects.Encode
// produces, so a reader can resolve a hash.Hash to a node's kind and
// raw payload without re-reading every byte ever written.
//
// Each write produces one new shard file, named after the content hash
// of its own sorted index (mirroring git's content-addressed
// pack-<sha1>.pack naming in plumbing/format/idxfile). A shard is never
// mutated after it is finalized; reads are served by scanning shards
// newest-first, matching the teacher's multi-pack lookup strategy in
// storage/filesystem/mmap/packfile.go.
package mns

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/tabvcerr"
)

var shardMagic = []byte{'T', 'B', 'N', 'S'}

const shardVersion uint32 = 1

// entrySize is the fixed width of one index record: Hash (16) + Kind
// (1, padded to 8) + Offset (8) + Length (8).
const entrySize = hash.Size + 8 + 8 + 8

type indexEntry struct {
	Hash   hash.Hash
	Kind   objects.Kind
	Offset uint64
	Length uint64
}

func encodeEntry(e indexEntry) []byte {
	buf := make([]byte, entrySize)
	copy(buf[0:hash.Size], e.Hash[:])
	buf[hash.Size] = byte(e.Kind)
	binary.BigEndian.PutUint64(buf[hash.Size+8:hash.Size+16], e.Offset)
	binary.BigEndian.PutUint64(buf[hash.Size+16:hash.Size+24], e.Length)
	return buf
}

func decodeEntry(buf []byte) indexEntry {
	var e indexEntry
	copy(e.Hash[:], buf[0:hash.Size])
	e.Kind = objects.Kind(buf[hash.Size])
	e.Offset = binary.BigEndian.Uint64(buf[hash.Size+8 : hash.Size+16])
	e.Length = binary.BigEndian.Uint64(buf[hash.Size+16 : hash.Size+24])
	return e
}

// shardName derives a content-addressed file name from the sorted set
// of hashes the shard contains, the same way git derives a pack's name
// from the sorted object list it carries.
func shardName(entries []indexEntry) string {
	buf := new(bytes.Buffer)
	for _, e := range entries {
		buf.Write(e.Hash[:])
	}
	return hash.Sum(buf.Bytes()).String() + ".mns"
}

// layout of a finalized shard file:
//
//	magic(4) version(4)
//	data section: concatenated node payloads, back to back
//	index section: entries sorted by Hash, entrySize bytes each
//	footer: indexOffset(8) indexCount(4) contentHash(16)
const footerSize = 8 + 4 + hash.Size

func sortEntries(e []indexEntry) {
	sort.Slice(e, func(i, j int) bool { return e[i].Hash.Compare(e[j].Hash) < 0 })
}

// lookup binary-searches a sorted index for h.
func lookup(entries []indexEntry, h hash.Hash) (indexEntry, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Hash.Compare(h) >= 0 })
	if i < len(entries) && entries[i].Hash == h {
		return entries[i], true
	}
	return indexEntry{}, false
}

func errCorrupted(shard string, format string, args ...any) error {
	args = append([]any{shard}, args...)
	return tabvcerr.New(tabvcerr.Corrupted, "shard %s: "+format, args...)
}
