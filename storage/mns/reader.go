package mns

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Shard is one opened, immutable on-disk shard, memory-mapped where
// the platform supports it.
type Shard struct {
	name    string
	data    []byte
	cleanup func() error
	entries []indexEntry
}

// OpenShard mmaps and validates the shard file at path.
func OpenShard(name, path string) (*Shard, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "open shard %s", name)
	}
	defer f.Close()

	data, cleanup, err := mmapFile(f)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "mmap shard %s", name)
	}

	s := &Shard{name: name, data: data, cleanup: cleanup}
	if err := s.parse(); err != nil {
		cleanup()
		return nil, err
	}
	return s, nil
}

func (s *Shard) parse() error {
	if len(s.data) < len(shardMagic)+4+footerSize {
		return errCorrupted(s.name, "truncated")
	}
	if !bytes.Equal(s.data[:len(shardMagic)], shardMagic) {
		return errCorrupted(s.name, "bad magic")
	}
	version := binary.BigEndian.Uint32(s.data[len(shardMagic) : len(shardMagic)+4])
	if version != shardVersion {
		return errCorrupted(s.name, "unsupported version %d", version)
	}

	footer := s.data[len(s.data)-footerSize:]
	indexOffset := binary.BigEndian.Uint64(footer[0:8])
	indexCount := binary.BigEndian.Uint32(footer[8:12])
	wantSum := footer[12 : 12+hash.Size]

	hasher := hash.New()
	hasher.Write(s.data[:len(s.data)-footerSize])
	var gotSum hash.Hash
	copy(gotSum[:], hasher.Sum(nil))
	if !bytes.Equal(gotSum[:], wantSum) {
		return errCorrupted(s.name, "checksum mismatch")
	}

	indexBytes := s.data[indexOffset : uint64(len(s.data))-footerSize]
	if uint64(len(indexBytes)) != uint64(indexCount)*entrySize {
		return errCorrupted(s.name, "index size mismatch")
	}
	entries := make([]indexEntry, indexCount)
	for i := range entries {
		off := i * entrySize
		entries[i] = decodeEntry(indexBytes[off : off+entrySize])
	}
	s.entries = entries
	return nil
}

// Lookup returns the raw payload and kind stored under h, if present.
func (s *Shard) Lookup(h hash.Hash) (objects.Kind, []byte, bool) {
	e, ok := lookup(s.entries, h)
	if !ok {
		return 0, nil, false
	}
	dataStart := uint64(len(shardMagic) + 4)
	start := dataStart + e.Offset
	end := start + e.Length
	return e.Kind, s.data[start:end], true
}

// Hashes returns every hash this shard carries, in sorted order.
func (s *Shard) Hashes() []hash.Hash {
	out := make([]hash.Hash, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Hash
	}
	return out
}

// Close releases the shard's mapping.
func (s *Shard) Close() error {
	if s.cleanup == nil {
		return nil
	}
	return s.cleanup()
}
