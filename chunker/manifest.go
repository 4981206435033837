package chunker

import (
	"bytes"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
	"github.com/tabvc/tabvc/tabvcerr"
)

// DefaultChunkSize is the default fixed chunk size, matching §4.4's
// example.
const DefaultChunkSize = 64 * 1024

// ManifestFile is the name of the manifest alongside a file's chunks.
const ManifestFile = "metadata.bin"

// Manifest records everything needed to reassemble a chunked file
// byte-identically: its original name and size, the chunk size used to
// split it, and the ordered list of per-chunk content hashes.
type Manifest struct {
	Filename     string
	OriginalSize int64
	ChunkSize    int
	ChunkHashes  []hash.Hash
}

// Encode serializes the manifest canonically.
func (m *Manifest) Encode() []byte {
	buf := new(bytes.Buffer)
	w := encoding.NewWriter(buf)
	w.String(m.Filename)
	w.Int64(m.OriginalSize)
	w.Uint32(uint32(m.ChunkSize))
	w.Uint32(uint32(len(m.ChunkHashes)))
	for _, h := range m.ChunkHashes {
		w.Hash(h)
	}
	return buf.Bytes()
}

// DecodeManifest parses a manifest written by Encode.
func DecodeManifest(payload []byte) (*Manifest, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	m := &Manifest{
		Filename:     r.String(),
		OriginalSize: r.Int64(),
		ChunkSize:    int(r.Uint32()),
	}
	n := r.Uint32()
	m.ChunkHashes = make([]hash.Hash, n)
	for i := range m.ChunkHashes {
		m.ChunkHashes[i] = r.Hash()
	}
	if err := r.Err(); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.Corrupted, err, "decode chunk manifest")
	}
	return m, nil
}

// ChunkCount returns how many chunks the manifest describes.
func (m *Manifest) ChunkCount() int {
	return len(m.ChunkHashes)
}
