package objects

import (
	"bytes"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
)

const fileVersion = 1

// Layout describes how a FileNode's bytes are stored in CAS.
type Layout uint8

const (
	LayoutSingleFile Layout = iota
	LayoutChunked
)

// Metadata is the optional structured metadata a FileNode carries,
// per §3 ("e.g., tabular schema, image dimensions"). Fields that don't
// apply to a given DataType are left zero.
type Metadata struct {
	SchemaHash  hash.Hash // DataTabular: hash of the SchemaNode
	ImageWidth  uint32    // DataImage
	ImageHeight uint32    // DataImage
	Extra       map[string]string
}

// FileNode describes one file's content and placement at a point in
// history (§3). Name, mtime and CommitID are all part of the encoded
// payload and therefore of Hash: two paths with identical content
// share CAS storage through PayloadHash, but share one FileNode only
// when their names and every other encoded field also match.
type FileNode struct {
	Name         string
	PayloadHash  hash.Hash // hash of the raw content
	Length       uint64
	DataType     DataType
	MimeType     string
	Extension    string
	ModTimeSec   int64
	ModTimeNsec  int64
	Metadata     Metadata
	Layout       Layout
	ChunkHashes  []hash.Hash // populated when Layout == LayoutChunked
	Backend      Backend
	CommitID     hash.Hash // commit that introduced this content+path combination

	// Hash is the combined hash covering payload hash + metadata,
	// distinct from PayloadHash so two identically-named files with the
	// same bytes but different mtimes/metadata are still distinguishable
	// nodes while sharing CAS storage.
	Hash hash.Hash
}

func (f *FileNode) Encode() []byte {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	w.Uint8(fileVersion)
	w.String(f.Name)
	w.Hash(f.PayloadHash)
	w.Uint64(f.Length)
	w.Uint8(uint8(f.DataType))
	w.String(f.MimeType)
	w.String(f.Extension)
	w.Int64(f.ModTimeSec)
	w.Int64(f.ModTimeNsec)
	w.Hash(f.Metadata.SchemaHash)
	w.Uint32(f.Metadata.ImageWidth)
	w.Uint32(f.Metadata.ImageHeight)
	w.StringMap(f.Metadata.Extra)
	w.Uint8(uint8(f.Layout))
	w.Uint32(uint32(len(f.ChunkHashes)))
	for _, c := range f.ChunkHashes {
		w.Hash(c)
	}
	w.Uint8(uint8(f.Backend))
	w.Hash(f.CommitID)
	return buf.Bytes()
}

func (f *FileNode) Finalize() hash.Hash {
	f.Hash = hash.Sum(f.Encode())
	return f.Hash
}

func DecodeFile(payload []byte) (*FileNode, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	_ = r.Uint8()
	f := &FileNode{Name: r.String()}
	f.PayloadHash = r.Hash()
	f.Length = r.Uint64()
	f.DataType = DataType(r.Uint8())
	f.MimeType = r.String()
	f.Extension = r.String()
	f.ModTimeSec = r.Int64()
	f.ModTimeNsec = r.Int64()
	f.Metadata.SchemaHash = r.Hash()
	f.Metadata.ImageWidth = r.Uint32()
	f.Metadata.ImageHeight = r.Uint32()
	f.Metadata.Extra = r.StringMap()
	f.Layout = Layout(r.Uint8())
	n := r.Uint32()
	f.ChunkHashes = make([]hash.Hash, 0, n)
	for i := uint32(0); i < n; i++ {
		f.ChunkHashes = append(f.ChunkHashes, r.Hash())
	}
	f.Backend = Backend(r.Uint8())
	f.CommitID = r.Hash()
	if err := r.Err(); err != nil {
		return nil, err
	}
	f.Hash = hash.Sum(payload)
	return f, nil
}
