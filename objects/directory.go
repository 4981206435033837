package objects

import (
	"bytes"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
)

const directoryVersion = 1

// DirectoryNode describes one directory in a commit's tree. Children
// are either direct FileNode/DirectoryNode/SchemaNode references, or,
// once the directory is large enough to shard, VNode references (§3).
type DirectoryNode struct {
	Name         string
	Size         uint64 // aggregate byte size of everything beneath this node
	LastCommitID hash.Hash
	Children     []ChildRef

	Hash hash.Hash
}

// Sharded reports whether this directory's children are VNode
// buckets rather than direct entries.
func (d *DirectoryNode) Sharded() bool {
	for _, c := range d.Children {
		if c.Kind == KindVNode {
			return true
		}
	}
	return false
}

func (d *DirectoryNode) Encode() []byte {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	w.Uint8(directoryVersion)
	w.String(d.Name)
	w.Uint64(d.Size)
	w.Hash(d.LastCommitID)
	encodeChildren(w, d.Children)
	return buf.Bytes()
}

func (d *DirectoryNode) Finalize() hash.Hash {
	d.Hash = hash.Sum(d.Encode())
	return d.Hash
}

func DecodeDirectory(payload []byte) (*DirectoryNode, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	_ = r.Uint8()
	d := &DirectoryNode{Name: r.String()}
	d.Size = r.Uint64()
	d.LastCommitID = r.Hash()
	d.Children = decodeChildren(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	d.Hash = hash.Sum(payload)
	return d, nil
}

func encodeChildren(w *encoding.Writer, children []ChildRef) {
	w.Uint32(uint32(len(children)))
	for _, c := range children {
		w.String(c.Name)
		w.Uint8(uint8(c.Kind))
		w.Hash(c.Hash)
	}
}

func decodeChildren(r *encoding.Reader) []ChildRef {
	n := r.Uint32()
	out := make([]ChildRef, 0, n)
	for i := uint32(0); i < n; i++ {
		name := r.String()
		kind := Kind(r.Uint8())
		h := r.Hash()
		out = append(out, ChildRef{Name: name, Kind: kind, Hash: h})
	}
	return out
}
