package objects

import (
	"bytes"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
)

const vnodeVersion = 1

// BucketCount is the number of buckets a sharded directory's children
// are spread across. It is fixed module-wide so a path's bucket can be
// computed without reading the directory first.
const BucketCount = 256

// VNode is an intra-directory shard: every entry in it shares the same
// prefix bucket of their path hash, which bounds the number of
// children any single directory rewrite touches to O(children /
// BucketCount) (§3, §8 "directory with >10k entries").
type VNode struct {
	Bucket   uint32
	Children []ChildRef

	Hash hash.Hash
}

// BucketFor returns the bucket a child named name falls into within
// its parent directory.
func BucketFor(name string) uint32 {
	h := hash.Sum([]byte(name))
	return uint32(h[0]) % BucketCount
}

func (v *VNode) Encode() []byte {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	w.Uint8(vnodeVersion)
	w.Uint32(v.Bucket)
	encodeChildren(w, v.Children)
	return buf.Bytes()
}

func (v *VNode) Finalize() hash.Hash {
	v.Hash = hash.Sum(v.Encode())
	return v.Hash
}

func DecodeVNode(payload []byte) (*VNode, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	_ = r.Uint8()
	v := &VNode{Bucket: r.Uint32()}
	v.Children = decodeChildren(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	v.Hash = hash.Sum(payload)
	return v, nil
}
