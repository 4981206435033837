package objects

import "github.com/tabvc/tabvc/tabvcerr"

// Node is implemented by every decoded node type, for code that walks
// a tree generically (e.g. the migration engine).
type Node interface {
	Encode() []byte
}

// Decode dispatches to the right DecodeXxx by Kind. Used by the Merkle
// Node Store, which persists per-kind shards and must decode a payload
// without the caller already knowing its shape.
func Decode(kind Kind, payload []byte) (Node, error) {
	switch kind {
	case KindCommit:
		return DecodeCommit(payload)
	case KindDirectory:
		return DecodeDirectory(payload)
	case KindVNode:
		return DecodeVNode(payload)
	case KindFile:
		return DecodeFile(payload)
	case KindSchema:
		return DecodeSchema(payload)
	default:
		return nil, tabvcerr.New(tabvcerr.Corrupted, "unknown node kind %d", kind)
	}
}
