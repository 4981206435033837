// Package objects defines the Merkle tree node kinds of §3: CommitNode,
// DirectoryNode, VNode, FileNode, and SchemaNode, their canonical
// binary encoding, and the hash-of-payload that makes every node
// immutable and content-addressed.
//
// Grounded on the teacher's plumbing/object package (commit/tree
// encode-decode-by-hand style) generalized from git's blob/tree/commit
// triad to the five node kinds this spec names, and on
// oxen-rust/src/lib/src/model/merkle_tree/node/file_node.rs for the
// FileNode field set the distilled spec only sketches.
package objects

import "github.com/tabvc/tabvc/hash"

// Kind tags which node type a child reference or on-disk record holds.
type Kind uint8

const (
	KindCommit Kind = iota + 1
	KindDirectory
	KindVNode
	KindFile
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindDirectory:
		return "directory"
	case KindVNode:
		return "vnode"
	case KindFile:
		return "file"
	case KindSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// DataType is the detected content type of a FileNode, per §3.
type DataType uint8

const (
	DataBinary DataType = iota
	DataText
	DataTabular
	DataImage
	DataAudio
	DataVideo
)

func (d DataType) String() string {
	switch d {
	case DataText:
		return "text"
	case DataTabular:
		return "tabular"
	case DataImage:
		return "image"
	case DataAudio:
		return "audio"
	case DataVideo:
		return "video"
	default:
		return "binary"
	}
}

// Backend tags where a FileNode's bytes live, per §4.1.
type Backend uint8

const (
	BackendDisk Backend = iota
	BackendS3
)

func (b Backend) String() string {
	if b == BackendS3 {
		return "s3"
	}
	return "disk"
}

// ChildRef is an entry in a DirectoryNode or VNode's child list.
type ChildRef struct {
	Name string
	Kind Kind
	Hash hash.Hash
}
