package objects

import (
	"bytes"
	"time"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
)

const commitVersion = 1

// CommitNode is the root of a repository snapshot: metadata plus a
// pointer to the DirectoryNode tree it describes. Zero parents means a
// root commit, one means linear history, two or more means a merge
// (§3).
type CommitNode struct {
	Message   string
	Author    string
	Email     string
	Timestamp time.Time // always stored and compared in UTC
	Parents   []hash.Hash
	Root      hash.Hash // root DirectoryNode hash

	// Hash identifies this commit. It deliberately excludes Root: a
	// commit's id must exist before its tree is built, since every
	// DirectoryNode the commit rewrites stores this id as its
	// LastCommitID. Two different trees committed with byte-identical
	// message/author/email/timestamp/parents would collide, but the
	// nanosecond timestamp makes that practically impossible.
	Hash hash.Hash
}

// IsMerge reports whether this commit has more than one parent.
func (c *CommitNode) IsMerge() bool { return len(c.Parents) >= 2 }

// IsRoot reports whether this commit has no parents.
func (c *CommitNode) IsRoot() bool { return len(c.Parents) == 0 }

// Encode writes the canonical payload (every field except Hash) used
// to persist the node. Hash is not computed from it: Finalize and
// DecodeCommit hash identityEncode, which omits Root.
func (c *CommitNode) Encode() []byte {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	w.Uint8(commitVersion)
	w.String(c.Message)
	w.String(c.Author)
	w.String(c.Email)
	w.Int64(c.Timestamp.UTC().UnixNano())
	w.Uint32(uint32(len(c.Parents)))
	for _, p := range c.Parents {
		w.Hash(p)
	}
	w.Hash(c.Root)
	return buf.Bytes()
}

// identityEncode is the subset of Encode that determines Hash: every
// field except Root. Callers that need this commit's id to build its
// tree (commitbuilder) call this before Root is known.
func (c *CommitNode) identityEncode() []byte {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	w.Uint8(commitVersion)
	w.String(c.Message)
	w.String(c.Author)
	w.String(c.Email)
	w.Int64(c.Timestamp.UTC().UnixNano())
	w.Uint32(uint32(len(c.Parents)))
	for _, p := range c.Parents {
		w.Hash(p)
	}
	return buf.Bytes()
}

// IdentityHash computes this commit's id from its identity fields
// alone, without requiring Root to be set yet.
func (c *CommitNode) IdentityHash() hash.Hash {
	return hash.Sum(c.identityEncode())
}

// Finalize computes and stores Hash from the current payload. Must be
// called after every field mutation and before the node is persisted.
func (c *CommitNode) Finalize() hash.Hash {
	c.Hash = c.IdentityHash()
	return c.Hash
}

// DecodeCommit parses a payload produced by Encode.
func DecodeCommit(payload []byte) (*CommitNode, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	_ = r.Uint8() // version; only version 1 exists so far
	c := &CommitNode{
		Message: r.String(),
		Author:  r.String(),
		Email:   r.String(),
	}
	c.Timestamp = time.Unix(0, r.Int64()).UTC()
	n := r.Uint32()
	c.Parents = make([]hash.Hash, 0, n)
	for i := uint32(0); i < n; i++ {
		c.Parents = append(c.Parents, r.Hash())
	}
	c.Root = r.Hash()
	if err := r.Err(); err != nil {
		return nil, err
	}
	c.Hash = c.IdentityHash()
	return c, nil
}
