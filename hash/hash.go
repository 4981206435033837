// Package hash provides the 128-bit content hash used to address every
// object in the store: chunks, tree nodes, and commits.
package hash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Size is the length, in bytes, of a Hash.
const Size = 16

// HexSize is the length of a Hash's hex-encoded form.
const HexSize = Size * 2

// ShortSize is the number of hex characters kept by Short.
const ShortSize = 8

// ErrInvalidHash is returned when a string or byte slice cannot be
// parsed into a Hash.
var ErrInvalidHash = errors.New("hash: invalid encoding")

// Hash is a 128-bit content hash. The zero Hash is never a valid
// object address; it is only used as a sentinel (e.g. "no parent").
type Hash [Size]byte

// Zero is the zero-valued Hash.
var Zero Hash

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// String returns the full lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first ShortSize hex characters of h, for display.
func (h Hash) Short() string {
	s := h.String()
	if len(s) < ShortSize {
		return s
	}
	return s[:ShortSize]
}

// Bytes returns the raw 16 bytes backing h.
func (h Hash) Bytes() []byte {
	return h[:]
}

// Compare provides a total order over hashes, used to sort and
// binary-search the Merkle Node Store's shard index (storage/mns).
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// FromHex parses a hex-encoded hash. It accepts only the full,
// untruncated form: short forms are a display-only convenience and
// are never accepted as object addresses.
func FromHex(s string) (Hash, error) {
	if len(s) != HexSize {
		return Zero, ErrInvalidHash
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, ErrInvalidHash
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// MustFromHex is FromHex but panics on error; useful for constants in
// tests.
func MustFromHex(s string) Hash {
	h, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return h
}

// FromBytes builds a Hash from a raw 16-byte digest.
func FromBytes(b []byte) (Hash, error) {
	if len(b) != Size {
		return Zero, ErrInvalidHash
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// New returns a new incremental hash.Hash producing Size-byte sums.
// It is exported so the chunker and encoders can stream large payloads
// instead of buffering them in memory.
func New() hash.Hash {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		// blake2b.New only fails for an invalid key or an out-of-range
		// size; Size is a compile-time constant within range and no key
		// is used, so this is unreachable.
		panic(err)
	}
	return h
}

// Sum computes the content hash of p in one call.
func Sum(p []byte) Hash {
	h := New()
	h.Write(p)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
