// Package encoding provides the small canonical binary encode/decode
// primitives every Merkle node type builds its payload from, adapted
// from the teacher's utils/binary helpers (fixed-width integers,
// BigEndian) plus length-prefixed strings and hashes, which the
// teacher's plumbing/object package inlines per type instead of
// factoring out.
//
// Canonical means: one byte sequence per logical value, independent of
// map iteration order or struct field order chosen by the caller. This
// is required because a node's hash is defined as a pure function of
// its encoded payload (§3 invariants).
package encoding

import (
	"encoding/binary"
	"io"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Writer accumulates a canonical encoding. Errors are sticky: once one
// write fails, subsequent writes are no-ops and Err returns the first
// error, so callers can chain writes without checking every line.
type Writer struct {
	w   io.Writer
	err error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) Err() error { return w.err }

func (w *Writer) Uint8(v uint8) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write([]byte{v})
}

func (w *Writer) Uint32(v uint32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, w.err = w.w.Write(b[:])
}

func (w *Writer) Uint64(v uint64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, w.err = w.w.Write(b[:])
}

func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

// String writes a length-prefixed UTF-8 string.
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

// Bytes writes a length-prefixed byte slice.
func (w *Writer) Bytes(b []byte) {
	w.Uint32(uint32(len(b)))
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

// Hash writes a fixed-width (hash.Size byte) hash, with no length
// prefix since its width never varies.
func (w *Writer) Hash(h hash.Hash) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(h.Bytes())
}

// StringMap writes a length-prefixed, key-sorted string/string map so
// the encoding is independent of Go's randomized map iteration order.
func (w *Writer) StringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	w.Uint32(uint32(len(keys)))
	for _, k := range keys {
		w.String(k)
		w.String(m[k])
	}
}

func sortStrings(s []string) {
	// small, fixed insertion sort avoids importing sort for O(10)-sized
	// schema/metadata maps; stable and allocation-free.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Reader is the mirror of Writer: sticky-error decoding from a byte
// stream produced by Writer.
type Reader struct {
	r   io.Reader
	err error
}

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Uint8() uint8 {
	if r.err != nil {
		return 0
	}
	var b [1]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return b[0]
}

func (r *Reader) Uint32() uint32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

func (r *Reader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.BigEndian.Uint64(b[:])
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) String() string {
	n := r.Uint32()
	if r.err != nil || n == 0 {
		return ""
	}
	if n > 64<<20 {
		r.fail(tabvcerr.New(tabvcerr.Corrupted, "string field too large: %d bytes", n))
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return ""
	}
	return string(b)
}

func (r *Reader) Bytes() []byte {
	n := r.Uint32()
	if r.err != nil || n == 0 {
		return nil
	}
	if n > 256<<20 {
		r.fail(tabvcerr.New(tabvcerr.Corrupted, "byte field too large: %d bytes", n))
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *Reader) Hash() hash.Hash {
	if r.err != nil {
		return hash.Zero
	}
	var b [hash.Size]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return hash.Zero
	}
	h, _ := hash.FromBytes(b[:])
	return h
}

func (r *Reader) StringMap() map[string]string {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if n == 0 {
		return map[string]string{}
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k := r.String()
		v := r.String()
		if r.err != nil {
			return nil
		}
		m[k] = v
	}
	return m
}
