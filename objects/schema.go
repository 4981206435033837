package objects

import (
	"bytes"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
)

const schemaVersion = 1

// SchemaField is one declared column of a tabular file's schema.
type SchemaField struct {
	Name     string
	DataType string // engine-defined type name, e.g. "i64", "str", "f64"
	Metadata map[string]string
}

// SchemaNode is the declared schema of a tabular file (§3).
type SchemaNode struct {
	Fields []SchemaField

	Hash hash.Hash
}

func (s *SchemaNode) Encode() []byte {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	w.Uint8(schemaVersion)
	w.Uint32(uint32(len(s.Fields)))
	for _, f := range s.Fields {
		w.String(f.Name)
		w.String(f.DataType)
		w.StringMap(f.Metadata)
	}
	return buf.Bytes()
}

func (s *SchemaNode) Finalize() hash.Hash {
	s.Hash = hash.Sum(s.Encode())
	return s.Hash
}

func DecodeSchema(payload []byte) (*SchemaNode, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	_ = r.Uint8()
	n := r.Uint32()
	fields := make([]SchemaField, 0, n)
	for i := uint32(0); i < n; i++ {
		name := r.String()
		dt := r.String()
		md := r.StringMap()
		fields = append(fields, SchemaField{Name: name, DataType: dt, Metadata: md})
	}
	s := &SchemaNode{Fields: fields}
	if err := r.Err(); err != nil {
		return nil, err
	}
	s.Hash = hash.Sum(payload)
	return s, nil
}
