package workspace

import (
	"bytes"
	"fmt"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
)

const tableVersion = 1

// Hidden columns every indexed table carries alongside its real data
// columns, renamed from the original implementation's "_oxen_*"
// prefix since this engine is not oxen's.
const (
	ColID         = "_tvc_id"
	ColRowID      = "_tvc_row_id"
	ColDiffStatus = "_tvc_diff_status"
)

// RowStatus is one row's diff state against the committed table, per
// §4.7.2's `_oxen_diff_status` column.
type RowStatus uint8

const (
	RowUnchanged RowStatus = iota
	RowAdded
	RowModified
	RowRemoved
)

func (s RowStatus) String() string {
	switch s {
	case RowAdded:
		return "Added"
	case RowModified:
		return "Modified"
	case RowRemoved:
		return "Removed"
	default:
		return "Unchanged"
	}
}

// Row is one row of an indexed table plus its hidden bookkeeping
// columns.
type Row struct {
	ID       string // ColID: stable per-row identifier generated at index time
	RowID    uint64 // ColRowID: 1-based row index in the original committed file
	Status   RowStatus
	Values   map[string]string

	// Original is the row's committed values, captured the first time
	// it is modified so a later Restore can put them back even after
	// OriginalHash has been superseded by further edits (§4.7.3).
	Original     map[string]string
	OriginalHash hash.Hash
	hasOriginal  bool
}

// SchemaChange records one column-granularity edit, so a later
// RestoreColumn can reverse it (§4.7.3 "must preserve the
// schema-change log").
type SchemaChange struct {
	Action string // "add", "delete", "rename"
	Column string // current column name the change applies to
	Prior  string // renamed-from name (Action=="rename") or prior default (Action=="add")
}

// Table is one indexed tabular file inside a workspace sandbox.
type Table struct {
	// CommittedColumns is the schema read at index time, kept
	// unmodified so FullDiff can report a column-schema delta even
	// after Columns has since been edited.
	CommittedColumns []string
	Columns          []string
	Rows             []*Row
	SchemaLog        []SchemaChange

	nextSeq uint64
}

// HasChanges reports whether any row or column diverges from the
// state captured at index time.
func (t *Table) HasChanges() bool {
	if len(t.SchemaLog) > 0 {
		return true
	}
	for _, r := range t.Rows {
		if r.Status != RowUnchanged {
			return true
		}
	}
	return false
}

// freshID mints a new stable row identifier. Deterministic from the
// table's own monotonically increasing sequence rather than a random
// UUID, since nothing outside this sandbox ever needs to predict it in
// advance, only never repeat it within this table.
func (t *Table) freshID() string {
	t.nextSeq++
	return fmt.Sprintf("%016x", t.nextSeq)
}

// rowHash hashes a row's non-hidden column values, in column order, so
// two rows with identical data compare equal regardless of map
// iteration order (§4.7.3: "status comparison uses a row hash over the
// non-hidden columns").
func rowHash(columns []string, values map[string]string) hash.Hash {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	for _, c := range columns {
		w.String(values[c])
	}
	return hash.Sum(buf.Bytes())
}

func (t *Table) byID(rowID string) (*Row, int) {
	for i, r := range t.Rows {
		if r.ID == rowID {
			return r, i
		}
	}
	return nil, -1
}

func (t *Table) Encode() []byte {
	var buf bytes.Buffer
	w := encoding.NewWriter(&buf)
	w.Uint8(tableVersion)
	w.Uint64(t.nextSeq)

	w.Uint32(uint32(len(t.CommittedColumns)))
	for _, c := range t.CommittedColumns {
		w.String(c)
	}
	w.Uint32(uint32(len(t.Columns)))
	for _, c := range t.Columns {
		w.String(c)
	}

	w.Uint32(uint32(len(t.SchemaLog)))
	for _, ch := range t.SchemaLog {
		w.String(ch.Action)
		w.String(ch.Column)
		w.String(ch.Prior)
	}

	w.Uint32(uint32(len(t.Rows)))
	for _, r := range t.Rows {
		w.String(r.ID)
		w.Uint64(r.RowID)
		w.Uint8(uint8(r.Status))
		w.StringMap(r.Values)
		if r.hasOriginal {
			w.Uint8(1)
			w.StringMap(r.Original)
		} else {
			w.Uint8(0)
		}
		w.Hash(r.OriginalHash)
	}
	return buf.Bytes()
}

func DecodeTable(payload []byte) (*Table, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	_ = r.Uint8()
	t := &Table{}
	t.nextSeq = r.Uint64()

	n := r.Uint32()
	t.CommittedColumns = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		t.CommittedColumns = append(t.CommittedColumns, r.String())
	}
	n = r.Uint32()
	t.Columns = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		t.Columns = append(t.Columns, r.String())
	}

	n = r.Uint32()
	t.SchemaLog = make([]SchemaChange, 0, n)
	for i := uint32(0); i < n; i++ {
		t.SchemaLog = append(t.SchemaLog, SchemaChange{Action: r.String(), Column: r.String(), Prior: r.String()})
	}

	n = r.Uint32()
	t.Rows = make([]*Row, 0, n)
	for i := uint32(0); i < n; i++ {
		row := &Row{}
		row.ID = r.String()
		row.RowID = r.Uint64()
		row.Status = RowStatus(r.Uint8())
		row.Values = r.StringMap()
		if r.Uint8() == 1 {
			row.hasOriginal = true
			row.Original = r.StringMap()
		}
		row.OriginalHash = r.Hash()
		t.Rows = append(t.Rows, row)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
