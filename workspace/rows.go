package workspace

import (
	"github.com/tabvc/tabvc/tabvcerr"
)

// GetRow returns one row by id, for the sync server's
// GET .../rows/{row_id} endpoint.
func GetRow(ws *Workspace, path, rowID string) (*Row, error) {
	t, err := loadTable(ws, path)
	if err != nil {
		return nil, err
	}
	r, idx := t.byID(rowID)
	if idx < 0 {
		return nil, tabvcerr.New(tabvcerr.NotFound, "row %q not found", rowID)
	}
	return r, nil
}

// AddRow inserts a new row with status Added (§4.7.3).
func AddRow(ws *Workspace, path string, data map[string]string) (row *Row, err error) {
	err = ws.withFileLock(path, func() error {
		t, lerr := loadTable(ws, path)
		if lerr != nil {
			return lerr
		}
		row = &Row{ID: t.freshID(), Status: RowAdded, Values: normalizeValues(t.Columns, data)}
		t.Rows = append(t.Rows, row)
		return saveTable(ws, path, t)
	})
	return row, err
}

// UpdateRow replaces rowID's non-hidden columns, transitioning its
// status per §4.7.3's table.
func UpdateRow(ws *Workspace, path, rowID string, data map[string]string) (row *Row, err error) {
	err = ws.withFileLock(path, func() error {
		t, lerr := loadTable(ws, path)
		if lerr != nil {
			return lerr
		}
		r, idx := t.byID(rowID)
		if idx < 0 {
			return tabvcerr.New(tabvcerr.NotFound, "row %q not found", rowID)
		}
		if !r.hasOriginal && r.Status != RowAdded {
			r.Original = r.Values
			r.hasOriginal = true
			r.OriginalHash = rowHash(t.Columns, r.Values)
		}
		r.Values = normalizeValues(t.Columns, data)

		switch r.Status {
		case RowAdded:
			// stays Added
		case RowRemoved, RowUnchanged:
			if rowHash(t.Columns, r.Values) == r.OriginalHash {
				r.Status = RowUnchanged
			} else {
				r.Status = RowModified
			}
		case RowModified:
			if rowHash(t.Columns, r.Values) == r.OriginalHash {
				r.Status = RowUnchanged
			}
		}
		row = r
		return maybeUnstage(ws, path, t)
	})
	return row, err
}

// DeleteRow drops an Added row outright; otherwise marks it Removed.
func DeleteRow(ws *Workspace, path, rowID string) error {
	return ws.withFileLock(path, func() error {
		t, lerr := loadTable(ws, path)
		if lerr != nil {
			return lerr
		}
		r, idx := t.byID(rowID)
		if idx < 0 {
			return tabvcerr.New(tabvcerr.NotFound, "row %q not found", rowID)
		}
		if r.Status == RowAdded {
			t.Rows = append(t.Rows[:idx], t.Rows[idx+1:]...)
			return maybeUnstage(ws, path, t)
		}
		if !r.hasOriginal {
			r.Original = r.Values
			r.hasOriginal = true
			r.OriginalHash = rowHash(t.Columns, r.Values)
		}
		r.Status = RowRemoved
		return maybeUnstage(ws, path, t)
	})
}

// RestoreRow returns rowID to its committed state: dropped if it was
// Added, re-inserted with original values if Modified or Removed, a
// no-op if already Unchanged. If this brings the whole file back to
// equality with HEAD, the file is un-staged (its table file is
// removed, matching §4.7.3's "the file is un-staged").
func RestoreRow(ws *Workspace, path, rowID string) (row *Row, err error) {
	err = ws.withFileLock(path, func() error {
		t, lerr := loadTable(ws, path)
		if lerr != nil {
			return lerr
		}
		r, idx := t.byID(rowID)
		if idx < 0 {
			return tabvcerr.New(tabvcerr.NotFound, "row %q not found", rowID)
		}
		switch r.Status {
		case RowAdded:
			t.Rows = append(t.Rows[:idx], t.Rows[idx+1:]...)
		case RowModified, RowRemoved:
			r.Values = r.Original
			r.Status = RowUnchanged
			r.hasOriginal = false
		}
		row = r
		return maybeUnstage(ws, path, t)
	})
	return row, err
}

// BatchResult is one row's outcome within a BatchUpdate call.
type BatchResult struct {
	RowID string
	Row   *Row
	Err   error
}

// BatchUpdate applies a list of (row_id, value) updates, never
// aborting early (§4.7.3).
func BatchUpdate(ws *Workspace, path string, updates map[string]map[string]string) []BatchResult {
	results := make([]BatchResult, 0, len(updates))
	for rowID, data := range updates {
		row, err := UpdateRow(ws, path, rowID, data)
		results = append(results, BatchResult{RowID: rowID, Row: row, Err: err})
	}
	return results
}

func normalizeValues(columns []string, data map[string]string) map[string]string {
	out := make(map[string]string, len(columns))
	for _, c := range columns {
		out[c] = data[c]
	}
	return out
}

// maybeUnstage removes the workspace's table file entirely once the
// file's edits have all been reverted and it matches HEAD again,
// per §4.7.3/§4.7.4's "un-staged" framing. Otherwise the table is
// saved with its current edits.
func maybeUnstage(ws *Workspace, path string, t *Table) error {
	if !t.HasChanges() {
		return unindexPath(ws, path)
	}
	return saveTable(ws, path, t)
}
