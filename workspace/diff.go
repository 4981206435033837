package workspace

// RowDiff is one row in the diff view of a workspace's table.
type RowDiff struct {
	ID     string
	RowID  uint64
	Status RowStatus
	Values map[string]string
}

// Diff returns the current set of changes for path as a row list,
// driven entirely by each row's diff-status column (§4.7.4).
func Diff(ws *Workspace, path string) ([]RowDiff, error) {
	t, err := loadTable(ws, path)
	if err != nil {
		return nil, err
	}
	var out []RowDiff
	for _, r := range t.Rows {
		if r.Status == RowUnchanged {
			continue
		}
		out = append(out, RowDiff{ID: r.ID, RowID: r.RowID, Status: r.Status, Values: r.Values})
	}
	return out, nil
}

// ColumnDelta describes one column-schema change between the
// committed schema and the workspace's current schema.
type ColumnDelta struct {
	Added   []string
	Removed []string
}

// FullDiffSummary is a materialized comparison of the workspace's
// indexed table against the committed table (§4.7.4).
type FullDiffSummary struct {
	AddedRows    int
	RemovedRows  int
	ModifiedRows int
	Columns      ColumnDelta
}

// FullDiff compares the indexed table against the version captured at
// index time, counting added/removed/modified rows and any
// column-schema delta.
func FullDiff(ws *Workspace, path string) (*FullDiffSummary, error) {
	t, err := loadTable(ws, path)
	if err != nil {
		return nil, err
	}
	summary := &FullDiffSummary{}
	for _, r := range t.Rows {
		switch r.Status {
		case RowAdded:
			summary.AddedRows++
		case RowRemoved:
			summary.RemovedRows++
		case RowModified:
			summary.ModifiedRows++
		}
	}

	committed := make(map[string]bool, len(t.CommittedColumns))
	for _, c := range t.CommittedColumns {
		committed[c] = true
	}
	current := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		current[c] = true
	}
	for _, c := range t.Columns {
		if !committed[c] {
			summary.Columns.Added = append(summary.Columns.Added, c)
		}
	}
	for _, c := range t.CommittedColumns {
		if !current[c] {
			summary.Columns.Removed = append(summary.Columns.Removed, c)
		}
	}
	return summary, nil
}

// HasChanges reports whether path currently has any pending edits in
// this workspace (a file that is not indexed at all has none).
func HasChanges(ws *Workspace, path string) (bool, error) {
	if !tableExists(ws, path) {
		return false, nil
	}
	t, err := loadTable(ws, path)
	if err != nil {
		return false, err
	}
	return t.HasChanges(), nil
}
