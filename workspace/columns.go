package workspace

import (
	"github.com/tabvc/tabvc/tabvcerr"
)

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func removeColumn(columns []string, name string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

// AddColumn appends a new column, defaulted to defaultValue in every
// existing row, logging the change so it can later be reversed by
// RestoreColumn (§4.7.3).
func AddColumn(ws *Workspace, path, name, defaultValue string) error {
	return ws.withFileLock(path, func() error {
		t, err := loadTable(ws, path)
		if err != nil {
			return err
		}
		if hasColumn(t.Columns, name) {
			return tabvcerr.New(tabvcerr.AlreadyExists, "column %q already exists", name)
		}
		t.Columns = append(t.Columns, name)
		for _, r := range t.Rows {
			r.Values[name] = defaultValue
		}
		t.SchemaLog = append(t.SchemaLog, SchemaChange{Action: "add", Column: name, Prior: defaultValue})
		return saveTable(ws, path, t)
	})
}

// DeleteColumn drops name from the schema and from every row's
// values, logging the change.
func DeleteColumn(ws *Workspace, path, name string) error {
	return ws.withFileLock(path, func() error {
		t, err := loadTable(ws, path)
		if err != nil {
			return err
		}
		if !hasColumn(t.Columns, name) {
			return tabvcerr.New(tabvcerr.NotFound, "column %q not found", name)
		}
		t.Columns = removeColumn(t.Columns, name)
		for _, r := range t.Rows {
			delete(r.Values, name)
		}
		t.SchemaLog = append(t.SchemaLog, SchemaChange{Action: "delete", Column: name})
		return saveTable(ws, path, t)
	})
}

// UpdateColumn renames oldName to newName across the schema and every
// row's values, logging the change.
func UpdateColumn(ws *Workspace, path, oldName, newName string) error {
	return ws.withFileLock(path, func() error {
		t, err := loadTable(ws, path)
		if err != nil {
			return err
		}
		if !hasColumn(t.Columns, oldName) {
			return tabvcerr.New(tabvcerr.NotFound, "column %q not found", oldName)
		}
		if hasColumn(t.Columns, newName) {
			return tabvcerr.New(tabvcerr.AlreadyExists, "column %q already exists", newName)
		}
		for i, c := range t.Columns {
			if c == oldName {
				t.Columns[i] = newName
			}
		}
		for _, r := range t.Rows {
			r.Values[newName] = r.Values[oldName]
			delete(r.Values, oldName)
		}
		t.SchemaLog = append(t.SchemaLog, SchemaChange{Action: "rename", Column: newName, Prior: oldName})
		return saveTable(ws, path, t)
	})
}

// RestoreColumn reverses the most recent still-pending schema change
// recorded against name: an add drops the column again, a rename
// restores the old name with its values. A delete is reversed by
// re-adding the column at the end of the schema with an empty value in
// every row; the deleted values and the column's former position are
// not kept.
func RestoreColumn(ws *Workspace, path, name string) error {
	return ws.withFileLock(path, func() error {
		t, err := loadTable(ws, path)
		if err != nil {
			return err
		}
		idx := -1
		for i := len(t.SchemaLog) - 1; i >= 0; i-- {
			if t.SchemaLog[i].Column == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return tabvcerr.New(tabvcerr.NotFound, "no pending schema change for column %q", name)
		}
		change := t.SchemaLog[idx]
		switch change.Action {
		case "add":
			t.Columns = removeColumn(t.Columns, change.Column)
			for _, r := range t.Rows {
				delete(r.Values, change.Column)
			}
		case "delete":
			t.Columns = append(t.Columns, change.Column)
			for _, r := range t.Rows {
				r.Values[change.Column] = ""
			}
		case "rename":
			for i, c := range t.Columns {
				if c == change.Column {
					t.Columns[i] = change.Prior
				}
			}
			for _, r := range t.Rows {
				r.Values[change.Prior] = r.Values[change.Column]
				delete(r.Values, change.Column)
			}
		}
		t.SchemaLog = append(t.SchemaLog[:idx], t.SchemaLog[idx+1:]...)
		return saveTable(ws, path, t)
	})
}
