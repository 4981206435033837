package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/tabvcerr"
)

func tableFile(w *Workspace, path string) string {
	return filepath.Join(w.tablesDir(), hash.Sum([]byte(path)).String()+".tbl")
}

// manifestFile lists every repo-relative path ever indexed in this
// workspace, one per line, so Commit can enumerate candidates without
// reversing tableFile's hash. Entries are never removed: a path whose
// table file has since been deleted (fully un-staged, per maybeUnstage)
// is simply skipped by callers that check tableExists first.
func manifestFile(w *Workspace) string {
	return filepath.Join(w.tablesDir(), "_manifest")
}

func recordPath(w *Workspace, path string) error {
	existing, err := indexedPaths(w)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p == path {
			return nil
		}
	}
	if err := os.MkdirAll(w.tablesDir(), 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", w.tablesDir())
	}
	f, err := os.OpenFile(manifestFile(w), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "open manifest")
	}
	defer f.Close()
	_, err = f.WriteString(path + "\n")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "append manifest")
	}
	return nil
}

// indexedPaths returns every path ever recorded by recordPath, in no
// particular order.
func indexedPaths(w *Workspace) ([]string, error) {
	f, err := os.Open(manifestFile(w))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read manifest")
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "scan manifest")
	}
	return out, nil
}

// ChangedPaths returns every currently-indexed path in this workspace
// whose table has pending edits, for Commit to materialize.
func ChangedPaths(w *Workspace) ([]string, error) {
	recorded, err := indexedPaths(w)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range recorded {
		if !tableExists(w, p) {
			continue
		}
		t, err := loadTable(w, p)
		if err != nil {
			return nil, err
		}
		if t.HasChanges() {
			out = append(out, p)
		}
	}
	return out, nil
}

func removedManifestFile(w *Workspace) string {
	return filepath.Join(w.tablesDir(), "_removed")
}

// recordRemoval appends path to the removed-files manifest, for
// RemoveFile's "remote_mode rm" (§4.7, supplemented from oxen-rust's
// remote_mode/rm.rs, which has no equivalent in the distilled spec's
// row/column-only edit surface).
func recordRemoval(w *Workspace, path string) error {
	existing, err := RemovedPaths(w)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p == path {
			return nil
		}
	}
	if err := os.MkdirAll(w.tablesDir(), 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", w.tablesDir())
	}
	f, err := os.OpenFile(removedManifestFile(w), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "open removed manifest")
	}
	defer f.Close()
	_, err = f.WriteString(path + "\n")
	return err
}

// RemovedPaths returns every path marked for removal by RemoveFile.
func RemovedPaths(w *Workspace) ([]string, error) {
	f, err := os.Open(removedManifestFile(w))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read removed manifest")
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "scan removed manifest")
	}
	return out, nil
}

// clearRemoval drops path from the removed-files manifest, once a
// commit has applied the deletion.
func clearRemoval(w *Workspace, path string) error {
	existing, err := RemovedPaths(w)
	if err != nil {
		return err
	}
	kept := existing[:0]
	for _, p := range existing {
		if p != path {
			kept = append(kept, p)
		}
	}
	dir := w.tablesDir()
	tmp, err := os.CreateTemp(dir, "tmp_removed_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp removed manifest")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	for _, p := range kept {
		if _, err := tmp.WriteString(p + "\n"); err != nil {
			tmp.Close()
			return tabvcerr.Wrap(tabvcerr.IO, err, "write removed manifest")
		}
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close temp removed manifest")
	}
	return os.Rename(tmpPath, removedManifestFile(w))
}

func loadTable(w *Workspace, path string) (*Table, error) {
	payload, err := os.ReadFile(tableFile(w, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tabvcerr.New(tabvcerr.NotFound, "%s is not indexed in this workspace", path)
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read table %s", path)
	}
	t, err := DecodeTable(payload)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.Corrupted, err, "decode table %s", path)
	}
	return t, nil
}

func saveTable(w *Workspace, path string, t *Table) error {
	dir := w.tablesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", dir)
	}
	target := tableFile(w, path)
	tmp, err := os.CreateTemp(dir, "tmp_table_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp table file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(t.Encode()); err != nil {
		tmp.Close()
		return tabvcerr.Wrap(tabvcerr.IO, err, "write table %s", path)
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close temp table file")
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "rename table %s into place", path)
	}
	return recordPath(w, path)
}

func tableExists(w *Workspace, path string) bool {
	_, err := os.Stat(tableFile(w, path))
	return err == nil
}

// unindexPath removes path's table file, so the next Index call
// re-imports a clean copy from the committed version.
func unindexPath(w *Workspace, path string) error {
	if err := os.Remove(tableFile(w, path)); err != nil && !os.IsNotExist(err) {
		return tabvcerr.Wrap(tabvcerr.IO, err, "un-stage table %s", path)
	}
	return nil
}
