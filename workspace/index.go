package workspace

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

func delimiterFor(ext string) rune {
	if ext == ".tsv" {
		return '\t'
	}
	return ','
}

// Index imports path's committed version into this workspace's
// sandbox as an editable table, per §4.7.2. Idempotent per
// (workspace, path): a second call is a no-op if the file is already
// indexed.
func Index(ctx context.Context, ws *Workspace, nodes *mns.Store, store cas.Store, path string) error {
	if tableExists(ws, path) {
		return nil
	}

	root, err := baseRoot(nodes, ws.BaseCommit)
	if err != nil {
		return err
	}
	file, err := resolveFile(nodes, root, path)
	if err != nil {
		return err
	}
	if file.DataType != objects.DataTabular {
		return tabvcerr.New(tabvcerr.IncompatibleSchema, "%s is not a tabular file", path)
	}
	if file.Extension != ".csv" && file.Extension != ".tsv" {
		return tabvcerr.New(tabvcerr.IncompatibleSchema, "%s: unsupported tabular extension %q for row-level editing", path, file.Extension)
	}

	r, err := store.Open(ctx, file.PayloadHash)
	if err != nil {
		return err
	}
	defer r.Close()

	cr := csv.NewReader(r)
	cr.Comma = delimiterFor(file.Extension)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return tabvcerr.New(tabvcerr.IncompatibleSchema, "%s: empty tabular file", path)
		}
		return tabvcerr.Wrap(tabvcerr.IncompatibleSchema, err, "parse header of %s", path)
	}

	t := &Table{CommittedColumns: append([]string(nil), header...), Columns: append([]string(nil), header...)}
	var rowIdx uint64
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.IncompatibleSchema, err, "parse row of %s", path)
		}
		rowIdx++
		values := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				values[col] = record[i]
			}
		}
		t.Rows = append(t.Rows, &Row{
			ID:     t.freshID(),
			RowID:  rowIdx,
			Status: RowUnchanged,
			Values: values,
		})
	}

	return saveTable(ws, path, t)
}

// Unindex discards path's table from ws without touching the committed
// version, for the sync server's PUT .../data_frames endpoint with
// unindex=true.
func Unindex(ws *Workspace, path string) error {
	return unindexPath(ws, path)
}

func baseRoot(nodes *mns.Store, commit hash.Hash) (hash.Hash, error) {
	if commit.IsZero() {
		return hash.Zero, tabvcerr.New(tabvcerr.NotFound, "workspace has no base commit")
	}
	node, err := nodes.Get(commit)
	if err != nil {
		return hash.Zero, tabvcerr.Wrap(tabvcerr.NotFound, err, "load base commit")
	}
	c, ok := node.(*objects.CommitNode)
	if !ok {
		return hash.Zero, tabvcerr.New(tabvcerr.Corrupted, "base commit is not a commit node")
	}
	return c.Root, nil
}
