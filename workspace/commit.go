package workspace

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/tabvc/tabvc/commitbuilder"
	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/refdb"
	"github.com/tabvc/tabvc/stager"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Commit turns ws's current indexed state into a normal commit,
// per §4.7.5:
//
//  1. Every changed indexed file is re-rendered from its current rows
//     and written to CAS as new content.
//  2. Every path staged by RemoveFile is staged as a removal instead.
//  3. The Commit Builder runs over those replacements and removals as
//     staged entries.
//  4. On success, each committed path's table is reset to the new
//     committed state (still indexed, now with no pending changes) so
//     the workspace can keep being edited. With destroy true that
//     reset is skipped and the sandbox is left as it is; Commit itself
//     removes nothing (sync/server's commit handler deletes the
//     workspace afterwards).
//
// Committing is rejected with RevisionConflict if the target branch has
// moved since ws was created against BaseCommit: the commit builder
// always rewrites from the branch's *current* tree, and a workspace
// pinned to a stale base would silently discard whatever commits
// happened in between.
func Commit(ctx context.Context, ws *Workspace, nodes *mns.Store, store cas.Store, refs *refdb.DB, builder *commitbuilder.Builder, req commitbuilder.Request, destroy bool) (*objects.CommitNode, error) {
	if err := checkBasedOn(refs, req.Branch, ws.BaseCommit); err != nil {
		return nil, err
	}

	changed, err := ChangedPaths(ws)
	if err != nil {
		return nil, err
	}
	removed, err := RemovedPaths(ws)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 && len(removed) == 0 {
		return nil, tabvcerr.New(tabvcerr.Forbidden, "workspace %q has no pending changes", ws.ID)
	}

	root, err := baseRoot(nodes, ws.BaseCommit)
	if err != nil {
		return nil, err
	}

	stageDir := filepath.Join(ws.dir, "commit-stage")
	defer os.RemoveAll(stageDir)
	st, err := stager.Open(stageDir, stageDir, store)
	if err != nil {
		return nil, err
	}

	committed := make(map[string]*Table, len(changed))
	for _, path := range changed {
		t, err := loadTable(ws, path)
		if err != nil {
			return nil, err
		}
		priorHash, err := priorContentHash(nodes, root, path)
		if err != nil {
			return nil, err
		}
		payload := materializeCSV(path, t)
		newHash := hash.Sum(payload)
		if err := store.Put(ctx, newHash, bytes.NewReader(payload)); err != nil {
			return nil, err
		}
		if err := st.StageReplacement(path, priorHash, newHash); err != nil {
			return nil, err
		}
		committed[path] = t
	}

	for _, path := range removed {
		priorHash, err := priorContentHash(nodes, root, path)
		if err != nil {
			return nil, err
		}
		if err := st.StageRemoval(path, priorHash); err != nil {
			return nil, err
		}
	}

	commit, err := builder.Commit(ctx, st, req)
	if err != nil {
		return nil, err
	}

	if destroy {
		return commit, nil
	}
	for path, t := range committed {
		settleTable(t)
		if err := saveTable(ws, path, t); err != nil {
			return nil, err
		}
	}
	for _, path := range removed {
		if err := clearRemoval(ws, path); err != nil {
			return nil, err
		}
	}
	return commit, nil
}

// checkBasedOn returns RevisionConflict if branch's current head is
// not baseCommit, matching the wire protocol's oxen-based-on
// precondition (§4.8.5, §8 scenario 6) at the storage layer. No HTTP
// handler reads the oxen-based-on header; this check against the
// workspace's base commit is the only one.
func checkBasedOn(refs *refdb.DB, branch string, baseCommit hash.Hash) error {
	current, err := refs.GetBranch(branch)
	if err != nil {
		if tabvcerr.Is(err, tabvcerr.NotFound) {
			if baseCommit.IsZero() {
				return nil
			}
			return tabvcerr.New(tabvcerr.RevisionConflict, "branch %q does not exist yet, but workspace is based on %s", branch, baseCommit.Short())
		}
		return err
	}
	if current != baseCommit {
		return tabvcerr.New(tabvcerr.RevisionConflict, "branch %q modified since claimed revision: based on %s, now at %s", branch, baseCommit.Short(), current.Short())
	}
	return nil
}

func priorContentHash(nodes *mns.Store, root hash.Hash, path string) (hash.Hash, error) {
	f, err := resolveFile(nodes, root, path)
	if err != nil {
		if tabvcerr.Is(err, tabvcerr.NotFound) {
			return hash.Zero, nil
		}
		return hash.Zero, err
	}
	return f.PayloadHash, nil
}

// materializeCSV renders t's current rows (skipping RowRemoved) in
// column order, producing the bytes that become the file's new
// committed content.
func materializeCSV(path string, t *Table) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiterFor(strings.ToLower(filepath.Ext(path)))

	_ = w.Write(t.Columns)
	for _, r := range t.Rows {
		if r.Status == RowRemoved {
			continue
		}
		record := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			record[i] = r.Values[c]
		}
		_ = w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}

// settleTable resets t to the state just committed: every row becomes
// Unchanged at its (possibly new) values, removed rows are dropped, and
// CommittedColumns catches up to Columns, so the workspace is ready for
// another round of edits against the new HEAD without re-indexing.
func settleTable(t *Table) {
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if r.Status == RowRemoved {
			continue
		}
		r.Status = RowUnchanged
		r.hasOriginal = false
		r.Original = nil
		r.OriginalHash = hash.Zero
		kept = append(kept, r)
	}
	t.Rows = kept
	t.CommittedColumns = append([]string(nil), t.Columns...)
	t.SchemaLog = nil
}
