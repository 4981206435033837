package workspace

import (
	"github.com/tabvc/tabvc/storage/mns"
	"github.com/tabvc/tabvc/tabvcerr"
)

// RemoveFile marks path for deletion the next time ws is committed,
// without requiring the file to first be indexed as a table (§4.7,
// supplemented from oxen-rust's "remote_mode rm", which lets a caller
// delete a committed file directly through a workspace rather than
// only editing rows within one). path must resolve against ws's base
// commit; a path already staged for removal is a no-op.
func RemoveFile(ws *Workspace, nodes *mns.Store, path string) error {
	root, err := baseRoot(nodes, ws.BaseCommit)
	if err != nil {
		return err
	}
	if _, err := resolveFile(nodes, root, path); err != nil {
		return err
	}
	if tableExists(ws, path) {
		if err := unindexPath(ws, path); err != nil {
			return err
		}
	}
	return recordRemoval(ws, path)
}

// UnremoveFile cancels a pending RemoveFile, restoring path to its
// committed state.
func UnremoveFile(ws *Workspace, path string) error {
	removed, err := RemovedPaths(ws)
	if err != nil {
		return err
	}
	found := false
	for _, p := range removed {
		if p == path {
			found = true
			break
		}
	}
	if !found {
		return tabvcerr.New(tabvcerr.NotFound, "%s is not staged for removal", path)
	}
	return clearRemoval(ws, path)
}
