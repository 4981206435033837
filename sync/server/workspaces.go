package server

import (
	"net/http"
	"time"

	"github.com/tabvc/tabvc/commitbuilder"
	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/sync/wire"
	"github.com/tabvc/tabvc/tabvcerr"
	"github.com/tabvc/tabvc/workspace"
)

func rowToWire(r *workspace.Row) wire.RowResponse {
	return wire.RowResponse{ID: r.ID, RowID: r.RowID, Status: r.Status.String(), Values: r.Values}
}

// queryPath reads the table path from a query parameter, since a Go
// 1.22 ServeMux pattern cannot express a wildcard path segment followed
// by further literal segments (the shape §6 names for these
// endpoints, e.g. /workspaces/{id}/data_frames/{path...}/rows/{id}).
func queryPath(r *http.Request) (string, error) {
	path := r.URL.Query().Get("path")
	if path == "" {
		return "", tabvcerr.New(tabvcerr.WireProtocol, "missing path query parameter")
	}
	return path, nil
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	var req wire.CreateWorkspaceRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	base, err := hash.FromHex(req.BaseCommit)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad base_commit %q", req.BaseCommit)
	}
	ws, err := rp.Workspaces.Create(req.ID, base, req.Editable, req.Name)
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusCreated, wire.WorkspaceResponse{
		ID: ws.ID, BaseCommit: ws.BaseCommit.String(), Editable: ws.Editable, Name: ws.Name,
	})
	return nil
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusOK, wire.WorkspaceResponse{
		ID: ws.ID, BaseCommit: ws.BaseCommit.String(), Editable: ws.Editable, Name: ws.Name,
	})
	return nil
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	if err := rp.Workspaces.Delete(r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleIndexDataFrame serves PUT .../workspaces/{id}/data_frames: it
// indexes ?path=... into the workspace, or discards its current table
// if the body asks for unindex, per §4.7.2.
func (s *Server) handleIndexDataFrame(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	var req wire.IndexRequest
	if r.ContentLength > 0 {
		if err := wire.ReadJSON(r, &req); err != nil {
			return err
		}
	}
	if req.Unindex {
		if err := workspace.Unindex(ws, path); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if err := workspace.Index(r.Context(), ws, rp.Nodes, rp.CAS, path); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (s *Server) handleGetRowsDiff(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	row, err := workspace.GetRow(ws, path, r.PathValue("row_id"))
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusOK, rowToWire(row))
	return nil
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	var req wire.RowRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	row, err := workspace.AddRow(ws, path, req.Values)
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusCreated, rowToWire(row))
	return nil
}

func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	var req wire.RowRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	row, err := workspace.UpdateRow(ws, path, r.PathValue("row_id"), req.Values)
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusOK, rowToWire(row))
	return nil
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := workspace.DeleteRow(ws, path, r.PathValue("row_id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleRestoreRow(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	row, err := workspace.RestoreRow(ws, path, r.PathValue("row_id"))
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusOK, rowToWire(row))
	return nil
}

func (s *Server) handleBatchRows(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	var req wire.BatchRowRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	results := workspace.BatchUpdate(ws, path, req.Updates)
	out := make([]wire.BatchRowResult, 0, len(results))
	for _, res := range results {
		br := wire.BatchRowResult{RowID: res.RowID}
		if res.Err != nil {
			status := wire.StatusForKind(tabvcerr.KindOf(res.Err))
			br.Error = &wire.ErrorBody{Status: status, StatusMessage: res.Err.Error(), Kind: string(tabvcerr.KindOf(res.Err))}
		} else {
			rr := rowToWire(res.Row)
			br.Row = &rr
		}
		out = append(out, br)
	}
	wire.WriteJSON(w, http.StatusOK, wire.BatchRowResponse{Results: out})
	return nil
}

func (s *Server) handleAddColumn(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	var req wire.ColumnRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	if err := workspace.AddColumn(ws, path, req.Name, req.DefaultValue); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (s *Server) handleUpdateColumn(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	var req wire.ColumnRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	if err := workspace.UpdateColumn(ws, path, r.PathValue("name"), req.NewName); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) handleDeleteColumn(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := workspace.DeleteColumn(ws, path, r.PathValue("name")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleRestoreColumn(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := workspace.RestoreColumn(ws, path, r.PathValue("name")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	rows, err := workspace.Diff(ws, path)
	if err != nil {
		return err
	}
	out := make([]wire.RowResponse, 0, len(rows))
	for _, rd := range rows {
		out = append(out, wire.RowResponse{ID: rd.ID, RowID: rd.RowID, Status: rd.Status.String(), Values: rd.Values})
	}
	wire.WriteJSON(w, http.StatusOK, wire.DiffResponse{Rows: out})
	return nil
}

func (s *Server) handleFullDiff(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	path, err := queryPath(r)
	if err != nil {
		return err
	}
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	summary, err := workspace.FullDiff(ws, path)
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusOK, wire.FullDiffResponse{
		AddedRows: summary.AddedRows, RemovedRows: summary.RemovedRows, ModifiedRows: summary.ModifiedRows,
		ColumnsAdded: summary.Columns.Added, ColumnsRemoved: summary.Columns.Removed,
	})
	return nil
}

// handleCommitWorkspace serves POST .../workspaces/{id}/commit,
// promoting the workspace's pending edits into a real commit (§4.7.5).
func (s *Server) handleCommitWorkspace(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	ws, err := rp.Workspaces.Get(r.PathValue("id"))
	if err != nil {
		return err
	}
	var req wire.CommitWorkspaceRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	commitReq := commitbuilder.Request{
		Branch: req.Branch, Message: req.Message, Author: req.Author, Email: req.Email, Timestamp: time.Now(),
	}
	commit, err := workspace.Commit(r.Context(), ws, rp.Nodes, rp.CAS, rp.Refs, rp.Builder, commitReq, req.Destroy)
	if err != nil {
		return err
	}
	if req.Destroy {
		if err := rp.Workspaces.Delete(ws.ID); err != nil {
			return err
		}
	}
	wire.WriteJSON(w, http.StatusCreated, wire.CommitWorkspaceResponse{Hash: commit.Hash.String()})
	return nil
}
