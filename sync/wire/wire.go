// Package wire defines the JSON request/response shapes and the
// error-Kind/HTTP-status mapping shared by sync/server and sync/client,
// per §4.8.5 and §6's endpoint table. Grounded on the teacher's
// plumbing/transport package split (a wire-format package imported by
// both client and server transports, never importing either), adapted
// from git's pkt-line framing to plain JSON bodies since this spec
// names no binary wire framing beyond raw blob/shard bytes.
package wire

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tabvc/tabvc/tabvcerr"
)

// Header names of record, per §6.
const (
	HeaderAuthorization = "Authorization"
	HeaderBasedOn        = "oxen-based-on"
	HeaderRevisionID     = "oxen-revision-id"
	HeaderShardName      = "X-TabVC-Shard-Name"
)

// ErrorBody is the JSON shape of every non-2xx response, per §4.8.5.
type ErrorBody struct {
	Status        int    `json:"status"`
	StatusMessage string `json:"status_message"`
	Kind          string `json:"kind,omitempty"`
}

// StatusForKind maps an error Kind to the HTTP status §4.8.5 assigns
// it. Kinds with no explicit entry in §4.8.5's table fall back to 500.
func StatusForKind(k tabvcerr.Kind) int {
	switch k {
	case tabvcerr.NotFound:
		return http.StatusNotFound
	case tabvcerr.AlreadyExists:
		return http.StatusConflict
	case tabvcerr.RevisionConflict:
		return http.StatusConflict
	case tabvcerr.IntegrityMismatch, tabvcerr.IncompatibleSchema, tabvcerr.WireProtocol:
		return http.StatusBadRequest
	case tabvcerr.LockContention:
		return http.StatusLocked
	case tabvcerr.Unauthorized:
		return http.StatusUnauthorized
	case tabvcerr.Forbidden:
		return http.StatusForbidden
	case tabvcerr.Corrupted, tabvcerr.IO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// KindForStatus is StatusForKind's rough inverse, used by sync/client
// to classify a server error it cannot unmarshal a Kind out of (an
// upstream proxy's own error page, for instance).
func KindForStatus(status int) tabvcerr.Kind {
	switch status {
	case http.StatusNotFound:
		return tabvcerr.NotFound
	case http.StatusConflict:
		return tabvcerr.RevisionConflict
	case http.StatusBadRequest:
		return tabvcerr.WireProtocol
	case http.StatusLocked:
		return tabvcerr.LockContention
	case http.StatusUnauthorized:
		return tabvcerr.Unauthorized
	case http.StatusForbidden:
		return tabvcerr.Forbidden
	default:
		return tabvcerr.IO
	}
}

// WriteError writes err as a JSON ErrorBody with the status its Kind
// maps to.
func WriteError(w http.ResponseWriter, err error) {
	kind := tabvcerr.KindOf(err)
	status := StatusForKind(kind)
	WriteJSON(w, status, ErrorBody{Status: status, StatusMessage: err.Error(), Kind: string(kind)})
}

// ReadError reconstructs a *tabvcerr.Error from a non-2xx response
// body, falling back to KindForStatus if the body isn't well-formed
// JSON (e.g. an intermediary's own error page).
func ReadError(resp *http.Response) error {
	var body ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err != nil || body.StatusMessage == "" {
		return tabvcerr.New(KindForStatus(resp.StatusCode), "%s", resp.Status)
	}
	kind := tabvcerr.Kind(body.Kind)
	if kind == "" {
		kind = KindForStatus(resp.StatusCode)
	}
	return tabvcerr.New(kind, "%s", body.StatusMessage)
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes the request body into v.
func ReadJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "decode request body")
	}
	return nil
}

// RepoResponse describes a repository, for GET/POST /repos.
type RepoResponse struct {
	Namespace     string `json:"namespace"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
}

// CreateRepoRequest is POST /repos's body.
type CreateRepoRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// BranchResponse describes one branch.
type BranchResponse struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// CreateBranchRequest is POST /branches's body.
type CreateBranchRequest struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// UpdateBranchRequest is PUT /branches/{name}'s body: a CAS-style
// update, rejected with 409 if OldHash no longer matches (§4.8.1 step
// 4, §4.8.5).
type UpdateBranchRequest struct {
	OldHash string `json:"old_hash"`
	NewHash string `json:"new_hash"`
}

// CommitResponse describes one commit.
type CommitResponse struct {
	Hash          string   `json:"hash"`
	Message       string   `json:"message"`
	Author        string   `json:"author"`
	Email         string   `json:"email"`
	TimestampUnix int64    `json:"timestamp_unix_nano"`
	Parents       []string `json:"parents"`
	Root          string   `json:"root"`
}

// CommitHistoryResponse is GET /commits/history/{from}..{to}'s body,
// paginated via internal/paginate.
type CommitHistoryResponse struct {
	Commits    []CommitResponse `json:"commits"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
	TotalItems int              `json:"total_items"`
}

// NodeResponse is GET /tree/{hash}'s body: a node's kind tag plus its
// canonical encoded payload, so the client can dispatch to
// objects.Decode without a second round trip to learn the kind.
type NodeResponse struct {
	Kind    uint8  `json:"kind"`
	Payload []byte `json:"payload"`
}

// MissingHashesRequest is POST /tree/missing_file_hashes's body: the
// candidate hashes a client has for one commit's tree, asking which the
// server still lacks (§4.8.1 step 3b).
type MissingHashesRequest struct {
	Hashes []string `json:"hashes"`
}

// MissingHashesResponse lists the subset of the request's hashes the
// server does not have.
type MissingHashesResponse struct {
	Missing []string `json:"missing"`
}

// CreateWorkspaceRequest is POST /workspaces's body.
type CreateWorkspaceRequest struct {
	ID         string `json:"id"`
	BaseCommit string `json:"base_commit"`
	Editable   bool   `json:"editable"`
	Name       string `json:"name"`
}

// WorkspaceResponse describes one workspace sandbox.
type WorkspaceResponse struct {
	ID         string `json:"id"`
	BaseCommit string `json:"base_commit"`
	Editable   bool   `json:"editable"`
	Name       string `json:"name"`
}

// IndexRequest is PUT /workspaces/{id}/data_frames's body (the table
// path travels in the ?path= query parameter).
type IndexRequest struct {
	Unindex bool `json:"unindex,omitempty"`
}

// RowResponse describes one row, hidden columns included explicitly
// rather than folded into Values (§3's hidden-column triad stays
// metadata on the wire, not row data).
type RowResponse struct {
	ID     string            `json:"id"`
	RowID  uint64            `json:"row_id"`
	Status string            `json:"status"`
	Values map[string]string `json:"values"`
}

// RowRequest is the body of POST/PUT row endpoints.
type RowRequest struct {
	Values map[string]string `json:"values"`
}

// BatchRowRequest is POST .../rows/batch's body.
type BatchRowRequest struct {
	Updates map[string]map[string]string `json:"updates"`
}

// BatchRowResult is one entry of BatchRowResponse.
type BatchRowResult struct {
	RowID string       `json:"row_id"`
	Row   *RowResponse `json:"row,omitempty"`
	Error *ErrorBody   `json:"error,omitempty"`
}

// BatchRowResponse is POST .../rows/batch's body.
type BatchRowResponse struct {
	Results []BatchRowResult `json:"results"`
}

// ColumnRequest is the body of column-schema endpoints.
type ColumnRequest struct {
	Name         string `json:"name"`
	DefaultValue string `json:"default_value,omitempty"`
	NewName      string `json:"new_name,omitempty"`
}

// DiffResponse is GET .../diff's body.
type DiffResponse struct {
	Rows []RowResponse `json:"rows"`
}

// FullDiffResponse is GET .../full_diff's body.
type FullDiffResponse struct {
	AddedRows      int      `json:"added_rows"`
	RemovedRows    int      `json:"removed_rows"`
	ModifiedRows   int      `json:"modified_rows"`
	ColumnsAdded   []string `json:"columns_added"`
	ColumnsRemoved []string `json:"columns_removed"`
}

// CommitWorkspaceRequest is POST /workspaces/{id}/commit's body.
type CommitWorkspaceRequest struct {
	Branch  string `json:"branch"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Email   string `json:"email"`
	Destroy bool   `json:"destroy,omitempty"`
}

// CommitWorkspaceResponse is POST /workspaces/{id}/commit's response.
type CommitWorkspaceResponse struct {
	Hash string `json:"hash"`
}

// AssembleRequest is POST /versions/{hash}/assemble's body, per
// §4.8.1 step 3c.
type AssembleRequest struct {
	ChunkCount int  `json:"chunk_count"`
	Cleanup    bool `json:"cleanup"`
}
