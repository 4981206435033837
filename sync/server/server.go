package server

import (
	"net/http"
	"strings"

	"github.com/tabvc/tabvc/internal/logging"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/sync/wire"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Authenticator validates the Authorization header of a mutating
// request, per §6's "Authorization: Bearer <token> on mutating
// endpoints". The zero Server allows every request, matching a
// deployment that fronts this handler with its own auth proxy.
type Authenticator func(r *http.Request) error

// Server holds everything the HTTP handlers need: the repository
// registry and, optionally, a request authenticator.
type Server struct {
	registry *Registry
	auth     Authenticator
	log      *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator installs a to check on every mutating request.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// NewHandler builds the http.Handler implementing §6's endpoint table
// over registry.
func NewHandler(registry *Registry, log *logging.Logger, opts ...Option) http.Handler {
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{registry: registry, log: log.With("sync.server")}
	for _, o := range opts {
		o(s)
	}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /repos/{ns}/{repo}", s.wrap(s.handleGetRepo, false))
	mux.HandleFunc("POST /repos", s.wrap(s.handleCreateRepo, true))

	mux.HandleFunc("GET /repos/{ns}/{repo}/branches", s.wrap(s.handleListBranches, false))
	mux.HandleFunc("GET /repos/{ns}/{repo}/branches/{name}", s.wrap(s.handleGetBranch, false))
	mux.HandleFunc("POST /repos/{ns}/{repo}/branches", s.wrap(s.handleCreateBranch, true))
	mux.HandleFunc("PUT /repos/{ns}/{repo}/branches/{name}", s.wrap(s.handleUpdateBranch, true))
	mux.HandleFunc("DELETE /repos/{ns}/{repo}/branches/{name}", s.wrap(s.handleDeleteBranch, true))

	mux.HandleFunc("GET /repos/{ns}/{repo}/commits/{id}", s.wrap(s.handleGetCommit, false))
	mux.HandleFunc("GET /repos/{ns}/{repo}/commits/history/{range}", s.wrap(s.handleCommitHistory, false))

	mux.HandleFunc("GET /repos/{ns}/{repo}/tree/{hash}", s.wrap(s.handleGetNode, false))
	mux.HandleFunc("POST /repos/{ns}/{repo}/tree/missing_file_hashes", s.wrap(s.handleMissingHashes, false))
	mux.HandleFunc("POST /repos/{ns}/{repo}/tree/nodes", s.wrap(s.handleUploadShard, true))

	mux.HandleFunc("GET /repos/{ns}/{repo}/versions/{hash}", s.wrap(s.handleGetVersion, false))
	mux.HandleFunc("POST /repos/{ns}/{repo}/versions/{hash}", s.wrap(s.handlePutVersion, true))
	mux.HandleFunc("POST /repos/{ns}/{repo}/versions/{hash}/chunks/{index}", s.wrap(s.handlePutChunk, true))
	mux.HandleFunc("POST /repos/{ns}/{repo}/versions/{hash}/assemble", s.wrap(s.handleAssemble, true))

	mux.HandleFunc("POST /repos/{ns}/{repo}/workspaces", s.wrap(s.handleCreateWorkspace, true))
	mux.HandleFunc("GET /repos/{ns}/{repo}/workspaces/{id}", s.wrap(s.handleGetWorkspace, false))
	mux.HandleFunc("DELETE /repos/{ns}/{repo}/workspaces/{id}", s.wrap(s.handleDeleteWorkspace, true))
	mux.HandleFunc("PUT /repos/{ns}/{repo}/workspaces/{id}/data_frames", s.wrap(s.handleIndexDataFrame, true))

	mux.HandleFunc("GET /repos/{ns}/{repo}/workspaces/{id}/rows/{row_id}", s.wrap(s.handleGetRowsDiff, false))
	mux.HandleFunc("POST /repos/{ns}/{repo}/workspaces/{id}/rows", s.wrap(s.handleAddRow, true))
	mux.HandleFunc("PUT /repos/{ns}/{repo}/workspaces/{id}/rows/{row_id}", s.wrap(s.handleUpdateRow, true))
	mux.HandleFunc("DELETE /repos/{ns}/{repo}/workspaces/{id}/rows/{row_id}", s.wrap(s.handleDeleteRow, true))
	mux.HandleFunc("POST /repos/{ns}/{repo}/workspaces/{id}/rows/restore/{row_id}", s.wrap(s.handleRestoreRow, true))
	mux.HandleFunc("POST /repos/{ns}/{repo}/workspaces/{id}/rows/batch", s.wrap(s.handleBatchRows, true))

	mux.HandleFunc("POST /repos/{ns}/{repo}/workspaces/{id}/columns", s.wrap(s.handleAddColumn, true))
	mux.HandleFunc("PUT /repos/{ns}/{repo}/workspaces/{id}/columns/{name}", s.wrap(s.handleUpdateColumn, true))
	mux.HandleFunc("DELETE /repos/{ns}/{repo}/workspaces/{id}/columns/{name}", s.wrap(s.handleDeleteColumn, true))
	mux.HandleFunc("POST /repos/{ns}/{repo}/workspaces/{id}/columns/restore/{name}", s.wrap(s.handleRestoreColumn, true))

	mux.HandleFunc("GET /repos/{ns}/{repo}/workspaces/{id}/diff", s.wrap(s.handleDiff, false))
	mux.HandleFunc("GET /repos/{ns}/{repo}/workspaces/{id}/full_diff", s.wrap(s.handleFullDiff, false))
	mux.HandleFunc("POST /repos/{ns}/{repo}/workspaces/{id}/commit", s.wrap(s.handleCommitWorkspace, true))

	return mux
}

// wrap installs the shared request scaffolding: auth for mutating
// endpoints, repository resolution from {ns}/{repo}, and uniform error
// translation to wire.ErrorBody.
func (s *Server) wrap(h func(w http.ResponseWriter, r *http.Request, repo *repo.Repository) error, mutating bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mutating && s.auth != nil {
			if err := s.auth(r); err != nil {
				wire.WriteError(w, tabvcerr.Wrap(tabvcerr.Unauthorized, err, "authorization"))
				return
			}
		}

		ns, name := r.PathValue("ns"), r.PathValue("repo")
		var rp *repo.Repository
		if ns != "" || name != "" {
			var err error
			rp, err = s.registry.Open(ns, name)
			if err != nil {
				wire.WriteError(w, err)
				return
			}
		}

		if err := h(w, r, rp); err != nil {
			s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			wire.WriteError(w, err)
		}
	}
}

// splitRange parses a "{from}..{to}" path segment, per §6's
// GET /commits/history/{from}..{to}. An empty from means "from the
// root".
func splitRange(segment string) (from, to string) {
	parts := strings.SplitN(segment, "..", 2)
	if len(parts) != 2 {
		return "", segment
	}
	return parts[0], parts[1]
}
