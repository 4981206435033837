package server

import (
	"net/http"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/paginate"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/sync/wire"
	"github.com/tabvc/tabvc/tabvcerr"
)

const defaultHistoryPageSize = 50

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	ns, name := r.PathValue("ns"), r.PathValue("repo")
	wire.WriteJSON(w, http.StatusOK, wire.RepoResponse{Namespace: ns, Name: name, DefaultBranch: rp.Config.DefaultBranch})
	return nil
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request, _ *repo.Repository) error {
	var req wire.CreateRepoRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	rp, err := s.registry.Create(req.Namespace, req.Name)
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusCreated, wire.RepoResponse{Namespace: req.Namespace, Name: req.Name, DefaultBranch: rp.Config.DefaultBranch})
	return nil
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	names, err := rp.Refs.ListBranches()
	if err != nil {
		return err
	}
	out := make([]wire.BranchResponse, 0, len(names))
	for _, n := range names {
		h, err := rp.Refs.GetBranch(n)
		if err != nil {
			continue
		}
		out = append(out, wire.BranchResponse{Name: n, Hash: h.String()})
	}
	wire.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	name := r.PathValue("name")
	h, err := rp.Refs.GetBranch(name)
	if err != nil {
		return err
	}
	w.Header().Set(wire.HeaderRevisionID, h.String())
	wire.WriteJSON(w, http.StatusOK, wire.BranchResponse{Name: name, Hash: h.String()})
	return nil
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	var req wire.CreateBranchRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	h, err := hash.FromHex(req.Hash)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad hash %q", req.Hash)
	}
	if err := rp.Refs.UpdateBranch(req.Name, hash.Zero, h); err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusCreated, wire.BranchResponse{Name: req.Name, Hash: h.String()})
	return nil
}

// handleUpdateBranch implements the compare-and-swap branch update of
// §4.8.1 step 4: the claimed previous commit must still be current or
// the request is refused with RevisionConflict (409).
func (s *Server) handleUpdateBranch(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	name := r.PathValue("name")
	var req wire.UpdateBranchRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	oldHash, err := hash.FromHex(req.OldHash)
	if err != nil && req.OldHash != "" {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad old_hash %q", req.OldHash)
	}
	newHash, err := hash.FromHex(req.NewHash)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad new_hash %q", req.NewHash)
	}
	if err := rp.Refs.UpdateBranch(name, oldHash, newHash); err != nil {
		return err
	}
	w.Header().Set(wire.HeaderRevisionID, newHash.String())
	wire.WriteJSON(w, http.StatusOK, wire.BranchResponse{Name: name, Hash: newHash.String()})
	return nil
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	if err := rp.Refs.DeleteBranch(r.PathValue("name")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func commitToWire(h hash.Hash, c *objects.CommitNode) wire.CommitResponse {
	parents := make([]string, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = p.String()
	}
	return wire.CommitResponse{
		Hash: h.String(), Message: c.Message, Author: c.Author, Email: c.Email,
		TimestampUnix: c.Timestamp.UnixNano(), Parents: parents, Root: c.Root.String(),
	}
}

func (s *Server) loadCommit(rp *repo.Repository, id string) (hash.Hash, *objects.CommitNode, error) {
	h, err := hash.FromHex(id)
	if err != nil {
		return hash.Zero, nil, tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad commit id %q", id)
	}
	node, err := rp.Nodes.Get(h)
	if err != nil {
		return hash.Zero, nil, err
	}
	c, ok := node.(*objects.CommitNode)
	if !ok {
		return hash.Zero, nil, tabvcerr.New(tabvcerr.Corrupted, "%s is not a commit", h.Short())
	}
	return h, c, nil
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	h, c, err := s.loadCommit(rp, r.PathValue("id"))
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusOK, commitToWire(h, c))
	return nil
}

// handleCommitHistory walks parents from "to" back until "from"
// (exclusive) or a root commit, paginating the result.
func (s *Server) handleCommitHistory(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	fromID, toID := splitRange(r.PathValue("range"))

	_, toCommit, err := s.loadCommit(rp, toID)
	if err != nil {
		return err
	}
	var fromHash hash.Hash
	if fromID != "" {
		fromHash, err = hash.FromHex(fromID)
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad from %q", fromID)
		}
	}

	var all []wire.CommitResponse
	frontier := []*objects.CommitNode{toCommit}
	frontierHash := []hash.Hash{mustHash(toID)}
	visited := map[hash.Hash]bool{}
	for len(frontier) > 0 {
		c := frontier[0]
		h := frontierHash[0]
		frontier, frontierHash = frontier[1:], frontierHash[1:]
		if visited[h] || h == fromHash {
			continue
		}
		visited[h] = true
		all = append(all, commitToWire(h, c))
		for _, p := range c.Parents {
			if visited[p] || p == fromHash {
				continue
			}
			node, err := rp.Nodes.Get(p)
			if err != nil {
				return err
			}
			pc, ok := node.(*objects.CommitNode)
			if !ok {
				return tabvcerr.New(tabvcerr.Corrupted, "%s is not a commit", p.Short())
			}
			frontier = append(frontier, pc)
			frontierHash = append(frontierHash, p)
		}
	}

	page := paginate.Slice(all, 1, defaultHistoryPageSize)
	wire.WriteJSON(w, http.StatusOK, wire.CommitHistoryResponse{
		Commits: page.Items, Page: page.PageNumber, PageSize: page.PageSize,
		TotalPages: page.TotalPages, TotalItems: page.TotalItems,
	})
	return nil
}

func mustHash(hex string) hash.Hash {
	h, _ := hash.FromHex(hex)
	return h
}
