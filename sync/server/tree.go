package server

import (
	"io"
	"net/http"
	"os"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/sync/wire"
	"github.com/tabvc/tabvc/tabvcerr"
)

func pathHash(r *http.Request, name string) (hash.Hash, error) {
	h, err := hash.FromHex(r.PathValue(name))
	if err != nil {
		return hash.Zero, tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad hash %q", r.PathValue(name))
	}
	return h, nil
}

// handleGetNode serves GET /tree/{hash}: one node's kind and canonical
// encoded payload (decoding is left to the client), so a
// pulling client can walk the tree one reference at a time.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	h, err := pathHash(r, "hash")
	if err != nil {
		return err
	}
	kind, payload, err := rp.Nodes.GetRaw(h)
	if err != nil {
		return err
	}
	wire.WriteJSON(w, http.StatusOK, wire.NodeResponse{Kind: uint8(kind), Payload: payload})
	return nil
}

// handleMissingHashes answers §4.8.1 step 3b: given a set of candidate
// file-content hashes a pushing client has reachable from one commit's
// tree, report which the server's CAS does not already have. The
// request carries the hash list itself, not a vnode hash; the server
// walks no tree here.
func (s *Server) handleMissingHashes(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	var req wire.MissingHashesRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	var missing []string
	for _, hx := range req.Hashes {
		h, err := hash.FromHex(hx)
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad hash %q", hx)
		}
		ok, err := rp.CAS.Exists(r.Context(), h)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, hx)
		}
	}
	wire.WriteJSON(w, http.StatusOK, wire.MissingHashesResponse{Missing: missing})
	return nil
}

// handleUploadShard accepts one complete MNS shard file, named by the
// X-TabVC-Shard-Name header the uploading client already computed when
// it finalized the shard locally (§4.8.1 step 3a: "upload the commit's
// tree shard").
func (s *Server) handleUploadShard(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	name := r.Header.Get(wire.HeaderShardName)
	if name == "" {
		return tabvcerr.New(tabvcerr.WireProtocol, "missing %s header", wire.HeaderShardName)
	}
	dst := rp.Nodes.ShardPath(name)
	f, err := os.Create(dst)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create shard %s", name)
	}
	if _, err := io.Copy(f, r.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return tabvcerr.Wrap(tabvcerr.IO, err, "write shard %s", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return tabvcerr.Wrap(tabvcerr.IO, err, "close shard %s", name)
	}
	if err := rp.Nodes.ImportShard(name); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}
