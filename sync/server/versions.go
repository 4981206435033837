package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tabvc/tabvc/repo"
	"github.com/tabvc/tabvc/sync/wire"
	"github.com/tabvc/tabvc/tabvcerr"
)

// handleGetVersion serves GET /versions/{hash}, honoring a Range
// header for resumable/partial downloads (§4.8.2 step 3 "ranged GETs
// with retry").
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	h, err := pathHash(r, "hash")
	if err != nil {
		return err
	}
	rsc, err := rp.CAS.Open(r.Context(), h)
	if err != nil {
		return err
	}
	defer rsc.Close()

	size, err := rsc.Seek(0, io.SeekEnd)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "seek %s", h.Short())
	}
	if _, err := rsc.Seek(0, io.SeekStart); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "seek %s", h.Short())
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, err := io.Copy(newFlushingWriter(w), rsc)
		return err
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad Range header %q", rangeHeader)
	}
	data, err := rp.CAS.GetRange(r.Context(), h, start, end-start+1)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusPartialContent)
	_, err = w.Write(data)
	return err
}

func parseRange(header string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, tabvcerr.New(tabvcerr.WireProtocol, "unsupported range unit")
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, tabvcerr.New(tabvcerr.WireProtocol, "malformed range")
	}
	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if parts[1] == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	if end >= size {
		end = size - 1
	}
	if start > end {
		return 0, 0, tabvcerr.New(tabvcerr.WireProtocol, "range start past end")
	}
	return start, end, nil
}

// handlePutVersion stores a whole small blob in one request
// (§4.8.1 step 3c "files beneath a size threshold go as a single
// POST"). Put is idempotent: a hash already present succeeds without
// rewriting (§4.8.4).
func (s *Server) handlePutVersion(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	h, err := pathHash(r, "hash")
	if err != nil {
		return err
	}
	if err := rp.CAS.Put(r.Context(), h, r.Body); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	h, err := pathHash(r, "hash")
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad chunk index")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "read chunk body")
	}
	if err := rp.CAS.PutChunk(r.Context(), h, index, data); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request, rp *repo.Repository) error {
	h, err := pathHash(r, "hash")
	if err != nil {
		return err
	}
	var req wire.AssembleRequest
	if err := wire.ReadJSON(r, &req); err != nil {
		return err
	}
	if err := rp.CAS.Assemble(r.Context(), h, req.ChunkCount, req.Cleanup); err != nil {
		return err
	}
	w.WriteHeader(http.StatusCreated)
	return nil
}
