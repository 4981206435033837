// Package client implements the push/pull/clone/fetch side of the
// Sync Protocol (§4.8) against a sync/server HTTP endpoint set.
//
// Grounded on the teacher's Remote type (remote.go: one struct wrapping
// a transport endpoint, exposing Push/Fetch/Pull/List as its entire
// public surface), generalized from go-git's pkt-line/packfile smart
// protocol to this spec's plain-JSON-plus-raw-bytes wire shape, since
// no pkt-line framing exists in this spec's §6 interface table.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/sync/wire"
	"github.com/tabvc/tabvc/tabvcerr"
)

// ProgressSink receives cumulative (bytes, files) transferred so far,
// per §4.8.4's "progress is reported as (bytes, files) to a
// caller-supplied sink". A nil sink is a valid no-op.
type ProgressSink func(bytesDone, filesDone int64)

func (p ProgressSink) report(bytesDone, filesDone int64) {
	if p != nil {
		p(bytesDone, filesDone)
	}
}

// defaultSmallRequestTimeout bounds each JSON call made through doJSON.
// Requests issued directly through do (shard uploads, whole-blob and
// chunk transfers) carry no timeout beyond the caller's context.
const defaultSmallRequestTimeout = 10 * time.Second

// DefaultConcurrency is the default bounded-permit count for parallel chunk
// transfers, per §4.8.4 "concurrency on both sides is bounded by a
// permit count".
const DefaultConcurrency = 4

// Client is one configured connection to a remote repository.
type Client struct {
	baseURL     string
	namespace   string
	repo        string
	http        *http.Client
	token       string
	concurrency int64
}

// New builds a Client against baseURL's {namespace}/{repo}. httpClient
// may be nil to use http.DefaultClient. concurrency <= 0 defaults to
// DefaultConcurrency.
func New(baseURL, namespace, repoName, token string, httpClient *http.Client, concurrency int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Client{
		baseURL: baseURL, namespace: namespace, repo: repoName,
		http: httpClient, token: token, concurrency: int64(concurrency),
	}
}

func (c *Client) path(format string, a ...any) string {
	return c.baseURL + "/repos/" + c.namespace + "/" + c.repo + fmt.Sprintf(format, a...)
}

// do issues one HTTP request, attaching the bearer token to mutating
// methods and translating a non-2xx response into a *tabvcerr.Error via
// wire.ReadError.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader, setHeaders func(http.Header)) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.WireProtocol, err, "build request")
	}
	if c.token != "" && method != http.MethodGet {
		req.Header.Set(wire.HeaderAuthorization, "Bearer "+c.token)
	}
	if setHeaders != nil {
		setHeaders(req.Header)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "%s %s", method, url)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, wire.ReadError(resp)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, reqBody, respBody any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultSmallRequestTimeout)
	defer cancel()
	var body io.Reader
	if reqBody != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "encode request body")
		}
		body = &buf
	}
	resp, err := c.do(ctx, method, url, body, func(h http.Header) {
		if reqBody != nil {
			h.Set("Content-Type", "application/json")
		}
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if respBody == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return tabvcerr.Wrap(tabvcerr.WireProtocol, err, "decode response body")
	}
	return nil
}

// GetBranch returns the remote's current head for branch, or hash.Zero
// if the branch does not exist yet remotely.
func (c *Client) GetBranch(ctx context.Context, branch string) (hash.Hash, error) {
	var out wire.BranchResponse
	err := c.doJSON(ctx, http.MethodGet, c.path("/branches/%s", branch), nil, &out)
	if err != nil {
		if tabvcerr.Is(err, tabvcerr.NotFound) {
			return hash.Zero, nil
		}
		return hash.Zero, err
	}
	return hash.FromHex(out.Hash)
}

// ListBranches returns every branch the remote currently advertises.
func (c *Client) ListBranches(ctx context.Context) ([]wire.BranchResponse, error) {
	var out []wire.BranchResponse
	if err := c.doJSON(ctx, http.MethodGet, c.path("/branches"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBranch performs the §4.8.1 step 4 compare-and-swap branch
// update.
func (c *Client) UpdateBranch(ctx context.Context, branch string, oldHash, newHash hash.Hash) error {
	req := wire.UpdateBranchRequest{OldHash: oldHash.String(), NewHash: newHash.String()}
	return c.doJSON(ctx, http.MethodPut, c.path("/branches/%s", branch), req, nil)
}

func (c *Client) missingHashes(ctx context.Context, candidates []hash.Hash) ([]hash.Hash, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	req := wire.MissingHashesRequest{Hashes: make([]string, len(candidates))}
	for i, h := range candidates {
		req.Hashes[i] = h.String()
	}
	var resp wire.MissingHashesResponse
	if err := c.doJSON(ctx, http.MethodPost, c.path("/tree/missing_file_hashes"), req, &resp); err != nil {
		return nil, err
	}
	out := make([]hash.Hash, 0, len(resp.Missing))
	for _, hx := range resp.Missing {
		h, err := hash.FromHex(hx)
		if err != nil {
			return nil, tabvcerr.Wrap(tabvcerr.WireProtocol, err, "bad missing hash %q", hx)
		}
		out = append(out, h)
	}
	return out, nil
}

func (c *Client) uploadShard(ctx context.Context, name string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPost, c.path("/tree/nodes"), bytes.NewReader(data), func(h http.Header) {
		h.Set(wire.HeaderShardName, name)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getNode(ctx context.Context, h hash.Hash) (wire.NodeResponse, error) {
	var out wire.NodeResponse
	err := c.doJSON(ctx, http.MethodGet, c.path("/tree/%s", h.String()), nil, &out)
	return out, err
}

func (c *Client) getCommit(ctx context.Context, h hash.Hash) (wire.CommitResponse, error) {
	var out wire.CommitResponse
	err := c.doJSON(ctx, http.MethodGet, c.path("/commits/%s", h.String()), nil, &out)
	return out, err
}
