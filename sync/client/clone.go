package client

import (
	"context"
	"net/http"

	"github.com/tabvc/tabvc/config"
	"github.com/tabvc/tabvc/internal/logging"
	"github.com/tabvc/tabvc/repo"
)

// CloneOptions configures Clone.
type CloneOptions struct {
	// BaseURL, Namespace, Repo and Token identify the remote, as for New.
	BaseURL, Namespace, Repo, Token string
	// Concurrency bounds in-flight transfers; <= 0 uses DefaultConcurrency.
	Concurrency int
	HTTPClient  *http.Client

	// All also pulls every remote branch, not just the default one.
	// Each pull fetches the tree nodes of the branch's whole history,
	// but file contents are downloaded only for each branch head's
	// tree; blobs that only older commits reference are not fetched.
	All bool
	// Deep materializes a working copy of the default branch's head
	// after cloning; a shallow clone downloads tree and blobs only.
	Deep bool

	Log *logging.Logger
}

// Clone implements §4.8.3: initialize an empty local repository at
// dir, list the remote's branches, and pull the default branch's head
// (with All, first pull every branch's head the same way).
func Clone(ctx context.Context, dir string, opts CloneOptions) (*repo.Repository, error) {
	rp, err := repo.Init(dir, nil, opts.Log)
	if err != nil {
		return nil, err
	}

	c := New(opts.BaseURL, opts.Namespace, opts.Repo, opts.Token, opts.HTTPClient, opts.Concurrency)

	branches, err := c.ListBranches(ctx)
	if err != nil {
		return nil, err
	}

	defaultBranch := rp.Config.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = config.Default().DefaultBranch
	}

	if opts.All {
		for _, b := range branches {
			if err := c.Pull(ctx, rp, b.Name, false, "", nil); err != nil {
				return nil, err
			}
		}
	}

	workingDir := dir
	if !opts.Deep {
		workingDir = ""
	}
	hasDefault := false
	for _, b := range branches {
		if b.Name == defaultBranch {
			hasDefault = true
			break
		}
	}
	if hasDefault {
		if err := c.Pull(ctx, rp, defaultBranch, opts.Deep, workingDir, nil); err != nil {
			return nil, err
		}
	}

	return rp, nil
}
