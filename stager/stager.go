package stager

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/pathutil"
	"github.com/tabvc/tabvc/storage/cas"
	"github.com/tabvc/tabvc/tabvcerr"
)

// stateFile is the persisted staging record's file name, kept inside
// the repository's hidden control directory.
const stateFile = "stage.bin"

// RepoDirName is the hidden directory every working-copy walk
// excludes, the same way git walks exclude ".git".
const RepoDirName = ".tabvc"

// HeadLookup resolves a working-copy-relative path to the content hash
// it has at HEAD, so the Stager never needs its own tree-walking
// logic — the caller (commitbuilder/workspace) owns that.
type HeadLookup interface {
	Hash(path string) (hash.Hash, bool)
}

// Stager is the persistent staging area for one working copy.
type Stager struct {
	stateDir   string
	workingDir string
	cas        cas.Store

	mu      sync.Mutex
	entries map[string]StagedEntry
}

// Open loads (or initializes) the staging area rooted at stateDir,
// tracking the working copy at workingDir.
func Open(stateDir, workingDir string, store cas.Store) (*Stager, error) {
	s := &Stager{stateDir: stateDir, workingDir: workingDir, cas: store, entries: map[string]StagedEntry{}}
	payload, err := os.ReadFile(filepath.Join(stateDir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "read stage")
	}
	entries, err := decodeEntries(payload)
	if err != nil {
		return nil, err
	}
	s.entries = entries
	return s, nil
}

func (s *Stager) persist() error {
	if err := os.MkdirAll(s.stateDir, 0o755); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "mkdir %s", s.stateDir)
	}
	tmp, err := os.CreateTemp(s.stateDir, "tmp_stage_")
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "create temp stage")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(encodeEntries(s.entries)); err != nil {
		tmp.Close()
		return tabvcerr.Wrap(tabvcerr.IO, err, "write stage")
	}
	if err := tmp.Close(); err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "close temp stage")
	}
	return os.Rename(tmpPath, filepath.Join(s.stateDir, stateFile))
}

// expandPaths turns a glob pattern or directory path into the set of
// regular files it denotes, recursing into directories and always
// excluding anything under RepoDirName.
func (s *Stager) expandPaths(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.workingDir, pattern))
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "expand %q", pattern)
	}
	if len(matches) == 0 {
		matches = []string{filepath.Join(s.workingDir, pattern)}
	}

	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, tabvcerr.Wrap(tabvcerr.IO, err, "stat %s", m)
		}
		if !info.IsDir() {
			out = append(out, m)
			continue
		}
		err = filepath.Walk(m, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				if fi.Name() == RepoDirName {
					return filepath.SkipDir
				}
				return nil
			}
			out = append(out, p)
			return nil
		})
		if err != nil {
			return nil, tabvcerr.Wrap(tabvcerr.IO, err, "walk %s", m)
		}
	}
	return out, nil
}

func (s *Stager) relPath(abs string) (string, error) {
	rel, err := filepath.Rel(s.workingDir, abs)
	if err != nil {
		return "", tabvcerr.Wrap(tabvcerr.IO, err, "relativize %s", abs)
	}
	return pathutil.Normalize(rel), nil
}

func hashFile(path string) (hash.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return hash.Zero, tabvcerr.Wrap(tabvcerr.IO, err, "open %s", path)
	}
	defer f.Close()
	h := hash.New()
	if _, err := io.Copy(h, f); err != nil {
		return hash.Zero, tabvcerr.Wrap(tabvcerr.IO, err, "hash %s", path)
	}
	var out hash.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Add stages the file(s) matched by pattern. Glob patterns expand;
// directories recurse, excluding RepoDirName. Each staged file is
// copied into CAS by content hash. A file whose content now matches
// HEAD again is un-staged, since there is nothing left to commit for
// it (never silently dropping a real modification, per §4.5's
// invariant — only a genuine no-op is dropped).
func (s *Stager) Add(ctx context.Context, pattern string, head HeadLookup) error {
	paths, err := s.expandPaths(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, abs := range paths {
		rel, err := s.relPath(abs)
		if err != nil {
			return err
		}
		if strings.HasPrefix(rel, RepoDirName+"/") {
			continue
		}

		newHash, err := hashFile(abs)
		if err != nil {
			return err
		}
		priorHash, tracked := head.Hash(rel)

		if tracked && priorHash == newHash {
			delete(s.entries, rel)
			continue
		}

		f, err := os.Open(abs)
		if err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "open %s", abs)
		}
		err = s.cas.Put(ctx, newHash, f)
		f.Close()
		if err != nil {
			return err
		}

		status := Added
		if tracked {
			status = Modified
		}
		s.entries[rel] = StagedEntry{Path: rel, Status: status, PriorHash: priorHash, NewHash: newHash}
	}
	return s.persist()
}

// Remove stages a removal. If stagedOnly, only the staging entry is
// dropped (the working copy is untouched); otherwise the working copy
// file is deleted too. Recursing into a directory requires recursive.
func (s *Stager) Remove(path string, recursive, stagedOnly bool, head HeadLookup) error {
	abs := filepath.Join(s.workingDir, path)
	info, statErr := os.Stat(abs)

	s.mu.Lock()
	defer s.mu.Unlock()

	if statErr == nil && info.IsDir() {
		if !recursive {
			return tabvcerr.New(tabvcerr.Forbidden, "%s is a directory; pass recursive to remove it", path)
		}
		return s.removeDir(abs, stagedOnly, head)
	}

	rel := pathutil.Normalize(path)
	if _, tracked := head.Hash(rel); !tracked {
		if _, staged := s.entries[rel]; !staged {
			return tabvcerr.New(tabvcerr.NotFound, "path %q is not tracked", rel)
		}
	}

	priorHash, _ := head.Hash(rel)
	if !stagedOnly {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return tabvcerr.Wrap(tabvcerr.IO, err, "remove %s", abs)
		}
	}
	if entry, ok := s.entries[rel]; ok && entry.Status == Added {
		delete(s.entries, rel)
	} else {
		s.entries[rel] = StagedEntry{Path: rel, Status: Removed, PriorHash: priorHash}
	}
	return s.persist()
}

func (s *Stager) removeDir(abs string, stagedOnly bool, head HeadLookup) error {
	err := filepath.Walk(abs, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if fi.Name() == RepoDirName {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := s.relPath(p)
		if err != nil {
			return err
		}
		priorHash, _ := head.Hash(rel)
		if entry, ok := s.entries[rel]; ok && entry.Status == Added {
			delete(s.entries, rel)
		} else {
			s.entries[rel] = StagedEntry{Path: rel, Status: Removed, PriorHash: priorHash}
		}
		return nil
	})
	if err != nil {
		return tabvcerr.Wrap(tabvcerr.IO, err, "walk %s", abs)
	}
	if !stagedOnly {
		if err := os.RemoveAll(abs); err != nil {
			return tabvcerr.Wrap(tabvcerr.IO, err, "remove %s", abs)
		}
	}
	return s.persist()
}

// Status reports staged entries plus every unstaged change the
// Stager can see by walking the working copy: untracked files and
// modified-but-unstaged files. A file's on-disk hash differing from
// its HEAD hash always surfaces somewhere — as a staged Modified entry
// or in ModifiedUnstaged — never silently.
func (s *Stager) Status(head HeadLookup) (*StagedData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &StagedData{}
	for _, e := range s.entries {
		out.Entries = append(out.Entries, e)
		if e.Status == Removed {
			out.Removed = append(out.Removed, e.Path)
		}
	}
	sortEntries(out.Entries)

	paths, err := s.expandPaths(".")
	if err != nil {
		return nil, err
	}
	for _, abs := range paths {
		rel, err := s.relPath(abs)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(rel, RepoDirName+"/") || rel == RepoDirName {
			continue
		}
		if _, staged := s.entries[rel]; staged {
			continue
		}
		priorHash, tracked := head.Hash(rel)
		if !tracked {
			out.Untracked = append(out.Untracked, rel)
			continue
		}
		current, err := hashFile(abs)
		if err != nil {
			return nil, err
		}
		if current != priorHash {
			out.ModifiedUnstaged = append(out.ModifiedUnstaged, rel)
		}
	}
	return out, nil
}

func sortEntries(e []StagedEntry) {
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && e[j-1].Path > e[j].Path; j-- {
			e[j-1], e[j] = e[j], e[j-1]
		}
	}
}

// Restore reverses a staging decision for path. An Added entry is
// simply dropped, leaving the working copy alone. A Modified or
// Removed entry is reversed by re-materializing the HEAD version via
// materialize.
func (s *Stager) Restore(ctx context.Context, path string, head HeadLookup, materialize func(ctx context.Context, path string, h hash.Hash) error) error {
	rel := pathutil.Normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[rel]
	if !ok {
		return tabvcerr.New(tabvcerr.NotFound, "no staged change for %q", rel)
	}
	delete(s.entries, rel)

	if entry.Status != Added {
		priorHash, tracked := head.Hash(rel)
		if tracked {
			if err := materialize(ctx, rel, priorHash); err != nil {
				return err
			}
		}
	}
	return s.persist()
}

// StageReplacement records a path's new content hash directly, without
// touching any working-copy file or re-hashing anything: the caller
// (the workspace engine, committing materialized table content it
// already wrote to CAS itself) already knows both hashes. priorHash
// zero means the path is new (Added); otherwise the entry is Modified.
func (s *Stager) StageReplacement(path string, priorHash, newHash hash.Hash) error {
	rel := pathutil.Normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Added
	if !priorHash.IsZero() {
		status = Modified
	}
	s.entries[rel] = StagedEntry{Path: rel, Status: status, PriorHash: priorHash, NewHash: newHash}
	return s.persist()
}

// StageRemoval records path's removal directly, for a caller (the
// workspace engine's "remote_mode rm") that already knows the path's
// HEAD content hash and has no working-copy file to delete.
func (s *Stager) StageRemoval(path string, priorHash hash.Hash) error {
	rel := pathutil.Normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[rel] = StagedEntry{Path: rel, Status: Removed, PriorHash: priorHash}
	return s.persist()
}

// Clear drops all staging entries without touching the working copy.
func (s *Stager) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]StagedEntry{}
	return s.persist()
}

// Entries returns a snapshot of every currently staged entry.
func (s *Stager) Entries() []StagedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StagedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}
