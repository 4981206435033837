// Package stager implements the Stager of §4.5: given the working
// copy and the current HEAD tree, compute and persist the intent of
// the next commit. Grounded on plumbing/format/index's Entry/Index
// pair (the teacher's working-copy-vs-tree staging record) and its
// Stage enum for unmerged paths, adapted from git's single
// added-or-deleted-or-modeled entry model to this spec's explicit
// Added/Modified/Removed status.
package stager

import (
	"bytes"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/internal/encoding"
	"github.com/tabvc/tabvc/tabvcerr"
)

// Status is the staged disposition of one path.
type Status uint8

const (
	Added Status = iota + 1
	Modified
	Removed
)

func (s Status) String() string {
	switch s {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// StagedEntry records one path's staged change against HEAD.
type StagedEntry struct {
	Path      string
	Status    Status
	PriorHash hash.Hash // HEAD's hash for this path; zero for a new path.
	NewHash   hash.Hash // staged content hash; zero for Removed.
}

// ConflictStage mirrors index.Stage: which side of an unresolved merge
// a conflict entry represents.
type ConflictStage uint8

const (
	ConflictBase ConflictStage = iota + 1
	ConflictOurs
	ConflictTheirs
)

// Conflict records an unresolved three-way merge conflict for a path.
type Conflict struct {
	Path   string
	Base   hash.Hash
	Ours   hash.Hash
	Theirs hash.Hash
}

// StagedData is the Stager's status() result: everything a caller
// needs to decide what the next commit will contain.
type StagedData struct {
	Entries          []StagedEntry
	Untracked        []string
	ModifiedUnstaged []string
	Removed          []string
	Conflicts        []Conflict
}

func encodeEntries(entries map[string]StagedEntry) []byte {
	buf := new(bytes.Buffer)
	w := encoding.NewWriter(buf)
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sortStrings(paths)
	w.Uint32(uint32(len(paths)))
	for _, p := range paths {
		e := entries[p]
		w.String(e.Path)
		w.Uint8(uint8(e.Status))
		w.Hash(e.PriorHash)
		w.Hash(e.NewHash)
	}
	return buf.Bytes()
}

func decodeEntries(payload []byte) (map[string]StagedEntry, error) {
	r := encoding.NewReader(bytes.NewReader(payload))
	n := r.Uint32()
	out := make(map[string]StagedEntry, n)
	for i := uint32(0); i < n; i++ {
		e := StagedEntry{
			Path:   r.String(),
			Status: Status(r.Uint8()),
		}
		e.PriorHash = r.Hash()
		e.NewHash = r.Hash()
		if r.Err() != nil {
			break
		}
		out[e.Path] = e
	}
	if err := r.Err(); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.Corrupted, err, "decode stage")
	}
	return out, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
