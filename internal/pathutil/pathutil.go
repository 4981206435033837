// Package pathutil normalizes and safely joins repo-relative paths.
//
// The stager runs every path it stages, removes or restores through
// Normalize so that two byte-distinct-but-canonically-equal paths
// (e.g. differing Unicode normalization forms produced by different
// OSes) map to the same staged entry.
package pathutil

import (
	"path"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/text/unicode/norm"
)

// Normalize converts p to "/"-separated, NFC-normalized form with no
// leading slash, cleaned by path.Clean ("." segments and inner ".."
// segments are resolved; a leading ".." is kept). The root itself
// normalizes to "".
func Normalize(p string) string {
	p = filepathToSlash(p)
	p = strings.TrimPrefix(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return norm.NFC.String(p)
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// SafeJoin joins rel onto root, refusing to escape root via ".." or a
// symlink, and returns the resulting path.
func SafeJoin(root, rel string) (string, error) {
	return securejoin.SecureJoin(root, rel)
}
