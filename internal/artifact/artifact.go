// Package artifact persists rendered diagrams: an SVG file, a sidecar file
// holding the exact diagram source, and the bookkeeping that ties them to a
// document marker.
//
// All paths go through a Store rooted at a directory; nothing is read or
// written outside it.
package artifact

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Sentinel errors for artifact operations.
var (
	ErrPathTraversal = errors.New("path escapes the artifact root")
	ErrNotFound      = errors.New("artifact not found")
	ErrTooLarge      = errors.New("sidecar exceeds maximum size")
	ErrEmptyRoot     = errors.New("artifact root cannot be empty")

	ErrInvalidArtifact = errors.New("artifact needs distinct SVG and sidecar paths")
	ErrNotArtifact     = errors.New("file is not a diagram artifact")
)

// File extensions of the artifact pair.
const (
	SVGExt    = ".svg"
	SourceExt = ".mmd"
)

// MaxSourceSize bounds sidecar reads.
const MaxSourceSize = 8 << 20

// File permissions for written artifacts and created directories.
const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// Artifact is one rendered diagram on disk. Paths are absolute.
type Artifact struct {
	SVGPath     string
	SourcePath  string
	Marker      string // sidecar path as written in the document marker
	Fingerprint string // SHA-256 hex of the source the SVG was rendered from
}

// Name returns the base name shared by a block's SVG and sidecar:
// <stem>_diagram_<NN>_<hash8>, with NN the 1-based block ordinal.
func Name(stem string, index int, fingerprint string) string {
	short := fingerprint
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_diagram_%02d_%s", stem, index+1, short)
}

// ParseName splits a base name produced by Name, without extension, into
// its stem, 1-based ordinal and short fingerprint.
func ParseName(name string) (stem string, ordinal int, short string, ok bool) {
	i := strings.LastIndex(name, nameInfix)
	if i < 0 {
		return "", 0, "", false
	}
	num, short, found := strings.Cut(name[i+len(nameInfix):], "_")
	if !found || len(num) < 2 || !isDigits(num) || !isShortHash(short) {
		return "", 0, "", false
	}
	ordinal, err := strconv.Atoi(num)
	if err != nil || ordinal < 1 {
		return "", 0, "", false
	}
	return name[:i], ordinal, short, true
}

// Owned reports whether path names a file of the kind ext that Name could
// have produced. Only such files are read or removed.
func Owned(path, ext string) bool {
	base := filepath.Base(path)
	if filepath.Ext(base) != ext {
		return false
	}
	_, _, _, ok := ParseName(strings.TrimSuffix(base, ext))
	return ok
}

// Matches reports whether the sidecar still holds the source its name was
// derived from. A hand-edited sidecar does not match.
func (a Artifact) Matches() bool {
	base := strings.TrimSuffix(filepath.Base(a.SourcePath), SourceExt)
	_, _, short, ok := ParseName(base)
	return ok && strings.HasPrefix(a.Fingerprint, short)
}

const nameInfix = "_diagram_"

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isShortHash(s string) bool {
	if len(s) != 8 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Stem returns the document file name without its extension.
func Stem(docPath string) string {
	base := filepath.Base(docPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SVGPathFor derives the SVG path that pairs with a sidecar path.
func SVGPathFor(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + SVGExt
}
