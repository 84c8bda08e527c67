// Package document locates Mermaid diagram source inside documents and
// computes the text edits that swap it for a rendered image reference and
// back.
//
// Nothing here touches the filesystem: the package works on document text
// and returns byte spans and replacement text for the caller to apply.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
)

// Sentinel errors for document operations.
var (
	ErrPathTraversal = errors.New("marker path escapes the document directory")
	ErrInvalidMarker = errors.New("invalid marker")
	ErrSpan          = errors.New("invalid edit span")
)

// Kind selects how a document is scanned.
type Kind int

const (
	// Markdown documents hold diagrams in ```mermaid fenced blocks.
	Markdown Kind = iota
	// Diagram documents (.mmd, .mermaid) are one diagram in their entirety.
	Diagram
)

// KindFor picks the document kind from a file name.
func KindFor(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mmd", ".mermaid":
		return Diagram
	default:
		return Markdown
	}
}

// Span is a half-open byte range [Start, End) of a document.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Fence describes the opening fence of a fenced block.
type Fence struct {
	Char   byte   // '`' or '~'
	Length int    // run length of the opening fence
	Indent int    // leading spaces before the fence
	Info   string // full info string, e.g. "mermaid" or "mermaid title"
	EOL    string // line ending of the opening line: "\n" or "\r\n"
}

// Block is one diagram source found by Scan. It is never mutated; a document
// change invalidates every Block from the previous scan.
type Block struct {
	Index int    // ordinal among the document's diagram blocks
	Line  int    // 0-based line of the opening fence
	Span  Span   // opening fence line through closing fence line
	Text  string // verbatim diagram source between the fences
	Fence Fence
}

// Fingerprint identifies the block's source text (SHA-256, hex).
func (b Block) Fingerprint() string {
	return Fingerprint(b.Text)
}

// Fingerprint returns the SHA-256 hex digest of source.
func Fingerprint(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Marker is a rendered diagram reference found by ScanMarkers.
type Marker struct {
	Line       int    // 0-based line of the marker comment
	Span       Span   // marker line through the image reference line
	SourcePath string // sidecar path as written, relative to the document
	ImagePath  string // image path as written; empty when the image line is missing
	EOL        string // line ending of the marker line
}

// Covers reports whether the 0-based line falls inside the marker span.
func (m Marker) Covers(text string, line int) bool {
	if line == m.Line {
		return true
	}
	if line < m.Line {
		return false
	}
	return line <= lineOf(text, max(m.Span.End-1, m.Span.Start))
}

// Edit replaces Span with NewText.
type Edit struct {
	Span    Span
	NewText string
}
