package document

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// RenderedText is the replacement for a diagram block: a marker naming the
// sidecar source and an image reference to the rendered SVG. Paths are
// document-relative and slash-separated.
func RenderedText(sourceRel, svgRel, eol string) string {
	if eol == "" {
		eol = "\n"
	}
	return "<!-- " + markerPrefix + sourceRel + " -->" + eol + eol +
		imagePrefix + svgRel + ")" + eol
}

// RenderEdit replaces block with the marker and image reference.
func RenderEdit(block Block, sourceRel, svgRel string) Edit {
	return Edit{
		Span:    block.Span,
		NewText: RenderedText(sourceRel, svgRel, block.Fence.EOL),
	}
}

// SourceEdit replaces a marker with the diagram source it points to. Markdown
// documents get a fenced block; diagram documents get the raw source.
func SourceEdit(m Marker, source string, kind Kind) Edit {
	if kind == Diagram {
		return Edit{Span: m.Span, NewText: source}
	}
	return Edit{Span: m.Span, NewText: FencedBlock(source, m.EOL)}
}

// FencedBlock wraps source in a ```mermaid fence long enough that no line of
// source can close it. A line ending is added before the closing fence only
// when source does not already end with one, so scanning the result yields
// source byte-for-byte.
func FencedBlock(source, eol string) string {
	if eol == "" {
		eol = "\n"
	}
	fence := strings.Repeat("`", max(3, longestFenceRun(source)+1))

	var b strings.Builder
	b.Grow(len(source) + 2*len(fence) + len(mermaidLang) + 2*len(eol))
	b.WriteString(fence)
	b.WriteString(mermaidLang)
	b.WriteString(eol)
	b.WriteString(source)
	if source != "" && !strings.HasSuffix(source, "\n") {
		b.WriteString(eol)
	}
	b.WriteString(fence)
	b.WriteString(eol)
	return b.String()
}

// longestFenceRun returns the longest backtick run that starts a line of
// source after at most three spaces of indentation.
func longestFenceRun(source string) int {
	longest := 0
	for _, line := range strings.Split(source, "\n") {
		i := 0
		for i < len(line) && i < 3 && line[i] == ' ' {
			i++
		}
		run := 0
		for i+run < len(line) && line[i+run] == '`' {
			run++
		}
		longest = max(longest, run)
	}
	return longest
}

// Apply splices edits into text. Edits may be given in any order but must
// not overlap; they are applied from the end of the document backwards so
// that earlier spans stay valid.
func Apply(text string, edits ...Edit) (string, error) {
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Span.Start > sorted[j].Span.Start
	})

	for i, e := range sorted {
		if e.Span.Start < 0 || e.Span.End < e.Span.Start || e.Span.End > len(text) {
			return "", fmt.Errorf("%w: [%d,%d) in %d bytes", ErrSpan, e.Span.Start, e.Span.End, len(text))
		}
		if i > 0 && e.Span.Overlaps(sorted[i-1].Span) {
			return "", fmt.Errorf("%w: [%d,%d) overlaps [%d,%d)", ErrSpan,
				e.Span.Start, e.Span.End, sorted[i-1].Span.Start, sorted[i-1].Span.End)
		}
	}

	out := text
	for _, e := range sorted {
		out = out[:e.Span.Start] + e.NewText + out[e.Span.End:]
	}
	return out, nil
}

// FindMarker returns the marker on or covering the 0-based line.
func FindMarker(text string, markers []Marker, line int) (Marker, bool) {
	for _, m := range markers {
		if m.Covers(text, line) {
			return m, true
		}
	}
	return Marker{}, false
}

// ResolveMarker joins a marker path onto the document directory and rejects
// anything that is absolute, contains a NUL byte, or leaves docDir after
// cleaning. It is lexical and performs no filesystem access; symlinks are
// checked by the artifact store before it opens anything.
func ResolveMarker(docDir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidMarker)
	}
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: NUL byte in %q", ErrPathTraversal, rel)
	}
	if filepath.IsAbs(rel) || path.IsAbs(rel) || filepath.VolumeName(rel) != "" || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, rel)
	}

	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}
	if clean == "." {
		return "", fmt.Errorf("%w: %q names the document directory", ErrInvalidMarker, rel)
	}
	return filepath.Join(docDir, clean), nil
}

// RelPath returns target relative to docDir with forward slashes, the form
// written into markers and image references.
func RelPath(docDir, target string) (string, error) {
	rel, err := filepath.Rel(docDir, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
