package document

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Marker and image reference formats.
const (
	markerPrefix = "mermaid-source-file:"
	imagePrefix  = "![Mermaid Diagram]("
	mermaidLang  = "mermaid"
)

// Scan returns the document's diagram blocks in document order.
//
// Markdown documents are parsed with goldmark so that fences inside other
// fences, HTML blocks or indented code are never mistaken for diagrams. Only
// fences that are direct children of the document are returned: a fence in a
// list item or block quote carries container prefixes that cannot round-trip.
func Scan(src string, kind Kind) []Block {
	if kind == Diagram {
		return scanDiagram(src)
	}

	source := []byte(src)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	var blocks []Block
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok || fcb.Info == nil {
			continue
		}
		if !strings.EqualFold(string(fcb.Language(source)), mermaidLang) {
			continue
		}
		block, ok := fencedBlock(src, fcb.Info.Segment.Start)
		if !ok {
			continue
		}
		block.Index = len(blocks)
		blocks = append(blocks, block)
	}
	return blocks
}

// scanDiagram treats the whole text as one diagram unless it is empty or has
// already been replaced by a marker.
func scanDiagram(src string) []Block {
	if strings.TrimSpace(src) == "" || len(ScanMarkers(src)) > 0 {
		return nil
	}
	return []Block{{
		Index: 0,
		Line:  0,
		Span:  Span{Start: 0, End: len(src)},
		Text:  src,
		Fence: Fence{EOL: detectEOL(src)},
	}}
}

// fencedBlock measures a fenced block from any offset on its opening line.
func fencedBlock(src string, infoOffset int) (Block, bool) {
	open := lineStart(src, infoOffset)
	openEnd, eol := lineEnd(src, open)
	line := src[open:openEnd]

	indent := 0
	for indent < len(line) && indent < 3 && line[indent] == ' ' {
		indent++
	}
	if indent >= len(line) || (line[indent] != '`' && line[indent] != '~') {
		return Block{}, false
	}
	char := line[indent]
	run := indent
	for run < len(line) && line[run] == char {
		run++
	}
	length := run - indent

	fence := Fence{
		Char:   char,
		Length: length,
		Indent: indent,
		Info:   strings.TrimSpace(strings.TrimRight(line[run:], "\r\n")),
		EOL:    eol,
	}

	contentStart := openEnd
	pos := contentStart
	for pos < len(src) {
		next, _ := lineEnd(src, pos)
		if isClosingFence(src[pos:next], char, length) {
			return Block{
				Line:  lineOf(src, open),
				Span:  Span{Start: open, End: next},
				Text:  src[contentStart:pos],
				Fence: fence,
			}, true
		}
		pos = next
	}

	// Unterminated fences run to the end of the document.
	return Block{
		Line:  lineOf(src, open),
		Span:  Span{Start: open, End: len(src)},
		Text:  src[contentStart:],
		Fence: fence,
	}, true
}

// isClosingFence applies the CommonMark rule: up to three spaces of
// indentation, at least as many fence characters as the opener, then only
// whitespace.
func isClosingFence(line string, char byte, length int) bool {
	i := 0
	for i < len(line) && i < 3 && line[i] == ' ' {
		i++
	}
	start := i
	for i < len(line) && line[i] == char {
		i++
	}
	if i-start < length {
		return false
	}
	return strings.TrimSpace(line[i:]) == ""
}

// ScanMarkers returns the rendered-diagram markers of a document in order.
// A marker is an HTML comment on its own line; markers shown inside code
// fences are ignored because goldmark does not report them as HTML blocks.
func ScanMarkers(src string) []Marker {
	source := []byte(src)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	var markers []Marker
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		hb, ok := n.(*ast.HTMLBlock)
		if !ok || hb.HTMLBlockType != ast.HTMLBlockType2 || hb.Lines().Len() == 0 {
			continue
		}
		first := hb.Lines().At(0)
		if m, ok := parseMarker(src, lineStart(src, first.Start)); ok {
			markers = append(markers, m)
		}
	}
	return markers
}

// parseMarker reads a marker line at offset start and the image reference
// that follows it.
func parseMarker(src string, start int) (Marker, bool) {
	end, eol := lineEnd(src, start)
	path, ok := markerPath(src[start:end])
	if !ok {
		return Marker{}, false
	}

	m := Marker{
		Line:       lineOf(src, start),
		Span:       Span{Start: start, End: end},
		SourcePath: path,
		EOL:        eol,
	}

	// Blank lines between the marker and its image belong to the marker.
	pos := end
	for pos < len(src) {
		next, _ := lineEnd(src, pos)
		if strings.TrimSpace(src[pos:next]) != "" {
			break
		}
		pos = next
	}
	if pos < len(src) {
		next, _ := lineEnd(src, pos)
		if img, ok := imagePath(src[pos:next]); ok {
			m.ImagePath = img
			m.Span.End = next
		}
	}
	return m, true
}

// markerPath extracts PATH from "<!-- mermaid-source-file:PATH -->".
func markerPath(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "<!--") || !strings.HasSuffix(s, "-->") || len(s) < len("<!---->") {
		return "", false
	}
	inner := strings.TrimSpace(s[len("<!--") : len(s)-len("-->")])
	if !strings.HasPrefix(inner, markerPrefix) {
		return "", false
	}
	path := strings.TrimSpace(inner[len(markerPrefix):])
	if path == "" {
		return "", false
	}
	return path, true
}

// imagePath extracts PATH from "![Mermaid Diagram](PATH)".
func imagePath(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, imagePrefix) || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return strings.TrimSpace(s[len(imagePrefix) : len(s)-1]), true
}

// lineStart returns the offset of the first byte of the line holding off.
func lineStart(src string, off int) int {
	if off > len(src) {
		off = len(src)
	}
	return strings.LastIndexByte(src[:off], '\n') + 1
}

// lineEnd returns the offset just past the line starting at start (after its
// newline, or len(src)) and the line's ending.
func lineEnd(src string, start int) (int, string) {
	i := strings.IndexByte(src[start:], '\n')
	if i < 0 {
		return len(src), ""
	}
	end := start + i + 1
	if i > 0 && src[start+i-1] == '\r' {
		return end, "\r\n"
	}
	return end, "\n"
}

// lineOf returns the 0-based line number of offset off.
func lineOf(src string, off int) int {
	if off > len(src) {
		off = len(src)
	}
	return strings.Count(src[:off], "\n")
}

// detectEOL returns the first line ending used in src, defaulting to "\n".
func detectEOL(src string) string {
	i := strings.IndexByte(src, '\n')
	if i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}
