// Package sanitize rewrites renderer SVG output into markup that is safe to
// embed in a document.
//
// The input is split with the golang.org/x/net/html tokenizer, a linear state
// machine, so every byte is visited a bounded number of times regardless of
// how adversarial the markup is. The sanitizer fails closed: anything it
// cannot parse with certainty is rejected instead of being passed through.
package sanitize

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// MaxInputSize bounds the markup accepted by Sanitize (16 MiB).
const MaxInputSize = 16 << 20

// Sentinel errors for sanitize operations.
var (
	ErrScriptElement    = errors.New("svg contains a script element")
	ErrForbiddenElement = errors.New("svg contains a forbidden element")
	ErrMalformed        = errors.New("malformed svg markup")
	ErrTooLarge         = errors.New("svg exceeds maximum size")
)

// forbidden elements are refused outright. Their presence means the renderer
// output was influenced by hostile input, so nothing of it is kept.
var forbidden = map[string]bool{
	"handler": true, // SVG Tiny 1.2 event handler element
	"iframe":  true,
	"object":  true,
	"embed":   true,
	"frame":   true,
	"applet":  true,
}

// rawText elements make an HTML tokenizer read everything up to their end tag
// as text. In SVG they hold markup like any other element, so the tokenizer is
// told to keep tokenizing (see run). A self-closing form is still refused.
var rawText = map[string]bool{
	"iframe": true, "noembed": true, "noframes": true, "noscript": true,
	"plaintext": true, "script": true, "style": true, "textarea": true,
	"title": true, "xmp": true,
}

// Sanitize returns a rewritten copy of raw with scripts refused, event handler
// attributes and script URLs removed, and every <foreignObject> replaced by a
// centered <text> element carrying its visible text. The function is pure
// and deterministic.
func Sanitize(raw string) (string, error) {
	if len(raw) > MaxInputSize {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(raw), MaxInputSize)
	}
	// Any "<script" anywhere is refused, whatever element or text holds it.
	if containsFold(raw, "<script") {
		return "", ErrScriptElement
	}

	s := &sanitizer{
		z: html.NewTokenizer(strings.NewReader(raw)),
	}
	s.z.AllowCDATA(true)
	s.out.Grow(len(raw))

	if err := s.run(); err != nil {
		return "", err
	}
	if s.consumed != len(raw) {
		return "", fmt.Errorf("%w: unterminated markup at byte %d", ErrMalformed, s.consumed)
	}
	if !s.rootClosed {
		return "", fmt.Errorf("%w: missing <svg> root or unclosed elements", ErrMalformed)
	}
	return s.out.String(), nil
}

// phase tracks where the tokenizer is relative to the root element.
type phase int

const (
	beforeRoot phase = iota
	inRoot
	afterRoot
)

type sanitizer struct {
	z          *html.Tokenizer
	out        strings.Builder
	stack      []string
	phase      phase
	rootClosed bool
	consumed   int
	label      *labelCapture
}

func (s *sanitizer) run() error {
	for {
		tt := s.z.Next()
		if tt == html.ErrorToken {
			if err := s.z.Err(); err != io.EOF {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			if s.label != nil {
				return fmt.Errorf("%w: unclosed <foreignObject>", ErrMalformed)
			}
			return nil
		}

		// Raw must be copied before TagName/TagAttr, which lowercase and
		// unescape the tokenizer buffer in place.
		raw := string(s.z.Raw())
		s.consumed += len(raw)

		// An SVG <title>, <style> or <textarea> has element children, and so
		// does the same element once an HTML parser embeds the SVG inline.
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			s.z.NextIsNotRawText()
		}

		var err error
		switch {
		case s.label != nil:
			err = s.capture(tt, raw)
		default:
			err = s.token(tt, raw)
		}
		if err != nil {
			return err
		}
	}
}

func (s *sanitizer) token(tt html.TokenType, raw string) error {
	switch tt {
	case html.TextToken:
		if s.phase != inRoot && strings.TrimSpace(raw) != "" {
			return fmt.Errorf("%w: text outside the <svg> root", ErrMalformed)
		}
		s.out.WriteString(raw)

	case html.CommentToken:
		// Processing instructions arrive as bogus comments. Only the XML
		// declaration is kept, and only ahead of the root.
		if strings.HasPrefix(raw, "<?") {
			if s.phase == beforeRoot && isXMLDecl(raw) {
				s.out.WriteString(raw)
			}
			return nil
		}
		s.out.WriteString(raw)

	case html.DoctypeToken:
		if s.phase != beforeRoot {
			return fmt.Errorf("%w: doctype inside markup", ErrMalformed)
		}
		// Dropped: internal subsets can declare entities.

	case html.StartTagToken, html.SelfClosingTagToken:
		return s.startTag(tt, raw)

	case html.EndTagToken:
		return s.endTag(raw)
	}
	return nil
}

func (s *sanitizer) startTag(tt html.TokenType, raw string) error {
	nameBytes, hasAttr := s.z.TagName()
	name := string(nameBytes)
	selfClosing := tt == html.SelfClosingTagToken

	if err := checkElement(name); err != nil {
		return err
	}
	if selfClosing && rawText[name] {
		return fmt.Errorf("%w: self-closing <%s>", ErrMalformed, name)
	}

	switch s.phase {
	case beforeRoot:
		if name != "svg" {
			return fmt.Errorf("%w: root element is <%s>, want <svg>", ErrMalformed, name)
		}
		s.phase = inRoot
	case afterRoot:
		return fmt.Errorf("%w: <%s> after the <svg> root", ErrMalformed, name)
	}

	attrs := s.attrs(hasAttr)

	if localName(name) == "foreignobject" {
		s.label = newLabelCapture(rawName(raw), attrs)
		if selfClosing {
			s.out.WriteString(s.label.element())
			s.label = nil
		}
		return nil
	}

	if hasUnsafeAttr(attrs) {
		cleaned, err := rebuildTag(raw, selfClosing)
		if err != nil {
			return err
		}
		s.out.WriteString(cleaned)
	} else {
		s.out.WriteString(raw)
	}

	if selfClosing {
		if name == "svg" && len(s.stack) == 0 {
			s.phase = afterRoot
			s.rootClosed = true
		}
		return nil
	}
	s.stack = append(s.stack, rawName(raw))
	return nil
}

// endTag requires the exact spelling of the open element: XML names are case
// sensitive even though the tokenizer lowercases them.
func (s *sanitizer) endTag(raw string) error {
	name := rawName(raw)

	if len(s.stack) == 0 {
		return fmt.Errorf("%w: unexpected </%s>", ErrMalformed, name)
	}
	top := s.stack[len(s.stack)-1]
	if top != name {
		return fmt.Errorf("%w: </%s> closes <%s>", ErrMalformed, name, top)
	}
	s.stack = s.stack[:len(s.stack)-1]
	s.out.WriteString(raw)

	if len(s.stack) == 0 {
		s.phase = afterRoot
		s.rootClosed = true
	}
	return nil
}

// attrs drains the tokenizer's attributes for the current tag. Keys come
// back lowercased and values unescaped, which is the form checks need.
func (s *sanitizer) attrs(hasAttr bool) []attr {
	var out []attr
	for hasAttr {
		var k, v []byte
		k, v, hasAttr = s.z.TagAttr()
		out = append(out, attr{key: string(k), val: string(v)})
	}
	return out
}

type attr struct {
	key string
	val string
}

// checkElement refuses scripts, forbidden elements and names the tokenizer
// accepts but an XML parser would not.
func checkElement(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: invalid element name %q", ErrMalformed, name)
	}
	local := localName(name)
	if local == "script" {
		return ErrScriptElement
	}
	if forbidden[local] {
		return fmt.Errorf("%w: <%s>", ErrForbiddenElement, name)
	}
	return nil
}

// localName strips a namespace prefix: <svg:script> is still a script.
func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.' || c == ':'):
		default:
			return false
		}
	}
	return true
}

// rawName returns the tag name of a start or end tag as written.
func rawName(raw string) string {
	i := 1
	if i < len(raw) && raw[i] == '/' {
		i++
	}
	j := i
	for j < len(raw) && !isSpace(raw[j]) && raw[j] != '/' && raw[j] != '>' {
		j++
	}
	return raw[i:j]
}

// containsFold reports whether s contains the lowercase ASCII needle in any
// case, without copying s.
func containsFold(s, needle string) bool {
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i] != needle[0] {
			continue
		}
		if strings.EqualFold(s[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func isXMLDecl(raw string) bool {
	if len(raw) < 6 {
		return false
	}
	head := strings.ToLower(raw[:5])
	return head == "<?xml" && (raw[5] == ' ' || raw[5] == '?' || raw[5] == '\t' || raw[5] == '\n' || raw[5] == '\r')
}
