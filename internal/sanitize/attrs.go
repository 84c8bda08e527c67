package sanitize

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// unsafeSchemes are URL schemes that execute or render active content.
var unsafeSchemes = []string{"javascript:", "vbscript:", "data:text/html"}

// hasUnsafeAttr reports whether any attribute is an event handler or carries
// a script URL.
func hasUnsafeAttr(attrs []attr) bool {
	for _, a := range attrs {
		if unsafeAttr(a.key, a.val) {
			return true
		}
	}
	return false
}

// unsafeAttr expects a lowercased key and an unescaped value. Every value is
// checked, not only href: <set to="javascript:..."> and <animate values=...>
// can write a URL into href after load.
func unsafeAttr(key, val string) bool {
	if strings.HasPrefix(key, "on") {
		return true
	}
	for _, part := range strings.Split(val, ";") {
		if unsafeURL(part) {
			return true
		}
	}
	return false
}

// unsafeURL matches the scheme the way browsers do: ASCII whitespace and
// control characters are ignored and case does not matter.
func unsafeURL(val string) bool {
	var b strings.Builder
	for i := 0; i < len(val) && b.Len() < len("data:text/html"); i++ {
		c := val[i]
		if c <= ' ' || c == 0x7f {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	norm := b.String()
	for _, scheme := range unsafeSchemes {
		if strings.HasPrefix(norm, scheme) {
			return true
		}
	}
	return false
}

// piece is one attribute in its original spelling, with the lowercased key
// used for decisions.
type piece struct {
	key string
	raw string
}

// rebuildTag re-emits a start tag without its unsafe attributes. Kept
// attributes keep their original bytes, so case-sensitive SVG names such as
// viewBox survive. The result is tokenized again and refused if anything
// unsafe is still visible to the tokenizer.
func rebuildTag(raw string, selfClosing bool) (string, error) {
	name, pieces := splitTag(raw)

	var b strings.Builder
	b.Grow(len(raw))
	b.WriteByte('<')
	b.WriteString(name)
	last := ""
	for _, p := range pieces {
		if unsafeAttr(p.key, html.UnescapeString(attrValue(p.raw))) {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(p.raw)
		last = p.raw
	}
	if selfClosing {
		// An unquoted value would swallow the slash: <rect h=5/>.
		if last != "" && !strings.HasSuffix(last, `"`) && !strings.HasSuffix(last, "'") {
			b.WriteByte(' ')
		}
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
	out := b.String()

	if err := verifyTag(out); err != nil {
		return "", err
	}
	return out, nil
}

// verifyTag runs the tokenizer over a rebuilt tag and checks the attributes
// it reports.
func verifyTag(tag string) error {
	z := html.NewTokenizer(strings.NewReader(tag))
	tt := z.Next()
	if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
		return fmt.Errorf("%w: could not rebuild tag", ErrMalformed)
	}
	_, more := z.TagName()
	for more {
		var k, v []byte
		k, v, more = z.TagAttr()
		if unsafeAttr(string(k), string(v)) {
			return fmt.Errorf("%w: could not strip attribute %q", ErrMalformed, k)
		}
	}
	return nil
}

// splitTag splits the raw text of a start tag into its name and attribute
// pieces, following the same boundaries as the html tokenizer.
func splitTag(raw string) (string, []piece) {
	n := len(raw)
	i := 1
	for i < n && !isSpace(raw[i]) && raw[i] != '/' && raw[i] != '>' {
		i++
	}
	name := raw[1:i]

	var pieces []piece
	for {
		i = skipSpace(raw, i)
		if i >= n || raw[i] == '>' {
			break
		}
		if raw[i] == '/' {
			i++
			continue
		}

		start := i
		j := i
		if raw[j] == '=' {
			j++
		}
		for j < n && !isSpace(raw[j]) && raw[j] != '/' && raw[j] != '>' && raw[j] != '=' {
			j++
		}
		key := strings.ToLower(raw[start:j])
		i = j

		k := skipSpace(raw, i)
		if k < n && raw[k] == '=' {
			k = skipSpace(raw, k+1)
			switch {
			case k >= n:
				i = n
			case raw[k] == '>':
				i = k
			case raw[k] == '"' || raw[k] == '\'':
				if end := strings.IndexByte(raw[k+1:], raw[k]); end >= 0 {
					i = k + 1 + end + 1
				} else {
					i = n
				}
			default:
				for k < n && !isSpace(raw[k]) && raw[k] != '>' {
					k++
				}
				i = k
			}
		}

		if key != "" {
			pieces = append(pieces, piece{key: key, raw: raw[start:i]})
		}
	}
	return name, pieces
}

// attrValue returns the value part of a raw attribute piece, without quotes.
func attrValue(raw string) string {
	eq := strings.IndexByte(raw[1:], '=')
	if eq < 0 {
		return ""
	}
	v := strings.TrimLeft(raw[eq+2:], " \t\n\r\f")
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f'
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}
