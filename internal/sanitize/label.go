package sanitize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Presentation of converted labels, matching Mermaid's default theme.
const (
	labelFontFamily = "'trebuchet ms',verdana,arial,sans-serif"
	labelFontSize   = "16px"
	labelFill       = "#333"
)

// voidElements never have an end tag inside HTML labels.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// breaks separate words when a label is flattened to a single line.
var breaks = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
}

// labelCapture collects the visible text of a <foreignObject>. Nested tags
// are tracked only to find the matching end tag; none of them is emitted.
type labelCapture struct {
	name                string // <foreignObject> as spelled by the renderer
	x, y, width, height float64
	stack               []string
	text                strings.Builder
}

func newLabelCapture(name string, attrs []attr) *labelCapture {
	c := &labelCapture{name: name}
	for _, a := range attrs {
		switch a.key {
		case "x":
			c.x = parseLength(a.val)
		case "y":
			c.y = parseLength(a.val)
		case "width":
			c.width = parseLength(a.val)
		case "height":
			c.height = parseLength(a.val)
		}
	}
	return c
}

// capture handles a token while inside a <foreignObject>.
func (s *sanitizer) capture(tt html.TokenType, raw string) error {
	c := s.label

	switch tt {
	case html.TextToken:
		if n := len(c.stack); n > 0 && (c.stack[n-1] == "style" || c.stack[n-1] == "title") {
			return nil
		}
		c.text.Write(s.z.Text())

	case html.StartTagToken, html.SelfClosingTagToken:
		nameBytes, _ := s.z.TagName()
		name := string(nameBytes)
		if err := checkElement(name); err != nil {
			return err
		}
		if breaks[name] {
			c.text.WriteByte(' ')
		}
		if tt == html.SelfClosingTagToken || voidElements[name] {
			if rawText[name] {
				return fmt.Errorf("%w: self-closing <%s>", ErrMalformed, name)
			}
			return nil
		}
		c.stack = append(c.stack, rawName(raw))

	case html.EndTagToken:
		nameBytes, _ := s.z.TagName()
		name := string(nameBytes)
		spelled := rawName(raw)
		if voidElements[name] {
			if breaks[name] {
				c.text.WriteByte(' ')
			}
			return nil
		}
		if len(c.stack) == 0 {
			if spelled != c.name {
				return fmt.Errorf("%w: </%s> inside <%s>", ErrMalformed, spelled, c.name)
			}
			s.out.WriteString(c.element())
			s.label = nil
			return nil
		}
		top := c.stack[len(c.stack)-1]
		if top != spelled {
			return fmt.Errorf("%w: </%s> closes <%s>", ErrMalformed, spelled, top)
		}
		c.stack = c.stack[:len(c.stack)-1]
		if breaks[name] {
			c.text.WriteByte(' ')
		}

	case html.DoctypeToken:
		return fmt.Errorf("%w: doctype inside <foreignObject>", ErrMalformed)
	}
	return nil
}

// element renders the captured label as a centered SVG <text>. The anchor is
// the exact box center, y+h/2 with a middle baseline. A y+h/2+5 alphabetic
// baseline would only line up for 16px text.
func (c *labelCapture) element() string {
	text := strings.Join(strings.Fields(c.text.String()), " ")

	var b strings.Builder
	b.WriteString(`<text x="`)
	b.WriteString(formatLength(c.x + c.width/2))
	b.WriteString(`" y="`)
	b.WriteString(formatLength(c.y + c.height/2))
	b.WriteString(`" text-anchor="middle" dominant-baseline="middle" font-family="`)
	b.WriteString(labelFontFamily)
	b.WriteString(`" font-size="`)
	b.WriteString(labelFontSize)
	b.WriteString(`" fill="`)
	b.WriteString(labelFill)
	b.WriteString(`">`)
	b.WriteString(html.EscapeString(text))
	b.WriteString(`</text>`)
	return b.String()
}

// parseLength reads a plain or px-suffixed finite number. Anything else counts as 0.
func parseLength(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func formatLength(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
