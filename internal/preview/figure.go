package preview

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Figure placeholders use Unicode Private Use Area characters, which pass
// through goldmark unchanged and never occur in real documents.
const (
	FigureStartPlaceholder = "\uE000"
	FigureEndPlaceholder   = "\uE001"
)

// placeholderPattern matches a placeholder paragraph as goldmark emits it.
var placeholderPattern = regexp.MustCompile(`<p>\x{E000}(\d+)\x{E001}</p>`)

// replacePlaceholders swaps placeholder paragraphs for figures.
func replacePlaceholders(fragment string, figures map[int]Figure, sources map[int]string) string {
	return placeholderPattern.ReplaceAllStringFunc(fragment, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		index, err := strconv.Atoi(sub[1])
		if err != nil {
			return m
		}
		fig, ok := figures[index]
		if !ok {
			return m
		}
		return figureHTML(index, fig, sources[index])
	})
}

// figureHTML wraps sanitized SVG in a figure, or shows the render error
// followed by the diagram source.
func figureHTML(index int, fig Figure, source string) string {
	var b strings.Builder
	if fig.Err != nil {
		b.WriteString(`<figure class="mermaid-error" data-block="`)
		b.WriteString(strconv.Itoa(index))
		b.WriteString(`"><figcaption>`)
		b.WriteString(html.EscapeString(fig.Err.Error()))
		b.WriteString(`</figcaption>`)
		b.WriteString(sourceHTML(source))
		b.WriteString(`</figure>`)
		return b.String()
	}
	b.WriteString(`<figure class="mermaid" data-block="`)
	b.WriteString(strconv.Itoa(index))
	b.WriteString(`">`)
	b.WriteString(fig.SVG)
	b.WriteString(`</figure>`)
	return b.String()
}

// sourceHTML shows diagram source as an escaped code block.
func sourceHTML(source string) string {
	return `<pre><code class="language-mermaid">` + html.EscapeString(source) + `</code></pre>`
}

// sanitizeCSS escapes sequences that could close the <style> element early.
func sanitizeCSS(css string) string {
	return strings.ReplaceAll(css, "</", `<\/`)
}
