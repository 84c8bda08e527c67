// Package preview builds a standalone HTML page from a Markdown document,
// with diagrams shown as inline SVG.
//
// Stages:
//   - each Mermaid block that has a figure is swapped for a placeholder
//     paragraph made of Private Use Area characters
//   - Markdown to HTML conversion via goldmark, code highlighted by chroma
//   - relative image and link paths rewritten to file:// URLs
//   - placeholders replaced by <figure> elements holding the sanitized SVG
//   - the body, stylesheet and title poured into the page template
//
// The caller supplies sanitized markup; this package never renders diagrams
// and never touches the document on disk.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strconv"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/alnah/go-mmd2svg/internal/assets"
	"github.com/alnah/go-mmd2svg/internal/document"
)

// Sentinel errors for preview operations.
var (
	ErrHTMLConversion = errors.New("HTML conversion failed")
	ErrTemplate       = errors.New("preview template failed")
)

// DefaultHighlightStyle is the chroma style used for code blocks.
const DefaultHighlightStyle = "github"

// Figure is what a diagram block shows in the preview.
type Figure struct {
	SVG string // sanitized SVG markup
	Err error  // render failure, shown instead of the diagram when set
}

// Page is one preview to build.
type Page struct {
	Title   string
	Text    string        // document text
	Kind    document.Kind // Markdown or Diagram
	Dir     string        // document directory; empty disables path rewriting
	Figures map[int]Figure
}

// Options configures a Builder.
type Options struct {
	Loader    assets.AssetLoader // nil uses the embedded assets
	Style     string             // stylesheet name; assets.DefaultStyleName when empty
	Highlight string             // chroma style; DefaultHighlightStyle when empty
}

// Builder turns documents into preview pages. It is safe for concurrent use.
type Builder struct {
	md   goldmark.Markdown
	tmpl *template.Template
	css  string
}

// NewBuilder loads the stylesheet and page template and prepares goldmark.
func NewBuilder(opts Options) (*Builder, error) {
	loader := opts.Loader
	if loader == nil {
		loader = assets.NewEmbeddedLoader()
	}
	style := opts.Style
	if style == "" {
		style = assets.DefaultStyleName
	}
	highlight := opts.Highlight
	if highlight == "" {
		highlight = DefaultHighlightStyle
	}

	css, err := loader.LoadStyle(style)
	if err != nil {
		return nil, err
	}
	page, err := loader.LoadTemplate(assets.DefaultTemplateName)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("page").Parse(page)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing page template: %v", ErrTemplate, err)
	}

	codeCSS, err := highlightCSS(highlight)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle(highlight),
				highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			),
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		// Raw HTML stays disabled: markers become "raw HTML omitted" comments
		// and figures are spliced in after conversion.
	)

	return &Builder{md: md, tmpl: tmpl, css: css + "\n" + codeCSS}, nil
}

// highlightCSS returns the stylesheet for chroma's class-based output.
func highlightCSS(name string) (string, error) {
	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if err := formatter.WriteCSS(&buf, styles.Get(name)); err != nil {
		return "", fmt.Errorf("%w: highlight style %q: %v", ErrTemplate, name, err)
	}
	return buf.String(), nil
}

// Build returns the complete HTML page for p.
func (b *Builder) Build(ctx context.Context, p Page) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var body string
	if p.Kind == document.Diagram {
		body = diagramBody(p)
	} else {
		md, sources, err := withPlaceholders(p.Text, p.Figures)
		if err != nil {
			return "", err
		}
		fragment, err := b.toHTML(ctx, md)
		if err != nil {
			return "", err
		}
		fragment, err = RewriteRelativePaths(fragment, p.Dir)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrHTMLConversion, err)
		}
		body = replacePlaceholders(fragment, p.Figures, sources)
	}

	title := p.Title
	if title == "" {
		title = "Preview"
	}

	var out bytes.Buffer
	err := b.tmpl.Execute(&out, struct {
		Title string
		Style template.CSS
		Body  template.HTML
	}{
		Title: title,
		Style: template.CSS(sanitizeCSS(b.css)), // #nosec G203 -- trusted asset, </ escaped
		Body:  template.HTML(body),              // #nosec G203 -- goldmark output without raw HTML plus sanitized SVG
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	return out.String(), nil
}

// toHTML converts Markdown to an HTML fragment. Goldmark has no context
// support, so conversion runs aside and the caller stops waiting on cancel.
func (b *Builder) toHTML(ctx context.Context, content string) (string, error) {
	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		if err := b.md.Convert([]byte(content), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrHTMLConversion, err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.html, r.err
	}
}

// diagramBody shows a whole-diagram document as its single figure.
func diagramBody(p Page) string {
	fig, ok := p.Figures[0]
	if !ok {
		return sourceHTML(p.Text)
	}
	return figureHTML(0, fig, p.Text)
}

// withPlaceholders swaps each block that has a figure for a placeholder
// paragraph and returns the sources of the swapped blocks by index.
func withPlaceholders(text string, figures map[int]Figure) (string, map[int]string, error) {
	if len(figures) == 0 {
		return text, nil, nil
	}

	sources := make(map[int]string, len(figures))
	var edits []document.Edit
	for _, b := range document.Scan(text, document.Markdown) {
		if _, ok := figures[b.Index]; !ok {
			continue
		}
		sources[b.Index] = b.Text
		edits = append(edits, document.Edit{
			Span:    b.Span,
			NewText: "\n" + placeholder(b.Index) + "\n\n",
		})
	}
	out, err := document.Apply(text, edits...)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrHTMLConversion, err)
	}
	return out, sources, nil
}

func placeholder(index int) string {
	return FigureStartPlaceholder + strconv.Itoa(index) + FigureEndPlaceholder
}
