package mmd2svg

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-mmd2svg/internal/document"
	"github.com/alnah/go-mmd2svg/internal/preview"
)

// Preview returns a standalone HTML page of the document. Unrendered
// diagram blocks are rendered and sanitized in memory and shown inline; a
// block that fails to render is shown with its error and source. Rendered
// markers display their SVG through file:// URLs. Neither the document nor
// the artifact store is touched.
func (p *Pipeline) Preview(ctx context.Context, doc Document) (string, error) {
	t, err := p.target(doc)
	if err != nil {
		return "", p.fail(OpPreview, err)
	}

	blocks := document.Scan(doc.Text, t.kind)
	figures := make(map[int]preview.Figure, len(blocks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, block := range blocks {
		g.Go(func() error {
			svg, err := p.renderSVG(gctx, block.Text)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			figures[block.Index] = preview.Figure{SVG: svg, Err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", p.fail(OpPreview, err)
	}

	out, err := p.builder.Build(ctx, preview.Page{
		Title:   filepath.Base(t.path),
		Text:    doc.Text,
		Kind:    t.kind,
		Dir:     t.dir,
		Figures: figures,
	})
	if err != nil {
		return "", p.fail(OpPreview, err)
	}
	return out, nil
}
