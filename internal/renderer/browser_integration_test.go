//go:build integration

package renderer

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// newIntegrationBrowser needs Chrome (or ROD_BROWSER_BIN) and a mermaid.js
// named by MMD2SVG_MERMAID_JS.
func newIntegrationBrowser(t *testing.T) *Browser {
	t.Helper()

	js := os.Getenv("MMD2SVG_MERMAID_JS")
	if js == "" {
		t.Skip("MMD2SVG_MERMAID_JS not set")
	}
	b, err := NewBrowser(BrowserOptions{MermaidJS: js, Timeout: 60 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBrowser_RenderIntegration(t *testing.T) {
	b := newIntegrationBrowser(t)

	for _, src := range []string{"graph TD\n  A-->B", "sequenceDiagram\n  A->>B: hi"} {
		svg, err := b.Render(context.Background(), NewRequest(src, nil))
		if err != nil {
			t.Fatalf("Render(%q) unexpected error: %v", src, err)
		}
		if !strings.HasPrefix(strings.TrimSpace(svg), "<svg") {
			t.Errorf("Render(%q) = %.60q..., want SVG markup", src, svg)
		}
	}
}

func TestBrowser_SyntaxErrorIntegration(t *testing.T) {
	b := newIntegrationBrowser(t)

	_, err := b.Render(context.Background(), NewRequest("graph TD\n  A-->", nil))
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("Render() error = %v, want ErrFailed", err)
	}

	// The page survives a syntax error.
	if _, err := b.Render(context.Background(), NewRequest("graph TD\n  A-->B", nil)); err != nil {
		t.Errorf("Render() after syntax error: %v", err)
	}
}
