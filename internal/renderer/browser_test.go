package renderer

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ---------------------------------------------------------------------------
// TestBrowser - Construction and lifecycle without Chrome
// ---------------------------------------------------------------------------

func TestNewBrowser_RequiresMermaidJS(t *testing.T) {
	t.Parallel()

	if _, err := NewBrowser(BrowserOptions{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("NewBrowser() error = %v, want ErrUnavailable", err)
	}
}

func TestBrowser_RenderAfterClose(t *testing.T) {
	t.Parallel()

	b, err := NewBrowser(BrowserOptions{MermaidJS: "/opt/mermaid/mermaid.min.js"})
	if err != nil {
		t.Fatal(err)
	}

	// Chrome was never started, so Close has nothing to release.
	if err := b.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if _, err := b.Render(context.Background(), NewRequest("graph TD", nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Render() after Close error = %v, want ErrClosed", err)
	}
}

func TestBrowser_EmptyDiagram(t *testing.T) {
	t.Parallel()

	b, err := NewBrowser(BrowserOptions{MermaidJS: "/opt/mermaid/mermaid.min.js"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	if _, err := b.Render(context.Background(), NewRequest(" ", nil)); !errors.Is(err, ErrEmptyDiagram) {
		t.Errorf("Render() error = %v, want ErrEmptyDiagram", err)
	}
}

func TestDomID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want string
	}{
		{"", "mmd"},
		{"3f2a-9c", "mmd3f2a9c"},
		{"a b<c>\"d", "mmdabcd"},
		{"élan", "mmdlan"},
	}
	for _, tt := range tests {
		if got := domID(tt.id); got != tt.want {
			t.Errorf("domID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestEvalMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *rod.EvalError
		want string
	}{
		{
			name: "exception description",
			err: &rod.EvalError{RuntimeExceptionDetails: &proto.RuntimeExceptionDetails{
				Text:      "Uncaught",
				Exception: &proto.RuntimeRemoteObject{Description: "Error: Parse error on line 1"},
			}},
			want: "Error: Parse error on line 1",
		},
		{
			name: "text only",
			err: &rod.EvalError{RuntimeExceptionDetails: &proto.RuntimeExceptionDetails{
				Text: "Uncaught (in promise)",
			}},
			want: "Uncaught (in promise)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := evalMessage(tt.err); got != tt.want {
				t.Errorf("evalMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
