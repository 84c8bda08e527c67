package main

import (
	"bytes"
	"context"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alnah/go-mmd2svg"
)

// ---------------------------------------------------------------------------
// Test Infrastructure - Fake renderer and environment
// ---------------------------------------------------------------------------

// fakeRenderer echoes the diagram source inside an SVG, or returns the SVG
// produced by render when set.
type fakeRenderer struct {
	render func(diagram string) (string, error)
	calls  atomic.Int32
}

func (r *fakeRenderer) Render(ctx context.Context, req mmd2svg.RenderRequest) (string, error) {
	r.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.render != nil {
		return r.render(req.Diagram)
	}
	return `<svg xmlns="http://www.w3.org/2000/svg"><desc>` + html.EscapeString(req.Diagram) + `</desc></svg>`, nil
}

func (r *fakeRenderer) Close() error { return nil }

// testEnv is an Environment with captured output and a private environment.
type testEnv struct {
	*Environment
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	vars   map[string]string
}

// newTestEnv returns an environment whose renderer is r and whose render
// cache lives in a temp dir.
func newTestEnv(t *testing.T, r mmd2svg.Renderer) *testEnv {
	t.Helper()

	te := &testEnv{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		vars:   map[string]string{"MMD2SVG_CACHE_DIR": t.TempDir()},
	}
	te.Environment = &Environment{
		Stdout: te.stdout,
		Stderr: te.stderr,
		Getenv: func(key string) string { return te.vars[key] },
		Environ: func() []string {
			var out []string
			for k, v := range te.vars {
				out = append(out, k+"="+v)
			}
			return out
		},
		NewRenderer: func(*settings) (mmd2svg.Renderer, error) { return r, nil },
	}
	return te
}

// writeDoc creates name in a fresh temp dir and returns its path.
func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// readFile returns the content of path.
func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// filesWithSuffix lists the names in dir ending with suffix.
func filesWithSuffix(t *testing.T, dir, suffix string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	return names
}

const twoBlocks = "# Notes\n\n" +
	"```mermaid\ngraph TD\n  a0-->b0\n```\n\n" +
	"Between.\n\n" +
	"```mermaid\nsequenceDiagram\n  A->>B: hi\n```\n"
