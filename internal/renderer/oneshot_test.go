package renderer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newHelperOneShot(t *testing.T, mode string, timeout time.Duration) *OneShot {
	t.Helper()

	t.Setenv(helperEnv, "mmdc")
	t.Setenv(helperModeEnv, mode)

	o, err := NewOneShot(OneShotOptions{
		Path:    helperCommand(t),
		Timeout: timeout,
		TempDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewOneShot() unexpected error: %v", err)
	}
	return o
}

// ---------------------------------------------------------------------------
// TestOneShot - Process per request
// ---------------------------------------------------------------------------

func TestNewOneShot_RequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewOneShot(OneShotOptions{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("NewOneShot() error = %v, want ErrUnavailable", err)
	}
}

func TestOneShot_Render(t *testing.T) {
	o := newHelperOneShot(t, "ok", 10*time.Second)

	svg, err := o.Render(context.Background(), NewRequest("graph TD\nA-->B", nil))
	if err != nil {
		t.Fatalf("Render() unexpected error: %v", err)
	}
	if !strings.Contains(svg, "A--&gt;B") {
		t.Errorf("Render() = %q, want the escaped diagram", svg)
	}
	if !strings.Contains(svg, `data-keys="4"`) {
		t.Errorf("Render() = %q, want the default config (4 sections) passed", svg)
	}
	if !strings.Contains(svg, `data-flag="true"`) {
		t.Errorf("Render() = %q, want %s passed", svg, disableHTMLLabelsFlag)
	}
}

func TestOneShot_CustomConfig(t *testing.T) {
	o := newHelperOneShot(t, "ok", 10*time.Second)

	svg, err := o.Render(context.Background(), NewRequest("graph TD", map[string]any{"theme": "dark"}))
	if err != nil {
		t.Fatalf("Render() unexpected error: %v", err)
	}
	if !strings.Contains(svg, `data-keys="1"`) {
		t.Errorf("Render() = %q, want the request config passed as is", svg)
	}
}

func TestOneShot_RetriesWithoutUnknownFlag(t *testing.T) {
	o := newHelperOneShot(t, "noflag", 10*time.Second)

	for i := 0; i < 2; i++ {
		svg, err := o.Render(context.Background(), NewRequest("graph TD", nil))
		if err != nil {
			t.Fatalf("Render() #%d unexpected error: %v", i, err)
		}
		if !strings.Contains(svg, `data-flag="false"`) {
			t.Errorf("Render() #%d = %q, want the flag dropped", i, svg)
		}
	}
	if !o.noLabelFlag.Load() {
		t.Error("renderer did not remember that the flag is unsupported")
	}
}

func TestOneShot_RenderFailed(t *testing.T) {
	o := newHelperOneShot(t, "fail", 10*time.Second)

	_, err := o.Render(context.Background(), NewRequest("graph TD\n!!", nil))
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("Render() error = %v, want ErrFailed", err)
	}
	if !strings.Contains(err.Error(), "Parse error on line 1") {
		t.Errorf("error = %q, want the renderer's message", err)
	}
}

func TestOneShot_NoOutput(t *testing.T) {
	o := newHelperOneShot(t, "nooutput", 10*time.Second)

	_, err := o.Render(context.Background(), NewRequest("graph TD", nil))
	if !errors.Is(err, ErrFailed) {
		t.Errorf("Render() error = %v, want ErrFailed", err)
	}
}

func TestOneShot_Timeout(t *testing.T) {
	o := newHelperOneShot(t, "hang", 300*time.Millisecond)

	start := time.Now()
	_, err := o.Render(context.Background(), NewRequest("graph TD", nil))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Render() error = %v, want ErrTimeout", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Render() took %v after a 300ms timeout", elapsed)
	}
}

func TestOneShot_CleansUpWorkDirectory(t *testing.T) {
	o := newHelperOneShot(t, "ok", 10*time.Second)

	if _, err := o.Render(context.Background(), NewRequest("graph TD", nil)); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(o.opts.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir holds %d entries after Render", len(entries))
	}
}

func TestOneShot_Errors(t *testing.T) {
	t.Parallel()

	o, err := NewOneShot(OneShotOptions{Path: filepath.Join(t.TempDir(), "missing-mmdc")})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.Render(context.Background(), NewRequest("  ", nil)); !errors.Is(err, ErrEmptyDiagram) {
		t.Errorf("Render(empty) error = %v, want ErrEmptyDiagram", err)
	}
	if _, err := o.Render(context.Background(), NewRequest("graph TD", nil)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Render(missing binary) error = %v, want ErrUnavailable", err)
	}

	_ = o.Close()
	if _, err := o.Render(context.Background(), NewRequest("graph TD", nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Render(closed) error = %v, want ErrClosed", err)
	}
}

func TestLimitedBuffer(t *testing.T) {
	t.Parallel()

	b := limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	if n != 6 || err != nil {
		t.Errorf("Write() = (%d, %v), want (6, nil)", n, err)
	}
	_, _ = b.Write([]byte("gh"))
	if b.String() != "abcd" {
		t.Errorf("String() = %q, want %q", b.String(), "abcd")
	}
}
