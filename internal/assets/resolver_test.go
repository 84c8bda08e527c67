package assets

import (
	"errors"
	"strings"
	"testing"
)

func TestNewAssetResolver(t *testing.T) {
	t.Parallel()

	r, err := NewAssetResolver("")
	if err != nil {
		t.Fatalf("NewAssetResolver(\"\") unexpected error: %v", err)
	}
	if r.HasCustomLoader() {
		t.Error("HasCustomLoader() = true without a custom path")
	}

	r, err = NewAssetResolver(t.TempDir())
	if err != nil {
		t.Fatalf("NewAssetResolver() unexpected error: %v", err)
	}
	if !r.HasCustomLoader() {
		t.Error("HasCustomLoader() = false with a custom path")
	}

	if _, err := NewAssetResolver("/nonexistent/mmd2svg-assets"); !errors.Is(err, ErrInvalidBasePath) {
		t.Errorf("NewAssetResolver(missing) error = %v, want ErrInvalidBasePath", err)
	}
}

func TestAssetResolver_CustomFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeAsset(t, dir, "styles", "default.css", "/* custom default */")

	r, err := NewAssetResolver(dir)
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.LoadStyle(DefaultStyleName)
	if err != nil || got != "/* custom default */" {
		t.Errorf("LoadStyle(default) = (%q, %v), want the custom file", got, err)
	}

	// Missing in the custom directory: embedded fallback.
	got, err = r.LoadStyle("dark")
	if err != nil || !strings.Contains(got, "figure.mermaid") {
		t.Errorf("LoadStyle(dark) = (%.40q, %v), want the embedded style", got, err)
	}
	got, err = r.LoadTemplate(DefaultTemplateName)
	if err != nil || !strings.Contains(got, "{{.Body}}") {
		t.Errorf("LoadTemplate(page) = (%.40q, %v), want the embedded template", got, err)
	}

	// Validation errors never fall back.
	if _, err := r.LoadStyle("../default"); !errors.Is(err, ErrInvalidAssetName) {
		t.Errorf("LoadStyle(../default) error = %v, want ErrInvalidAssetName", err)
	}
	if _, err := r.LoadStyle("nowhere"); !errors.Is(err, ErrStyleNotFound) {
		t.Errorf("LoadStyle(nowhere) error = %v, want ErrStyleNotFound", err)
	}
}
