package renderer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------------------------------------------------------------------------
// TestResolve - Renderer discovery
// ---------------------------------------------------------------------------

func TestResolve_Precedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	explicit := writeExecutable(t, dir, "explicit")
	primary := writeExecutable(t, dir, "primary")
	legacy := writeExecutable(t, dir, "legacy")

	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		want     string
	}{
		{
			name:     "explicit wins",
			explicit: explicit,
			env:      map[string]string{EnvRenderer: primary, EnvLegacyRenderer: legacy},
			want:     explicit,
		},
		{
			name: "primary variable before legacy",
			env:  map[string]string{EnvRenderer: primary, EnvLegacyRenderer: legacy},
			want: primary,
		},
		{
			name: "legacy variable",
			env:  map[string]string{EnvLegacyRenderer: legacy},
			want: legacy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Resolve(tt.explicit, envMap(tt.env))
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_MissingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fallback := writeExecutable(t, dir, "fallback")

	// A named but missing renderer is an error, not a reason to fall through.
	_, err := Resolve(filepath.Join(dir, "missing"), envMap(map[string]string{EnvRenderer: fallback}))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrUnavailable", err)
	}

	_, err = Resolve("", envMap(map[string]string{EnvRenderer: dir}))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve(directory) error = %v, want ErrUnavailable", err)
	}
}

func TestResolve_PathLookup(t *testing.T) {
	dir := t.TempDir()
	want := writeExecutable(t, dir, DefaultCommand)
	custom := writeExecutable(t, dir, "mermaid-render")
	t.Setenv("PATH", dir)

	got, err := Resolve("", envMap(nil))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}

	got, err = Resolve("mermaid-render", envMap(nil))
	if err != nil || got != custom {
		t.Errorf("Resolve(bare name) = (%q, %v), want %q", got, err, custom)
	}

	if _, err := Resolve("not-installed", envMap(nil)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve(unknown name) error = %v, want ErrUnavailable", err)
	}
}

func TestResolve_NothingOnPath(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	if _, err := Resolve("", envMap(nil)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrUnavailable", err)
	}
}

func TestResolveServer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	explicit := writeExecutable(t, dir, "explicit")
	server := writeExecutable(t, dir, "server")
	legacy := writeExecutable(t, dir, "mmdc")

	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		want     string
		wantErr  bool
	}{
		{"explicit wins", explicit, map[string]string{EnvRenderer: server}, explicit, false},
		{"env override", "", map[string]string{EnvRenderer: server}, server, false},
		{"legacy mmdc variable ignored", "", map[string]string{EnvLegacyRenderer: legacy}, "", true},
		{"nothing configured", "", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ResolveServer(tt.explicit, envMap(tt.env))
			if tt.wantErr {
				if !errors.Is(err, ErrUnavailable) {
					t.Errorf("ResolveServer() error = %v, want ErrUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveServer() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveServer() = %q, want %q", got, tt.want)
			}
		})
	}
}
