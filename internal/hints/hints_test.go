package hints

// Notes:
// - ForBrowserConnect and ForRendererUnavailable tests cannot use t.Parallel()
//   because they:
//   1. Use t.Setenv() which modifies process environment
//   2. Modify the package-level IsInContainer variable
// These are acceptable gaps: we test observable behavior through environment manipulation.

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// TestForRendererUnavailable - Install and override suggestions
// ---------------------------------------------------------------------------

func TestForRendererUnavailable_NothingConfigured(t *testing.T) {
	t.Setenv("MMD2SVG_RENDERER", "")
	t.Setenv("MERMAID_CLI_PATH", "")

	hint := ForRendererUnavailable()

	if !strings.Contains(hint, "npm install -g @mermaid-js/mermaid-cli") {
		t.Errorf("expected install suggestion, got %q", hint)
	}
	if !strings.Contains(hint, "MMD2SVG_RENDERER") {
		t.Errorf("expected MMD2SVG_RENDERER suggestion, got %q", hint)
	}
}

func TestForRendererUnavailable_OverrideSet(t *testing.T) {
	t.Setenv("MMD2SVG_RENDERER", "/opt/bin/mmdc")
	t.Setenv("MERMAID_CLI_PATH", "")

	hint := ForRendererUnavailable()

	if strings.Contains(hint, "npm install") {
		t.Errorf("should not suggest install when override is set, got %q", hint)
	}
	if !strings.Contains(hint, "points to an executable") {
		t.Errorf("expected override check suggestion, got %q", hint)
	}
}

// ---------------------------------------------------------------------------
// TestForBrowserConnect - Environment detection
// ---------------------------------------------------------------------------

func TestForBrowserConnect_InCI(t *testing.T) {
	orig := IsInContainer
	defer func() { IsInContainer = orig }()
	IsInContainer = func() bool { return false }

	t.Setenv("CI", "true")
	t.Setenv("ROD_NO_SANDBOX", "")
	t.Setenv("ROD_BROWSER_BIN", "")

	hint := ForBrowserConnect()

	if !strings.Contains(hint, "hint:") {
		t.Error("expected hint prefix")
	}
	if !strings.Contains(hint, "ROD_NO_SANDBOX") {
		t.Error("expected ROD_NO_SANDBOX suggestion in CI")
	}
	if !strings.Contains(hint, "ROD_BROWSER_BIN") {
		t.Error("expected ROD_BROWSER_BIN suggestion")
	}
}

func TestForBrowserConnect_InDocker(t *testing.T) {
	orig := IsInContainer
	defer func() { IsInContainer = orig }()
	IsInContainer = func() bool { return true }

	t.Setenv("CI", "")
	t.Setenv("GITHUB_ACTIONS", "")
	t.Setenv("ROD_NO_SANDBOX", "")
	t.Setenv("ROD_BROWSER_BIN", "")

	hint := ForBrowserConnect()

	if !strings.Contains(hint, "ROD_NO_SANDBOX") {
		t.Error("expected ROD_NO_SANDBOX suggestion in Docker")
	}
}

func TestForBrowserConnect_AllConfigured(t *testing.T) {
	orig := IsInContainer
	defer func() { IsInContainer = orig }()
	IsInContainer = func() bool { return true }

	t.Setenv("CI", "true")
	t.Setenv("ROD_NO_SANDBOX", "1")
	t.Setenv("ROD_BROWSER_BIN", "/usr/bin/chrome")

	if hint := ForBrowserConnect(); hint != "" {
		t.Errorf("expected empty hint when all configured, got %q", hint)
	}
}

// ---------------------------------------------------------------------------
// TestForConfigNotFound - Config search hints
// ---------------------------------------------------------------------------

func TestForConfigNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		paths    []string
		contains string
	}{
		{
			name:     "empty paths",
			paths:    []string{},
			contains: "--config",
		},
		{
			name:     "with user config path",
			paths:    []string{"team.yaml", "/home/u/.config/go-mmd2svg/team.yaml"},
			contains: "create /home/u/.config/go-mmd2svg/team.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hint := ForConfigNotFound(tt.paths)
			if !strings.Contains(hint, "hint:") {
				t.Error("expected hint prefix")
			}
			if !strings.Contains(hint, tt.contains) {
				t.Errorf("expected hint to contain %q, got %q", tt.contains, hint)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestForBlockIndex - Block count wording
// ---------------------------------------------------------------------------

func TestForBlockIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count    int
		contains string
	}{
		{0, "no ```mermaid blocks"},
		{1, "the 1 block"},
		{12, "the 12 blocks"},
	}

	for _, tt := range tests {
		if hint := ForBlockIndex(tt.count); !strings.Contains(hint, tt.contains) {
			t.Errorf("ForBlockIndex(%d) = %q, want containing %q", tt.count, hint, tt.contains)
		}
	}
}

// ---------------------------------------------------------------------------
// TestForMarkerLine - Marker line suggestions
// ---------------------------------------------------------------------------

func TestForMarkerLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		lines []int
		want  string
	}{
		{"none", nil, "no rendered diagrams"},
		{"one", []int{4}, "on line 4"},
		{"several", []int{4, 12, 30}, "on lines 4, 12, 30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ForMarkerLine(tt.lines); !strings.Contains(got, tt.want) {
				t.Errorf("ForMarkerLine(%v) = %q, want it to contain %q", tt.lines, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestFormat_Consistency - Shared prefix
// ---------------------------------------------------------------------------

func TestFormat_Consistency(t *testing.T) {
	t.Parallel()

	hints := []string{
		ForTimeout(),
		ForMermaidJS(),
		ForPathTraversal(),
		ForSanitizeRejected(),
		ForBlockIndex(3),
	}

	for _, h := range hints {
		if !strings.HasPrefix(h, "\n  hint: ") {
			t.Errorf("hint format inconsistent: %q", h)
		}
	}
}

func TestFormat_Empty(t *testing.T) {
	t.Parallel()

	if got := format(""); got != "" {
		t.Errorf("format(\"\") = %q, want empty", got)
	}
	if got := formatHints(nil); got != "" {
		t.Errorf("formatHints(nil) = %q, want empty", got)
	}
}
