// Package hints provides actionable error hints for common failure scenarios.
// Hints are formatted consistently as "\n  hint: <text>" for appending to error messages.
package hints

import (
	"os"
	"strconv"
	"strings"

	"github.com/alnah/go-mmd2svg/internal/fileutil"
)

// IsInContainer detects if running inside a Docker container or similar.
// Checks for /.dockerenv file which Docker creates automatically.
var IsInContainer = func() bool {
	return fileutil.FileExists("/.dockerenv")
}

// inCI reports whether a common CI environment variable is set.
func inCI() bool {
	return os.Getenv("CI") != "" ||
		os.Getenv("GITHUB_ACTIONS") != "" ||
		os.Getenv("GITLAB_CI") != "" ||
		os.Getenv("JENKINS_URL") != ""
}

// ForRendererUnavailable returns hints for a missing or unlaunchable renderer.
func ForRendererUnavailable() string {
	var hints []string

	if os.Getenv("MMD2SVG_RENDERER") == "" && os.Getenv("MERMAID_CLI_PATH") == "" {
		hints = append(hints, "install mmdc with 'npm install -g @mermaid-js/mermaid-cli'")
		hints = append(hints, "or set MMD2SVG_RENDERER to its path")
	} else {
		hints = append(hints, "check that MMD2SVG_RENDERER points to an executable")
	}

	return formatHints(hints)
}

// ForBrowserConnect returns hints for browser renderer launch errors.
// Detects CI/Docker environment and suggests relevant environment variables.
func ForBrowserConnect() string {
	var hints []string

	// mmdc drives Chromium too, so the sandbox hint applies to every mode.
	if (inCI() || IsInContainer()) && os.Getenv("ROD_NO_SANDBOX") != "1" {
		hints = append(hints, "set ROD_NO_SANDBOX=1 for Docker/CI")
	}

	if os.Getenv("ROD_BROWSER_BIN") == "" {
		hints = append(hints, "set ROD_BROWSER_BIN to use custom Chrome")
	}

	return formatHints(hints)
}

// ForMermaidJS explains how to point browser mode at mermaid.js.
func ForMermaidJS() string {
	return format("browser mode needs mermaid.js: use --mermaid-js or MMD2SVG_MERMAID_JS with a file path or URL")
}

// ForTimeout returns a hint about increasing timeout for slow renders.
func ForTimeout() string {
	return format("for large diagrams, use --timeout flag or MMD2SVG_TIMEOUT")
}

// ForConfigNotFound returns hints for config file not found errors.
// Suggests --config flag and creating a config in ~/.config/go-mmd2svg/.
func ForConfigNotFound(searchedPaths []string) string {
	hint := "use --config /path/to/file.yaml"

	for _, p := range searchedPaths {
		if strings.Contains(p, "go-mmd2svg") {
			hint += " or create " + p
			break
		}
	}

	return format(hint)
}

// ForPathTraversal explains why a marker path was refused.
func ForPathTraversal() string {
	return format("marker paths must be relative and stay inside the document's directory")
}

// ForSanitizeRejected explains why renderer output was refused.
func ForSanitizeRejected() string {
	return format("the renderer produced unsafe or malformed SVG; check the diagram for embedded HTML")
}

// ForBlockIndex lists the valid block numbers.
func ForBlockIndex(count int) string {
	if count == 0 {
		return format("the document has no ```mermaid blocks; run 'mmd2svg list' to inspect it")
	}
	return format("run 'mmd2svg list' to see the " + pluralBlocks(count))
}

// ForMarkerLine lists the 1-based lines holding rendered diagram markers.
func ForMarkerLine(lines []int) string {
	switch len(lines) {
	case 0:
		return format("the document has no rendered diagrams")
	case 1:
		return format("the rendered diagram marker is on line " + strconv.Itoa(lines[0]))
	}
	parts := make([]string, len(lines))
	for i, n := range lines {
		parts[i] = strconv.Itoa(n)
	}
	return format("rendered diagram markers are on lines " + strings.Join(parts, ", "))
}

func pluralBlocks(n int) string {
	if n == 1 {
		return "1 block"
	}
	return strconv.Itoa(n) + " blocks"
}

// format creates a single hint string with consistent formatting.
func format(hint string) string {
	if hint == "" {
		return ""
	}
	return "\n  hint: " + hint
}

// formatHints joins multiple hints with consistent formatting.
func formatHints(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	return format(strings.Join(hints, "; "))
}
