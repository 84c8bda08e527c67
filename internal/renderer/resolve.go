package renderer

import (
	"fmt"
	"os/exec"

	"github.com/alnah/go-mmd2svg/internal/fileutil"
)

// Environment variables naming the renderer executable, in precedence order.
const (
	EnvRenderer       = "MMD2SVG_RENDERER"
	EnvLegacyRenderer = "MERMAID_CLI_PATH"
)

// DefaultCommand is looked up on PATH when nothing else names a renderer.
const DefaultCommand = "mmdc"

// Resolve picks the renderer executable: explicit, then $MMD2SVG_RENDERER,
// then $MERMAID_CLI_PATH, then mmdc on PATH. A value containing a path
// separator must name an existing file; a bare name is looked up on PATH.
// getenv is usually os.Getenv.
func Resolve(explicit string, getenv func(string) string) (string, error) {
	candidates := []struct{ source, value string }{
		{"configured renderer", explicit},
		{EnvRenderer, getenv(EnvRenderer)},
		{EnvLegacyRenderer, getenv(EnvLegacyRenderer)},
	}
	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		return resolveOne(c.source, c.value)
	}

	path, err := exec.LookPath(DefaultCommand)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, DefaultCommand)
	}
	return path, nil
}

func resolveOne(source, value string) (string, error) {
	if fileutil.IsFilePath(value) {
		if !fileutil.FileExists(value) {
			return "", fmt.Errorf("%w: %s points to %q, which is not a file", ErrUnavailable, source, value)
		}
		return value, nil
	}
	path, err := exec.LookPath(value)
	if err != nil {
		return "", fmt.Errorf("%w: %s names %q, which is not in PATH", ErrUnavailable, source, value)
	}
	return path, nil
}

// ResolveServer picks the executable for persistent mode: explicit, then
// $MMD2SVG_RENDERER. There is no PATH fallback and $MERMAID_CLI_PATH is not
// consulted, because mmdc does not speak the JSON-lines protocol.
func ResolveServer(explicit string, getenv func(string) string) (string, error) {
	for _, c := range []struct{ source, value string }{
		{"configured renderer", explicit},
		{EnvRenderer, getenv(EnvRenderer)},
	} {
		if c.value != "" {
			return resolveOne(c.source, c.value)
		}
	}
	return "", fmt.Errorf("%w: persistent mode needs a renderer server; set renderer.path or %s (mmdc cannot serve it)",
		ErrUnavailable, EnvRenderer)
}
