package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alnah/go-mmd2svg"
	"github.com/alnah/go-mmd2svg/internal/config"
	"github.com/alnah/go-mmd2svg/internal/renderer"
)

// envPrefix marks the variables this CLI owns.
const envPrefix = "MMD2SVG_"

// EnvMermaidConfig names a JSON file merged over the Mermaid configuration.
// It carries no MMD2SVG_ prefix so the same file serves other Mermaid tools.
const EnvMermaidConfig = "MERMAID_CONFIG"

// ErrMermaidConfig is returned when the MERMAID_CONFIG file cannot be used.
var ErrMermaidConfig = fmt.Errorf("invalid mermaid config")

// envConfig holds configuration from environment variables.
// Provides CI/CD-friendly overrides without requiring YAML files.
type envConfig struct {
	ConfigPath  string        // MMD2SVG_CONFIG: config file name or path
	Renderer    string        // MMD2SVG_RENDERER: renderer executable
	Mode        string        // MMD2SVG_MODE: oneshot, persistent, browser
	Timeout     time.Duration // MMD2SVG_TIMEOUT: per-render timeout
	Workers     int           // MMD2SVG_WORKERS: concurrent renders
	CacheDir    string        // MMD2SVG_CACHE_DIR: render cache location
	MermaidJS   string        // MMD2SVG_MERMAID_JS: mermaid.js for browser mode
	ArtifactDir string        // MMD2SVG_ARTIFACT_DIR: artifact directory
	MermaidFile string        // MERMAID_CONFIG: JSON render config
}

// knownEnvVars lists valid MMD2SVG_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	"MMD2SVG_CONFIG":       true,
	renderer.EnvRenderer:   true,
	"MMD2SVG_MODE":         true,
	mmd2svg.EnvTimeout:     true,
	"MMD2SVG_WORKERS":      true,
	"MMD2SVG_CACHE_DIR":    true,
	"MMD2SVG_MERMAID_JS":   true,
	"MMD2SVG_ARTIFACT_DIR": true,
	"MMD2SVG_CONTAINER":    true, // read by doctor
}

// loadEnvConfig reads configuration from environment variables.
// Malformed timeout and worker values are ignored.
func loadEnvConfig(getenv func(string) string) *envConfig {
	cfg := &envConfig{
		ConfigPath:  getenv("MMD2SVG_CONFIG"),
		Renderer:    getenv(renderer.EnvRenderer),
		Mode:        strings.ToLower(getenv("MMD2SVG_MODE")),
		CacheDir:    getenv("MMD2SVG_CACHE_DIR"),
		MermaidJS:   getenv("MMD2SVG_MERMAID_JS"),
		ArtifactDir: getenv("MMD2SVG_ARTIFACT_DIR"),
		MermaidFile: getenv(EnvMermaidConfig),
	}

	if timeout := getenv(mmd2svg.EnvTimeout); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}

	if workers := getenv("MMD2SVG_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			cfg.Workers = w
		}
	}

	return cfg
}

// warnUnknownEnvVars logs warnings for unrecognized MMD2SVG_* variables.
// Helps catch typos like MMD2SVG_TIMOUT.
func warnUnknownEnvVars(w io.Writer, environ []string) {
	for _, env := range environ {
		if strings.HasPrefix(env, envPrefix) {
			name := strings.SplitN(env, "=", 2)[0]
			if !knownEnvVars[name] {
				fmt.Fprintf(w, "warning: unknown environment variable %s (typo?)\n", name)
			}
		}
	}
}

// applyEnvConfig overrides config file values with the environment.
// Flags are applied afterwards, giving: flags > env > config file > defaults.
func applyEnvConfig(env *envConfig, cfg *config.Config) error {
	if env.Renderer != "" {
		cfg.Renderer.Path = env.Renderer
	}
	if env.Mode != "" {
		cfg.Renderer.Mode = env.Mode
	}
	if env.Timeout > 0 {
		cfg.Renderer.Timeout = env.Timeout.String()
	}
	if env.Workers > 0 {
		cfg.Renderer.Workers = env.Workers
	}
	if env.MermaidJS != "" {
		cfg.Renderer.MermaidJS = env.MermaidJS
	}
	if env.CacheDir != "" {
		cfg.Cache.Dir = env.CacheDir
	}
	if env.ArtifactDir != "" {
		cfg.Artifacts.Dir = env.ArtifactDir
	}

	if env.MermaidFile != "" {
		m, err := readMermaidConfig(env.MermaidFile)
		if err != nil {
			return err
		}
		cfg.Mermaid = renderer.MergeConfig(cfg.Mermaid, m)
	}
	return nil
}

// readMermaidConfig loads a Mermaid configuration object from a JSON file.
func readMermaidConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is user-provided
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMermaidConfig, EnvMermaidConfig, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMermaidConfig, path, err)
	}
	return m, nil
}
