// Package config loads the mmd2svg CLI configuration file.
//
// The library itself is configured through functional options; this package
// only turns a YAML file into values the CLI feeds into those options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-mmd2svg/internal/fileutil"
	"github.com/alnah/go-mmd2svg/internal/yamlutil"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
	ErrFieldTooLong    = errors.New("field exceeds maximum length")
	ErrInvalidValue    = errors.New("invalid config value")
)

// UserConfigDirName is the directory under os.UserConfigDir searched for
// named configs.
const UserConfigDirName = "go-mmd2svg"

// Field limits.
const (
	MaxPathLength = 4096 // PATH_MAX on Linux
	MaxURLLength  = 2048 // Browser limit
	MaxArgLength  = 1024
	MaxNameLength = 255
	MaxArgs       = 32
	MaxWorkers    = 64
	MaxRestarts   = 100
)

// Renderer modes accepted in renderer.mode.
const (
	ModeOneShot    = "oneshot"
	ModePersistent = "persistent"
	ModeBrowser    = "browser"
)

// Config holds all configuration for the CLI.
type Config struct {
	Renderer  RendererConfig  `yaml:"renderer"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Cache     CacheConfig     `yaml:"cache"`
	Preview   PreviewConfig   `yaml:"preview"`

	// Mermaid is merged over the built-in render config and sent with every
	// render request.
	Mermaid map[string]any `yaml:"mermaid"`
}

// RendererConfig selects and tunes the rendering backend.
type RendererConfig struct {
	Mode          string   `yaml:"mode"`          // oneshot (default), persistent, browser
	Path          string   `yaml:"path"`          // Executable; empty = MMD2SVG_RENDERER or mmdc on PATH
	Args          []string `yaml:"args"`          // Extra arguments for the executable
	Timeout       string   `yaml:"timeout"`       // Per-render timeout, Go duration ("10s")
	Workers       int      `yaml:"workers"`       // Concurrent renders; 0 = auto
	MaxRestarts   int      `yaml:"maxRestarts"`   // Persistent mode restart budget
	RestartWindow string   `yaml:"restartWindow"` // Window for maxRestarts ("1m")
	MermaidJS     string   `yaml:"mermaidJS"`     // Browser mode: path or URL of mermaid.min.js
}

// ArtifactsConfig controls where rendered files are written.
type ArtifactsConfig struct {
	Dir string `yaml:"dir"` // Relative to the document; empty = next to it
}

// CacheConfig controls the on-disk render cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // Empty = os.UserCacheDir()/go-mmd2svg
}

// PreviewConfig controls HTML preview output.
type PreviewConfig struct {
	Style     string `yaml:"style"`     // Stylesheet name: default, dark, or one from assetPath
	AssetPath string `yaml:"assetPath"` // Directory with styles/ and templates/ overriding the built-ins
}

// TimeoutDuration parses Timeout. Zero means "use the library default".
// Validate has already rejected unparsable values.
func (r RendererConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(r.Timeout)
	return d
}

// RestartWindowDuration parses RestartWindow. Zero means "use the library default".
func (r RendererConfig) RestartWindowDuration() time.Duration {
	d, _ := time.ParseDuration(r.RestartWindow)
	return d
}

// Validate checks modes, durations and field lengths. Called automatically by
// LoadConfig, but available for callers who construct Config manually.
func (c *Config) Validate() error {
	r := c.Renderer

	switch strings.ToLower(r.Mode) {
	case "", ModeOneShot, ModePersistent, ModeBrowser:
	default:
		return fmt.Errorf("%w: renderer.mode %q (must be oneshot, persistent, or browser)", ErrInvalidValue, r.Mode)
	}

	if err := validateFieldLength("renderer.path", r.Path, MaxPathLength); err != nil {
		return err
	}
	if len(r.Args) > MaxArgs {
		return fmt.Errorf("%w: renderer.args has %d entries (max %d)", ErrInvalidValue, len(r.Args), MaxArgs)
	}
	for i, arg := range r.Args {
		if err := validateFieldLength(fmt.Sprintf("renderer.args[%d]", i), arg, MaxArgLength); err != nil {
			return err
		}
	}
	if err := validateDuration("renderer.timeout", r.Timeout); err != nil {
		return err
	}
	if err := validateDuration("renderer.restartWindow", r.RestartWindow); err != nil {
		return err
	}
	if r.Workers < 0 || r.Workers > MaxWorkers {
		return fmt.Errorf("%w: renderer.workers must be between 0 and %d, got %d", ErrInvalidValue, MaxWorkers, r.Workers)
	}
	if r.MaxRestarts < 0 || r.MaxRestarts > MaxRestarts {
		return fmt.Errorf("%w: renderer.maxRestarts must be between 0 and %d, got %d", ErrInvalidValue, MaxRestarts, r.MaxRestarts)
	}
	if err := validateFieldLength("renderer.mermaidJS", r.MermaidJS, MaxURLLength); err != nil {
		return err
	}

	if err := validateFieldLength("artifacts.dir", c.Artifacts.Dir, MaxPathLength); err != nil {
		return err
	}
	if err := validateArtifactDir(c.Artifacts.Dir); err != nil {
		return err
	}

	if err := validateFieldLength("cache.dir", c.Cache.Dir, MaxPathLength); err != nil {
		return err
	}
	if err := validateFieldLength("preview.style", c.Preview.Style, MaxNameLength); err != nil {
		return err
	}
	if err := validateFieldLength("preview.assetPath", c.Preview.AssetPath, MaxPathLength); err != nil {
		return err
	}

	return nil
}

// validateFieldLength checks if a field exceeds its maximum allowed length.
func validateFieldLength(fieldName, value string, maxLength int) error {
	if len(value) > maxLength {
		return fmt.Errorf("%w: %s (%d chars, max %d)", ErrFieldTooLong, fieldName, len(value), maxLength)
	}
	return nil
}

func validateDuration(fieldName, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidValue, fieldName, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidValue, fieldName, value)
	}
	return nil
}

// validateArtifactDir requires a relative directory that stays inside the
// document's directory.
func validateArtifactDir(dir string) error {
	if dir == "" {
		return nil
	}
	if strings.ContainsRune(dir, 0) || filepath.IsAbs(dir) {
		return fmt.Errorf("%w: artifacts.dir %q must be a relative path", ErrInvalidValue, dir)
	}
	clean := filepath.Clean(dir)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: artifacts.dir %q escapes the document directory", ErrInvalidValue, dir)
	}
	return nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Renderer: RendererConfig{Mode: ModeOneShot},
		Cache:    CacheConfig{Enabled: true},
	}
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Returns error if the file is not found (no silent fallback).
func LoadConfig(nameOrPath string) (*Config, error) {
	if nameOrPath == "" {
		return nil, ErrEmptyConfigName
	}

	var configPath string
	var err error

	if fileutil.IsFilePath(nameOrPath) {
		configPath = nameOrPath
	} else {
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- config path is user-provided
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yamlutil.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	if cfg.Mermaid != nil {
		if m, ok := yamlutil.JSONCompatible(cfg.Mermaid).(map[string]any); ok {
			cfg.Mermaid = m
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SearchPaths lists the locations LoadConfig tries for a config name, in order:
// current directory, then os.UserConfigDir()/go-mmd2svg/, each with .yaml and .yml.
func SearchPaths(name string) []string {
	extensions := []string{".yaml", ".yml"}
	paths := make([]string, 0, len(extensions)*2) // 2 locations

	for _, ext := range extensions {
		paths = append(paths, name+ext)
	}
	if userConfigDir, err := os.UserConfigDir(); err == nil {
		for _, ext := range extensions {
			paths = append(paths, filepath.Join(userConfigDir, UserConfigDirName, name+ext))
		}
	}
	return paths
}

// resolveConfigPath searches for a config file by name in standard locations.
func resolveConfigPath(name string) (string, error) {
	tried := SearchPaths(name)
	for _, p := range tried {
		if fileutil.FileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(tried, ", "))
}
