package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/alnah/go-mmd2svg"
	"github.com/alnah/go-mmd2svg/internal/cache"
	"github.com/alnah/go-mmd2svg/internal/config"
	"github.com/alnah/go-mmd2svg/internal/hints"
	"github.com/alnah/go-mmd2svg/internal/renderer"
)

// settings is the effective configuration of one command run, after
// defaults, the config file, the environment and flags have been merged.
type settings struct {
	cfg     *config.Config
	getenv  func(string) string
	logger  *log.Logger
	noCache bool
}

// newLogger returns a stderr logger honoring --quiet and --verbose.
func newLogger(w io.Writer, f commonFlags) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{Prefix: "mmd2svg"})
	switch {
	case f.verbose:
		logger.SetLevel(log.DebugLevel)
	case f.quiet:
		logger.SetLevel(log.ErrorLevel)
	}
	return logger
}

// resolveSettings merges configuration sources.
// Priority: flags > env vars > config file > defaults. rf may be nil for
// commands that never render.
func resolveSettings(common commonFlags, rf *rendererFlags, artifactDir string, env *Environment) (*settings, error) {
	if !common.quiet {
		warnUnknownEnvVars(env.Stderr, env.Environ())
	}

	ec := loadEnvConfig(env.Getenv)

	name := common.config
	if name == "" {
		name = ec.ConfigPath
	}
	cfg := config.DefaultConfig()
	if name != "" {
		loaded, err := config.LoadConfig(name)
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, withHint(err, hints.ForConfigNotFound(config.SearchPaths(name)))
		}
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := applyEnvConfig(ec, cfg); err != nil {
		return nil, err
	}

	s := &settings{cfg: cfg, getenv: env.Getenv, logger: newLogger(env.Stderr, common)}
	if rf != nil {
		mergeRendererFlags(rf, cfg)
		s.noCache = rf.noCache
	}
	if artifactDir != "" {
		cfg.Artifacts.Dir = artifactDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// mergeRendererFlags applies explicitly set renderer flags over cfg.
func mergeRendererFlags(f *rendererFlags, cfg *config.Config) {
	if f.mode != "" {
		cfg.Renderer.Mode = f.mode
	}
	if f.path != "" {
		cfg.Renderer.Path = f.path
	}
	if f.timeout != "" {
		cfg.Renderer.Timeout = f.timeout
	}
	if f.workers > 0 {
		cfg.Renderer.Workers = f.workers
	}
	if f.mermaidJS != "" {
		cfg.Renderer.MermaidJS = f.mermaidJS
	}
}

// newPipeline builds the library pipeline for s. With render set, the
// backend and cache are created up front so a missing renderer fails fast.
func newPipeline(s *settings, env *Environment, render bool) (*mmd2svg.Pipeline, error) {
	cfg := s.cfg
	opts := []mmd2svg.Option{
		mmd2svg.WithLogger(s.logger),
		mmd2svg.WithMermaidConfig(cfg.Mermaid),
		mmd2svg.WithConcurrency(cfg.Renderer.Workers),
		mmd2svg.WithStyle(cfg.Preview.Style),
		mmd2svg.WithAssetPath(cfg.Preview.AssetPath),
		mmd2svg.WithRendererPath(cfg.Renderer.Path),
	}
	if cfg.Artifacts.Dir != "" {
		opts = append(opts, mmd2svg.WithArtifactDir(cfg.Artifacts.Dir))
	}
	if d := cfg.Renderer.TimeoutDuration(); d > 0 {
		opts = append(opts, mmd2svg.WithTimeout(d))
	}

	if render {
		r, err := env.NewRenderer(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mmd2svg.WithRenderer(r))
		if c := openCache(s); c != nil {
			opts = append(opts, mmd2svg.WithCache(c))
		}
	}

	s.logger.Debug("pipeline",
		"mode", cfg.Renderer.Mode,
		"workers", mmd2svg.ResolveConcurrency(cfg.Renderer.Workers),
		"artifacts", cfg.Artifacts.Dir)

	return mmd2svg.New(opts...)
}

// buildRenderer creates the backend selected by renderer.mode.
func buildRenderer(s *settings) (mmd2svg.Renderer, error) {
	r := s.cfg.Renderer
	timeout := r.TimeoutDuration()

	var (
		backend mmd2svg.Renderer
		err     error
	)
	switch strings.ToLower(r.Mode) {
	case config.ModeBrowser:
		backend, err = renderer.NewBrowser(renderer.BrowserOptions{
			MermaidJS: r.MermaidJS,
			Timeout:   timeout,
			Logger:    s.logger,
		})
	case config.ModePersistent:
		var path string
		path, err = renderer.ResolveServer(r.Path, s.getenv)
		if err == nil {
			backend, err = renderer.NewPersistent(renderer.PersistentOptions{
				Launcher:      renderer.CommandLauncher(path, r.Args, s.logger),
				Timeout:       timeout,
				MaxRestarts:   r.MaxRestarts,
				RestartWindow: r.RestartWindowDuration(),
				Logger:        s.logger,
			})
		}
	default:
		var path string
		path, err = renderer.Resolve(r.Path, s.getenv)
		if err == nil {
			backend, err = renderer.NewOneShot(renderer.OneShotOptions{
				Path:    path,
				Args:    r.Args,
				Timeout: timeout,
				Logger:  s.logger,
			})
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", mmd2svg.ErrRendererUnavailable, err)
		if strings.ToLower(r.Mode) == config.ModeBrowser {
			return nil, withHint(err, hints.ForMermaidJS())
		}
		return nil, err
	}
	return backend, nil
}

// openCache returns the on-disk render cache, or nil when disabled. A cache
// that cannot be opened is skipped with a warning.
func openCache(s *settings) mmd2svg.Cache {
	if s.noCache || !s.cfg.Cache.Enabled {
		return nil
	}
	dir := s.cfg.Cache.Dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			s.logger.Warn("render cache disabled", "err", err)
			return nil
		}
		dir = filepath.Join(base, config.UserConfigDirName)
	}
	c, err := cache.NewFileCache(dir)
	if err != nil {
		s.logger.Warn("render cache disabled", "dir", dir, "err", err)
		return nil
	}
	s.logger.Debug("render cache", "dir", c.Dir())
	return c
}
