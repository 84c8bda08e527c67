package mmd2svg

import (
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/alnah/go-mmd2svg/internal/cache"
	"github.com/alnah/go-mmd2svg/internal/renderer"
)

// EnvTimeout overrides the per-render timeout, as a Go duration ("45s").
// WithTimeout takes precedence.
const EnvTimeout = "MMD2SVG_TIMEOUT"

// DefaultArtifactDir places artifacts next to the document.
const DefaultArtifactDir = "."

// Renderer turns diagram source into raw SVG markup. Output is untrusted;
// the Pipeline sanitizes it before anything is stored or displayed.
type Renderer = renderer.Renderer

// RenderRequest is one request sent to a Renderer.
type RenderRequest = renderer.Request

// Cache stores sanitized SVG keyed by diagram source and configuration.
type Cache = cache.Cache

// Option configures a Pipeline.
type Option func(*Pipeline)

// pipelineConfig holds internal configuration for Pipeline.
type pipelineConfig struct {
	timeout      time.Duration
	rendererPath string
	renderer     Renderer
	concurrency  int
	cache        Cache
	mermaid      map[string]any
	artifactDir  string
	style        string
	assetPath    string
	logger       *log.Logger
	getenv       func(string) string
}

func defaultConfig() pipelineConfig {
	return pipelineConfig{
		artifactDir: DefaultArtifactDir,
		getenv:      os.Getenv,
	}
}

// WithTimeout bounds each render of the default renderer.
// Panics if d <= 0.
func WithTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("mmd2svg: WithTimeout duration must be positive")
	}
	return func(p *Pipeline) {
		p.cfg.timeout = d
	}
}

// WithRendererPath names the Mermaid CLI used by the default renderer,
// overriding MMD2SVG_RENDERER, MERMAID_CLI_PATH and PATH lookup.
func WithRendererPath(path string) Option {
	return func(p *Pipeline) {
		p.cfg.rendererPath = path
	}
}

// WithRenderer replaces the default one-shot renderer. The Pipeline takes
// ownership and closes it on Close.
func WithRenderer(r Renderer) Option {
	return func(p *Pipeline) {
		p.cfg.renderer = r
	}
}

// WithConcurrency caps the number of renders in flight.
// Zero or negative picks a value from GOMAXPROCS (see ResolveConcurrency).
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.cfg.concurrency = n
	}
}

// WithCache sets the render cache. The Pipeline closes it on Close.
func WithCache(c Cache) Option {
	return func(p *Pipeline) {
		p.cfg.cache = c
	}
}

// WithMermaidConfig merges cfg over the default Mermaid configuration for
// every render.
func WithMermaidConfig(cfg map[string]any) Option {
	return func(p *Pipeline) {
		p.cfg.mermaid = cfg
	}
}

// WithArtifactDir sets where artifacts are written, relative to the
// document's directory. The directory must stay inside it.
func WithArtifactDir(dir string) Option {
	return func(p *Pipeline) {
		p.cfg.artifactDir = dir
	}
}

// WithStyle selects the preview stylesheet by name.
func WithStyle(name string) Option {
	return func(p *Pipeline) {
		p.cfg.style = name
	}
}

// WithAssetPath adds a directory of custom preview styles and templates,
// consulted before the built-in ones.
func WithAssetPath(dir string) Option {
	return func(p *Pipeline) {
		p.cfg.assetPath = dir
	}
}

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		p.cfg.logger = l
	}
}

// withGetenv replaces os.Getenv in tests.
func withGetenv(getenv func(string) string) Option {
	return func(p *Pipeline) {
		p.cfg.getenv = getenv
	}
}
