package mmd2svg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-mmd2svg/internal/artifact"
	"github.com/alnah/go-mmd2svg/internal/assets"
	"github.com/alnah/go-mmd2svg/internal/cache"
	"github.com/alnah/go-mmd2svg/internal/document"
	"github.com/alnah/go-mmd2svg/internal/fileutil"
	"github.com/alnah/go-mmd2svg/internal/preview"
	"github.com/alnah/go-mmd2svg/internal/renderer"
	"github.com/alnah/go-mmd2svg/internal/sanitize"
)

// Operation names carried by PipelineError.Op.
const (
	OpRender    = "render"
	OpRenderAll = "render-all"
	OpEdit      = "edit"
	OpList      = "list"
	OpPreview   = "preview"
)

// Artifact is one rendered diagram on disk: the SVG and the sidecar holding
// its exact source.
type Artifact = artifact.Artifact

// Document is a document as the caller holds it. Path locates the document
// on disk and decides where artifacts go; Text is its current content,
// which may differ from what is on disk.
type Document struct {
	Path string
	Text string
}

// Result is the outcome of a document operation. Text is the new document
// content for the caller to save; Artifacts lists what was written or
// removed.
type Result struct {
	Text      string
	Artifacts []Artifact
}

// Pipeline renders the diagrams of documents to SVG artifacts and restores
// them to source. Create with New, and Close when done. A Pipeline is safe
// for concurrent use.
type Pipeline struct {
	cfg      pipelineConfig
	renderer *renderer.Limiter
	cache    Cache
	config   map[string]any // Mermaid configuration sent with every request
	builder  *preview.Builder
	logger   *log.Logger

	mu     sync.Mutex
	stores map[string]*artifact.Store // by document directory
}

// New creates a Pipeline. Without WithRenderer, diagrams are rendered by the
// Mermaid CLI found through WithRendererPath, MMD2SVG_RENDERER,
// MERMAID_CLI_PATH or PATH; a missing CLI surfaces as ErrRendererUnavailable
// on the first render, so editing and listing still work without it.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    defaultConfig(),
		stores: make(map[string]*artifact.Store),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.cfg.logger
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.cfg.timeout == 0 {
		p.cfg.timeout = p.envTimeout()
	}
	if err := validateArtifactDir(p.cfg.artifactDir); err != nil {
		return nil, err
	}

	builder, err := newBuilder(p.cfg)
	if err != nil {
		return nil, err
	}
	p.builder = builder

	r := p.cfg.renderer
	if r == nil {
		r = p.defaultRenderer()
	}
	p.renderer = renderer.NewLimiter(r, ResolveConcurrency(p.cfg.concurrency))

	p.cache = p.cfg.cache
	if p.cache == nil {
		p.cache = cache.NewNullCache()
	}
	p.config = renderer.MergeConfig(renderer.DefaultConfig(), p.cfg.mermaid)
	return p, nil
}

// envTimeout reads MMD2SVG_TIMEOUT. Malformed values are ignored with a
// warning.
func (p *Pipeline) envTimeout() time.Duration {
	raw := p.cfg.getenv(EnvTimeout)
	if raw == "" {
		return renderer.DefaultTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.logger.Warn("ignoring invalid timeout", "env", EnvTimeout, "value", raw)
		return renderer.DefaultTimeout
	}
	return d
}

func (p *Pipeline) defaultRenderer() Renderer {
	path, err := renderer.Resolve(p.cfg.rendererPath, p.cfg.getenv)
	if err != nil {
		p.logger.Debug("no renderer", "err", err)
		return unavailableRenderer{err: err}
	}
	r, err := renderer.NewOneShot(renderer.OneShotOptions{
		Path:    path,
		Timeout: p.cfg.timeout,
		Logger:  p.logger,
	})
	if err != nil {
		return unavailableRenderer{err: err}
	}
	return r
}

func newBuilder(cfg pipelineConfig) (*preview.Builder, error) {
	loader, err := assets.NewAssetResolver(cfg.assetPath)
	if err != nil {
		return nil, fmt.Errorf("loading preview assets: %w", err)
	}
	builder, err := preview.NewBuilder(preview.Options{Loader: loader, Style: cfg.style})
	if err != nil {
		return nil, fmt.Errorf("loading preview assets: %w", err)
	}
	return builder, nil
}

// validateArtifactDir accepts relative directories that stay inside the
// document's directory.
func validateArtifactDir(dir string) error {
	if dir == "" {
		return nil
	}
	if strings.ContainsRune(dir, 0) || filepath.IsAbs(dir) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, dir)
	}
	clean := filepath.Clean(filepath.FromSlash(dir))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q leaves the document directory", ErrInvalidPath, dir)
	}
	return nil
}

// Close releases the renderer and the cache.
func (p *Pipeline) Close() error {
	return errors.Join(p.renderer.Close(), p.cache.Close())
}

// fail wraps err for op. Path traversal is logged as a security event.
func (p *Pipeline) fail(op string, err error) error {
	kind := classify(err)
	if kind == KindPathTraversal {
		p.logger.Error("refused path outside the document directory", "op", op, "err", err)
	}
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// RenderDocumentBlock renders the diagram block at index (0-based, in
// document order) and returns the document text with that block replaced by
// a marker and an image reference. Re-rendering an unchanged block rewrites
// the same artifact.
func (p *Pipeline) RenderDocumentBlock(ctx context.Context, doc Document, index int) (Result, error) {
	t, err := p.target(doc)
	if err != nil {
		return Result{}, p.fail(OpRender, err)
	}
	blocks := document.Scan(doc.Text, t.kind)
	if len(blocks) == 0 {
		return Result{}, p.fail(OpRender, ErrNoDiagram)
	}
	if index < 0 || index >= len(blocks) {
		return Result{}, p.fail(OpRender, fmt.Errorf("%w: %d of %d", ErrBlockIndex, index, len(blocks)))
	}
	block := blocks[index]

	svg, err := p.renderSVG(ctx, block.Text)
	if err != nil {
		return Result{}, p.fail(OpRender, fmt.Errorf("block %d: %w", index, err))
	}

	w := t.writer()
	a, edit, err := w.write(block, svg)
	if err == nil {
		doc.Text, err = document.Apply(doc.Text, edit)
	}
	if err != nil {
		w.rollback(p.logger)
		return Result{}, p.fail(OpRender, err)
	}
	return Result{Text: doc.Text, Artifacts: []Artifact{a}}, nil
}

// RenderAll renders every diagram block of the document concurrently and
// replaces all of them. Either every block is replaced or, on any failure,
// none is and the artifacts written by this call are removed.
func (p *Pipeline) RenderAll(ctx context.Context, doc Document) (Result, error) {
	t, err := p.target(doc)
	if err != nil {
		return Result{}, p.fail(OpRenderAll, err)
	}
	blocks := document.Scan(doc.Text, t.kind)
	if len(blocks) == 0 {
		return Result{}, p.fail(OpRenderAll, ErrNoDiagram)
	}

	svgs := make([]string, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	for i, block := range blocks {
		g.Go(func() error {
			svg, err := p.renderSVG(gctx, block.Text)
			if err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
			svgs[i] = svg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, p.fail(OpRenderAll, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, p.fail(OpRenderAll, err)
	}

	w := t.writer()
	edits := make([]document.Edit, 0, len(blocks))
	artifacts := make([]Artifact, 0, len(blocks))
	for i, block := range blocks {
		a, edit, err := w.write(block, svgs[i])
		if err != nil {
			w.rollback(p.logger)
			return Result{}, p.fail(OpRenderAll, fmt.Errorf("block %d: %w", i, err))
		}
		edits = append(edits, edit)
		artifacts = append(artifacts, a)
	}

	text, err := document.Apply(doc.Text, edits...)
	if err != nil {
		w.rollback(p.logger)
		return Result{}, p.fail(OpRenderAll, err)
	}
	return Result{Text: text, Artifacts: artifacts}, nil
}

// EditDocumentArtifact restores the diagram whose marker is on or covers
// markerLine (0-based): the marker and image reference are replaced by the
// sidecar source. The artifact files are left in place; call RemoveArtifact
// once the returned text has been saved.
func (p *Pipeline) EditDocumentArtifact(ctx context.Context, doc Document, markerLine int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, p.fail(OpEdit, err)
	}
	t, err := p.target(doc)
	if err != nil {
		return Result{}, p.fail(OpEdit, err)
	}

	m, ok := document.FindMarker(doc.Text, document.ScanMarkers(doc.Text), markerLine)
	if !ok {
		return Result{}, p.fail(OpEdit, fmt.Errorf("%w %d", ErrMarkerLine, markerLine))
	}

	// Lexical check first: an escaping marker never reaches the filesystem.
	sourcePath, err := document.ResolveMarker(t.dir, m.SourcePath)
	if err != nil {
		return Result{}, p.fail(OpEdit, err)
	}
	a, source, err := t.store.Read(sourcePath)
	if err != nil {
		return Result{}, p.fail(OpEdit, err)
	}
	a.Marker = m.SourcePath

	text, err := document.Apply(doc.Text, document.SourceEdit(m, source, t.kind))
	if err != nil {
		return Result{}, p.fail(OpEdit, err)
	}
	p.logger.Debug("restored diagram source", "doc", t.path, "source", m.SourcePath)
	return Result{Text: text, Artifacts: []Artifact{a}}, nil
}

// RemoveArtifact deletes the files of an artifact returned by
// EditDocumentArtifact. doc is the document as saved. The files are kept,
// without error, while doc still has a marker naming the sidecar or when the
// sidecar was edited after rendering. It reports whether anything was removed.
func (p *Pipeline) RemoveArtifact(ctx context.Context, doc Document, a Artifact) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, p.fail(OpEdit, err)
	}
	t, err := p.target(doc)
	if err != nil {
		return false, p.fail(OpEdit, err)
	}

	current, _, err := t.store.Read(a.SourcePath)
	if errors.Is(err, artifact.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, p.fail(OpEdit, err)
	}
	if !current.Matches() {
		p.logger.Warn("sidecar edited since rendering, keeping artifact", "source", current.SourcePath)
		return false, nil
	}
	if p.referenced(t, doc.Text, current.SourcePath) {
		p.logger.Debug("artifact still referenced, keeping it", "source", current.SourcePath)
		return false, nil
	}

	if err := t.store.Remove(current); err != nil {
		return false, p.fail(OpEdit, err)
	}
	p.logger.Debug("removed artifact", "source", current.SourcePath)
	return true, nil
}

// referenced reports whether any marker in text resolves to sourcePath.
func (p *Pipeline) referenced(t target, text, sourcePath string) bool {
	for _, m := range document.ScanMarkers(text) {
		rel, err := document.ResolveMarker(t.dir, m.SourcePath)
		if err != nil {
			continue
		}
		if resolved, err := t.store.Resolve(rel); err == nil && resolved == sourcePath {
			return true
		}
	}
	return false
}

// renderSVG returns sanitized SVG for source, from the cache when possible.
// Only sanitized markup is cached.
func (p *Pipeline) renderSVG(ctx context.Context, source string) (string, error) {
	key := cache.Key(source, p.config)
	if data, ok, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Debug("cache read failed", "err", err)
	} else if ok {
		p.logger.Debug("cache hit", "key", key[:16])
		return string(data), nil
	}

	start := time.Now()
	req := renderer.NewRequest(source, p.config)
	raw, err := p.renderer.Render(ctx, req)
	if err != nil {
		return "", err
	}
	svg, err := sanitize.Sanitize(raw)
	if err != nil {
		p.logger.Warn("renderer output rejected", "id", req.ID, "err", err)
		return "", err
	}
	p.logger.Debug("rendered", "id", req.ID, "bytes", len(svg), "elapsed", time.Since(start))

	if err := p.cache.Set(ctx, key, []byte(svg)); err != nil {
		p.logger.Warn("cache write failed", "err", err)
	}
	return svg, nil
}

// target is a validated document location.
type target struct {
	path  string // absolute document path
	dir   string // canonical document directory
	kind  document.Kind
	store *artifact.Store
	out   string // artifact directory
}

func (p *Pipeline) target(doc Document) (target, error) {
	if doc.Path == "" {
		return target{}, ErrNoDocument
	}
	abs, err := filepath.Abs(doc.Path)
	if err != nil {
		return target{}, fmt.Errorf("resolving document path: %w", err)
	}
	store, err := p.store(filepath.Dir(abs))
	if err != nil {
		return target{}, err
	}
	return target{
		path:  abs,
		dir:   store.Root(),
		kind:  document.KindFor(abs),
		store: store,
		out:   filepath.Join(store.Root(), p.cfg.artifactDir),
	}, nil
}

// store returns the artifact store for a document directory. Stores are
// shared so that writers of the same artifact serialize.
func (p *Pipeline) store(dir string) (*artifact.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[dir]; ok {
		return s, nil
	}
	s, err := artifact.New(dir)
	if err != nil {
		return nil, err
	}
	p.stores[dir] = s
	return s, nil
}

func (t target) writer() *artifactWriter {
	return &artifactWriter{t: t}
}

// artifactWriter writes the artifacts of one operation and can undo them.
type artifactWriter struct {
	t       target
	created []Artifact
}

// write stores the artifact for block and returns the edit that references
// it.
func (w *artifactWriter) write(block document.Block, svg string) (Artifact, document.Edit, error) {
	fp := block.Fingerprint()
	a, err := w.t.store.Plan(w.t.path, w.t.out, block.Index, fp)
	if err != nil {
		return Artifact{}, document.Edit{}, err
	}
	sourceRel, err := document.RelPath(w.t.dir, a.SourcePath)
	if err != nil {
		return Artifact{}, document.Edit{}, err
	}
	svgRel, err := document.RelPath(w.t.dir, a.SVGPath)
	if err != nil {
		return Artifact{}, document.Edit{}, err
	}
	a.Marker = sourceRel

	existed := fileutil.FileExists(a.SVGPath) || fileutil.FileExists(a.SourcePath)
	if err := w.t.store.Write(a, svg, block.Text); err != nil {
		return Artifact{}, document.Edit{}, err
	}
	if !existed {
		w.created = append(w.created, a)
	}
	return a, document.RenderEdit(block, sourceRel, svgRel), nil
}

// rollback removes the artifacts this writer created. Artifacts that were
// already on disk are left alone.
func (w *artifactWriter) rollback(logger *log.Logger) {
	for _, a := range w.created {
		if err := w.t.store.Remove(a); err != nil {
			logger.Warn("rollback failed", "artifact", a.SourcePath, "err", err)
		}
	}
	w.created = nil
}

// unavailableRenderer stands in when no renderer executable was found.
type unavailableRenderer struct {
	err error
}

func (u unavailableRenderer) Render(context.Context, RenderRequest) (string, error) {
	return "", u.err
}

func (unavailableRenderer) Close() error { return nil }
