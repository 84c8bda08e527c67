package renderer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/alnah/go-mmd2svg/internal/fileutil"
	"github.com/alnah/go-mmd2svg/internal/process"
)

// ErrMermaidJS is returned when mermaid.js cannot be loaded into the page.
var ErrMermaidJS = errors.New("cannot load mermaid.js")

// renderJS initializes Mermaid with the request config and renders one
// diagram. Mermaid keeps global state, so initialize runs every time.
const renderJS = `async (id, source, config) => {
	window.mermaid.initialize(Object.assign({ startOnLoad: false }, config));
	const { svg } = await window.mermaid.render(id, source);
	return svg;
}`

// blankPage hosts the mermaid script; render needs a DOM to measure text.
const blankPage = `<!DOCTYPE html><html><head><meta charset="utf-8"></head><body></body></html>`

// BrowserOptions configures a Browser renderer.
type BrowserOptions struct {
	MermaidJS string        // path or http(s) URL of mermaid.js (required)
	Timeout   time.Duration // per request; DefaultTimeout when zero
	Logger    *log.Logger
}

// Browser renders with mermaid.js inside a headless Chrome that is launched
// on first use and reused afterwards. One primed page serves requests one
// at a time; a page that fails mid-render is discarded and primed again.
type Browser struct {
	opts   BrowserOptions
	logger *log.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	script   string // mermaid.js source when loaded from a file
	closed   bool
}

var _ Renderer = (*Browser)(nil)

// NewBrowser returns a Browser renderer. Chrome is not started until the
// first request.
func NewBrowser(opts BrowserOptions) (*Browser, error) {
	if opts.MermaidJS == "" {
		return nil, fmt.Errorf("%w: no mermaid.js configured", ErrUnavailable)
	}
	return &Browser{opts: opts, logger: loggerOr(opts.Logger)}, nil
}

// Render evaluates mermaid.render for the request.
func (b *Browser) Render(ctx context.Context, req Request) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx, b.opts.Timeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", contextErr(ctx)
	}

	page, err := b.ensurePage(ctx)
	if err != nil {
		if ctxErr := contextErr(ctx); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}

	res, err := page.Context(ctx).Eval(renderJS, domID(req.ID), req.Diagram, requestConfig(req))
	if err != nil {
		if ctxErr := contextErr(ctx); ctxErr != nil {
			b.discardPage()
			return "", ctxErr
		}
		var evalErr *rod.EvalError
		if errors.As(err, &evalErr) {
			return "", fmt.Errorf("%w: %s", ErrFailed, evalMessage(evalErr))
		}
		b.discardPage()
		return "", fmt.Errorf("%w: %v", ErrCrashed, err)
	}
	return res.Value.Str(), nil
}

// ensureBrowser lazily launches Chrome. ROD_BROWSER_BIN selects a
// preinstalled binary; otherwise rod downloads Chromium on first run.
func (b *Browser) ensureBrowser() error {
	if b.browser != nil {
		return nil
	}

	l := launcher.New()
	if bin := os.Getenv("ROD_BROWSER_BIN"); bin != "" {
		l = l.Bin(bin)
	}
	// Sandboxing is unavailable in CI and most containers.
	if os.Getenv("CI") == "true" || os.Getenv("ROD_BROWSER_BIN") != "" {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("%w: launching browser: %v", ErrUnavailable, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		killLauncher(l)
		return fmt.Errorf("%w: connecting to browser: %v", ErrUnavailable, err)
	}

	b.launcher = l
	b.browser = browser
	b.logger.Debug("browser started", "pid", l.PID())
	return nil
}

// ensurePage returns the primed page, creating it and loading mermaid.js
// when needed.
func (b *Browser) ensurePage(ctx context.Context) (*rod.Page, error) {
	if b.page != nil {
		return b.page, nil
	}
	if err := b.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		b.closeBrowser()
		return nil, fmt.Errorf("%w: creating page: %v", ErrCrashed, err)
	}
	p := page.Context(ctx)

	if err := p.SetDocumentContent(blankPage); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("%w: %v", ErrMermaidJS, err)
	}
	if err := b.loadMermaid(p); err != nil {
		_ = page.Close()
		return nil, err
	}

	b.page = page
	return page, nil
}

// loadMermaid adds the mermaid script to the page, from its URL or from the
// file's contents.
func (b *Browser) loadMermaid(page *rod.Page) error {
	src := b.opts.MermaidJS
	if fileutil.IsURL(src) {
		if err := page.AddScriptTag(src, ""); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMermaidJS, src, err)
		}
		return nil
	}

	if b.script == "" {
		data, err := os.ReadFile(src) // #nosec G304 -- path comes from trusted configuration
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMermaidJS, err)
		}
		b.script = string(data)
	}
	if err := page.AddScriptTag("", b.script); err != nil {
		return fmt.Errorf("%w: %v", ErrMermaidJS, err)
	}
	return nil
}

// discardPage drops the primed page after a failed render.
func (b *Browser) discardPage() {
	if b.page != nil {
		_ = b.page.Close()
		b.page = nil
	}
}

// closeBrowser releases Chrome and kills its process tree.
func (b *Browser) closeBrowser() error {
	b.discardPage()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		killLauncher(b.launcher)
		b.launcher = nil
	}
	return err
}

// Close releases browser resources.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return b.closeBrowser()
}

// killLauncher kills Chrome and every helper process it spawned.
func killLauncher(l *launcher.Launcher) {
	process.KillProcessGroup(l.PID())
	l.Kill()
	l.Cleanup()
}

// domID turns a correlation id into a valid DOM element id; mermaid uses it
// for the temporary render container.
func domID(id string) string {
	var sb strings.Builder
	sb.WriteString("mmd")
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// evalMessage extracts the JavaScript exception text, which for a syntax
// error is mermaid's parse message.
func evalMessage(e *rod.EvalError) string {
	if e.RuntimeExceptionDetails == nil {
		return e.Error()
	}
	if exp := e.Exception; exp != nil && exp.Description != "" {
		return exp.Description
	}
	return e.Text
}
