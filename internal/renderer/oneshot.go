package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/alnah/go-mmd2svg/internal/process"
)

// Scratch file names inside a request's private directory.
const (
	inputName  = "diagram.mmd"
	outputName = "diagram.svg"
	configName = "config.json"
)

// disableHTMLLabelsFlag is understood by mmdc 11 and later; older releases
// reject it and are rerun without it.
const disableHTMLLabelsFlag = "--disableHtmlLabels"

// maxStderr bounds how much renderer stderr is kept for error messages.
const maxStderr = 64 << 10

// waitDelay bounds how long Wait blocks on pipes after the process is killed.
const waitDelay = 2 * time.Second

// OneShotOptions configures a OneShot renderer.
type OneShotOptions struct {
	Path    string        // mmdc executable (required)
	Args    []string      // extra arguments appended to every invocation
	Timeout time.Duration // per request; DefaultTimeout when zero
	TempDir string        // parent of per-request directories; os.TempDir() when empty
	Logger  *log.Logger
}

// OneShot runs the Mermaid CLI once per request, in a private temporary
// directory, with arguments passed as an argv array. A crash affects only
// the request that caused it.
type OneShot struct {
	opts   OneShotOptions
	logger *log.Logger

	noLabelFlag atomic.Bool // set once mmdc has rejected disableHTMLLabelsFlag
	closed      atomic.Bool
}

var _ Renderer = (*OneShot)(nil)

// NewOneShot returns a OneShot renderer for the executable in opts.Path.
func NewOneShot(opts OneShotOptions) (*OneShot, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: no renderer executable", ErrUnavailable)
	}
	return &OneShot{opts: opts, logger: loggerOr(opts.Logger)}, nil
}

// Render writes the diagram and its configuration to files, runs the CLI
// and returns the SVG it produced.
func (o *OneShot) Render(ctx context.Context, req Request) (string, error) {
	if o.closed.Load() {
		return "", ErrClosed
	}
	if err := validate(req); err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx, o.opts.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp(o.opts.TempDir, "mmd2svg-render-*")
	if err != nil {
		return "", fmt.Errorf("%w: creating work directory: %v", ErrFailed, err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, inputName)
	output := filepath.Join(dir, outputName)
	config := filepath.Join(dir, configName)

	if err := os.WriteFile(input, []byte(req.Diagram), 0o600); err != nil {
		return "", fmt.Errorf("%w: writing diagram: %v", ErrFailed, err)
	}
	cfg, err := json.Marshal(requestConfig(req))
	if err != nil {
		return "", fmt.Errorf("%w: encoding config: %v", ErrFailed, err)
	}
	if err := os.WriteFile(config, cfg, 0o600); err != nil {
		return "", fmt.Errorf("%w: writing config: %v", ErrFailed, err)
	}

	withFlag := !o.noLabelFlag.Load()
	stderr, err := o.run(ctx, o.args(input, output, config, withFlag))
	if err != nil && withFlag && strings.Contains(stderr, disableHTMLLabelsFlag) {
		o.noLabelFlag.Store(true)
		o.logger.Debug("renderer does not support flag, retrying without it", "flag", disableHTMLLabelsFlag)
		stderr, err = o.run(ctx, o.args(input, output, config, false))
	}
	if err != nil {
		if ctxErr := contextErr(ctx); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, ErrUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", ErrFailed, firstNonEmpty(strings.TrimSpace(stderr), err.Error()))
	}

	svg, err := os.ReadFile(output) // #nosec G304 -- output is inside our private temp dir
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: renderer produced no SVG output", ErrFailed)
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading SVG output: %v", ErrFailed, err)
	}
	return string(svg), nil
}

// args builds the argv for one invocation.
func (o *OneShot) args(input, output, config string, withFlag bool) []string {
	args := []string{"-i", input, "-o", output, "-b", "transparent", "-c", config}
	if withFlag {
		args = append(args, disableHTMLLabelsFlag)
	}
	return append(args, o.opts.Args...)
}

// run executes the CLI and returns its stderr. On context expiry the whole
// process group is killed, since mmdc leaves a Chromium child behind.
func (o *OneShot) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, o.opts.Path, args...) // #nosec G204 -- argv array, no shell
	process.Isolate(cmd)
	cmd.Cancel = func() error {
		process.KillProcessGroup(cmd.Process.Pid)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = waitDelay

	var stderr limitedBuffer
	stderr.limit = maxStderr
	cmd.Stderr = &stderr

	o.logger.Debug("running renderer", "path", o.opts.Path, "args", args)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	err := cmd.Wait()
	return stderr.String(), err
}

// Close marks the renderer closed. No process outlives its request.
func (o *OneShot) Close() error {
	o.closed.Store(true)
	return nil
}

// limitedBuffer keeps the first limit bytes written to it and drops the rest.
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		b.Buffer.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
