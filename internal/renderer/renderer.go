// Package renderer drives the external Mermaid renderer.
//
// Three backends share one contract: OneShot runs the Mermaid CLI once per
// request, Persistent keeps a single process alive and multiplexes requests
// over newline-delimited JSON, and Browser evaluates mermaid.js in a reused
// headless Chrome. Limiter caps in-flight requests for any of them.
//
// Every backend returns raw, untrusted markup. Callers must sanitize it
// before storing or displaying it.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Sentinel errors for render operations.
var (
	ErrUnavailable  = errors.New("renderer unavailable")
	ErrTimeout      = errors.New("render timed out")
	ErrFailed       = errors.New("render failed")
	ErrCrashed      = errors.New("renderer crashed")
	ErrCanceled     = errors.New("render canceled")
	ErrClosed       = errors.New("renderer closed")
	ErrEmptyDiagram = errors.New("diagram source is empty")
)

// DefaultTimeout bounds a single render when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Request is one render attempt. ID correlates the response.
type Request struct {
	ID      string
	Diagram string
	Config  map[string]any
}

// NewRequest returns a request with a fresh correlation id.
func NewRequest(diagram string, config map[string]any) Request {
	return Request{
		ID:      uuid.NewString(),
		Diagram: diagram,
		Config:  config,
	}
}

// Renderer turns diagram source into raw SVG markup.
type Renderer interface {
	Render(ctx context.Context, req Request) (string, error)
	Close() error
}

// DefaultConfig returns the Mermaid configuration sent with every request.
// HTML labels are disabled so the renderer emits native SVG text wherever it
// can; the sanitizer converts whatever foreignObject labels remain.
func DefaultConfig() map[string]any {
	return map[string]any{
		"flowchart": map[string]any{"htmlLabels": false},
		"sequence":  map[string]any{"htmlLabels": false},
		"class":     map[string]any{"htmlLabels": false},
		"er":        map[string]any{"htmlLabels": false},
	}
}

// MergeConfig returns base with override merged on top. Nested maps are
// merged key by key; any other override value replaces the base value.
// Neither argument is modified.
func MergeConfig(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	maps.Copy(out, base)
	for k, v := range override {
		sub, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		if prev, ok := out[k].(map[string]any); ok {
			out[k] = MergeConfig(prev, sub)
			continue
		}
		out[k] = MergeConfig(nil, sub)
	}
	return out
}

// requestConfig returns the configuration to send for req.
func requestConfig(req Request) map[string]any {
	if req.Config == nil {
		return DefaultConfig()
	}
	return req.Config
}

// validate rejects requests no backend can serve.
func validate(req Request) error {
	if strings.TrimSpace(req.Diagram) == "" {
		return ErrEmptyDiagram
	}
	return nil
}

// withTimeout applies the per-request timeout unless ctx already expires
// sooner.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// contextErr maps an expired request context onto the render taxonomy.
func contextErr(ctx context.Context) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	default:
		return nil
	}
}

// loggerOr returns l, or the default logger when l is nil.
func loggerOr(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}
