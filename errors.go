package mmd2svg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/alnah/go-mmd2svg/internal/artifact"
	"github.com/alnah/go-mmd2svg/internal/document"
	"github.com/alnah/go-mmd2svg/internal/renderer"
	"github.com/alnah/go-mmd2svg/internal/sanitize"
)

// Sentinel errors, one per Kind. Every error returned by a Pipeline is a
// *PipelineError that matches exactly one of these with errors.Is.
var (
	ErrRendererUnavailable = errors.New("renderer unavailable")
	ErrRenderTimeout       = errors.New("render timed out")
	ErrRenderFailed        = errors.New("render failed")
	ErrRendererCrashed     = errors.New("renderer crashed")
	ErrSanitizeRejected    = errors.New("renderer output rejected")
	ErrPathTraversal       = errors.New("path traversal refused")
	ErrIO                  = errors.New("artifact I/O failed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrCanceled            = errors.New("operation canceled")
)

// Caller mistakes, reported with KindInvalidInput.
var (
	ErrNoDiagram   = errors.New("document has no diagram blocks")
	ErrBlockIndex  = errors.New("block index out of range")
	ErrMarkerLine  = errors.New("no rendered diagram marker on line")
	ErrNoDocument  = errors.New("document path is required")
	ErrInvalidPath = errors.New("invalid artifact directory")
)

// Kind is the category of a pipeline failure.
type Kind string

// Failure categories.
const (
	KindRendererUnavailable Kind = "renderer-unavailable"
	KindRenderTimeout       Kind = "render-timeout"
	KindRenderFailed        Kind = "render-failed"
	KindRendererCrashed     Kind = "renderer-crashed"
	KindSanitizeRejected    Kind = "sanitize-rejected"
	KindPathTraversal       Kind = "path-traversal"
	KindIO                  Kind = "io"
	KindInvalidInput        Kind = "invalid-input"
	KindCanceled            Kind = "canceled"
)

var kindSentinels = map[Kind]error{
	KindRendererUnavailable: ErrRendererUnavailable,
	KindRenderTimeout:       ErrRenderTimeout,
	KindRenderFailed:        ErrRenderFailed,
	KindRendererCrashed:     ErrRendererCrashed,
	KindSanitizeRejected:    ErrSanitizeRejected,
	KindPathTraversal:       ErrPathTraversal,
	KindIO:                  ErrIO,
	KindInvalidInput:        ErrInvalidInput,
	KindCanceled:            ErrCanceled,
}

// PipelineError is the single error type returned by Pipeline operations.
// It matches its Kind's sentinel and, through Err, the underlying cause.
type PipelineError struct {
	Kind Kind
	Op   string // "render", "render-all", "edit", "list", "preview"
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the Kind sentinel and the cause to errors.Is/As.
func (e *PipelineError) Unwrap() []error {
	return []error{kindSentinels[e.Kind], e.Err}
}

// KindOf returns the Kind of a pipeline error, or "" for any other error.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// classify maps internal errors onto the public taxonomy.
func classify(err error) Kind {
	switch {
	case errors.Is(err, document.ErrPathTraversal),
		errors.Is(err, artifact.ErrPathTraversal):
		return KindPathTraversal
	case errors.Is(err, sanitize.ErrScriptElement),
		errors.Is(err, sanitize.ErrForbiddenElement),
		errors.Is(err, sanitize.ErrMalformed),
		errors.Is(err, sanitize.ErrTooLarge):
		return KindSanitizeRejected
	case errors.Is(err, renderer.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindRenderTimeout
	case errors.Is(err, renderer.ErrCanceled),
		errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, renderer.ErrCrashed):
		return KindRendererCrashed
	case errors.Is(err, renderer.ErrUnavailable),
		errors.Is(err, renderer.ErrClosed):
		return KindRendererUnavailable
	case errors.Is(err, renderer.ErrFailed):
		return KindRenderFailed
	case errors.Is(err, ErrNoDiagram),
		errors.Is(err, ErrBlockIndex),
		errors.Is(err, ErrMarkerLine),
		errors.Is(err, ErrNoDocument),
		errors.Is(err, ErrInvalidPath),
		errors.Is(err, renderer.ErrEmptyDiagram),
		errors.Is(err, document.ErrInvalidMarker),
		errors.Is(err, document.ErrSpan),
		errors.Is(err, artifact.ErrInvalidArtifact),
		errors.Is(err, artifact.ErrNotArtifact):
		return KindInvalidInput
	case errors.Is(err, artifact.ErrNotFound),
		errors.Is(err, artifact.ErrTooLarge),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission):
		return KindIO
	default:
		return KindIO
	}
}
