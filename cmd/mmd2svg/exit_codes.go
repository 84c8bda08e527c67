package main

import (
	"errors"
	"os"

	"github.com/alnah/go-mmd2svg"
	"github.com/alnah/go-mmd2svg/internal/assets"
	"github.com/alnah/go-mmd2svg/internal/config"
)

// Exit codes for mmd2svg CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess  = 0 // Command completed
	ExitGeneral  = 1 // General/unexpected error, including cancellation
	ExitUsage    = 2 // Invalid flags, config, or input
	ExitIO       = 3 // File not found, permission denied
	ExitRenderer = 4 // Renderer missing, failing, crashing or timing out
	ExitSecurity = 5 // Unsafe SVG or a path escaping the document directory
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
// When several errors are joined, the first matching class below wins.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// Security errors (exit 5)
	if errors.Is(err, mmd2svg.ErrSanitizeRejected) ||
		errors.Is(err, mmd2svg.ErrPathTraversal) {
		return ExitSecurity
	}

	// Renderer errors (exit 4)
	if errors.Is(err, mmd2svg.ErrRendererUnavailable) ||
		errors.Is(err, mmd2svg.ErrRenderTimeout) ||
		errors.Is(err, mmd2svg.ErrRenderFailed) ||
		errors.Is(err, mmd2svg.ErrRendererCrashed) {
		return ExitRenderer
	}

	// I/O errors (exit 3)
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, ErrReadDocument) ||
		errors.Is(err, ErrWriteDocument) ||
		errors.Is(err, mmd2svg.ErrIO) {
		return ExitIO
	}

	// Usage/config/validation errors (exit 2)
	if errors.Is(err, ErrUsage) ||
		errors.Is(err, ErrMermaidConfig) ||
		errors.Is(err, ErrUnsupportedShell) ||
		errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrFieldTooLong) ||
		errors.Is(err, config.ErrInvalidValue) ||
		errors.Is(err, config.ErrEmptyConfigName) ||
		errors.Is(err, mmd2svg.ErrInvalidInput) ||
		errors.Is(err, mmd2svg.ErrInvalidPath) ||
		errors.Is(err, assets.ErrStyleNotFound) ||
		errors.Is(err, assets.ErrInvalidAssetName) ||
		errors.Is(err, assets.ErrInvalidBasePath) {
		return ExitUsage
	}

	return ExitGeneral
}
