package main

import (
	"errors"
	"fmt"

	"github.com/alnah/go-mmd2svg"
	"github.com/alnah/go-mmd2svg/internal/hints"
)

// hintedError attaches a hint that depends on command state, such as the
// number of blocks in the document.
type hintedError struct {
	err  error
	hint string
}

func (e *hintedError) Error() string { return e.err.Error() }
func (e *hintedError) Unwrap() error { return e.err }

// withHint returns err carrying hint. A nil err stays nil.
func withHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return &hintedError{err: err, hint: hint}
}

// hintFor returns the hint to print after err, or "".
func hintFor(err error) string {
	var h *hintedError
	if errors.As(err, &h) {
		return h.hint
	}

	switch {
	case errors.Is(err, mmd2svg.ErrRendererUnavailable):
		return hints.ForRendererUnavailable()
	case errors.Is(err, mmd2svg.ErrRendererCrashed):
		return hints.ForBrowserConnect()
	case errors.Is(err, mmd2svg.ErrRenderTimeout):
		return hints.ForTimeout()
	case errors.Is(err, mmd2svg.ErrSanitizeRejected):
		return hints.ForSanitizeRejected()
	case errors.Is(err, mmd2svg.ErrPathTraversal):
		return hints.ForPathTraversal()
	}
	return ""
}

// batchError summarizes per-document failures of a multi-document command.
type batchError struct {
	total int
	errs  []error
}

func (e *batchError) Error() string {
	return fmt.Sprintf("%d of %d documents failed", len(e.errs), e.total)
}

func (e *batchError) Unwrap() []error { return e.errs }

// joinFailures returns nil, the only failure, or a batchError.
func joinFailures(errs []error, total int) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		if total == 1 {
			return errs[0]
		}
	}
	return &batchError{total: total, errs: errs}
}
