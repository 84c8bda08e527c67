package renderer

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of in-flight requests to the wrapped renderer.
// Requests over the cap wait and are admitted in arrival order.
type Limiter struct {
	next Renderer
	sem  *semaphore.Weighted
	size int
}

var _ Renderer = (*Limiter)(nil)

// NewLimiter wraps next with a cap of n concurrent requests (minimum 1).
func NewLimiter(next Renderer, n int) *Limiter {
	n = max(n, 1)
	return &Limiter{
		next: next,
		sem:  semaphore.NewWeighted(int64(n)),
		size: n,
	}
}

// Size returns the concurrency cap.
func (l *Limiter) Size() int {
	return l.size
}

// Render waits for a slot, then forwards the request. A request whose
// context expires while waiting never reaches the renderer.
func (l *Limiter) Render(ctx context.Context, req Request) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", contextErr(ctx)
	}
	defer l.sem.Release(1)

	return l.next.Render(ctx, req)
}

// Close closes the wrapped renderer.
func (l *Limiter) Close() error {
	return l.next.Close()
}
