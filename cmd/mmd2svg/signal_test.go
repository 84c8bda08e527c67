package main

// Notes:
// - notifyContext: we test context lifecycle only. Real signal delivery is
//   non-deterministic and platform-specific.
// These are acceptable gaps: we test observable behavior, not implementation details.

import (
	"context"
	"testing"
)

// ---------------------------------------------------------------------------
// TestNotifyContext - Context creation and cancellation behavior
// ---------------------------------------------------------------------------

func TestNotifyContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		run      func() (context.Context, func())
		wantDone bool
	}{
		{
			name: "starts live",
			run: func() (context.Context, func()) {
				return notifyContext(context.Background())
			},
			wantDone: false,
		},
		{
			name: "stop cancels",
			run: func() (context.Context, func()) {
				ctx, stop := notifyContext(context.Background())
				stop()
				return ctx, func() {}
			},
			wantDone: true,
		},
		{
			name: "parent cancellation propagates",
			run: func() (context.Context, func()) {
				parent, cancel := context.WithCancel(context.Background())
				ctx, stop := notifyContext(parent)
				cancel()
				return ctx, stop
			},
			wantDone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cleanup := tt.run()
			defer cleanup()

			done := ctx.Err() != nil
			if done != tt.wantDone {
				t.Errorf("ctx done = %v, want %v", done, tt.wantDone)
			}
		})
	}
}
