package process

// Notes:
// - KillProcessGroup: we only test with invalid PIDs to verify the function
//   doesn't panic. Real kill behavior is covered by the renderer tests, which
//   start helper processes through Isolate and stop them with KillProcessGroup.
// - Cannot test with PID 0 (kills current process group) or real PIDs.
// These are acceptable gaps: we test observable behavior, not syscall internals.

import (
	"os/exec"
	"testing"
)

// ---------------------------------------------------------------------------
// TestKillProcessGroup - Invalid PID Handling
// ---------------------------------------------------------------------------

func TestKillProcessGroup_InvalidPID(t *testing.T) {
	t.Parallel()

	KillProcessGroup(999999999)
}

func TestKillProcessGroup_NonPositivePID(t *testing.T) {
	t.Parallel()

	// Zero and negative PIDs are ignored instead of being forwarded to kill(2),
	// where -0 would address the test binary's own process group.
	KillProcessGroup(0)
	KillProcessGroup(-1)
}

// ---------------------------------------------------------------------------
// TestIsolate - SysProcAttr setup
// ---------------------------------------------------------------------------

func TestIsolate_SetsSysProcAttr(t *testing.T) {
	t.Parallel()

	cmd := exec.Command("true")
	Isolate(cmd)

	if cmd.SysProcAttr == nil {
		t.Fatal("SysProcAttr = nil, want non-nil after Isolate")
	}
}

func TestIsolate_KeepsExistingAttr(t *testing.T) {
	t.Parallel()

	cmd := exec.Command("true")
	Isolate(cmd)
	first := cmd.SysProcAttr
	Isolate(cmd)

	if cmd.SysProcAttr != first {
		t.Error("Isolate replaced an existing SysProcAttr")
	}
}
