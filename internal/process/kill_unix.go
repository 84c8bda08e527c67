//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// KillProcessGroup kills a renderer process and all its children by sending
// SIGKILL to the process group (negative PID).
func KillProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	// Best-effort cleanup; callers follow up with Process.Kill.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// Isolate starts cmd in its own process group so that KillProcessGroup
// reaches every child it spawns (mmdc forks a headless Chromium).
func Isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
