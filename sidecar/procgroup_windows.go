//go:build windows

package sidecar

import (
	"os/exec"
	"time"
)

// setProcessGroup is a no-op on Windows; cancellation falls back to killing
// the single child process directly.
func setProcessGroup(cmd *exec.Cmd) {}

func terminateProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
