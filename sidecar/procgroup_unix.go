//go:build !windows

package sidecar

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setProcessGroup configures cmd to start in a new process group so that
// cancellation can terminate every child the sidecar itself spawned
// (spec §5).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup sends SIGTERM to cmd's process group and escalates
// to SIGKILL after grace if the group is still around. It never calls
// Process.Wait itself -- the caller (Run) owns the single cmd.Wait() call
// that reaps the process.
func terminateProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid

	_ = unix.Kill(-pgid, unix.SIGTERM)

	go func() {
		time.Sleep(grace)
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}()
}
