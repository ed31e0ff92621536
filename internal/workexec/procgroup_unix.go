//go:build !windows

package workexec

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcGroup configures cmd to run in its own process group and wires
// Cancel so that the pipeline's cancellation token (spec.md §5: "delivers a
// cancellation token to every running Node Pipeline... preemptive at the
// child-process level") kills the whole descendant tree — a shell's child
// processes, an agent CLI's subprocesses — not just the direct child
// exec.CommandContext would otherwise terminate alone. The returned
// afterStart must be called once cmd.Start has succeeded; on Unix there is
// nothing left to do post-start, since Setpgid took effect at fork time.
func setProcGroup(cmd *exec.Cmd) (afterStart func() error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID targets the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Give the group a short grace period to drain before its pipes are
	// forcibly closed, so partial output already written isn't lost.
	cmd.WaitDelay = 3 * time.Second

	return func() error { return nil }
}
