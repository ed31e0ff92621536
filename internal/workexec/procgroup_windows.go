//go:build windows

package workexec

import (
	"os/exec"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// setProcGroup assigns cmd's process to a fresh Windows job object configured
// to kill every process in the job when the job handle is closed
// (JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE), the Windows analogue of the Unix
// process-group SIGKILL in procgroup_unix.go (spec.md §4.2: "on Windows via
// job object"). cmd.Cancel closes the job handle, tearing down the whole
// descendant tree a shell or agent CLI subprocess spawned, not just the
// direct child.
//
// The job object must be populated with cmd's process after Start succeeds
// (there is no PID to assign beforehand), so setProcGroup returns an
// afterStart func the caller invokes once cmd.Start has returned nil.
func setProcGroup(cmd *exec.Cmd) (afterStart func() error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		// Fall back to exec.CommandContext's default (direct-child-only) kill
		// rather than failing the run outright.
		return func() error { return nil }
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, _ = windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)

	cmd.Cancel = func() error {
		return windows.CloseHandle(job)
	}
	cmd.WaitDelay = 3 * time.Second

	return func() error {
		if cmd.Process == nil {
			return nil
		}
		handle, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
		if err != nil {
			return err
		}
		defer windows.CloseHandle(handle)
		return windows.AssignProcessToJobObject(job, handle)
	}
}
