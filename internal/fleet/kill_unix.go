//go:build !windows

package fleet

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// processAlive probes pid with signal 0. EPERM still means the process
// exists, just owned by someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// terminateProcess sends SIGTERM, waits briefly, then escalates to
// SIGKILL if the process is still running. Returns true when the process
// is gone afterward.
func terminateProcess(pid int) bool {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return !processAlive(pid)
	}
	time.Sleep(500 * time.Millisecond)
	if !processAlive(pid) {
		return true
	}
	unix.Kill(pid, unix.SIGKILL)
	time.Sleep(100 * time.Millisecond)
	return !processAlive(pid)
}
