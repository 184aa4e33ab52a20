//go:build !windows

package processstate

import (
	"os"
	"syscall"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

// IsProcessRunning probes pid with signal 0. A process owned by another user
// counts as running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, errors.NewAdapterError("failed to find process", err).WithContext("pid", pid)
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case err == os.ErrProcessDone:
		return false, nil
	}

	errno, ok := err.(syscall.Errno)
	if !ok {
		return false, errors.NewAdapterError("failed to probe process", err).WithContext("pid", pid)
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		return true, nil
	}
	return false, errors.NewAdapterError("failed to probe process", err).WithContext("pid", pid)
}
