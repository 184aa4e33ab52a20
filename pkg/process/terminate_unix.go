//go:build !windows

package process

import (
	"syscall"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

// SendTerminationSignal sends SIGTERM to the process group of pid.
func SendTerminationSignal(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// KillProcessGroup sends SIGKILL to the process group of pid.
func KillProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, signal syscall.Signal) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	err := syscall.Kill(-pid, signal)
	if err == syscall.ESRCH {
		return nil
	}
	if err != nil {
		return errors.NewAdapterError("failed to signal process group", err).
			WithContext("pid", pid).
			WithContext("signal", signal.String())
	}
	return nil
}
