//go:build windows

package processstate

import (
	"syscall"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

const (
	stillActive                    = 259
	processQueryLimitedInformation = 0x1000
)

// IsProcessRunning checks the exit code of pid; STILL_ACTIVE means running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false, nil
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, errors.NewAdapterError("failed to query process exit code", err).WithContext("pid", pid)
	}
	return exitCode == stillActive, nil
}
