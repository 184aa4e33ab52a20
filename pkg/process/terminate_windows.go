//go:build windows

package process

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

const ctrlBreakTimeout = 5 * time.Second

// Windows console operations are not safe to run concurrently.
var consoleOperationLock sync.Mutex

// SendTerminationSignal delivers Ctrl+Break to the process group of pid.
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return errors.NewAdapterError("failed to load kernel32.dll", err)
	}
	defer dll.Release()

	done := make(chan error, 1)
	go func() {
		done <- generateConsoleCtrlEvent(dll, pid)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.NewAdapterError("failed to send Ctrl+Break", err).WithContext("pid", pid)
		}
		return nil
	case <-time.After(ctrlBreakTimeout):
		return errors.NewTimeoutError("timed out sending Ctrl+Break", nil).WithContext("pid", pid)
	}
}

// KillProcessGroup terminates pid immediately.
func KillProcessGroup(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := process.Kill(); err != nil && err != os.ErrProcessDone {
		return errors.NewAdapterError("failed to kill process", err).WithContext("pid", pid)
	}
	return nil
}

func generateConsoleCtrlEvent(dll *syscall.DLL, pid int) error {
	proc, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}
	result, _, err := proc.Call(uintptr(syscall.CTRL_BREAK_EVENT), uintptr(pid))
	if result == 0 {
		return err
	}
	return nil
}
