//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func shellCommand(command string) (string, []string) {
	return "cmd", []string{"/C", command}
}

// setupProcessAttributes starts the child in its own process group so it can
// receive Ctrl+Break without the supervisor receiving it too.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}
