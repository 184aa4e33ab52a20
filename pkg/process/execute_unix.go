//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func shellCommand(command string) (string, []string) {
	return "/bin/sh", []string{"-c", command}
}

// setupProcessAttributes puts the child in a new process group, so that
// signalling -pid reaches the child and everything it spawned.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func exitCode(state *os.ProcessState) int {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -int(status.Signal())
	}
	return state.ExitCode()
}
