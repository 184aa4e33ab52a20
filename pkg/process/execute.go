package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/logging"
)

type ExecutionConfig struct {
	// Command is run through the platform shell.
	Command          string   `yaml:"command"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
}

// Instance is a started process. The process leads its own process group so
// signals reach the whole tree.
type Instance struct {
	Pid    int
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd      *exec.Cmd
	waitOnce sync.Once
	exitCode int
	waitErr  error
}

type StdExecuteCmd func(ctx context.Context) (*Instance, error)

func NewStdExecuteCmd(execution ExecutionConfig, id string, logger logging.Logger) StdExecuteCmd {
	return func(ctx context.Context) (*Instance, error) {
		if ctx == nil {
			return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
		}
		if err := ValidateExecutionConfig(execution); err != nil {
			logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError("spawn cancelled", err).WithContext("id", id)
		}

		shell, args := shellCommand(execution.Command)

		// Not bound to ctx: the process is stopped through its process group.
		cmd := exec.Command(shell, args...)
		cmd.Dir = execution.WorkingDirectory
		cmd.Env = append(os.Environ(), execution.Environment...)
		setupProcessAttributes(cmd)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errors.NewSpawnError("failed to create stdout pipe", err).WithContext("id", id)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, errors.NewSpawnError("failed to create stderr pipe", err).WithContext("id", id)
		}

		logger.Debugf("Executing process, id: %s, command: '%s', working directory: '%s'",
			id, execution.Command, execution.WorkingDirectory)

		if err := cmd.Start(); err != nil {
			return nil, errors.NewSpawnError("failed to start the process", err).
				WithContext("id", id).
				WithContext("command", execution.Command)
		}

		logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

		return &Instance{
			Pid:    cmd.Process.Pid,
			Stdout: stdout,
			Stderr: stderr,
			cmd:    cmd,
		}, nil
	}
}

// Wait blocks until the process exits and returns its exit code. A process
// ended by a signal reports the negated signal number. Output pipes must be
// drained before calling Wait.
func (i *Instance) Wait() (int, error) {
	i.waitOnce.Do(func() {
		err := i.cmd.Wait()
		if i.cmd.ProcessState != nil {
			i.exitCode = exitCode(i.cmd.ProcessState)
		}
		if _, isExit := err.(*exec.ExitError); err != nil && !isExit {
			i.waitErr = errors.NewIOError("failed to wait for process", err).WithContext("pid", i.Pid)
		}
	})
	return i.exitCode, i.waitErr
}

// Terminate asks the process group to exit.
func (i *Instance) Terminate() error {
	return SendTerminationSignal(i.Pid)
}

// Kill ends the process group without grace.
func (i *Instance) Kill() error {
	return KillProcessGroup(i.Pid)
}
