package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

// Result is the captured outcome of one CLI invocation.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Stream is a CLI invocation whose output is consumed while it runs.
type Stream struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	wait   func() (int, error)
}

// NewStream wraps pipes produced by a Runner other than CLIRunner.
func NewStream(stdout, stderr io.ReadCloser, wait func() (int, error)) *Stream {
	return &Stream{Stdout: stdout, Stderr: stderr, wait: wait}
}

// Wait returns the exit code once both output pipes are drained.
func (s *Stream) Wait() (int, error) {
	return s.wait()
}

// Runner executes the container CLI.
type Runner interface {
	Run(ctx context.Context, args ...string) (*Result, error)
	Start(ctx context.Context, args ...string) (*Stream, error)
}

// CLIRunner runs Binary (docker or a compatible CLI such as podman).
type CLIRunner struct {
	Binary string
}

func NewCLIRunner(binary string) *CLIRunner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLIRunner{Binary: binary}
}

func (r *CLIRunner) command(args []string) string {
	return fmt.Sprintf("%s %s", r.Binary, strings.Join(args, " "))
}

func (r *CLIRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Command:  r.command(args),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return result, errors.NewTimeoutError("container command interrupted", ctx.Err()).WithContext("command", result.Command)
	}
	if _, isExit := err.(*exec.ExitError); isExit {
		return result, errors.NewAdapterError(
			fmt.Sprintf("container command exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)), nil).
			WithContext("command", result.Command)
	}
	if err != nil {
		return result, errors.NewAdapterError("container command failed", err).WithContext("command", result.Command)
	}
	return result, nil
}

func (r *CLIRunner) Start(ctx context.Context, args ...string) (*Stream, error) {
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewAdapterError("failed to create stdout pipe", err).WithContext("command", r.command(args))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.NewAdapterError("failed to create stderr pipe", err).WithContext("command", r.command(args))
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.NewAdapterError("failed to start container command", err).WithContext("command", r.command(args))
	}

	return &Stream{
		Stdout: stdout,
		Stderr: stderr,
		wait: func() (int, error) {
			err := cmd.Wait()
			code := cmd.ProcessState.ExitCode()
			if _, isExit := err.(*exec.ExitError); err != nil && !isExit {
				return code, errors.NewAdapterError("container command failed", err).WithContext("command", r.command(args))
			}
			return code, nil
		},
	}, nil
}
