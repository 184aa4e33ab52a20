//go:build !windows

package process

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/logging"
)

func start(t *testing.T, execution ExecutionConfig) *Instance {
	t.Helper()
	instance, err := NewStdExecuteCmd(execution, "test", logging.NewNopLogger())(context.Background())
	require.NoError(t, err)
	return instance
}

func drain(instance *Instance) (string, string) {
	var stdout, stderr []byte
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); stdout, _ = io.ReadAll(instance.Stdout) }()
	go func() { defer wg.Done(); stderr, _ = io.ReadAll(instance.Stderr) }()
	wg.Wait()
	return string(stdout), string(stderr)
}

func TestExecute_SeparatesStreamsAndReportsExitCode(t *testing.T) {
	instance := start(t, ExecutionConfig{
		Command:     `echo "out $GREETING"; echo err >&2; exit 3`,
		Environment: []string{"GREETING=hello"},
	})
	assert.Greater(t, instance.Pid, 0)

	stdout, stderr := drain(instance)
	code, err := instance.Wait()
	require.NoError(t, err)

	assert.Equal(t, "out hello\n", stdout)
	assert.Equal(t, "err\n", stderr)
	assert.Equal(t, 3, code)

	// Wait is idempotent
	again, err := instance.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, again)
}

func TestExecute_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	instance := start(t, ExecutionConfig{Command: "pwd -P", WorkingDirectory: dir})
	stdout, _ := drain(instance)
	_, err := instance.Wait()
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), filepath.Base(strings.TrimSpace(stdout)))
}

func TestExecute_TerminateAndKillProcessGroup(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		signal   func(*Instance) error
		expected int
	}{
		{
			name:     "terminate",
			command:  "sleep 30",
			signal:   (*Instance).Terminate,
			expected: -15,
		},
		{
			name:     "kill ignores traps",
			command:  "trap '' TERM; sleep 30 & wait",
			signal:   (*Instance).Kill,
			expected: -9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance := start(t, ExecutionConfig{Command: tt.command})
			time.Sleep(100 * time.Millisecond)
			require.NoError(t, tt.signal(instance))

			done := make(chan int, 1)
			go func() {
				drain(instance)
				code, _ := instance.Wait()
				done <- code
			}()

			select {
			case code := <-done:
				assert.Equal(t, tt.expected, code)
			case <-time.After(5 * time.Second):
				_ = instance.Kill()
				t.Fatal("process group did not exit")
			}
		})
	}
}

func TestExecute_SignalAfterExitIsNotAnError(t *testing.T) {
	instance := start(t, ExecutionConfig{Command: "true"})
	drain(instance)
	_, err := instance.Wait()
	require.NoError(t, err)

	assert.NoError(t, instance.Terminate())
	assert.NoError(t, instance.Kill())
}

func TestExecute_RejectsInvalidConfig(t *testing.T) {
	_, err := NewStdExecuteCmd(ExecutionConfig{}, "test", logging.NewNopLogger())(context.Background())
	assert.True(t, errors.IsValidationError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewStdExecuteCmd(ExecutionConfig{Command: "true"}, "test", logging.NewNopLogger())(ctx)
	assert.True(t, errors.IsCancelledError(err))
}

func TestValidateExecutionConfig(t *testing.T) {
	file := t.TempDir() + "/file"
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name      string
		config    ExecutionConfig
		shouldErr bool
	}{
		{"valid", ExecutionConfig{Command: "echo hi", Environment: []string{"A=1", "B="}}, false},
		{"valid working directory", ExecutionConfig{Command: "ls", WorkingDirectory: t.TempDir()}, false},
		{"empty command", ExecutionConfig{Command: "  "}, true},
		{"missing working directory", ExecutionConfig{Command: "ls", WorkingDirectory: "/does/not/exist"}, true},
		{"working directory is a file", ExecutionConfig{Command: "ls", WorkingDirectory: file}, true},
		{"env without equals", ExecutionConfig{Command: "ls", Environment: []string{"NOPE"}}, true},
		{"env without key", ExecutionConfig{Command: "ls", Environment: []string{"=1"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.shouldErr {
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
