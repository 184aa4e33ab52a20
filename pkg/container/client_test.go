package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	ret := m.Called(args)
	result, _ := ret.Get(0).(*Result)
	return result, ret.Error(1)
}

func (m *mockRunner) Start(ctx context.Context, args ...string) (*Stream, error) {
	ret := m.Called(args)
	stream, _ := ret.Get(0).(*Stream)
	return stream, ret.Error(1)
}

func newTestClient(runner Runner) *Client {
	return NewClient(Config{}, runner, logging.NewNopLogger())
}

func TestClient_RunArgs(t *testing.T) {
	client := newTestClient(&mockRunner{})

	args := client.RunArgs(unit.Definition{
		ID:      "cache",
		Kind:    unit.KindContainer,
		Image:   "redis:7",
		Command: "redis-server --save ''",
		Cwd:     "/data",
		Env:     map[string]string{"B": "2", "A": "1"},
		Port:    6379,
	})

	assert.Equal(t, []string{
		"run", "-d", "--name", "hsu-cache", "--label", "hsu.unit=cache",
		"-w", "/data",
		"-e", "A=1", "-e", "B=2",
		"-p", "6379:6379",
		"redis:7", "sh", "-c", "redis-server --save ''",
	}, args)

	minimal := client.RunArgs(unit.Definition{ID: "db", Kind: unit.KindContainer, Image: "postgres:16"})
	assert.Equal(t, []string{"run", "-d", "--name", "hsu-db", "--label", "hsu.unit=db", "postgres:16"}, minimal)
}

func TestClient_RunRemovesLeftoverContainer(t *testing.T) {
	runner := &mockRunner{}
	client := newTestClient(runner)
	def := unit.Definition{ID: "db", Kind: unit.KindContainer, Image: "postgres:16"}

	runner.On("Run", []string{"rm", "-f", "hsu-db"}).Return(nil, errors.NewAdapterError("no such container", nil)).Once()
	runner.On("Run", client.RunArgs(def)).Return(&Result{Stdout: "Unable to find image locally\n3f4e5d6c7b8a9f0e1d2c\n"}, nil).Once()

	containerID, err := client.Run(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "3f4e5d6c7b8a9f0e1d2c", containerID)
	runner.AssertExpectations(t)
}

func TestClient_RunFailureIsSpawnError(t *testing.T) {
	runner := &mockRunner{}
	client := newTestClient(runner)
	def := unit.Definition{ID: "db", Kind: unit.KindContainer, Image: "missing:latest"}

	runner.On("Run", []string{"rm", "-f", "hsu-db"}).Return(&Result{}, nil)
	runner.On("Run", client.RunArgs(def)).Return(nil, errors.NewAdapterError("pull access denied", nil))

	_, err := client.Run(context.Background(), def)
	assert.True(t, errors.IsSpawnError(err))
	assert.True(t, errors.IsAdapterError(err))
}

func TestClient_LifecycleCommands(t *testing.T) {
	runner := &mockRunner{}
	client := newTestClient(runner)
	ctx := context.Background()

	runner.On("Run", []string{"wait", "abc"}).Return(&Result{Stdout: "137\n"}, nil)
	runner.On("Run", []string{"stop", "-t", "3", "abc"}).Return(&Result{}, nil)
	runner.On("Run", []string{"stop", "-t", "10", "abc"}).Return(&Result{}, nil)
	runner.On("Run", []string{"kill", "abc"}).Return(&Result{}, nil)
	runner.On("Run", []string{"rm", "-f", "abc"}).Return(&Result{}, nil)
	runner.On("Run", []string{"inspect", "--format", "{{json .State}}", "abc"}).
		Return(&Result{Stdout: `{"Status":"running","Running":true,"ExitCode":0,"Pid":4242,"StartedAt":"2025-01-01T12:00:00Z"}`}, nil)

	code, err := client.Wait(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 137, code)

	require.NoError(t, client.Stop(ctx, "abc", 3*time.Second))
	require.NoError(t, client.Stop(ctx, "abc", 0))
	require.NoError(t, client.Kill(ctx, "abc"))
	require.NoError(t, client.Remove(ctx, "abc"))

	state, err := client.Inspect(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.Equal(t, 4242, state.Pid)

	runner.AssertExpectations(t)
}

func TestClient_List(t *testing.T) {
	runner := &mockRunner{}
	client := newTestClient(runner)
	runner.On("Run", []string{"ps", "-a", "--filter", "label=hsu.unit", "--format", "{{.Names}}"}).
		Return(&Result{Stdout: "hsu-web\nhsu-cache\n\n"}, nil)

	names, err := client.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hsu-cache", "hsu-web"}, names)
}

func TestParseStats(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		expected  metrics.Usage
		shouldErr bool
	}{
		{
			name: "docker output",
			line: `{"BlockIO":"0B / 0B","CPUPerc":"0.52%","MemUsage":"10.5MiB / 1.9GiB","Name":"hsu-cache","NetIO":"1.2kB / 648B","PIDs":"5"}`,
			expected: metrics.Usage{
				CPUPercent:  0.52,
				MemoryBytes: 11010048,
				NetRxBytes:  1200,
				NetTxBytes:  648,
			},
		},
		{
			name:     "stopped container",
			line:     `{"CPUPerc":"--","MemUsage":"--","NetIO":"--"}`,
			expected: metrics.Usage{},
		},
		{
			name:      "not json",
			line:      "Error: no such container",
			shouldErr: true,
		},
		{
			name:      "broken size pair",
			line:      `{"CPUPerc":"1%","MemUsage":"10MiB","NetIO":"0B / 0B"}`,
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage, err := ParseStats(tt.line)
			if tt.shouldErr {
				assert.True(t, errors.IsAdapterError(err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected.CPUPercent, usage.CPUPercent, 1e-9)
			assert.Equal(t, tt.expected.MemoryBytes, usage.MemoryBytes)
			assert.Equal(t, tt.expected.NetRxBytes, usage.NetRxBytes)
			assert.Equal(t, tt.expected.NetTxBytes, usage.NetTxBytes)
		})
	}
}
