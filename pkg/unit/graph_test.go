package unit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/restart"
)

func proc(id ID, deps ...ID) Definition {
	return Definition{ID: id, Kind: KindProcess, Command: "sleep 1", DependsOn: deps}
}

func TestNewGraph_StartOrder(t *testing.T) {
	graph, err := NewGraph([]Definition{
		proc("web", "api"),
		proc("api", "db", "cache"),
		proc("worker", "db"),
		proc("db"),
		proc("cache"),
	})
	require.NoError(t, err)

	assert.Equal(t, [][]ID{{"cache", "db"}, {"api", "worker"}, {"web"}}, graph.Levels())
	assert.Equal(t, []ID{"cache", "db", "api", "worker", "web"}, graph.StartOrder())
	assert.Equal(t, []ID{"api", "worker"}, graph.Dependents("db"))
	assert.Equal(t, 5, graph.Len())

	def, ok := graph.Get("api")
	require.True(t, ok)
	assert.Equal(t, []ID{"db", "cache"}, def.DependsOn)
}

func TestNewGraph_RejectsCycles(t *testing.T) {
	tests := []struct {
		name  string
		defs  []Definition
		cycle string
	}{
		{
			name:  "self dependency",
			defs:  []Definition{proc("a", "a")},
			cycle: "a -> a",
		},
		{
			name:  "two units",
			defs:  []Definition{proc("a", "b"), proc("b", "a")},
			cycle: "a -> b -> a",
		},
		{
			name:  "cycle behind an acyclic prefix",
			defs:  []Definition{proc("root"), proc("x", "root", "y"), proc("y", "z"), proc("z", "x")},
			cycle: "x -> y -> z -> x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := NewGraph(tt.defs)
			require.Error(t, err)
			assert.Nil(t, graph)
			assert.True(t, errors.IsGraphCycleError(err))
			assert.True(t, errors.IsFatal(err))
			assert.Contains(t, err.Error(), tt.cycle)
		})
	}
}

func TestNewGraph_Validation(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"duplicate id", []Definition{proc("a"), proc("a")}},
		{"unknown dependency", []Definition{proc("a", "ghost")}},
		{"reserved id", []Definition{proc(AllUnits)}},
		{"missing command", []Definition{{ID: "a", Kind: KindProcess}}},
		{"container without image", []Definition{{ID: "a", Kind: KindContainer}}},
		{"unknown kind", []Definition{{ID: "a", Kind: "vm", Command: "x"}}},
		{"bad health", []Definition{{ID: "a", Kind: KindProcess, Command: "x", Health: &monitoring.HealthCheckConfig{Type: monitoring.HealthCheckTypeHTTP, HTTP: monitoring.HTTPHealthCheckConfig{Path: "/health"}}}}},
		{"bad restart", []Definition{{ID: "a", Kind: KindProcess, Command: "x", Restart: &restart.Config{Policy: "sometimes"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.defs)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
			assert.False(t, errors.IsFatal(err))
		})
	}
}

func TestDefinition_Defaults(t *testing.T) {
	def := Definition{
		ID:      "api",
		Kind:    KindProcess,
		Command: "./api",
		Port:    8080,
		Env:     map[string]string{"B": "2", "A": "1"},
		Health:  &monitoring.HealthCheckConfig{Type: monitoring.HealthCheckTypeHTTP, HTTP: monitoring.HTTPHealthCheckConfig{Path: "/health"}},
		Restart: &restart.Config{MaxAttempts: 5},
	}

	assert.Equal(t, "api", def.DisplayName())
	assert.Equal(t, DefaultStopGrace, def.Grace())
	assert.Equal(t, []string{"A=1", "B=2"}, def.EnvList())
	assert.Equal(t, "http://127.0.0.1:8080/health", def.HealthConfig().HTTP.URL)
	assert.Equal(t, 5, def.RestartConfig().MaxAttempts)
	assert.Equal(t, restart.DefaultBaseDelay, def.RestartConfig().BaseDelay)

	def.StopGrace = 3 * time.Second
	def.Name = "API server"
	assert.Equal(t, 3*time.Second, def.Grace())
	assert.Equal(t, "API server", def.DisplayName())
	assert.Nil(t, proc("db").HealthConfig())
}
