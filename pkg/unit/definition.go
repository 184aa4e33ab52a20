package unit

import (
	"sort"
	"time"

	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/restart"
)

// ID uniquely identifies a unit within a graph
type ID string

// AllUnits addresses every unit of the graph in job requests.
const AllUnits ID = "all"

type Kind string

const (
	KindProcess   Kind = "process"
	KindContainer Kind = "container"
)

// Handle is the backend reference of a running unit: a pid for processes,
// a container id for containers.
type Handle string

const DefaultStopGrace = 10 * time.Second

// Definition describes one supervised unit. It is immutable once the graph
// is built.
type Definition struct {
	ID          ID                `yaml:"id"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Kind        Kind              `yaml:"kind"`
	Command     string            `yaml:"command,omitempty"`
	Image       string            `yaml:"image,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Port        int               `yaml:"port,omitempty"`
	DependsOn   []ID              `yaml:"depends_on,omitempty"`
	Autostart   bool              `yaml:"autostart,omitempty"`
	StopGrace   time.Duration     `yaml:"stop_grace,omitempty"`

	Health  *monitoring.HealthCheckConfig `yaml:"health,omitempty"`
	Restart *restart.Config               `yaml:"restart,omitempty"`
}

func (d Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return string(d.ID)
}

// RestartConfig returns the default restart policy with the unit overrides applied.
func (d Definition) RestartConfig() restart.Config {
	return restart.DefaultConfig().Merge(d.Restart)
}

// HealthConfig returns the health check with defaults resolved against the
// unit port, or nil when the unit has no health check.
func (d Definition) HealthConfig() *monitoring.HealthCheckConfig {
	if d.Health == nil {
		return nil
	}
	config := d.Health.WithDefaults(d.Port)
	return &config
}

func (d Definition) Grace() time.Duration {
	if d.StopGrace > 0 {
		return d.StopGrace
	}
	return DefaultStopGrace
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (d Definition) EnvList() []string {
	keys := make([]string, 0, len(d.Env))
	for key := range d.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+d.Env[key])
	}
	return out
}
