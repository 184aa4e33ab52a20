package state

import (
	"time"

	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/restart"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
	StatusRestarting Status = "restarting"
)

// UnitState is the runtime record of one unit. It lives as long as the
// engine, so history stays inspectable after the backend exits.
type UnitState struct {
	Definition unit.Definition

	Status    Status
	Unhealthy bool
	Handle    unit.Handle
	StartedAt time.Time

	// StopRequested marks a user stop in progress; the next exit is not a failure.
	StopRequested bool
	// RestartRequested turns the exit that follows a stop into a new start.
	RestartRequested bool
	// Forced marks a kill: the handle must be killed without grace.
	Forced bool

	Exited       bool
	LastExitCode int
	LastError    string

	Restart           restart.Tracker
	RestartExhausted  bool
	RestartCount      int
	RestartGeneration uint64
	NextRestartDelay  time.Duration

	Health        monitoring.Tracker
	HealthResults []monitoring.Result

	Logs    *logcollection.Ring
	Metrics *metrics.Set

	logsAtLastSample uint64
	lastSampleAt     time.Time
}

func newUnitState(def unit.Definition, options Options) *UnitState {
	return &UnitState{
		Definition: def,
		Status:     StatusPending,
		Logs:       logcollection.NewRing(options.LogCapacity),
		Metrics:    metrics.NewSet(options.MetricWindow),
	}
}

// Active reports whether the unit currently owns a backend instance or is
// about to.
func (u *UnitState) Active() bool {
	return u.Status == StatusStarting || u.Status == StatusRunning
}

func (u *UnitState) clone() *UnitState {
	clone := *u
	clone.HealthResults = append([]monitoring.Result(nil), u.HealthResults...)
	clone.Logs = u.Logs.Clone()
	clone.Metrics = u.Metrics.Clone()
	return &clone
}
