package state

import (
	"time"

	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/restart"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

// UnitSnapshot is an immutable copy of one unit's state for rendering.
type UnitSnapshot struct {
	ID          unit.ID   `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Kind        unit.Kind `json:"kind"`
	DependsOn   []unit.ID `json:"depends_on,omitempty"`

	Status    Status      `json:"status"`
	Unhealthy bool        `json:"unhealthy"`
	Handle    unit.Handle `json:"handle,omitempty"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	Stopping  bool        `json:"stopping"`

	Exited       bool   `json:"exited"`
	LastExitCode int    `json:"last_exit_code"`
	LastError    string `json:"last_error,omitempty"`

	Restart          restart.Tracker `json:"restart"`
	RestartExhausted bool            `json:"restart_exhausted"`
	RestartCount     int             `json:"restart_count"`
	NextRestartDelay time.Duration   `json:"next_restart_delay"`

	Health        monitoring.Tracker  `json:"health"`
	HealthResults []monitoring.Result `json:"health_results,omitempty"`

	Logs        []logcollection.Entry            `json:"logs"`
	LogsTotal   uint64                           `json:"logs_total"`
	LogsEvicted uint64                           `json:"logs_evicted"`
	Metrics     map[metrics.Kind][]metrics.Point `json:"metrics"`
}

// Uptime is zero unless the unit is running.
func (u UnitSnapshot) Uptime(now time.Time) time.Duration {
	if u.Status != StatusRunning || u.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(u.StartedAt)
}

// LatestMetric returns the newest value of kind, or zero.
func (u UnitSnapshot) LatestMetric(kind metrics.Kind) float64 {
	points := u.Metrics[kind]
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Value
}

// Snapshot is a consistent view of the whole engine at one point in the
// event order.
type Snapshot struct {
	Units   []UnitSnapshot `json:"units"`
	Jobs    []jobs.Job     `json:"jobs"`
	Dropped uint64         `json:"dropped"`
}

func (s Snapshot) Unit(id unit.ID) (UnitSnapshot, bool) {
	for _, u := range s.Units {
		if u.ID == id {
			return u, true
		}
	}
	return UnitSnapshot{}, false
}

func (s Snapshot) Job(id string) (jobs.Job, bool) {
	for _, job := range s.Jobs {
		if job.ID == id {
			return job, true
		}
	}
	return jobs.Job{}, false
}

// CountByStatus tallies units per status.
func (s Snapshot) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	for _, u := range s.Units {
		counts[u.Status]++
	}
	return counts
}

// CountByStatus tallies units per status without copying them.
func (s *State) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	for _, u := range s.units {
		counts[u.Status]++
	}
	return counts
}

func (s *State) Snapshot() Snapshot {
	snapshot := Snapshot{
		Units:   make([]UnitSnapshot, 0, len(s.order)),
		Jobs:    make([]jobs.Job, 0, len(s.jobOrder)),
		Dropped: s.dropped,
	}
	for _, id := range s.order {
		snapshot.Units = append(snapshot.Units, s.units[id].snapshot())
	}
	for _, id := range s.jobOrder {
		snapshot.Jobs = append(snapshot.Jobs, s.jobs[id].Clone())
	}
	return snapshot
}

func (u *UnitState) snapshot() UnitSnapshot {
	def := u.Definition
	series := make(map[metrics.Kind][]metrics.Point, len(metrics.Kinds))
	for _, kind := range metrics.Kinds {
		series[kind] = u.Metrics.Series(kind).Points()
	}
	return UnitSnapshot{
		ID:               def.ID,
		Name:             def.DisplayName(),
		Description:      def.Description,
		Kind:             def.Kind,
		DependsOn:        append([]unit.ID(nil), def.DependsOn...),
		Status:           u.Status,
		Unhealthy:        u.Unhealthy,
		Handle:           u.Handle,
		StartedAt:        u.StartedAt,
		Stopping:         u.StopRequested && u.Active(),
		Exited:           u.Exited,
		LastExitCode:     u.LastExitCode,
		LastError:        u.LastError,
		Restart:          u.Restart,
		RestartExhausted: u.RestartExhausted,
		RestartCount:     u.RestartCount,
		NextRestartDelay: u.NextRestartDelay,
		Health:           u.Health,
		HealthResults:    append([]monitoring.Result(nil), u.HealthResults...),
		Logs:             u.Logs.Entries(),
		LogsTotal:        u.Logs.Total(),
		LogsEvicted:      u.Logs.Evicted(),
		Metrics:          series,
	}
}
