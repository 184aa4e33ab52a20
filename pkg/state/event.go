package state

import (
	"time"

	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

// ExitCodeKilled is reported when a unit had to be force-killed.
const ExitCodeKilled = -9

type EventKind string

const (
	EventLogLine           EventKind = "log_line"
	EventMetricSample      EventKind = "metric_sample"
	EventHealthCheckResult EventKind = "health_check_result"
	EventProcessExited     EventKind = "process_exited"
	EventUserCommand       EventKind = "user_command"
	EventRestartScheduled  EventKind = "restart_scheduled"
	EventSpawned           EventKind = "spawned"
	EventUnitFailed        EventKind = "unit_failed"
	EventJobQueued         EventKind = "job_queued"
	EventJobStarted        EventKind = "job_started"
	EventJobFinished       EventKind = "job_finished"
)

// Payload is implemented by every event variant.
type Payload interface {
	Kind() EventKind
}

// Event is one asynchronous occurrence. Seq is assigned per UnitID when the
// event is enqueued; the reducer drops events whose Seq it has already seen.
type Event struct {
	UnitID  unit.ID
	Seq     uint64
	At      time.Time
	Payload Payload
}

func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Droppable events may be evicted from a full event queue. Lifecycle events
// never are.
func (e Event) Droppable() bool {
	switch e.Kind() {
	case EventLogLine, EventMetricSample, EventHealthCheckResult:
		return true
	default:
		return false
	}
}

type LogLine struct {
	Stream logcollection.Stream
	Level  logcollection.Level
	Text   string
	JobID  string
}

// MetricSample and HealthCheckResult carry the handle of the instance they
// were taken from; results for any other instance are ignored.
type MetricSample struct {
	Handle unit.Handle
	Sample metrics.Sample
}

type HealthCheckResult struct {
	Handle unit.Handle
	Result monitoring.Result
}

type ProcessExited struct {
	Handle unit.Handle
	Code   int
}

type UserCommand struct {
	Command Command
}

// RestartScheduled fires when the backoff delay of a restart has elapsed.
// Generation ties it to the failure that scheduled it.
type RestartScheduled struct {
	Generation uint64
}

type Spawned struct {
	Handle unit.Handle
}

type UnitFailed struct {
	Reason string
}

type JobQueued struct {
	Job jobs.Job
}

type JobStarted struct {
	JobID string
}

type JobFinished struct {
	JobID     string
	ExitCode  int
	Error     string
	Cancelled bool
}

func (LogLine) Kind() EventKind           { return EventLogLine }
func (MetricSample) Kind() EventKind      { return EventMetricSample }
func (HealthCheckResult) Kind() EventKind { return EventHealthCheckResult }
func (ProcessExited) Kind() EventKind     { return EventProcessExited }
func (UserCommand) Kind() EventKind       { return EventUserCommand }
func (RestartScheduled) Kind() EventKind  { return EventRestartScheduled }
func (Spawned) Kind() EventKind           { return EventSpawned }
func (UnitFailed) Kind() EventKind        { return EventUnitFailed }
func (JobQueued) Kind() EventKind         { return EventJobQueued }
func (JobStarted) Kind() EventKind        { return EventJobStarted }
func (JobFinished) Kind() EventKind       { return EventJobFinished }
