package state

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/restart"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const DefaultHealthHistory = 10

type Options struct {
	LogCapacity   int `yaml:"log_capacity,omitempty"`
	MetricWindow  int `yaml:"metric_window,omitempty"`
	HealthHistory int `yaml:"health_history,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		LogCapacity:   logcollection.DefaultRingCapacity,
		MetricWindow:  60,
		HealthHistory: DefaultHealthHistory,
	}
}

// State is the authoritative runtime state of every unit. It is owned by a
// single goroutine; Apply is deterministic and performs no I/O, so replaying
// the same ordered events from New always yields the same State.
type State struct {
	options  Options
	order    []unit.ID
	units    map[unit.ID]*UnitState
	lastSeq  map[unit.ID]uint64
	jobs     map[string]*jobs.Job
	jobOrder []string
	dropped  uint64
}

func New(graph *unit.Graph, options Options) *State {
	defaults := DefaultOptions()
	if options.LogCapacity <= 0 {
		options.LogCapacity = defaults.LogCapacity
	}
	if options.MetricWindow <= 0 {
		options.MetricWindow = defaults.MetricWindow
	}
	if options.HealthHistory <= 0 {
		options.HealthHistory = defaults.HealthHistory
	}

	s := &State{
		options: options,
		units:   make(map[unit.ID]*UnitState, graph.Len()),
		lastSeq: make(map[unit.ID]uint64, graph.Len()+1),
		jobs:    make(map[string]*jobs.Job),
	}
	for _, def := range graph.Units() {
		s.order = append(s.order, def.ID)
		s.units[def.ID] = newUnitState(def, options)
	}
	return s
}

// Apply folds ev into the state. It returns false when the event was dropped:
// unknown unit, missing payload, or a sequence number at or below the last
// one applied for that unit.
func (s *State) Apply(ev Event) bool {
	if ev.Payload == nil {
		s.dropped++
		return false
	}
	u := s.units[ev.UnitID]
	if u == nil && ev.UnitID != unit.AllUnits {
		s.dropped++
		return false
	}
	if ev.Seq <= s.lastSeq[ev.UnitID] {
		s.dropped++
		return false
	}
	s.lastSeq[ev.UnitID] = ev.Seq

	switch p := ev.Payload.(type) {
	case JobQueued:
		s.applyJobQueued(p)
		return true
	case JobStarted:
		s.applyJobStarted(p, ev.At)
		return true
	case JobFinished:
		s.applyJobFinished(p, ev.At)
		return true
	}

	if u == nil {
		return true
	}

	switch p := ev.Payload.(type) {
	case UserCommand:
		s.applyCommand(u, p.Command, ev.At)
	case Spawned:
		s.applySpawned(u, p, ev.At)
	case UnitFailed:
		s.applyUnitFailed(u, p, ev.At)
	case ProcessExited:
		s.applyExited(u, p, ev.At)
	case RestartScheduled:
		if u.Status == StatusRestarting && p.Generation == u.RestartGeneration {
			u.Handle = ""
			s.transition(u, StatusStarting, ev.At, fmt.Sprintf("restart %d", u.RestartCount))
		}
	case HealthCheckResult:
		if p.Handle == u.Handle {
			s.applyHealth(u, p.Result)
		}
	case MetricSample:
		s.applyMetrics(u, p)
	case LogLine:
		s.appendLog(u, ev.At, p.Stream, p.Level, p.Text, p.JobID)
	}
	return true
}

func (s *State) applyCommand(u *UnitState, cmd Command, at time.Time) {
	switch cmd.Kind {
	case CommandStart:
		s.start(u, at, "start requested")

	case CommandStop:
		switch u.Status {
		case StatusRunning, StatusStarting:
			if !u.StopRequested {
				u.StopRequested = true
				s.systemLog(u, at, logcollection.LevelInfo, "stop requested")
			}
		case StatusRestarting, StatusFailed:
			s.transition(u, StatusStopped, at, "stopped by user")
		}

	case CommandRestart:
		switch u.Status {
		case StatusRunning, StatusStarting:
			u.StopRequested = true
			u.RestartRequested = true
			s.systemLog(u, at, logcollection.LevelInfo, "restart requested")
		default:
			s.start(u, at, "restart requested")
		}

	case CommandKill:
		if u.Status == StatusStopped && u.Handle == "" {
			return
		}
		u.StopRequested = true
		u.RestartRequested = false
		u.Forced = true
		s.transition(u, StatusStopped, at, "killed")

	case CommandClearLogs:
		u.Logs.Clear()
	}
}

func (s *State) start(u *UnitState, at time.Time, detail string) {
	switch u.Status {
	case StatusPending, StatusStopped, StatusFailed, StatusRestarting:
	default:
		return
	}
	u.Handle = ""
	u.StopRequested = false
	u.RestartRequested = false
	u.Forced = false
	u.RestartExhausted = false
	u.Restart = restart.Tracker{}
	u.NextRestartDelay = 0
	s.transition(u, StatusStarting, at, detail)
}

func (s *State) applySpawned(u *UnitState, p Spawned, at time.Time) {
	switch {
	case u.Status == StatusStarting:
		u.Handle = p.Handle
		u.StartedAt = at
		u.Exited = false
		u.Health = monitoring.Tracker{}
		u.Unhealthy = false
		s.transition(u, StatusRunning, at, "handle "+string(p.Handle))
	case u.Forced && u.Handle == "":
		// killed while starting; keep the handle so it can be killed
		u.Handle = p.Handle
	}
}

func (s *State) applyUnitFailed(u *UnitState, p UnitFailed, at time.Time) {
	if u.Status != StatusStarting {
		return
	}
	u.Handle = ""
	u.LastError = p.Reason
	s.transition(u, StatusFailed, at, p.Reason)
	if u.StopRequested {
		u.StopRequested = false
		s.transition(u, StatusStopped, at, "stopped by user")
		return
	}
	s.applyRestartPolicy(u, at, false)
}

func (s *State) applyExited(u *UnitState, p ProcessExited, at time.Time) {
	if p.Handle == "" || p.Handle != u.Handle {
		return
	}
	u.Handle = ""
	u.Exited = true
	u.LastExitCode = p.Code

	switch {
	case u.Forced:
		u.Forced = false
		u.StopRequested = false
		s.systemLog(u, at, logcollection.LevelInfo, fmt.Sprintf("exited with code %d", p.Code))

	case u.StopRequested:
		u.StopRequested = false
		if u.RestartRequested {
			s.transition(u, StatusStopped, at, fmt.Sprintf("stopped for restart, exit code %d", p.Code))
			s.start(u, at, "restarting")
			return
		}
		s.transition(u, StatusStopped, at, fmt.Sprintf("stopped, exit code %d", p.Code))

	case u.Status == StatusRunning && p.Code == 0:
		s.applyRestartPolicy(u, at, true)

	case u.Status == StatusRunning:
		u.LastError = fmt.Sprintf("exited with code %d", p.Code)
		s.transition(u, StatusFailed, at, u.LastError)
		s.applyRestartPolicy(u, at, false)
	}
}

func (s *State) applyRestartPolicy(u *UnitState, at time.Time, cleanExit bool) {
	config := u.Definition.RestartConfig()
	tracker, decision := config.Decide(u.Restart, at, cleanExit)
	u.Restart = tracker

	switch {
	case decision.Restart:
		u.RestartCount++
		u.RestartGeneration++
		u.NextRestartDelay = decision.Delay
		s.transition(u, StatusRestarting, at,
			fmt.Sprintf("attempt %d/%d in %v", decision.Attempt+1, config.MaxAttempts, decision.Delay))
	case decision.Exhausted:
		u.RestartExhausted = true
		u.NextRestartDelay = 0
		u.LastError = fmt.Sprintf("restart budget exhausted: %d attempts within %v", config.MaxAttempts, config.Window)
		s.transition(u, StatusStopped, at, "restart exhausted, start manually")
	case cleanExit:
		s.transition(u, StatusStopped, at, "exited")
	}
}

func (s *State) applyHealth(u *UnitState, result monitoring.Result) {
	if u.Status != StatusRunning {
		return
	}

	u.HealthResults = append(u.HealthResults, result)
	if extra := len(u.HealthResults) - s.options.HealthHistory; extra > 0 {
		u.HealthResults = append([]monitoring.Result(nil), u.HealthResults[extra:]...)
	}

	failureThreshold, successThreshold := monitoring.DefaultFailureThreshold, monitoring.DefaultSuccessThreshold
	if config := u.Definition.HealthConfig(); config != nil {
		failureThreshold = config.RunOptions.FailureThreshold
		successThreshold = config.RunOptions.SuccessThreshold
	}

	wasUnhealthy := u.Unhealthy
	u.Health = u.Health.Observe(result.OK, failureThreshold, successThreshold)
	u.Unhealthy = u.Health.Unhealthy

	switch {
	case u.Unhealthy && !wasUnhealthy:
		s.systemLog(u, result.At, logcollection.LevelWarn,
			fmt.Sprintf("unhealthy after %d failed %s probes: %s", u.Health.ConsecutiveFailures, result.Kind, result.Message))
	case !u.Unhealthy && wasUnhealthy:
		s.systemLog(u, result.At, logcollection.LevelInfo,
			fmt.Sprintf("healthy again after %d %s probes", u.Health.ConsecutiveSuccesses, result.Kind))
	}
}

func (s *State) applyMetrics(u *UnitState, p MetricSample) {
	if u.Status != StatusRunning || p.Handle != u.Handle {
		return
	}
	sample := p.Sample
	total := u.Logs.Total()
	sample.LogRate = 0
	if !u.lastSampleAt.IsZero() && sample.At.After(u.lastSampleAt) {
		sample.LogRate = float64(total-u.logsAtLastSample) / sample.At.Sub(u.lastSampleAt).Seconds()
	}
	u.logsAtLastSample = total
	u.lastSampleAt = sample.At
	u.Metrics.Record(sample)
}

func (s *State) applyJobQueued(p JobQueued) {
	if _, exists := s.jobs[p.Job.ID]; exists {
		return
	}
	job := p.Job.Clone()
	s.jobs[job.ID] = &job
	s.jobOrder = append(s.jobOrder, job.ID)
	switch {
	case job.IsAggregate() && len(job.Children) == 0:
		s.refreshParent(job.ID, job.CreatedAt)
	case job.ParentID != "":
		s.refreshParent(job.ParentID, job.CreatedAt)
	}
}

func (s *State) applyJobStarted(p JobStarted, at time.Time) {
	job := s.jobs[p.JobID]
	if job == nil || job.Status != jobs.StatusQueued {
		return
	}
	job.Status = jobs.StatusRunning
	job.StartedAt = at
	s.refreshParent(job.ParentID, at)
}

func (s *State) applyJobFinished(p JobFinished, at time.Time) {
	job := s.jobs[p.JobID]
	if job == nil || job.Status.Finished() {
		return
	}
	job.ExitCode = p.ExitCode
	job.Error = p.Error
	switch {
	case p.Cancelled:
		job.Status = jobs.StatusCancelled
	case p.ExitCode == 0 && p.Error == "":
		job.Status = jobs.StatusSucceeded
	default:
		job.Status = jobs.StatusFailed
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = at
	}
	job.FinishedAt = at

	if u := s.units[job.UnitID]; u != nil {
		level := logcollection.LevelInfo
		text := fmt.Sprintf("job %s with exit code %d", job.Status, job.ExitCode)
		if job.Status == jobs.StatusFailed {
			level = logcollection.LevelError
			if job.Error != "" {
				text += ": " + job.Error
			}
		}
		s.appendLog(u, at, logcollection.StreamJob, level, text, job.ID)
	}
	s.refreshParent(job.ParentID, at)
}

func (s *State) refreshParent(parentID string, at time.Time) {
	parent := s.jobs[parentID]
	if parent == nil || parent.Status.Finished() {
		return
	}

	statuses := make([]jobs.Status, 0, len(parent.Children))
	for _, childID := range parent.Children {
		if child := s.jobs[childID]; child != nil {
			statuses = append(statuses, child.Status)
		} else {
			statuses = append(statuses, jobs.StatusQueued)
		}
	}

	status := jobs.Aggregate(statuses)
	if status == parent.Status {
		return
	}
	if status != jobs.StatusQueued && parent.StartedAt.IsZero() {
		parent.StartedAt = at
	}
	parent.Status = status
	if status.Finished() {
		parent.FinishedAt = at
		if status != jobs.StatusSucceeded {
			parent.ExitCode = 1
		}
	}
}

func (s *State) appendLog(u *UnitState, at time.Time, stream logcollection.Stream, level logcollection.Level, text, jobID string) {
	u.Logs.Append(logcollection.Entry{
		Time:   at,
		Level:  level,
		Stream: stream,
		Text:   text,
		Unit:   string(u.Definition.ID),
		JobID:  jobID,
	})
	if jobID != "" {
		if job := s.jobs[jobID]; job != nil {
			job.OutputLines++
		}
	}
}

func (s *State) systemLog(u *UnitState, at time.Time, level logcollection.Level, text string) {
	s.appendLog(u, at, logcollection.StreamSystem, level, text, "")
}

func (s *State) transition(u *UnitState, to Status, at time.Time, detail string) {
	if u.Status == to {
		return
	}
	from := u.Status
	u.Status = to

	level := logcollection.LevelInfo
	switch {
	case to == StatusFailed:
		level = logcollection.LevelError
	case to == StatusStopped && u.RestartExhausted, to == StatusRestarting:
		level = logcollection.LevelWarn
	}
	text := fmt.Sprintf("status %s -> %s", from, to)
	if detail != "" {
		text += ": " + detail
	}
	s.systemLog(u, at, level, text)
}

// Unit gives the owning goroutine direct access to a unit record.
func (s *State) Unit(id unit.ID) *UnitState {
	return s.units[id]
}

// IDs returns unit ids in load order.
func (s *State) IDs() []unit.ID {
	return append([]unit.ID(nil), s.order...)
}

func (s *State) Job(id string) (jobs.Job, bool) {
	job := s.jobs[id]
	if job == nil {
		return jobs.Job{}, false
	}
	return job.Clone(), true
}

func (s *State) LastSeq(id unit.ID) uint64 {
	return s.lastSeq[id]
}

// Dropped counts events rejected by Apply.
func (s *State) Dropped() uint64 {
	return s.dropped
}

// Clone returns a deep copy, used to hand snapshots to other goroutines.
func (s *State) Clone() *State {
	clone := &State{
		options:  s.options,
		order:    append([]unit.ID(nil), s.order...),
		units:    make(map[unit.ID]*UnitState, len(s.units)),
		lastSeq:  make(map[unit.ID]uint64, len(s.lastSeq)),
		jobs:     make(map[string]*jobs.Job, len(s.jobs)),
		jobOrder: append([]string(nil), s.jobOrder...),
		dropped:  s.dropped,
	}
	for id, u := range s.units {
		clone.units[id] = u.clone()
	}
	for id, seq := range s.lastSeq {
		clone.lastSeq[id] = seq
	}
	for id, job := range s.jobs {
		copied := job.Clone()
		clone.jobs[id] = &copied
	}
	return clone
}
