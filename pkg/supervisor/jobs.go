package supervisor

import (
	"context"
	"time"

	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const reasonNotRunning = "unit is not running"

func (s *Supervisor) dispatchJob(cmd state.Command, at time.Time) {
	if cmd.Target == unit.AllUnits {
		s.dispatchFanOut(cmd, at)
		return
	}

	job := jobs.New(cmd.Target, cmd.Exec, at)
	if cmd.JobID != "" {
		job.ID = cmd.JobID
	}
	s.logger.Infof("Dispatching job, id: %s, unit: %s, command: %s", job.ID, job.UnitID, job.Command)
	s.queue.Push(job.UnitID, state.JobQueued{Job: job})
	s.execJob(job)
}

// dispatchFanOut creates the aggregate job and one child per eligible unit.
// The aggregate is queued first so every child finds its parent.
func (s *Supervisor) dispatchFanOut(cmd state.Command, at time.Time) {
	parent := jobs.New(unit.AllUnits, cmd.Exec, at)
	if cmd.JobID != "" {
		parent.ID = cmd.JobID
	}

	var children []jobs.Job
	for _, id := range s.state.IDs() {
		if !jobEligible(s.state.Unit(id)) {
			continue
		}
		child := jobs.New(id, cmd.Exec, at)
		child.ParentID = parent.ID
		parent.Children = append(parent.Children, child.ID)
		children = append(children, child)
	}

	s.logger.Infof("Dispatching job to all units, id: %s, units: %d, command: %s", parent.ID, len(children), parent.Command)
	s.queue.Push(unit.AllUnits, state.JobQueued{Job: parent})
	for _, child := range children {
		s.queue.Push(child.UnitID, state.JobQueued{Job: child})
		s.execJob(child)
	}
}

// jobEligible reports whether a job can run against u. Process jobs run as
// siblings of the unit; container jobs need the container.
func jobEligible(u *state.UnitState) bool {
	if u.Definition.Kind == unit.KindContainer {
		return u.Status == state.StatusRunning && u.Handle != ""
	}
	return true
}

func (s *Supervisor) execJob(job jobs.Job) {
	u := s.state.Unit(job.UnitID)
	if !jobEligible(u) {
		s.queue.Push(job.UnitID, state.JobFinished{JobID: job.ID, ExitCode: -1, Error: reasonNotRunning})
		return
	}
	eng, err := s.engines.For(u.Definition.Kind)
	if err != nil {
		s.queue.Push(job.UnitID, state.JobFinished{JobID: job.ID, ExitCode: -1, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.jobCancels[job.ID] = cancel
	eng.Exec(ctx, u.Handle, u.Definition, job.Spec(), s.emitter(job.UnitID))
}

// cancelJob cancels a running job, or every running child of an aggregate.
// Engines report the cancellation as a finished job.
func (s *Supervisor) cancelJob(id string) {
	job, ok := s.state.Job(id)
	if !ok {
		s.logger.Warnf("Cannot cancel job, id: %s, reason: not found", id)
		return
	}

	ids := []string{job.ID}
	if job.IsAggregate() {
		ids = job.Children
	}
	cancelled := 0
	for _, jobID := range ids {
		if cancel, ok := s.jobCancels[jobID]; ok {
			cancel()
			cancelled++
		}
	}
	s.logger.Infof("Cancelling job, id: %s, running: %d", job.ID, cancelled)
}

// rerunJob dispatches the command of a finished job again, against the same
// unit or against every unit for an aggregate.
func (s *Supervisor) rerunJob(cmd state.Command, at time.Time) {
	source, ok := s.state.Job(cmd.Source)
	if !ok || !source.Status.Finished() {
		s.logger.Warnf("Cannot rerun job, id: %s, reason: not found or not finished", cmd.Source)
		return
	}
	s.logger.Infof("Rerunning job, id: %s, new id: %s", source.ID, cmd.JobID)
	s.dispatchJob(state.Command{
		Kind:   state.CommandRunJob,
		Target: source.UnitID,
		Exec:   source.Command,
		JobID:  cmd.JobID,
	}, at)
}

// jobStatuses returns the current status of a job and of its parent.
func (s *Supervisor) jobStatuses(id string) (jobs.Status, jobs.Status) {
	job, ok := s.state.Job(id)
	if !ok {
		return "", ""
	}
	parent, _ := s.state.Job(job.ParentID)
	return job.Status, parent.Status
}

// jobSettled records a job, and its parent, that finished with the event
// just applied.
func (s *Supervisor) jobSettled(id string, jobBefore, parentBefore jobs.Status) {
	if cancel, ok := s.jobCancels[id]; ok {
		cancel()
		delete(s.jobCancels, id)
	}

	job, ok := s.state.Job(id)
	if !ok {
		return
	}
	if job.Status.Finished() && !jobBefore.Finished() {
		s.metrics.JobFinished(string(job.Status))
		s.logger.Infof("Job finished, id: %s, unit: %s, status: %s, exit code: %d", job.ID, job.UnitID, job.Status, job.ExitCode)
	}
	if job.ParentID == "" {
		return
	}
	if parent, ok := s.state.Job(job.ParentID); ok && parent.Status.Finished() && !parentBefore.Finished() {
		s.metrics.JobFinished(string(parent.Status))
		s.logger.Infof("Job finished, id: %s, units: %d, status: %s", parent.ID, len(parent.Children), parent.Status)
	}
}
