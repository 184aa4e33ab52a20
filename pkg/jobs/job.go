package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-dash/pkg/unit"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Spec is what a backend needs to run a one-off command.
type Spec struct {
	ID      string
	UnitID  unit.ID
	Command string
}

// Argv runs the command through the shell of the unit's container.
func (s Spec) Argv() []string {
	return []string{"sh", "-c", s.Command}
}

// Job tracks one-off command execution. A fan-out job over every unit has
// UnitID unit.AllUnits and one child per dispatched unit.
type Job struct {
	ID          string    `json:"id"`
	UnitID      unit.ID   `json:"unit_id"`
	Command     string    `json:"command"`
	Status      Status    `json:"status"`
	ExitCode    int       `json:"exit_code"`
	Error       string    `json:"error,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	Children    []string  `json:"children,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	OutputLines int       `json:"output_lines"`
}

func NewID() string {
	return uuid.NewString()
}

func New(unitID unit.ID, command string, at time.Time) Job {
	return Job{
		ID:        NewID(),
		UnitID:    unitID,
		Command:   command,
		Status:    StatusQueued,
		CreatedAt: at,
	}
}

func (j Job) Spec() Spec {
	return Spec{ID: j.ID, UnitID: j.UnitID, Command: j.Command}
}

func (j Job) IsAggregate() bool {
	return j.UnitID == unit.AllUnits
}

// Duration is the run time so far, or the total run time once finished.
func (j Job) Duration(now time.Time) time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if !j.FinishedAt.IsZero() {
		return j.FinishedAt.Sub(j.StartedAt)
	}
	return now.Sub(j.StartedAt)
}

func (j Job) Clone() Job {
	j.Children = append([]string(nil), j.Children...)
	return j
}

// Aggregate derives a fan-out job status from its children. It succeeds only
// when every child succeeded; an empty fan-out fails.
func Aggregate(children []Status) Status {
	if len(children) == 0 {
		return StatusFailed
	}

	var running, queued, failed, cancelled int
	for _, status := range children {
		switch status {
		case StatusRunning:
			running++
		case StatusQueued:
			queued++
		case StatusFailed:
			failed++
		case StatusCancelled:
			cancelled++
		}
	}

	switch {
	case running > 0:
		return StatusRunning
	case queued == len(children):
		return StatusQueued
	case queued > 0:
		return StatusRunning
	case failed > 0:
		return StatusFailed
	case cancelled > 0:
		return StatusCancelled
	default:
		return StatusSucceeded
	}
}
