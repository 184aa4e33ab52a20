package state

import (
	"fmt"

	"github.com/core-tools/hsu-dash/pkg/unit"
)

type CommandKind string

const (
	CommandStart     CommandKind = "start"
	CommandStop      CommandKind = "stop"
	CommandRestart   CommandKind = "restart"
	CommandKill      CommandKind = "kill"
	CommandRunJob    CommandKind = "run_job"
	CommandClearLogs CommandKind = "clear_logs"
	CommandCancelJob CommandKind = "cancel_job"
	CommandRerunJob  CommandKind = "rerun_job"
)

// Command is an action requested by the UI. RunJob accepts unit.AllUnits as
// Target to fan out over every unit. Job commands address a job rather than
// a unit and carry unit.AllUnits as Target.
type Command struct {
	Kind   CommandKind
	Target unit.ID
	// Exec is the shell command of a RunJob.
	Exec string
	// JobID is the job a RunJob or RerunJob creates, or the job a CancelJob
	// stops.
	JobID string
	// Source is the finished job a RerunJob repeats.
	Source string
}

func Start(id unit.ID) Command     { return Command{Kind: CommandStart, Target: id} }
func Stop(id unit.ID) Command      { return Command{Kind: CommandStop, Target: id} }
func Restart(id unit.ID) Command   { return Command{Kind: CommandRestart, Target: id} }
func Kill(id unit.ID) Command      { return Command{Kind: CommandKill, Target: id} }
func ClearLogs(id unit.ID) Command { return Command{Kind: CommandClearLogs, Target: id} }

func RunJob(target unit.ID, exec string) Command {
	return Command{Kind: CommandRunJob, Target: target, Exec: exec}
}

func CancelJob(jobID string) Command {
	return Command{Kind: CommandCancelJob, Target: unit.AllUnits, JobID: jobID}
}

func RerunJob(source string) Command {
	return Command{Kind: CommandRerunJob, Target: unit.AllUnits, Source: source}
}

func (c Command) String() string {
	switch c.Kind {
	case CommandRunJob:
		return fmt.Sprintf("%s %s: %s", c.Kind, c.Target, c.Exec)
	case CommandCancelJob:
		return fmt.Sprintf("%s %s", c.Kind, c.JobID)
	case CommandRerunJob:
		return fmt.Sprintf("%s %s", c.Kind, c.Source)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Target)
}
