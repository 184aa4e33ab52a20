package logcollection

import (
	"strings"
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("unknown log level: "+s, nil)
	}
}

// Stream identifies where a line came from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	// StreamSystem carries lines written by the supervisor itself, such as
	// status transitions and spawn failures.
	StreamSystem Stream = "system"
	// StreamJob carries output of one-off jobs.
	StreamJob Stream = "job"
)

// Entry is one retained log line of a unit.
type Entry struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Level  Level     `json:"level"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
	Unit   string    `json:"unit"`
	JobID  string    `json:"job_id,omitempty"`
}
