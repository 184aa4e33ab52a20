package logcollection

import "strings"

// FilterMode selects which levels a view shows. It is applied when reading,
// so switching modes never discards retained lines.
type FilterMode int

const (
	FilterAll FilterMode = iota
	FilterWarnAndAbove
	FilterErrorOnly
)

// Next cycles All -> WarnAndAbove -> ErrorOnly -> All.
func (m FilterMode) Next() FilterMode {
	switch m {
	case FilterAll:
		return FilterWarnAndAbove
	case FilterWarnAndAbove:
		return FilterErrorOnly
	default:
		return FilterAll
	}
}

func (m FilterMode) Label() string {
	switch m {
	case FilterWarnAndAbove:
		return "WARN+"
	case FilterErrorOnly:
		return "ERROR"
	default:
		return "ALL"
	}
}

func (m FilterMode) Allows(level Level) bool {
	switch m {
	case FilterWarnAndAbove:
		return level >= LevelWarn
	case FilterErrorOnly:
		return level == LevelError
	default:
		return true
	}
}

// Filter is a query-time predicate over entries.
type Filter struct {
	Mode          FilterMode
	Grep          string
	CaseSensitive bool
	// JobID limits the view to the output of one job when set.
	JobID string
}

func (f Filter) Match(entry Entry) bool {
	if !f.Mode.Allows(entry.Level) {
		return false
	}
	if f.JobID != "" && entry.JobID != f.JobID {
		return false
	}
	if f.Grep == "" {
		return true
	}
	if f.CaseSensitive {
		return strings.Contains(entry.Text, f.Grep)
	}
	return strings.Contains(strings.ToLower(entry.Text), strings.ToLower(f.Grep))
}

func (f Filter) Apply(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if f.Match(entry) {
			out = append(out, entry)
		}
	}
	return out
}

// View returns the filtered retained entries of ring.
func (f Filter) View(ring *Ring) []Entry {
	out := make([]Entry, 0, ring.Len())
	for i := 0; i < ring.Len(); i++ {
		if entry := ring.At(i); f.Match(entry) {
			out = append(out, entry)
		}
	}
	return out
}
