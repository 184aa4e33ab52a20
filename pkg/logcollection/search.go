package logcollection

import "strings"

// Matches is an ordered list of search hits with a navigation cursor.
type Matches struct {
	Query string
	// Positions index the searched slice, oldest first.
	Positions []int
	// Seqs are the sequence numbers of the matching entries.
	Seqs   []uint64
	cursor int
}

// Search scans every entry, not just a visible window.
func Search(entries []Entry, query string, caseSensitive bool) *Matches {
	matches := &Matches{Query: query, cursor: -1}
	if query == "" {
		return matches
	}

	needle := query
	if !caseSensitive {
		needle = strings.ToLower(query)
	}
	for i, entry := range entries {
		text := entry.Text
		if !caseSensitive {
			text = strings.ToLower(text)
		}
		if strings.Contains(text, needle) {
			matches.Positions = append(matches.Positions, i)
			matches.Seqs = append(matches.Seqs, entry.Seq)
		}
	}
	return matches
}

// SearchRing searches the whole retained buffer of ring.
func SearchRing(ring *Ring, query string, caseSensitive bool) *Matches {
	return Search(ring.Entries(), query, caseSensitive)
}

func (m *Matches) Len() int { return len(m.Positions) }

// Current returns the selected position; ok is false before the first Next/Prev.
func (m *Matches) Current() (int, bool) {
	if m.cursor < 0 || m.cursor >= len(m.Positions) {
		return 0, false
	}
	return m.Positions[m.cursor], true
}

// Next moves to the following match, wrapping to the first.
func (m *Matches) Next() (int, bool) {
	if len(m.Positions) == 0 {
		return 0, false
	}
	m.cursor = (m.cursor + 1) % len(m.Positions)
	return m.Positions[m.cursor], true
}

// Prev moves to the preceding match, wrapping to the last.
func (m *Matches) Prev() (int, bool) {
	if len(m.Positions) == 0 {
		return 0, false
	}
	if m.cursor <= 0 {
		m.cursor = len(m.Positions) - 1
	} else {
		m.cursor--
	}
	return m.Positions[m.cursor], true
}
