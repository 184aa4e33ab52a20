package logcollection

const DefaultRingCapacity = 1000

// Ring retains the most recent entries of one unit. Appending to a full ring
// evicts the oldest entry.
type Ring struct {
	entries []Entry
	start   int
	size    int
	nextSeq uint64
	evicted uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Append stores entry and returns it with its sequence number assigned.
// Sequence numbers keep growing across evictions and Clear.
func (r *Ring) Append(entry Entry) Entry {
	r.nextSeq++
	entry.Seq = r.nextSeq

	capacity := len(r.entries)
	if r.size < capacity {
		r.entries[(r.start+r.size)%capacity] = entry
		r.size++
		return entry
	}

	r.entries[r.start] = entry
	r.start = (r.start + 1) % capacity
	r.evicted++
	return entry
}

func (r *Ring) Len() int { return r.size }

func (r *Ring) Cap() int { return len(r.entries) }

// Total is the number of entries ever appended.
func (r *Ring) Total() uint64 { return r.nextSeq }

// Evicted is the number of entries dropped on overflow.
func (r *Ring) Evicted() uint64 { return r.evicted }

// At returns the i-th retained entry, oldest first.
func (r *Ring) At(i int) Entry {
	return r.entries[(r.start+i)%len(r.entries)]
}

// Entries returns a copy of the retained entries, oldest first.
func (r *Ring) Entries() []Entry {
	out := make([]Entry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Tail returns up to n of the newest entries, oldest first.
func (r *Ring) Tail(n int) []Entry {
	if n > r.size || n < 0 {
		n = r.size
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.size - n + i)
	}
	return out
}

func (r *Ring) Clear() {
	for i := range r.entries {
		r.entries[i] = Entry{}
	}
	r.start = 0
	r.size = 0
}

func (r *Ring) Clone() *Ring {
	clone := *r
	clone.entries = make([]Entry, len(r.entries))
	copy(clone.entries, r.entries)
	return &clone
}
