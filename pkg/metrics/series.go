package metrics

import "time"

const DefaultWindow = 60

type Kind string

const (
	KindCPU     Kind = "cpu"
	KindMemory  Kind = "memory"
	KindNetRx   Kind = "net_rx"
	KindNetTx   Kind = "net_tx"
	KindLogRate Kind = "log_rate"
)

var Kinds = []Kind{KindCPU, KindMemory, KindNetRx, KindNetTx, KindLogRate}

type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Series is a fixed-capacity ring of points; pushing to a full series
// overwrites the oldest point.
type Series struct {
	points []Point
	start  int
	size   int
}

func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Series{points: make([]Point, capacity)}
}

func (s *Series) Push(p Point) {
	capacity := len(s.points)
	if s.size < capacity {
		s.points[(s.start+s.size)%capacity] = p
		s.size++
		return
	}
	s.points[s.start] = p
	s.start = (s.start + 1) % capacity
}

func (s *Series) Len() int { return s.size }

func (s *Series) Cap() int { return len(s.points) }

func (s *Series) at(i int) Point {
	return s.points[(s.start+i)%len(s.points)]
}

func (s *Series) Latest() (Point, bool) {
	if s.size == 0 {
		return Point{}, false
	}
	return s.at(s.size - 1), true
}

// Points returns a copy, oldest first.
func (s *Series) Points() []Point {
	out := make([]Point, s.size)
	for i := range out {
		out[i] = s.at(i)
	}
	return out
}

func (s *Series) Values() []float64 {
	out := make([]float64, s.size)
	for i := range out {
		out[i] = s.at(i).Value
	}
	return out
}

// Bounds returns the min and max value; both are zero for an empty series.
func (s *Series) Bounds() (float64, float64) {
	if s.size == 0 {
		return 0, 0
	}
	lo, hi := s.at(0).Value, s.at(0).Value
	for i := 1; i < s.size; i++ {
		v := s.at(i).Value
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func (s *Series) Clone() *Series {
	clone := *s
	clone.points = make([]Point, len(s.points))
	copy(clone.points, s.points)
	return &clone
}
