package metrics

import "time"

// Usage is what a backend reports for one running unit.
type Usage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	NetRxBytes  uint64  `json:"net_rx_bytes"`
	NetTxBytes  uint64  `json:"net_tx_bytes"`
}

// Sample is one point in time across all metric kinds of a unit.
type Sample struct {
	At time.Time `json:"at"`
	Usage
	// LogRate is lines per second since the previous sample.
	LogRate float64 `json:"log_rate"`
}

func (s Sample) value(kind Kind) float64 {
	switch kind {
	case KindCPU:
		return s.CPUPercent
	case KindMemory:
		return float64(s.MemoryBytes)
	case KindNetRx:
		return float64(s.NetRxBytes)
	case KindNetTx:
		return float64(s.NetTxBytes)
	case KindLogRate:
		return s.LogRate
	default:
		return 0
	}
}

// Set holds one series per metric kind for a unit.
type Set struct {
	series map[Kind]*Series
}

func NewSet(window int) *Set {
	set := &Set{series: make(map[Kind]*Series, len(Kinds))}
	for _, kind := range Kinds {
		set.series[kind] = NewSeries(window)
	}
	return set
}

func (s *Set) Record(sample Sample) {
	for _, kind := range Kinds {
		s.series[kind].Push(Point{At: sample.At, Value: sample.value(kind)})
	}
}

func (s *Set) Series(kind Kind) *Series {
	return s.series[kind]
}

// Latest returns the most recent value per kind.
func (s *Set) Latest() map[Kind]float64 {
	out := make(map[Kind]float64, len(s.series))
	for kind, series := range s.series {
		if p, ok := series.Latest(); ok {
			out[kind] = p.Value
		}
	}
	return out
}

func (s *Set) Clone() *Set {
	clone := &Set{series: make(map[Kind]*Series, len(s.series))}
	for kind, series := range s.series {
		clone.series[kind] = series.Clone()
	}
	return clone
}
