//go:build linux

package process

import (
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/metrics"
)

type cpuSample struct {
	seconds float64
	at      time.Time
}

// UsageReader reads process usage from /proc. CPU percent is computed
// between two reads of the same pid, so the first read reports zero.
type UsageReader struct {
	fs procfs.FS

	mutex sync.Mutex
	prev  map[int]cpuSample
}

func NewUsageReader() (*UsageReader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, errors.NewAdapterError("failed to open /proc", err)
	}
	return &UsageReader{fs: fs, prev: make(map[int]cpuSample)}, nil
}

func (r *UsageReader) Read(pid int, now time.Time) (metrics.Usage, error) {
	proc, err := r.fs.Proc(pid)
	if err != nil {
		return metrics.Usage{}, errors.NewNotFoundError("process not found", err).WithContext("pid", pid)
	}

	stat, err := proc.Stat()
	if err != nil {
		return metrics.Usage{}, errors.NewAdapterError("failed to read process stat", err).WithContext("pid", pid)
	}

	usage := metrics.Usage{
		MemoryBytes: uint64(stat.ResidentMemory()),
	}

	current := cpuSample{seconds: stat.CPUTime(), at: now}
	r.mutex.Lock()
	prev, seen := r.prev[pid]
	r.prev[pid] = current
	r.mutex.Unlock()

	if seen {
		if elapsed := current.at.Sub(prev.at).Seconds(); elapsed > 0 && current.seconds >= prev.seconds {
			usage.CPUPercent = (current.seconds - prev.seconds) / elapsed * 100
		}
	}

	// Network counters are per namespace; a process without its own
	// namespace reports the host totals.
	if netDev, err := proc.NetDev(); err == nil {
		for name, line := range netDev {
			if name == "lo" {
				continue
			}
			usage.NetRxBytes += line.RxBytes
			usage.NetTxBytes += line.TxBytes
		}
	}

	return usage, nil
}

// Forget drops the CPU baseline of pid.
func (r *UsageReader) Forget(pid int) {
	r.mutex.Lock()
	delete(r.prev, pid)
	r.mutex.Unlock()
}
