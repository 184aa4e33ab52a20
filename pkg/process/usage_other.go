//go:build !linux

package process

import (
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/metrics"
)

type UsageReader struct{}

func NewUsageReader() (*UsageReader, error) {
	return &UsageReader{}, nil
}

func (r *UsageReader) Read(pid int, now time.Time) (metrics.Usage, error) {
	return metrics.Usage{}, errors.NewAdapterError("process usage is only available on linux", nil).WithContext("pid", pid)
}

func (r *UsageReader) Forget(pid int) {}
