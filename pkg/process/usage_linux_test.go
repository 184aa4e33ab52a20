//go:build linux

package process

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

func TestUsageReader_ReadsOwnProcess(t *testing.T) {
	reader, err := NewUsageReader()
	require.NoError(t, err)

	now := time.Now()
	first, err := reader.Read(os.Getpid(), now)
	require.NoError(t, err)
	assert.Greater(t, first.MemoryBytes, uint64(0))
	assert.Zero(t, first.CPUPercent)

	second, err := reader.Read(os.Getpid(), now.Add(time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)

	reader.Forget(os.Getpid())
	third, err := reader.Read(os.Getpid(), now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Zero(t, third.CPUPercent)
}

func TestUsageReader_MissingProcess(t *testing.T) {
	reader, err := NewUsageReader()
	require.NoError(t, err)

	_, err = reader.Read(1<<22+1, time.Now())
	assert.True(t, errors.IsNotFoundError(err))
}
