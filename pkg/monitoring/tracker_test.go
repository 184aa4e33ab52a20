package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func observeAll(tracker Tracker, results []bool, n, m int) Tracker {
	for _, ok := range results {
		tracker = tracker.Observe(ok, n, m)
	}
	return tracker
}

func TestTracker_RequiresExactlyNFailures(t *testing.T) {
	tracker := observeAll(Tracker{}, []bool{false, false}, 3, 2)
	assert.False(t, tracker.Unhealthy)

	tracker = tracker.Observe(false, 3, 2)
	assert.True(t, tracker.Unhealthy)
	assert.Equal(t, 3, tracker.ConsecutiveFailures)
}

func TestTracker_InterveningSuccessResetsFailures(t *testing.T) {
	tracker := observeAll(Tracker{}, []bool{false, false, true, false, false}, 3, 2)
	assert.False(t, tracker.Unhealthy)

	tracker = tracker.Observe(false, 3, 2)
	assert.True(t, tracker.Unhealthy)
}

func TestTracker_RequiresExactlyMSuccessesToClear(t *testing.T) {
	tracker := observeAll(Tracker{}, []bool{false, false, false}, 3, 2)
	assert.True(t, tracker.Unhealthy)

	tracker = tracker.Observe(true, 3, 2)
	assert.True(t, tracker.Unhealthy)

	tracker = tracker.Observe(false, 3, 2)
	tracker = tracker.Observe(true, 3, 2)
	assert.True(t, tracker.Unhealthy, "a single success after a failure must not clear the flag")

	tracker = tracker.Observe(true, 3, 2)
	assert.False(t, tracker.Unhealthy)
	assert.Equal(t, 0, tracker.ConsecutiveFailures)
}
