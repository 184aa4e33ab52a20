package monitoring

// Tracker applies the consecutive success/failure hysteresis to probe results.
type Tracker struct {
	ConsecutiveFailures  int  `json:"consecutive_failures"`
	ConsecutiveSuccesses int  `json:"consecutive_successes"`
	Unhealthy            bool `json:"unhealthy"`
}

// Observe folds one result into the tracker. The unhealthy flag is set once
// failureThreshold failures happen in a row and cleared once
// successThreshold successes happen in a row.
func (t Tracker) Observe(ok bool, failureThreshold, successThreshold int) Tracker {
	if ok {
		t.ConsecutiveSuccesses++
		t.ConsecutiveFailures = 0
		if t.Unhealthy && t.ConsecutiveSuccesses >= successThreshold {
			t.Unhealthy = false
		}
		return t
	}

	t.ConsecutiveFailures++
	t.ConsecutiveSuccesses = 0
	if !t.Unhealthy && t.ConsecutiveFailures >= failureThreshold {
		t.Unhealthy = true
	}
	return t
}
