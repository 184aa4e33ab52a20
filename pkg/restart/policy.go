package restart

import (
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

// Policy defines when a failed unit is restarted automatically
type Policy string

const (
	PolicyNever     Policy = "never"
	PolicyOnFailure Policy = "on-failure"
	PolicyAlways    Policy = "always"
)

const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultWindow      = 60 * time.Second
	DefaultMaxAttempts = 3
)

// Config defines retry mechanics for one unit
type Config struct {
	Policy      Policy        `yaml:"policy,omitempty"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`
	Window      time.Duration `yaml:"window,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Policy:      PolicyOnFailure,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Window:      DefaultWindow,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Merge returns c with every non-zero field of overrides applied.
func (c Config) Merge(overrides *Config) Config {
	if overrides == nil {
		return c
	}
	if overrides.Policy != "" {
		c.Policy = overrides.Policy
	}
	if overrides.BaseDelay > 0 {
		c.BaseDelay = overrides.BaseDelay
	}
	if overrides.MaxDelay > 0 {
		c.MaxDelay = overrides.MaxDelay
	}
	if overrides.Window > 0 {
		c.Window = overrides.Window
	}
	if overrides.MaxAttempts > 0 {
		c.MaxAttempts = overrides.MaxAttempts
	}
	return c
}

func ValidateConfig(config Config) error {
	switch config.Policy {
	case PolicyNever, PolicyOnFailure, PolicyAlways:
	default:
		return errors.NewValidationError("invalid restart policy", nil).WithContext("policy", string(config.Policy))
	}
	if config.BaseDelay <= 0 {
		return errors.NewValidationError("base_delay must be positive", nil).WithContext("base_delay", config.BaseDelay)
	}
	if config.MaxDelay < config.BaseDelay {
		return errors.NewValidationError("max_delay must not be below base_delay", nil).
			WithContext("base_delay", config.BaseDelay).
			WithContext("max_delay", config.MaxDelay)
	}
	if config.Window <= 0 {
		return errors.NewValidationError("window must be positive", nil).WithContext("window", config.Window)
	}
	if config.MaxAttempts < 1 {
		return errors.NewValidationError("max_attempts must be at least 1", nil).WithContext("max_attempts", config.MaxAttempts)
	}
	return nil
}

// Backoff returns BaseDelay * 2^attempt, capped at MaxDelay.
func (c Config) Backoff(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		if delay >= c.MaxDelay/2 {
			return c.MaxDelay
		}
		delay *= 2
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Tracker is the per-unit restart budget. It is a plain value so the reducer
// can copy it into snapshots.
type Tracker struct {
	Attempts    int       `json:"attempts"`
	WindowStart time.Time `json:"window_start"`
}

// Decision is the outcome of evaluating a failure against the policy.
type Decision struct {
	Restart   bool
	Attempt   int // zero-based index of the restart being scheduled
	Delay     time.Duration
	Exhausted bool
}

// Decide evaluates a failure observed at now. cleanExit marks a unit that
// exited with code zero without being asked to; only PolicyAlways restarts it.
func (c Config) Decide(tracker Tracker, now time.Time, cleanExit bool) (Tracker, Decision) {
	switch c.Policy {
	case PolicyNever:
		return tracker, Decision{}
	case PolicyOnFailure, "":
		if cleanExit {
			return tracker, Decision{}
		}
	}

	if tracker.Attempts > 0 && now.Sub(tracker.WindowStart) >= c.Window {
		tracker = Tracker{}
	}
	if tracker.Attempts == 0 {
		tracker.WindowStart = now
	}

	if tracker.Attempts >= c.MaxAttempts {
		return tracker, Decision{Exhausted: true, Attempt: tracker.Attempts}
	}

	decision := Decision{
		Restart: true,
		Attempt: tracker.Attempts,
		Delay:   c.Backoff(tracker.Attempts),
	}
	tracker.Attempts++
	return tracker, decision
}
