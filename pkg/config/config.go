package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-dash/pkg/container"
	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/supervisor"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

// Config is the top-level structure of a unit file
type Config struct {
	Dashboard DashboardOptions `yaml:"dashboard"`
	Container container.Config `yaml:"container,omitempty"`
	Logs      LogOptions       `yaml:"logs,omitempty"`
	Units     []UnitConfig     `yaml:"units"`
}

// DashboardOptions tunes the supervision engine
type DashboardOptions struct {
	LogLevel       string        `yaml:"log_level,omitempty"`
	QueueSize      int           `yaml:"queue_size,omitempty"`
	LogCapacity    int           `yaml:"log_capacity,omitempty"`
	MetricWindow   int           `yaml:"metric_window,omitempty"`
	HealthHistory  int           `yaml:"health_history,omitempty"`
	SampleInterval time.Duration `yaml:"sample_interval,omitempty"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace,omitempty"`
	MetricsAddress string        `yaml:"metrics_address,omitempty"`
}

// LogOptions replaces the default line classification keywords when Rules
// is not empty.
type LogOptions struct {
	Rules []RuleConfig `yaml:"rules,omitempty"`
}

type RuleConfig struct {
	Level    string   `yaml:"level"`
	Contains []string `yaml:"contains,omitempty"`
	Prefixes []string `yaml:"prefixes,omitempty"`
}

// UnitConfig is a unit definition plus file-only switches
type UnitConfig struct {
	Enabled         *bool `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	unit.Definition `yaml:",inline"`
}

const (
	DefaultLogLevel       = "info"
	DefaultShutdownGrace  = 30 * time.Second
	DefaultMetricsAddress = "127.0.0.1:9464"

	// MetricsDisabled as the metrics address turns the endpoint off
	MetricsDisabled = "off"
)

// LoadConfigFromFile loads a unit file and applies defaults
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := Parse(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)
	return &config, nil
}

func setConfigDefaults(config *Config) {
	dashboard := &config.Dashboard
	if dashboard.LogLevel == "" {
		dashboard.LogLevel = DefaultLogLevel
	}
	if dashboard.QueueSize == 0 {
		dashboard.QueueSize = supervisor.DefaultQueueSize
	}
	if dashboard.LogCapacity == 0 {
		dashboard.LogCapacity = logcollection.DefaultRingCapacity
	}
	if dashboard.MetricWindow == 0 {
		dashboard.MetricWindow = metrics.DefaultWindow
	}
	if dashboard.HealthHistory == 0 {
		dashboard.HealthHistory = state.DefaultHealthHistory
	}
	if dashboard.SampleInterval == 0 {
		dashboard.SampleInterval = metrics.DefaultInterval
	}
	if dashboard.ShutdownGrace == 0 {
		dashboard.ShutdownGrace = DefaultShutdownGrace
	}
	if dashboard.MetricsAddress == "" {
		dashboard.MetricsAddress = DefaultMetricsAddress
	}

	for i := range config.Units {
		u := &config.Units[i]
		if u.Enabled == nil {
			enabled := true
			u.Enabled = &enabled
		}
		if u.Kind == "" {
			if u.Image != "" {
				u.Kind = unit.KindContainer
			} else {
				u.Kind = unit.KindProcess
			}
		}
	}
}

// Definitions returns the enabled units in file order.
func (c *Config) Definitions(logger logging.Logger) []unit.Definition {
	defs := make([]unit.Definition, 0, len(c.Units))
	for _, u := range c.Units {
		if u.Enabled != nil && !*u.Enabled {
			logger.Infof("Skipping disabled unit, id: %s", u.ID)
			continue
		}
		defs = append(defs, u.Definition)
	}
	return defs
}

// BuildGraph validates the configuration and builds the unit graph. A
// dependency cycle comes back as a graph_cycle error.
func BuildGraph(config *Config, logger logging.Logger) (*unit.Graph, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	graph, err := unit.NewGraph(config.Definitions(logger))
	if err != nil {
		return nil, err
	}
	return graph, nil
}

func (c *Config) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		QueueSize: c.Dashboard.QueueSize,
		State: state.Options{
			LogCapacity:   c.Dashboard.LogCapacity,
			MetricWindow:  c.Dashboard.MetricWindow,
			HealthHistory: c.Dashboard.HealthHistory,
		},
		SampleInterval: c.Dashboard.SampleInterval,
	}
}

// Classifier returns the configured line classifier, or the default one.
func (c *Config) Classifier() (*logcollection.Classifier, error) {
	if len(c.Logs.Rules) == 0 {
		return logcollection.DefaultClassifier(), nil
	}
	rules := make([]logcollection.Rule, 0, len(c.Logs.Rules))
	for i, rule := range c.Logs.Rules {
		level, err := logcollection.ParseLevel(rule.Level)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid log rule at index %d", i), err)
		}
		rules = append(rules, logcollection.Rule{Level: level, Contains: rule.Contains, Prefixes: rule.Prefixes})
	}
	return logcollection.NewClassifier(rules), nil
}
