package monitoring

import (
	"fmt"
	"time"
)

type HealthCheckType string

const (
	HealthCheckTypeHTTP HealthCheckType = "http"
	HealthCheckTypeGRPC HealthCheckType = "grpc"
	HealthCheckTypeTCP  HealthCheckType = "tcp"
	HealthCheckTypeExec HealthCheckType = "exec"
)

const (
	DefaultInterval         = 5 * time.Second
	DefaultTimeout          = 2 * time.Second
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 3
	DefaultHost             = "127.0.0.1"
)

type HTTPHealthCheckConfig struct {
	// URL wins over Path when both are set; Path is resolved against the unit port.
	URL     string            `yaml:"url,omitempty"`
	Path    string            `yaml:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type GRPCHealthCheckConfig struct {
	Address string `yaml:"address,omitempty"`
	Service string `yaml:"service,omitempty"`
}

type TCPHealthCheckConfig struct {
	Address string `yaml:"address,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

type ExecHealthCheckConfig struct {
	Command string `yaml:"command"`
}

type HealthCheckRunOptions struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	// FailureThreshold consecutive failures mark the unit unhealthy.
	FailureThreshold int `yaml:"failure_threshold,omitempty"`
	// SuccessThreshold consecutive successes clear the unhealthy flag.
	SuccessThreshold int `yaml:"success_threshold,omitempty"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	HTTP HTTPHealthCheckConfig `yaml:"http,omitempty"`
	GRPC GRPCHealthCheckConfig `yaml:"grpc,omitempty"`
	TCP  TCPHealthCheckConfig  `yaml:"tcp,omitempty"`
	Exec ExecHealthCheckConfig `yaml:"exec,omitempty"`

	RunOptions HealthCheckRunOptions `yaml:"run_options,omitempty"`
}

// WithDefaults fills unset run options and resolves probe targets against the
// unit port.
func (c HealthCheckConfig) WithDefaults(port int) HealthCheckConfig {
	if c.RunOptions.Interval <= 0 {
		c.RunOptions.Interval = DefaultInterval
	}
	if c.RunOptions.Timeout <= 0 {
		c.RunOptions.Timeout = DefaultTimeout
		if c.RunOptions.Timeout >= c.RunOptions.Interval {
			c.RunOptions.Timeout = c.RunOptions.Interval / 2
		}
	}
	if c.RunOptions.FailureThreshold <= 0 {
		c.RunOptions.FailureThreshold = DefaultFailureThreshold
	}
	if c.RunOptions.SuccessThreshold <= 0 {
		c.RunOptions.SuccessThreshold = DefaultSuccessThreshold
	}

	switch c.Type {
	case HealthCheckTypeHTTP:
		if c.HTTP.URL == "" && port > 0 {
			path := c.HTTP.Path
			if path == "" {
				path = "/"
			} else if path[0] != '/' {
				path = "/" + path
			}
			c.HTTP.URL = fmt.Sprintf("http://%s:%d%s", DefaultHost, port, path)
		}
	case HealthCheckTypeTCP:
		if c.TCP.Address == "" {
			c.TCP.Address = DefaultHost
		}
		if c.TCP.Port == 0 {
			c.TCP.Port = port
		}
	case HealthCheckTypeGRPC:
		if c.GRPC.Address == "" && port > 0 {
			c.GRPC.Address = fmt.Sprintf("%s:%d", DefaultHost, port)
		}
	}
	return c
}

// Result is the outcome of a single probe.
type Result struct {
	Kind    HealthCheckType `json:"kind"`
	OK      bool            `json:"ok"`
	Latency time.Duration   `json:"latency"`
	At      time.Time       `json:"at"`
	Message string          `json:"message,omitempty"`
}
