package monitoring

import (
	"net/url"

	"github.com/core-tools/hsu-dash/pkg/errors"
)

// ValidateHealthCheckConfig validates a health check after defaults were applied
func ValidateHealthCheckConfig(config HealthCheckConfig) error {
	if err := ValidateHealthCheckRunOptions(config.RunOptions); err != nil {
		return errors.NewValidationError("invalid health check run options", err)
	}

	switch config.Type {
	case HealthCheckTypeHTTP:
		if config.HTTP.URL == "" {
			return errors.NewValidationError("HTTP health check needs a url, or a path and a unit port", nil)
		}
		if _, err := url.ParseRequestURI(config.HTTP.URL); err != nil {
			return errors.NewValidationError("invalid HTTP health check url", err).WithContext("url", config.HTTP.URL)
		}

	case HealthCheckTypeGRPC:
		if config.GRPC.Address == "" {
			return errors.NewValidationError("gRPC health check needs an address or a unit port", nil)
		}

	case HealthCheckTypeTCP:
		if config.TCP.Address == "" {
			return errors.NewValidationError("TCP address is required for TCP health check", nil)
		}
		if config.TCP.Port <= 0 || config.TCP.Port > 65535 {
			return errors.NewValidationError("TCP port must be between 1 and 65535", nil).WithContext("port", config.TCP.Port)
		}

	case HealthCheckTypeExec:
		if config.Exec.Command == "" {
			return errors.NewValidationError("command is required for exec health check", nil)
		}

	default:
		return errors.NewValidationError("unsupported health check type: "+string(config.Type), nil)
	}

	return nil
}

func ValidateHealthCheckRunOptions(options HealthCheckRunOptions) error {
	if options.Interval <= 0 {
		return errors.NewValidationError("health check interval must be positive", nil)
	}

	if options.Timeout <= 0 {
		return errors.NewValidationError("health check timeout must be positive", nil)
	}

	if options.Timeout >= options.Interval {
		return errors.NewValidationError("health check timeout must be less than interval", nil)
	}

	if options.InitialDelay < 0 {
		return errors.NewValidationError("health check initial delay cannot be negative", nil)
	}

	if options.FailureThreshold < 1 || options.SuccessThreshold < 1 {
		return errors.NewValidationError("health check thresholds must be at least 1", nil)
	}

	return nil
}
