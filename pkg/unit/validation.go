package unit

import (
	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/restart"
)

func ValidateDefinition(def Definition) error {
	if def.ID == "" {
		return errors.NewValidationError("unit id is required", nil)
	}
	if def.ID == AllUnits {
		return errors.NewValidationError("unit id is reserved", nil).WithContext("id", string(def.ID))
	}

	switch def.Kind {
	case KindProcess:
		if def.Command == "" {
			return errors.NewValidationError("command is required for process units", nil).WithContext("id", string(def.ID))
		}
	case KindContainer:
		if def.Image == "" {
			return errors.NewValidationError("image is required for container units", nil).WithContext("id", string(def.ID))
		}
	default:
		return errors.NewValidationError("unsupported unit kind: "+string(def.Kind), nil).WithContext("id", string(def.ID))
	}

	if def.Port < 0 || def.Port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil).WithContext("id", string(def.ID))
	}
	if def.StopGrace < 0 {
		return errors.NewValidationError("stop_grace cannot be negative", nil).WithContext("id", string(def.ID))
	}

	if health := def.HealthConfig(); health != nil {
		if err := monitoring.ValidateHealthCheckConfig(*health); err != nil {
			return errors.NewValidationError("invalid health check", err).WithContext("id", string(def.ID))
		}
	}
	if err := restart.ValidateConfig(def.RestartConfig()); err != nil {
		return errors.NewValidationError("invalid restart policy", err).WithContext("id", string(def.ID))
	}
	return nil
}
