package config

import (
	"fmt"
	"net"
	"strconv"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

// ValidateConfig validates the dashboard options and every unit. Graph
// level checks (dependencies, cycles) happen in unit.NewGraph.
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := validateDashboardOptions(config.Dashboard); err != nil {
		return errors.NewValidationError("invalid dashboard configuration", err)
	}
	if _, err := config.Classifier(); err != nil {
		return errors.NewValidationError("invalid logs configuration", err)
	}
	if err := validateUnits(config.Units); err != nil {
		return errors.NewValidationError("invalid units configuration", err)
	}
	return nil
}

func validateDashboardOptions(options DashboardOptions) error {
	if options.LogLevel != "" {
		if _, err := logcollection.ParseLevel(options.LogLevel); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid log level: %s", options.LogLevel),
				nil,
			).WithContext("valid_levels", "debug, info, warn, error")
		}
	}
	if options.QueueSize < 0 {
		return errors.NewValidationError("queue_size cannot be negative", nil)
	}
	if options.LogCapacity < 0 {
		return errors.NewValidationError("log_capacity cannot be negative", nil)
	}
	if options.MetricWindow < 0 {
		return errors.NewValidationError("metric_window cannot be negative", nil)
	}
	if options.SampleInterval < 0 {
		return errors.NewValidationError("sample_interval cannot be negative", nil)
	}
	if options.MetricsAddress != "" && options.MetricsAddress != MetricsDisabled {
		if err := ValidateNetworkAddress(options.MetricsAddress); err != nil {
			return err
		}
	}
	return nil
}

func validateUnits(units []UnitConfig) error {
	seenIDs := make(map[unit.ID]int)
	for i, u := range units {
		if err := ValidateUnitID(u.ID); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid unit ID at index %d", i), err).
				WithContext("unit_id", string(u.ID))
		}
		if prevIndex, exists := seenIDs[u.ID]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate unit ID '%s' found at indices %d and %d", u.ID, prevIndex, i),
				nil,
			)
		}
		seenIDs[u.ID] = i

		if err := unit.ValidateDefinition(u.Definition); err != nil {
			return errors.NewValidationError(fmt.Sprintf("invalid unit at index %d", i), err).
				WithContext("unit_id", string(u.ID))
		}
	}
	return nil
}

// ValidateUnitID accepts letters, digits, hyphens and underscores, up to 64
// characters. Unit ids end up in container names.
func ValidateUnitID(id unit.ID) error {
	if id == "" {
		return errors.NewValidationError("unit ID cannot be empty", nil)
	}
	if len(id) > 64 {
		return errors.NewValidationError("unit ID cannot exceed 64 characters", nil)
	}
	for _, char := range id {
		if !isValidIDChar(char) {
			return errors.NewValidationError("unit ID contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil)
		}
	}
	return nil
}

func ValidateNetworkAddress(address string) error {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return errors.NewValidationError("invalid network address format: "+address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}
	return nil
}

func isValidIDChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}
