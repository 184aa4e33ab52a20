package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies supervision errors so callers can decide whether a
// failure is isolated to one unit or fatal to the whole engine.
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeSpawn            ErrorType = "spawn"
	ErrorTypeAdapter          ErrorType = "adapter"
	ErrorTypeHealthProbe      ErrorType = "health_probe"
	ErrorTypeRestartExhausted ErrorType = "restart_exhausted"
	ErrorTypeGraphCycle       ErrorType = "graph_cycle"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeIO               ErrorType = "io"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeCancelled        ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type.
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether the error must abort the engine rather than being
// isolated to a single unit.
func (e *DomainError) Fatal() bool {
	return e.Type == ErrorTypeGraphCycle
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Unit runtime errors, always isolated to the unit that raised them

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewAdapterError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAdapter, message, cause)
}

func NewHealthProbeError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHealthProbe, message, cause)
}

func NewRestartExhaustedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeRestartExhausted, message, cause)
}

// Structural errors

func NewGraphCycleError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeGraphCycle, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// isType walks nested DomainErrors, so a probe error caused by a timeout
// answers both IsHealthProbeError and IsTimeoutError.
func isType(err error, errorType ErrorType) bool {
	for err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			return false
		}
		if domainErr.Type == errorType {
			return true
		}
		err = domainErr.Cause
	}
	return false
}

func IsValidationError(err error) bool       { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool         { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool         { return isType(err, ErrorTypeConflict) }
func IsSpawnError(err error) bool            { return isType(err, ErrorTypeSpawn) }
func IsAdapterError(err error) bool          { return isType(err, ErrorTypeAdapter) }
func IsHealthProbeError(err error) bool      { return isType(err, ErrorTypeHealthProbe) }
func IsRestartExhaustedError(err error) bool { return isType(err, ErrorTypeRestartExhausted) }
func IsGraphCycleError(err error) bool       { return isType(err, ErrorTypeGraphCycle) }
func IsTimeoutError(err error) bool          { return isType(err, ErrorTypeTimeout) }
func IsIOError(err error) bool               { return isType(err, ErrorTypeIO) }
func IsInternalError(err error) bool         { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool        { return isType(err, ErrorTypeCancelled) }

// IsFatal reports whether err carries a DomainError that must stop the engine.
func IsFatal(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Fatal()
}

// ErrorCollection aggregates errors from bulk operations such as shutdown.
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
