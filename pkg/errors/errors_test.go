package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Creation(t *testing.T) {
	cause := errors.New("exec: not found")

	err := NewSpawnError("failed to start unit", cause)

	assert.Equal(t, ErrorTypeSpawn, err.Type)
	assert.Equal(t, "failed to start unit", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.NotNil(t, err.Context)
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewAdapterError("failed to read stream", nil).
		WithContext("unit_id", "api").
		WithContext("pid", 4242)

	assert.Equal(t, "api", err.Context["unit_id"])
	assert.Equal(t, 4242, err.Context["pid"])
}

func TestDomainError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			err:      NewGraphCycleError("circular dependency detected: a -> b -> a", nil),
			expected: "graph_cycle: circular dependency detected: a -> b -> a",
		},
		{
			name:     "error with cause",
			err:      NewHealthProbeError("probe failed", errors.New("connection refused")),
			expected: "health_probe: probe failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_TypeChecking(t *testing.T) {
	spawnErr := NewSpawnError("spawn", nil)
	probeErr := NewHealthProbeError("probe", nil)

	assert.True(t, IsSpawnError(spawnErr))
	assert.False(t, IsSpawnError(probeErr))
	assert.True(t, IsHealthProbeError(probeErr))
	assert.False(t, IsHealthProbeError(errors.New("plain")))

	wrapped := fmt.Errorf("unit api: %w", spawnErr)
	assert.True(t, IsSpawnError(wrapped))
	assert.True(t, errors.Is(wrapped, &DomainError{Type: ErrorTypeSpawn}))
}

func TestDomainError_Fatal(t *testing.T) {
	assert.True(t, IsFatal(NewGraphCycleError("cycle", nil)))
	assert.False(t, IsFatal(NewSpawnError("spawn", nil)))
	assert.False(t, IsFatal(NewRestartExhaustedError("exhausted", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	require.NoError(t, collection.ToError())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(NewTimeoutError("stop timed out", nil))
	collection.Add(NewAdapterError("kill failed", nil))

	err := collection.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestIsType_NestedCause(t *testing.T) {
	err := NewHealthProbeError("probe failed: timed out", NewTimeoutError("deadline", nil))

	assert.True(t, IsHealthProbeError(err))
	assert.True(t, IsTimeoutError(err))
	assert.False(t, IsSpawnError(err))
}
