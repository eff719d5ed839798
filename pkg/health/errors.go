package health

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks. The typed errors below match them.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMalformedSample = errors.New("malformed sample")
)

// InvalidInputError means the dataset as a whole cannot be scored:
// it is empty, or every sample was discarded.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "health: invalid input: " + e.Reason
}

// Is makes errors.Is(err, ErrInvalidInput) true.
func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// MalformedSampleError reports a sample that violates a value constraint,
// such as negative latency.
type MalformedSampleError struct {
	Index int     // position of the sample in the dataset
	Field string  // "latency_ms" | "jitter_ms"
	Value float64 // offending value
}

func (e *MalformedSampleError) Error() string {
	return fmt.Sprintf("health: malformed sample %d: %s = %v", e.Index, e.Field, e.Value)
}

// Is makes errors.Is(err, ErrMalformedSample) true.
func (e *MalformedSampleError) Is(target error) bool { return target == ErrMalformedSample }
