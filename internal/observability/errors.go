package observability

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateMetric is returned when a metric name is registered twice.
	ErrDuplicateMetric = errors.New("metric already registered")

	// ErrUnknownMetric is returned when observing a metric that was never registered.
	ErrUnknownMetric = errors.New("metric not registered")

	// ErrLabelMismatch is returned when an observation's label names differ
	// from the ones the metric was registered with.
	ErrLabelMismatch = errors.New("label set does not match metric definition")

	// ErrWrongKind is returned when an operation is not supported by the metric kind.
	ErrWrongKind = errors.New("operation not supported for metric kind")

	// ErrNegativeValue is returned when a counter is asked to decrease.
	ErrNegativeValue = errors.New("counter cannot decrease")

	// ErrInvalidValue is returned for NaN observations and for infinite
	// counter increments.
	ErrInvalidValue = errors.New("value is not a valid sample")

	// ErrInvalidLabelValue is returned when a label value is not valid UTF-8.
	ErrInvalidLabelValue = errors.New("invalid label value")
)

// MetricRegistrationError describes an invalid metric definition.
type MetricRegistrationError struct {
	Name   string
	Reason string
	Err    error
}

func (e *MetricRegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("register metric %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("register metric %q: %s", e.Name, e.Reason)
}

func (e *MetricRegistrationError) Unwrap() error {
	return e.Err
}

// DependencyUnavailableError is reported by a readiness check whose
// dependency could not be reached.
type DependencyUnavailableError struct {
	Dependency string
	Err        error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyUnavailableError) Unwrap() error {
	return e.Err
}
