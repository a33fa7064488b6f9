// Package fault defines the error taxonomy shared by every pipeline stage.
//
// Callers classify failures with errors.As:
//
//	var geo *fault.GeometryError
//	if errors.As(err, &geo) { ... }
//
// DegenerateSliceError unwraps to a GeometryError and ThresholdNotFoundError
// unwraps to a ConvergenceError, so matching the broad kind also matches the
// specific one.
package fault

import (
	"fmt"
)

// GeometryError reports a cross-section that cannot be built from the mesh.
// It is fatal for the trial and never retried beyond the slicer's own
// perturbation attempt.
type GeometryError struct {
	// Layer is the index of the failing layer, -1 when not layer specific
	Layer int

	// Z is the height of the failing plane
	Z float64

	Reason string
}

func (e *GeometryError) Error() string {
	if e.Layer < 0 {
		return fmt.Sprintf("geometry error: %s", e.Reason)
	}
	return fmt.Sprintf("geometry error at layer %d (z=%.6g): %s", e.Layer, e.Z, e.Reason)
}

// DegenerateSliceError is raised when the edges cut from a plane cannot be
// chained into closed polygons within tolerance, which points at a
// non-manifold mesh.
type DegenerateSliceError struct {
	GeometryError

	// OpenChains is the number of chains left unclosed
	OpenChains int

	// Tolerance is the endpoint matching distance that was used
	Tolerance float64
}

func (e *DegenerateSliceError) Error() string {
	return fmt.Sprintf("degenerate slice at layer %d (z=%.6g): %d open chain(s) at tolerance %.3g: %s",
		e.Layer, e.Z, e.OpenChains, e.Tolerance, e.Reason)
}

func (e *DegenerateSliceError) Unwrap() error { return &e.GeometryError }

// ConstraintViolationError reports a parameter outside physical limits. The
// value is never clamped.
type ConstraintViolationError struct {
	// Parameter names the offending quantity, e.g. "hatch_distance"
	Parameter string

	Value float64
	Limit float64

	// Layer is the layer index when the violation is layer specific, else -1
	Layer int
}

func (e *ConstraintViolationError) Error() string {
	msg := fmt.Sprintf("constraint violation: %s=%.6g exceeds limit %.6g", e.Parameter, e.Value, e.Limit)
	if e.Layer >= 0 {
		msg += fmt.Sprintf(" (layer %d)", e.Layer)
	}
	return msg
}

// ConvergenceError reports an optimizer stage that found no terminal state
// within its sweep. Partial carries the best-effort result for the caller;
// its concrete type is the optimizer's Result.
type ConvergenceError struct {
	Stage   string
	Reason  string
	Partial any
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge: %s", e.Stage, e.Reason)
}

// ThresholdNotFoundError is the PowerThreshold failure: no power in the
// sweep cleared under-exposure.
type ThresholdNotFoundError struct {
	ConvergenceError

	// Sweep is the list of powers that were tried
	Sweep []float64
}

func (e *ThresholdNotFoundError) Error() string {
	if len(e.Sweep) == 0 {
		return "threshold not found: empty power sweep"
	}
	return fmt.Sprintf("threshold not found: no power in [%.4g, %.4g] cleared under-exposure",
		e.Sweep[0], e.Sweep[len(e.Sweep)-1])
}

func (e *ThresholdNotFoundError) Unwrap() error { return &e.ConvergenceError }

// ModelAssumptionError marks a violated internal invariant of the dose
// model. It indicates a defect; the report it would have produced is
// discarded.
type ModelAssumptionError struct {
	Invariant string
	Detail    string
}

func (e *ModelAssumptionError) Error() string {
	return fmt.Sprintf("model assumption %q violated: %s", e.Invariant, e.Detail)
}
