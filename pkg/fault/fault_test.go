package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegenerateSliceUnwrapsToGeometry(t *testing.T) {
	err := fmt.Errorf("slicing: %w", &DegenerateSliceError{
		GeometryError: GeometryError{Layer: 3, Z: 0.95, Reason: "open chain"},
		OpenChains:    2,
		Tolerance:     1e-9,
	})

	var geo *GeometryError
	require.True(t, errors.As(err, &geo))
	assert.Equal(t, 3, geo.Layer)
	assert.Equal(t, 0.95, geo.Z)

	var ds *DegenerateSliceError
	require.True(t, errors.As(err, &ds))
	assert.Equal(t, 2, ds.OpenChains)
	assert.Contains(t, err.Error(), "layer 3")
}

func TestThresholdNotFoundUnwrapsToConvergence(t *testing.T) {
	partial := struct{ Best float64 }{Best: 15}
	err := error(&ThresholdNotFoundError{
		ConvergenceError: ConvergenceError{Stage: "power_threshold", Reason: "nothing cleared", Partial: partial},
		Sweep:            []float64{5, 10, 15},
	})

	var ce *ConvergenceError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "power_threshold", ce.Stage)
	assert.Equal(t, partial, ce.Partial)
	assert.Equal(t, "threshold not found: no power in [5, 15] cleared under-exposure", err.Error())

	empty := &ThresholdNotFoundError{}
	assert.Contains(t, empty.Error(), "empty power sweep")
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"geometry without layer", &GeometryError{Layer: -1, Reason: "mesh has no triangles"}, "geometry error: mesh has no triangles"},
		{"constraint with layer", &ConstraintViolationError{Parameter: "hatch_distance", Value: 0.0005, Limit: 0.001, Layer: 2},
			"constraint violation: hatch_distance=0.0005 exceeds limit 0.001 (layer 2)"},
		{"constraint without layer", &ConstraintViolationError{Parameter: "power", Value: 150, Limit: 100, Layer: -1},
			"constraint violation: power=150 exceeds limit 100"},
		{"model assumption", &ModelAssumptionError{Invariant: "positive finite scan speed", Detail: "speed 0"},
			`model assumption "positive finite scan speed" violated: speed 0`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}
