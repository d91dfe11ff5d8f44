package simerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinels(t *testing.T) {
	singular := &SingularMatrixError{Row: 2, Col: 2}

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{name: "construction", err: &ConstructionError{Node: "n1", Reason: "floating"}, sentinel: ErrConstruction},
		{name: "singular", err: singular, sentinel: ErrSingularMatrix},
		{name: "convergence", err: &ConvergenceFailure{Analysis: "op"}, sentinel: ErrConvergence},
		{name: "step", err: &StepRejected{Time: 1e-3, Step: 1e-9, Reason: "lte"}, sentinel: ErrStepRejected},
		{name: "wrapped", err: fmt.Errorf("solving: %w", singular), sentinel: ErrSingularMatrix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
		})
	}
}

func TestConvergenceFailureUnwrapsCause(t *testing.T) {
	cause := &SingularMatrixError{Row: 1, Col: 3, RowName: "V(out)", ColName: "I(V1)"}
	err := error(&ConvergenceFailure{Analysis: "op", Iterations: 100, Cause: cause})

	assert.ErrorIs(t, err, ErrConvergence)
	assert.ErrorIs(t, err, ErrSingularMatrix)

	var sme *SingularMatrixError
	if assert.True(t, errors.As(err, &sme)) {
		assert.Equal(t, 1, sme.Row)
	}
	assert.Contains(t, err.Error(), "V(out)")
}

func TestConstructionErrorMessage(t *testing.T) {
	err := &ConstructionError{Device: "R1", Reason: "resistance must be positive"}
	assert.Equal(t, "spice: invalid circuit: device R1: resistance must be positive", err.Error())

	err = &ConstructionError{Node: "float", Reason: "no path to ground"}
	assert.Equal(t, "spice: invalid circuit: node float: no path to ground", err.Error())
}
