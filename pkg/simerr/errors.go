// Package simerr defines the failures a simulation can report.
//
// Every typed error matches its sentinel with errors.Is, so callers can
// branch on the category without caring about the details:
//
//	if errors.Is(err, simerr.ErrSingularMatrix) { ... }
//
// and recover the details with errors.As when they do.
package simerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConstruction indicates a circuit that cannot be simulated as built.
	ErrConstruction = errors.New("spice: invalid circuit")

	// ErrSingularMatrix indicates a Jacobian that could not be factored.
	ErrSingularMatrix = errors.New("spice: singular matrix")

	// ErrConvergence indicates Newton iteration failed after all aids.
	ErrConvergence = errors.New("spice: convergence failure")

	// ErrStepRejected indicates a transient step was rejected.
	ErrStepRejected = errors.New("spice: time step rejected")
)

// ConstructionError reports a problem found while building a circuit:
// bad parameters, duplicate names, unknown references or floating nodes.
type ConstructionError struct {
	Device string
	Node   string
	Reason string
}

func (e *ConstructionError) Error() string {
	switch {
	case e.Device != "" && e.Node != "":
		return fmt.Sprintf("%v: device %s, node %s: %s", ErrConstruction, e.Device, e.Node, e.Reason)
	case e.Device != "":
		return fmt.Sprintf("%v: device %s: %s", ErrConstruction, e.Device, e.Reason)
	case e.Node != "":
		return fmt.Sprintf("%v: node %s: %s", ErrConstruction, e.Node, e.Reason)
	}
	return fmt.Sprintf("%v: %s", ErrConstruction, e.Reason)
}

func (e *ConstructionError) Is(target error) bool { return target == ErrConstruction }

// SingularMatrixError carries the unknown whose pivot vanished. Row and Col
// are unknown indices, or -1 when the solver could not tell.
type SingularMatrixError struct {
	Row, Col         int
	RowName, ColName string
	NearSingular     bool
}

func (e *SingularMatrixError) Error() string {
	kind := "singular"
	if e.NearSingular {
		kind = "near-singular"
	}
	if e.RowName != "" {
		return fmt.Sprintf("%v: %s at row %s, col %s", ErrSingularMatrix, kind, e.RowName, e.ColName)
	}
	if e.Row >= 0 {
		return fmt.Sprintf("%v: %s at row %d, col %d", ErrSingularMatrix, kind, e.Row, e.Col)
	}
	return fmt.Sprintf("%v: %s", ErrSingularMatrix, kind)
}

func (e *SingularMatrixError) Is(target error) bool { return target == ErrSingularMatrix }

// ConvergenceFailure is returned when Newton iteration, with every
// configured aid, did not produce a solution.
type ConvergenceFailure struct {
	Analysis     string
	Iterations   int
	ResidualNorm float64
	Time         float64
	Cause        error
}

func (e *ConvergenceFailure) Error() string {
	msg := fmt.Sprintf("%v: %s after %d iterations (residual %.3e", ErrConvergence, e.Analysis, e.Iterations, e.ResidualNorm)
	if e.Time > 0 {
		msg += fmt.Sprintf(", t=%g", e.Time)
	}
	msg += ")"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConvergenceFailure) Is(target error) bool { return target == ErrConvergence }

func (e *ConvergenceFailure) Unwrap() error { return e.Cause }

// StepRejected describes one rejected transient step. It is recoverable
// until the step size reaches its minimum.
type StepRejected struct {
	Time   float64
	Step   float64
	Ratio  float64
	Reason string
}

func (e *StepRejected) Error() string {
	return fmt.Sprintf("%v: t=%g h=%g (%s, ratio %.3g)", ErrStepRejected, e.Time, e.Step, e.Reason, e.Ratio)
}

func (e *StepRejected) Is(target error) bool { return target == ErrStepRejected }
