package integrator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/spicecore/pkg/autodiff"
)

func TestCoefficients(t *testing.T) {
	be := NewCoeffs(BackwardEuler, 1e-3)
	assert.InDelta(t, 1e3, be.Ag[0], 1e-9)
	assert.InDelta(t, -1e3, be.Ag[1], 1e-9)

	tr := NewCoeffs(Trapezoidal, 1e-3)
	assert.InDelta(t, 2e3, tr.Ag[0], 1e-9)

	assert.Equal(t, 1, BackwardEuler.Order())
	assert.Equal(t, 2, Trapezoidal.Order())
	assert.Equal(t, "TR", Trapezoidal.String())
}

func TestIntegrateDCKeepsStructure(t *testing.T) {
	s := NewStates(2)
	q := autodiff.Vars(3, 1)
	charge := q[0].Sub(q[1]).Scale(2)

	i := s.Integrate(0, charge, nil)
	assert.Equal(t, 0.0, i.V)
	require.Len(t, i.D, 2)
	assert.Equal(t, 4.0, s.Curr[0])

	var none *States
	assert.Equal(t, 0.0, none.Integrate(0, charge, nil).V)
}

func TestIntegrateCompanion(t *testing.T) {
	s := NewStates(2)
	s.Prev[0], s.Prev[1] = 1, 0.5

	q := autodiff.Var(1.5, 0, 1)

	be := s.Integrate(0, q, NewCoeffs(BackwardEuler, 0.1))
	assert.InDelta(t, 5.0, be.V, 1e-12)
	assert.InDelta(t, 10.0, be.D[0], 1e-12)

	tr := s.Integrate(0, q, NewCoeffs(Trapezoidal, 0.1))
	assert.InDelta(t, 10-0.5, tr.V, 1e-12)
	assert.InDelta(t, 20.0, tr.D[0], 1e-12)
	assert.InDelta(t, 9.5, s.Curr[1], 1e-12)
}

func TestHistoryIsBounded(t *testing.T) {
	s := NewStates(2)
	s.Seed(0)
	for k := 1; k <= 5; k++ {
		s.Curr[0] = float64(k)
		s.Commit(float64(k))
	}
	assert.Equal(t, historyDepth, s.History())
	assert.Equal(t, []float64{5, 4, 3}, s.times)
	assert.Equal(t, 5.0, s.past[0][0])
	assert.Equal(t, 3.0, s.past[2][0])

	s.Restart()
	assert.Equal(t, 1, s.History())
}

func TestTruncationOfQuadraticCharge(t *testing.T) {
	// q(t) = t^2: q'' = 2 exactly from any three points.
	s := NewStates(2)
	s.Curr[0] = 0
	s.Seed(0)
	s.Curr[0] = 1
	s.Commit(1)

	c := NewCoeffs(BackwardEuler, 1)
	s.Curr[0] = 4
	s.Curr[1] = 3

	tol := Tolerance{RelTol: 1e-3, AbsTolI: 1e-12, AbsTolQ: 1e-14, LTE: 7}
	ratio := s.Truncation(2, c, tol)

	lte := 0.5 * 1 * 2 / 1.0
	limit := math.Max(1e-12+1e-3*3, (1e-3*4+1e-14)/1)
	assert.InDelta(t, lte/(7*limit), ratio, 1e-9)
}

func TestTruncationNeedsHistory(t *testing.T) {
	s := NewStates(2)
	s.Seed(0)
	s.Curr[0] = 1
	assert.Equal(t, 0.0, s.Truncation(1, NewCoeffs(Trapezoidal, 1), Tolerance{RelTol: 1e-3, LTE: 7}))
}

func TestLinearChargeHasNoTruncationError(t *testing.T) {
	s := NewStates(2)
	for k := 0; k < 3; k++ {
		s.Curr[0] = 2 * float64(k)
		if k == 0 {
			s.Seed(0)
		} else {
			s.Commit(float64(k))
		}
	}
	s.Curr[0] = 6
	ratio := s.Truncation(3, NewCoeffs(Trapezoidal, 1), Tolerance{RelTol: 1e-3, AbsTolI: 1e-12, AbsTolQ: 1e-14, LTE: 7})
	assert.InDelta(t, 0, ratio, 1e-9)
}

func TestNextStep(t *testing.T) {
	assert.Equal(t, 2.0, NextStep(1, 0, Trapezoidal))
	assert.Equal(t, 2.0, NextStep(1, 1e-6, Trapezoidal))
	assert.Equal(t, 0.125, NextStep(1, 1e9, BackwardEuler))

	h := NextStep(1, 4, BackwardEuler)
	assert.InDelta(t, 0.45, h, 1e-12)
}
