// Package integrator holds the time-integration state of a transient
// analysis: per-device charge and flux histories, the companion-model
// coefficients and the local truncation error estimate.
package integrator

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/autodiff"
)

type Method int

const (
	BackwardEuler Method = iota + 1
	Trapezoidal
)

func (m Method) String() string {
	switch m {
	case BackwardEuler:
		return "BE"
	case Trapezoidal:
		return "TR"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Order is the order of accuracy.
func (m Method) Order() int {
	if m == Trapezoidal {
		return 2
	}
	return 1
}

// ErrorConstant is C in LTE = C * h^(k+1) * |x^(k+1)|.
func (m Method) ErrorConstant() float64 {
	if m == Trapezoidal {
		return 1.0 / 12.0
	}
	return 0.5
}

type backwardDifferentialFormula struct {
	coefficients []float64
	beta         float64
}

// First two BDF rows. BDF1 is backward Euler.
var bdfCoefficients = [2]backwardDifferentialFormula{
	{[]float64{1.0}, 1.0},
	{[]float64{4.0 / 3.0, -1.0 / 3.0}, 2.0 / 3.0},
}

// Coeffs are the companion coefficients of one time step.
// Ag[0] multiplies the new charge, Ag[1:] the accepted history.
type Coeffs struct {
	Method Method
	Step   float64
	Ag     []float64
}

func NewCoeffs(method Method, h float64) *Coeffs {
	c := &Coeffs{Method: method, Step: h}
	switch method {
	case Trapezoidal:
		c.Ag = []float64{2.0 / h, -2.0 / h}
	default:
		bdf := bdfCoefficients[0]
		scale := 1.0 / (bdf.beta * h)
		c.Ag = []float64{scale, -bdf.coefficients[0] * scale}
	}
	return c
}

// States owns the history of every reactive device. Each charge (or flux)
// takes two consecutive slots: the quantity itself and its time derivative.
type States struct {
	Curr []float64 // trial values of the step being solved
	Prev []float64 // last accepted step

	// accepted points, newest first, for the divided differences
	times []float64
	past  [][]float64
}

const historyDepth = 3

func NewStates(n int) *States {
	return &States{
		Curr: make([]float64, n),
		Prev: make([]float64, n),
	}
}

func (s *States) Len() int { return len(s.Curr) }

// Integrate returns the companion current dq/dt for the charge at offset and
// records the trial values. With nil coefficients (DC) the current is zero
// but keeps the gradient shape of q, so the Jacobian structure is the same
// in every analysis mode.
func (s *States) Integrate(offset int, q autodiff.Dual, c *Coeffs) autodiff.Dual {
	if c == nil {
		if s != nil {
			s.Curr[offset] = q.V
			s.Curr[offset+1] = 0
		}
		return q.Scale(0)
	}

	i := q.AddConst(-s.Prev[offset]).Scale(c.Ag[0])
	if c.Method == Trapezoidal {
		i = i.AddConst(-s.Prev[offset+1])
	}
	s.Curr[offset] = q.V
	s.Curr[offset+1] = i.V
	return i
}

// Seed makes the current values the accepted initial state at time t and
// clears the history.
func (s *States) Seed(t float64) {
	copy(s.Prev, s.Curr)
	s.times = s.times[:0]
	s.past = s.past[:0]
	s.push(t)
}

// Commit accepts the trial values of the step ending at t.
func (s *States) Commit(t float64) {
	copy(s.Prev, s.Curr)
	s.push(t)
}

// Restart forgets everything but the last accepted point. Used at
// breakpoints, where the waveform derivatives are discontinuous.
func (s *States) Restart() {
	if len(s.times) > 1 {
		s.times = s.times[:1]
		s.past = s.past[:1]
	}
}

func (s *States) push(t float64) {
	var snap []float64
	if len(s.past) == historyDepth {
		snap = s.past[historyDepth-1]
		s.times = s.times[:historyDepth-1]
		s.past = s.past[:historyDepth-1]
	} else {
		snap = make([]float64, len(s.Prev))
	}
	copy(snap, s.Prev)
	s.times = append([]float64{t}, s.times...)
	s.past = append([][]float64{snap}, s.past...)
}

// History is the number of accepted points kept.
func (s *States) History() int { return len(s.times) }

// Tolerance configures the truncation error test.
type Tolerance struct {
	RelTol  float64
	AbsTolI float64
	AbsTolQ float64
	LTE     float64 // trtol multiplier
}

// Truncation estimates the local truncation error of the trial step ending
// at t and returns the worst ratio of error to tolerance over all states.
// A ratio above 1 means the step should be rejected. Without enough history
// for the divided difference the estimate is 0.
func (s *States) Truncation(t float64, c *Coeffs, tol Tolerance) float64 {
	k := c.Method.Order()
	if len(s.times) < k+1 || len(s.Curr) == 0 {
		return 0
	}

	ts := make([]float64, k+2)
	ts[0] = t
	copy(ts[1:], s.times[:k+1])

	h := c.Step
	factorial := 1.0
	for j := 2; j <= k+1; j++ {
		factorial *= float64(j)
	}
	scale := c.Method.ErrorConstant() * math.Pow(h, float64(k+1)) * factorial

	dd := make([]float64, k+2)
	worst := 0.0
	for off := 0; off+1 < len(s.Curr); off += 2 {
		dd[0] = s.Curr[off]
		for j := 1; j <= k+1; j++ {
			dd[j] = s.past[j-1][off]
		}
		deriv := dividedDifference(ts, dd)

		lte := scale * math.Abs(deriv) / h // in current units

		q := math.Max(math.Abs(s.Curr[off]), math.Abs(s.Prev[off]))
		i := math.Max(math.Abs(s.Curr[off+1]), math.Abs(s.Prev[off+1]))
		limit := math.Max(tol.AbsTolI+tol.RelTol*i, (tol.RelTol*q+tol.AbsTolQ)/h)

		ratio := lte / (tol.LTE * limit)
		if math.IsNaN(ratio) {
			return math.Inf(1)
		}
		worst = math.Max(worst, ratio)
	}
	return worst
}

// dividedDifference returns f[t0..tn], overwriting y.
func dividedDifference(t, y []float64) float64 {
	n := len(t)
	for level := 1; level < n; level++ {
		for i := 0; i < n-level; i++ {
			y[i] = (y[i] - y[i+1]) / (t[i] - t[i+level])
		}
	}
	return y[0]
}

// NextStep returns the step after a truncation test with the given ratio.
// Accepted steps grow by at most 2x; rejected steps shrink to at most 1/8.
func NextStep(h, ratio float64, m Method) float64 {
	k := float64(m.Order())
	if ratio <= 0 {
		return 2 * h
	}
	factor := 0.9 * math.Pow(ratio, -1/(k+1))
	if ratio > 1 {
		return h * math.Max(0.125, factor)
	}
	return h * math.Min(2, factor)
}
