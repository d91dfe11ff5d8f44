package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/spicecore/internal/logging"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/integrator"
	"github.com/edp1096/spicecore/pkg/matrix"
	"github.com/edp1096/spicecore/pkg/simerr"
)

// Strategy is the way an operating point was reached.
type Strategy int

const (
	StrategyNewton Strategy = iota
	StrategyGminStepping
	StrategySourceStepping
)

func (s Strategy) String() string {
	switch s {
	case StrategyGminStepping:
		return "gmin-stepping"
	case StrategySourceStepping:
		return "source-stepping"
	default:
		return "newton"
	}
}

// Largest shunt conductance of gmin stepping.
const gminStart = 1e-2

const maxSourceHalvings = 4

// DCResult is a converged operating point with its diagnostics.
type DCResult struct {
	Solution []float64
	Names    []string           // unknown names, parallel to Solution
	Values   map[string]float64 // V(node) and I(device)

	Strategy     Strategy
	Iterations   int // Newton iterations over all strategies
	ResidualNorm float64
	GminSteps    int
	SourceSteps  int
	Matrix       matrix.Stats
}

// V returns the voltage of a node, 0 for ground or unknown names.
func (r *DCResult) V(node string) float64 {
	return r.Values[fmt.Sprintf("V(%s)", node)]
}

// I returns the current reported by a device.
func (r *DCResult) I(dev string) float64 {
	return r.Values[fmt.Sprintf("I(%s)", dev)]
}

type OperatingPoint struct {
	BaseAnalysis
	result *DCResult
}

func NewOP(opts ...Option) *OperatingPoint {
	return &OperatingPoint{
		BaseAnalysis: *NewBaseAnalysis(opts...),
	}
}

func (op *OperatingPoint) Setup(ckt *circuit.Circuit) error {
	return op.setup(ckt)
}

func (op *OperatingPoint) Execute(ctx context.Context) error {
	if op.Circuit == nil {
		return fmt.Errorf("circuit not set")
	}

	nw, err := newNewton(op.Circuit, op.opts, op.log)
	if err != nil {
		return err
	}
	defer nw.close()

	res, err := op.operatingPoint(ctx, nw, nil, nil)
	if err != nil {
		return err
	}
	op.result = res
	op.storeResults(res)
	return nil
}

// Result returns the operating point of the last Execute.
func (op *OperatingPoint) Result() *DCResult {
	return op.result
}

func (op *OperatingPoint) storeResults(res *DCResult) {
	for name, value := range res.Values {
		op.results[name] = []float64{value}
	}
}

// SolveDC computes the DC operating point of ckt, building it first if
// needed.
func SolveDC(ctx context.Context, ckt *circuit.Circuit, opts ...Option) (*DCResult, error) {
	op := NewOP(opts...)
	if err := op.Setup(ckt); err != nil {
		return nil, err
	}
	if err := op.Execute(ctx); err != nil {
		return nil, err
	}
	return op.Result(), nil
}

func (s *settings) dcStatus(states *integrator.States) *device.CircuitStatus {
	status := device.NewCircuitStatus(device.OperatingPointAnalysis)
	status.Temp = s.opts.Temperature
	status.Gmin = s.opts.Gmin
	status.States = states
	return status
}

// operatingPoint tries plain Newton from x0, then gmin stepping, then source
// stepping. states, when set, receives the charges of the solution.
func (s *settings) operatingPoint(ctx context.Context, nw *newton, x0 []float64, states *integrator.States) (*DCResult, error) {
	ckt := nw.ckt
	status := s.dcStatus(states)
	result := &DCResult{Strategy: StrategyNewton}

	nr, err := nw.solve(ctx, x0, status, s.opts.MaxNewtonIterations, true)
	result.Iterations += nr.iterations
	s.observer.NewtonSolve("OP", nr.iterations, err == nil)
	if err == nil {
		return s.dcResult(nw, result, nr, status), nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if ckt.IsLinear() {
		// no aid changes the structure of a linear system
		if errors.Is(err, simerr.ErrSingularMatrix) {
			return nil, fmt.Errorf("operating point: %w", err)
		}
		return nil, s.dcFailure(result, nr, err)
	}
	lastErr := err
	s.log.V(logging.DEBUG).Info("newton failed, trying convergence aids", "iterations", nr.iterations, "err", err.Error())

	if s.opts.MaxGminSteps > 0 {
		var steps int
		nr, steps, err = s.gminStepping(ctx, nw, status, result)
		s.observer.ConvergenceAid(StrategyGminStepping.String(), steps, err == nil)
		if err == nil {
			result.Strategy = StrategyGminStepping
			result.GminSteps = steps
			return s.dcResult(nw, result, nr, status), nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		s.log.V(logging.DEBUG).Info("gmin stepping failed", "steps", steps, "err", err.Error())
		lastErr = err
	}

	if s.opts.MaxSourceSteps > 0 {
		var steps int
		nr, steps, err = s.sourceStepping(ctx, nw, status, result)
		s.observer.ConvergenceAid(StrategySourceStepping.String(), steps, err == nil)
		if err == nil {
			result.Strategy = StrategySourceStepping
			result.SourceSteps = steps
			return s.dcResult(nw, result, nr, status), nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		s.log.V(logging.DEBUG).Info("source stepping failed", "steps", steps, "err", err.Error())
		lastErr = err
	}

	if errors.Is(lastErr, simerr.ErrSingularMatrix) {
		return nil, fmt.Errorf("operating point: %w", lastErr)
	}
	return nil, s.dcFailure(result, nr, lastErr)
}

// gminStepping shunts every node to ground with a conductance that falls
// geometrically from gminStart to gmin, each solve starting from the last,
// then removes the shunt.
func (s *settings) gminStepping(ctx context.Context, nw *newton, status *device.CircuitStatus, result *DCResult) (newtonResult, int, error) {
	defer func() { status.Gshunt = 0 }()

	target := s.opts.Gmin
	if target <= 0 {
		target = 1e-12
	}
	n := s.opts.MaxGminSteps
	ratio := math.Pow(target/gminStart, 1/float64(n))

	var (
		x  []float64
		nr newtonResult
	)
	g := gminStart
	for step := 0; step <= n; step++ {
		status.Gshunt = g
		var err error
		nr, err = nw.solve(ctx, x, status, s.opts.MaxNewtonIterations, true)
		result.Iterations += nr.iterations
		if err != nil {
			return nr, step, fmt.Errorf("gmin stepping at gshunt=%g: %w", g, err)
		}
		s.log.V(logging.TRACE).Info("gmin step converged", "gshunt", g, "iterations", nr.iterations)
		x = nr.x
		g *= ratio
	}

	status.Gshunt = 0
	nr, err := nw.solve(ctx, x, status, s.opts.MaxNewtonIterations, true)
	result.Iterations += nr.iterations
	if err != nil {
		return nr, n + 1, fmt.Errorf("gmin stepping, final solve without shunt: %w", err)
	}
	return nr, n + 1, nil
}

// sourceStepping ramps every independent source from zero to its full
// value. A failed increment is halved and retried.
func (s *settings) sourceStepping(ctx context.Context, nw *newton, status *device.CircuitStatus, result *DCResult) (newtonResult, int, error) {
	defer func() { status.SourceFactor = 1 }()

	status.SourceFactor = 0
	nr, err := nw.solve(ctx, nil, status, s.opts.MaxNewtonIterations, true)
	result.Iterations += nr.iterations
	if err != nil {
		return nr, 0, fmt.Errorf("source stepping with sources off: %w", err)
	}

	x := nr.x
	factor, increment := 0.0, 1/float64(s.opts.MaxSourceSteps)
	steps, halvings := 0, 0
	for factor < 1 {
		next := math.Min(1, factor+increment)
		status.SourceFactor = next
		nr, err = nw.solve(ctx, x, status, s.opts.MaxNewtonIterations, true)
		result.Iterations += nr.iterations
		if err != nil {
			if ctx.Err() != nil || halvings == maxSourceHalvings {
				return nr, steps, fmt.Errorf("source stepping at factor %g: %w", next, err)
			}
			halvings++
			increment /= 2
			s.log.V(logging.TRACE).Info("source step failed, halving", "factor", next, "increment", increment)
			continue
		}
		x = nr.x
		factor = next
		steps++
	}
	return nr, steps, nil
}

func (s *settings) dcResult(nw *newton, result *DCResult, nr newtonResult, status *device.CircuitStatus) *DCResult {
	result.Solution = nr.x
	result.Names = nw.ckt.UnknownNames()
	result.Values = nw.ckt.Solution(nr.x, status)
	result.ResidualNorm = nr.residualNorm
	result.Matrix = nw.mat.Stats()
	s.log.V(logging.DEBUG).Info("operating point converged",
		"strategy", result.Strategy.String(), "iterations", result.Iterations, "residual", result.ResidualNorm)
	return result
}

func (s *settings) dcFailure(result *DCResult, nr newtonResult, cause error) error {
	return &simerr.ConvergenceFailure{
		Analysis:     "OP",
		Iterations:   result.Iterations,
		ResidualNorm: nr.residualNorm,
		Cause:        cause,
	}
}
