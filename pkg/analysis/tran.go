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
	"github.com/edp1096/spicecore/pkg/simerr"
)

// ErrTimeStepBudget is returned with a partial result when a transient run
// uses up max_time_steps before reaching its stop time.
var ErrTimeStepBudget = errors.New("transient: time step budget exhausted")

// StepConfig sets the time grid of a transient run.
type StepConfig struct {
	// Step is the suggested step; the first step is a tenth of it. Zero
	// means the largest step.
	Step float64
	// MaxStep overrides the max_step option when positive.
	MaxStep float64
	// UseInitialConditions skips the operating point and starts from a zero
	// state.
	UseInitialConditions bool
}

// TimeStepState is one accepted time point. Committed values are never
// changed afterwards.
type TimeStepState struct {
	Time       float64
	Step       float64 // step that reached Time, 0 for the initial point
	Method     integrator.Method
	Order      int
	Solution   []float64
	States     []float64
	Iterations int
}

// TransientResult holds the accepted time points of a run and its
// counters. It is returned even when the run stops early.
type TransientResult struct {
	Steps []TimeStepState
	Names []string // unknown names, parallel to every Solution

	Accepted       int
	Rejected       int
	NewtonFailures int
	Iterations     int

	// OperatingPoint is the initial point, nil with UseInitialConditions.
	OperatingPoint *DCResult
}

// Times returns the recorded time points.
func (r *TransientResult) Times() []float64 {
	times := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		times[i] = s.Time
	}
	return times
}

// Trace returns unknown idx at every recorded time point.
func (r *TransientResult) Trace(idx int) []float64 {
	values := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		values[i] = s.Solution[idx]
	}
	return values
}

type Transient struct {
	BaseAnalysis
	startTime float64
	stopTime  float64
	cfg       StepConfig
	result    *TransientResult
}

func NewTransient(tStart, tStop float64, cfg StepConfig, opts ...Option) *Transient {
	return &Transient{
		BaseAnalysis: *NewBaseAnalysis(opts...),
		startTime:    tStart,
		stopTime:     tStop,
		cfg:          cfg,
	}
}

func (tr *Transient) Setup(ckt *circuit.Circuit) error {
	if tr.startTime < 0 || !(tr.stopTime > tr.startTime) {
		return fmt.Errorf("invalid transient interval [%g, %g]", tr.startTime, tr.stopTime)
	}
	if tr.cfg.Step < 0 || tr.cfg.MaxStep < 0 {
		return fmt.Errorf("negative time step")
	}
	return tr.setup(ckt)
}

// Result returns the run of the last Execute, complete or partial.
func (tr *Transient) Result() *TransientResult {
	return tr.result
}

// SolveTransient integrates ckt from t = 0 to stop and records the time
// points from start on. On failure or cancellation the points accepted so
// far are returned along with the error.
func SolveTransient(ctx context.Context, ckt *circuit.Circuit, start, stop float64, cfg StepConfig, opts ...Option) (*TransientResult, error) {
	tr := NewTransient(start, stop, cfg, opts...)
	if err := tr.Setup(ckt); err != nil {
		return nil, err
	}
	err := tr.Execute(ctx)
	return tr.Result(), err
}

func (tr *Transient) Execute(ctx context.Context) error {
	if tr.Circuit == nil {
		return fmt.Errorf("circuit not set")
	}
	ckt := tr.Circuit
	opts := tr.opts

	tr.result = &TransientResult{Names: ckt.UnknownNames()}
	res := tr.result

	nw, err := newNewton(ckt, opts, tr.log)
	if err != nil {
		return err
	}
	defer nw.close()

	states := integrator.NewStates(ckt.StateCount())
	x := make([]float64, ckt.Size())
	if !tr.cfg.UseInitialConditions {
		op, err := tr.operatingPoint(ctx, nw, nil, states)
		if err != nil {
			return fmt.Errorf("transient initial operating point: %w", err)
		}
		res.OperatingPoint = op
		res.Iterations += op.Iterations
		copy(x, op.Solution)
	}
	states.Seed(0)
	tr.record(0, 0, integrator.BackwardEuler, x, states, 0)

	maxStep := tr.cfg.MaxStep
	if maxStep <= 0 {
		maxStep = opts.MaxStep
	}
	if maxStep <= 0 {
		maxStep = (tr.stopTime - tr.startTime) / 50
	}
	minStep := math.Min(opts.MinStep, maxStep)

	h := tr.cfg.Step
	if h <= 0 || h > maxStep {
		h = maxStep
	}
	h = math.Max(h/10, minStep)

	breakpoints := append(ckt.Breakpoints(0, tr.stopTime), tr.stopTime)
	tol := integrator.Tolerance{
		RelTol:  opts.RelTol,
		AbsTolI: opts.AbsTolI,
		AbsTolQ: opts.AbsTolQ,
		LTE:     opts.LTETolerance,
	}

	t := 0.0
	method := integrator.BackwardEuler
	lteRejects := 0
	for t < tr.stopTime-minStep/2 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transient stopped at t=%g: %w", t, err)
		}
		if res.Accepted >= opts.MaxTimeSteps {
			return fmt.Errorf("%w: %d steps at t=%g", ErrTimeStepBudget, res.Accepted, t)
		}

		for len(breakpoints) > 0 && breakpoints[0] <= t+minStep/2 {
			breakpoints = breakpoints[1:]
		}
		next := breakpoints[0]
		atBreakpoint := false
		if t+h >= next-minStep {
			h = next - t
			atBreakpoint = true
		}
		tn := t + h
		if atBreakpoint {
			tn = next
		}

		status := device.NewCircuitStatus(device.TransientAnalysis)
		status.Time = tn
		status.TimeStep = h
		status.Temp = opts.Temperature
		status.Gmin = opts.Gmin
		status.States = states
		status.Coeffs = integrator.NewCoeffs(method, h)

		nr, err := nw.solve(ctx, x, status, opts.MaxTranIterations, false)
		res.Iterations += nr.iterations
		tr.observer.NewtonSolve("TRAN", nr.iterations, err == nil)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("transient stopped at t=%g: %w", t, err)
			}
			res.NewtonFailures++
			res.Rejected++
			tr.observer.StepRejected(tn, h, "newton")
			rejected := &simerr.StepRejected{Time: tn, Step: h, Reason: "newton failure"}
			if h <= minStep {
				return tr.failure(nr, tn, fmt.Errorf("%w: %w", rejected, err))
			}
			tr.log.V(logging.DEBUG).Info("step rejected", "err", rejected.Error(), "cause", err.Error())
			h = math.Max(h/8, minStep)
			method = integrator.BackwardEuler
			continue
		}

		ratio := states.Truncation(tn, status.Coeffs, tol)
		if ratio > 1 {
			res.Rejected++
			lteRejects++
			tr.observer.StepRejected(tn, h, "truncation")
			rejected := &simerr.StepRejected{Time: tn, Step: h, Ratio: ratio, Reason: "truncation error"}
			if h <= minStep {
				return tr.failure(nr, tn, rejected)
			}
			tr.log.V(logging.DEBUG).Info("step rejected", "err", rejected.Error())
			h = math.Max(integrator.NextStep(h, ratio, method), minStep)
			if lteRejects >= 2 {
				method = integrator.BackwardEuler
			}
			continue
		}

		states.Commit(tn)
		x = nr.x
		t = tn
		res.Accepted++
		lteRejects = 0
		tr.record(t, h, method, x, states, nr.iterations)
		tr.observer.StepAccepted(t, h, method.Order())
		tr.log.V(logging.TRACE).Info("step accepted",
			"time", t, "step", h, "method", method.String(), "ratio", ratio, "iterations", nr.iterations)

		hNext := integrator.NextStep(h, ratio, method)
		method = integrator.Trapezoidal
		if atBreakpoint {
			// derivatives jump at a corner: restart the history at low order
			states.Restart()
			method = integrator.BackwardEuler
			hNext = math.Min(hNext, h)
		}
		h = math.Min(math.Max(hNext, minStep), maxStep)
	}

	tr.log.V(logging.DEBUG).Info("transient finished",
		"accepted", res.Accepted, "rejected", res.Rejected, "iterations", res.Iterations)
	return nil
}

// record keeps time points from the start time on, in the result and in
// the named result map.
func (tr *Transient) record(t, h float64, method integrator.Method, x []float64, states *integrator.States, iterations int) {
	if t < tr.startTime {
		return
	}
	order := 0
	if h > 0 {
		order = method.Order()
	}
	tr.result.Steps = append(tr.result.Steps, TimeStepState{
		Time:       t,
		Step:       h,
		Method:     method,
		Order:      order,
		Solution:   append([]float64(nil), x...),
		States:     append([]float64(nil), states.Prev...),
		Iterations: iterations,
	})

	status := device.NewCircuitStatus(device.TransientAnalysis)
	status.Time = t
	tr.StoreTimeResult(t, tr.Circuit.Solution(x, status))
}

func (tr *Transient) failure(nr newtonResult, t float64, cause error) error {
	return &simerr.ConvergenceFailure{
		Analysis:     "TRAN",
		Iterations:   nr.iterations,
		ResidualNorm: nr.residualNorm,
		Time:         t,
		Cause:        cause,
	}
}
