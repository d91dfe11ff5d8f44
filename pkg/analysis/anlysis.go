package analysis

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
)

// Analysis is one kind of simulation run on a circuit.
type Analysis interface {
	Setup(ckt *circuit.Circuit) error
	Execute(ctx context.Context) error
	GetResults() map[string][]float64
}

// Observer receives progress events. Implementations must be cheap; they
// are called from inside the solver loops.
type Observer interface {
	NewtonSolve(analysis string, iterations int, converged bool)
	ConvergenceAid(strategy string, steps int, converged bool)
	StepAccepted(t, h float64, order int)
	StepRejected(t, h float64, reason string)
}

// NopObserver ignores every event. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) NewtonSolve(string, int, bool)         {}
func (NopObserver) ConvergenceAid(string, int, bool)      {}
func (NopObserver) StepAccepted(float64, float64, int)    {}
func (NopObserver) StepRejected(float64, float64, string) {}

type settings struct {
	opts     config.Options
	log      logr.Logger
	observer Observer
}

// Option configures an analysis.
type Option func(*settings)

// WithOptions replaces the default tolerances and limits.
func WithOptions(opts config.Options) Option {
	return func(s *settings) { s.opts = opts }
}

func WithLogger(log logr.Logger) Option {
	return func(s *settings) { s.log = log }
}

func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		opts:     config.Defaults(),
		log:      logr.Discard(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type BaseAnalysis struct {
	Circuit *circuit.Circuit
	results map[string][]float64 // key: variable name, value: result by time or sweep point
	settings
}

func NewBaseAnalysis(opts ...Option) *BaseAnalysis {
	return &BaseAnalysis{
		results:  make(map[string][]float64),
		settings: newSettings(opts),
	}
}

// setup builds the circuit if needed and checks the options.
func (a *BaseAnalysis) setup(ckt *circuit.Circuit) error {
	if ckt == nil {
		return fmt.Errorf("circuit not set")
	}
	if err := a.opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if !ckt.Built() {
		if err := ckt.Build(); err != nil {
			return err
		}
	}
	a.Circuit = ckt
	clear(a.results)
	return nil
}

func (a *BaseAnalysis) StoreTimeResult(time float64, solution map[string]float64) {
	// Ignore same time
	if times := a.results["TIME"]; len(times) > 0 && times[len(times)-1] == time {
		return
	}
	a.results["TIME"] = append(a.results["TIME"], time)
	a.storeSolution(solution)
}

func (a *BaseAnalysis) storeSolution(solution map[string]float64) {
	for name, value := range solution {
		a.results[name] = append(a.results[name], value)
	}
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}
