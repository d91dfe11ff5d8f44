package analysis_test

import (
	"context"
	"errors"
	"math"
	"slices"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edp1096/spicecore/internal/logging"
	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/integrator"
	"github.com/edp1096/spicecore/pkg/simerr"
)

// stepRecorder keeps the accepted and rejected steps in order. A rejected
// step carries its reason.
type stepRecorder struct {
	analysis.NopObserver
	events []stepEvent
}

type stepEvent struct {
	t, h   float64
	reason string
}

func (r *stepRecorder) StepAccepted(t, h float64, _ int) {
	r.events = append(r.events, stepEvent{t: t, h: h})
}

func (r *stepRecorder) StepRejected(t, h float64, reason string) {
	r.events = append(r.events, stepEvent{t: t, h: h, reason: reason})
}

func (r *stepRecorder) reasons() []string {
	var out []string
	for _, ev := range r.events {
		if ev.reason != "" {
			out = append(out, ev.reason)
		}
	}
	return out
}

var _ = Describe("SolveTransient", func() {
	var (
		ctx  context.Context
		opts config.Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		opts = config.Defaults()
	})

	run := func(ckt *circuit.Circuit, start, stop float64, cfg analysis.StepConfig, extra ...analysis.Option) (*analysis.TransientResult, error) {
		all := append([]analysis.Option{
			analysis.WithOptions(opts),
			analysis.WithLogger(logging.NewTestLogger()),
		}, extra...)
		return analysis.SolveTransient(ctx, ckt, start, stop, cfg, all...)
	}

	expectMonotonic := func(res *analysis.TransientResult) {
		times := res.Times()
		for i := 1; i < len(times); i++ {
			Expect(times[i]).To(BeNumerically(">", times[i-1]))
		}
	}

	Context("with an RC network charging from zero", func() {
		It("should follow 5(1-exp(-t/RC))", func() {
			ckt := rcCircuit(device.NewDCVoltageSource("V1", []string{"in", "0"}, 5))
			res, err := run(ckt, 0, 5e-3, analysis.StepConfig{Step: 1e-5, UseInitialConditions: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.OperatingPoint).To(BeNil())

			out, ok := ckt.NodeIndex("out")
			Expect(ok).To(BeTrue())

			Expect(res.Steps[0].Time).To(Equal(0.0))
			Expect(res.Steps[0].Solution[out]).To(Equal(0.0))
			for _, step := range res.Steps[1:] {
				want := 5 * (1 - math.Exp(-step.Time/1e-3))
				Expect(step.Solution[out]).To(BeNumerically("~", want, 0.01), "t=%g", step.Time)
			}
			Expect(res.Steps[len(res.Steps)-1].Time).To(Equal(5e-3))
			Expect(res.Accepted).To(Equal(len(res.Steps) - 1))
			expectMonotonic(res)
		})

		It("should take only one Newton iteration per linear time point", func() {
			ckt := rcCircuit(device.NewDCVoltageSource("V1", []string{"in", "0"}, 5))
			res, err := run(ckt, 0, 1e-3, analysis.StepConfig{Step: 1e-5, UseInitialConditions: true})
			Expect(err).NotTo(HaveOccurred())
			for _, step := range res.Steps[1:] {
				Expect(step.Iterations).To(Equal(1))
			}
		})

		It("should use backward Euler first and trapezoidal afterwards", func() {
			ckt := rcCircuit(device.NewDCVoltageSource("V1", []string{"in", "0"}, 5))
			res, err := run(ckt, 0, 1e-3, analysis.StepConfig{Step: 1e-5, UseInitialConditions: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(len(res.Steps)).To(BeNumerically(">", 3))
			Expect(res.Steps[1].Method).To(Equal(integrator.BackwardEuler))
			Expect(res.Steps[2].Method).To(Equal(integrator.Trapezoidal))
			Expect(res.Steps[2].Order).To(Equal(2))
		})
	})

	Context("with a large first step", func() {
		It("should reject on truncation error and retry smaller", func() {
			obs := &stepRecorder{}
			ckt := rcCircuit(device.NewDCVoltageSource("V1", []string{"in", "0"}, 5))
			res, err := run(ckt, 0, 5e-3,
				analysis.StepConfig{Step: 2e-3, MaxStep: 2e-3, UseInitialConditions: true},
				analysis.WithObserver(obs))
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Rejected).To(BeNumerically(">", 0))
			Expect(res.NewtonFailures).To(Equal(0))
			Expect(obs.reasons()).To(HaveEach("truncation"))
			Expect(obs.reasons()).To(HaveLen(res.Rejected))

			// the step that follows a rejection is shorter than the one refused
			for i, ev := range obs.events {
				if ev.reason == "" || i+1 >= len(obs.events) {
					continue
				}
				Expect(obs.events[i+1].h).To(BeNumerically("<", ev.h))
			}

			out, _ := ckt.NodeIndex("out")
			for _, step := range res.Steps[1:] {
				Expect(step.Step).To(BeNumerically("<=", 2e-3))
				want := 5 * (1 - math.Exp(-step.Time/1e-3))
				Expect(step.Solution[out]).To(BeNumerically("~", want, 0.1), "t=%g", step.Time)
			}
			Expect(res.Steps[len(res.Steps)-1].Time).To(Equal(5e-3))
			expectMonotonic(res)
		})
	})

	Context("with an RL network", func() {
		It("should follow V/R(1-exp(-tR/L))", func() {
			ckt := circuit.New("rl")
			ckt.Add(
				device.NewDCVoltageSource("V1", []string{"in", "0"}, 5),
				device.NewResistor("R1", []string{"in", "mid"}, 1e3),
				device.NewInductor("L1", []string{"mid", "0"}, 1),
			)
			res, err := run(ckt, 0, 5e-3, analysis.StepConfig{Step: 1e-5, UseInitialConditions: true})
			Expect(err).NotTo(HaveOccurred())

			l1, ok := ckt.BranchIndex("L1")
			Expect(ok).To(BeTrue())
			Expect(res.Steps[0].Solution[l1]).To(Equal(0.0))
			for _, step := range res.Steps[1:] {
				want := 5e-3 * (1 - math.Exp(-step.Time*1e3))
				Expect(step.Solution[l1]).To(BeNumerically("~", want, 5e-5), "t=%g", step.Time)
			}
			Expect(res.Steps[len(res.Steps)-1].Time).To(Equal(5e-3))
			Expect(res.Steps[2].Method).To(Equal(integrator.Trapezoidal))
			expectMonotonic(res)
		})
	})

	Context("with coupled inductors", func() {
		It("should scale the primary voltage by M/L1 on an open secondary", func() {
			const (
				l1, l2, k = 1e-3, 4e-3, 0.99
			)
			ckt := circuit.New("transformer")
			ckt.Add(
				device.NewSinVoltageSource("V1", []string{"in", "0"}, 0, 1, 1e3, 0),
				device.NewInductor("L1", []string{"in", "0"}, l1),
				device.NewInductor("L2", []string{"sec", "0"}, l2),
				device.NewMutual("K1", []string{"L1", "L2"}, k),
				device.NewResistor("R2", []string{"sec", "0"}, 1e6),
			)
			res, err := run(ckt, 0, 2e-3, analysis.StepConfig{Step: 1e-5, UseInitialConditions: true})
			Expect(err).NotTo(HaveOccurred())

			in, _ := ckt.NodeIndex("in")
			sec, _ := ckt.NodeIndex("sec")
			gain := k * math.Sqrt(l1*l2) / l1
			for _, step := range res.Steps[1:] {
				Expect(step.Solution[sec]).To(BeNumerically("~", gain*step.Solution[in], 1e-3), "t=%g", step.Time)
			}
			Expect(slices.Max(res.Trace(sec))).To(BeNumerically("~", gain, 0.05))
			expectMonotonic(res)
		})
	})

	Context("starting from the operating point", func() {
		It("should stay at the DC solution", func() {
			ckt := rcCircuit(device.NewDCVoltageSource("V1", []string{"in", "0"}, 5))
			res, err := run(ckt, 0, 1e-3, analysis.StepConfig{Step: 1e-5})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.OperatingPoint).NotTo(BeNil())

			out, _ := ckt.NodeIndex("out")
			for _, v := range res.Trace(out) {
				Expect(v).To(BeNumerically("~", 5, 1e-6))
			}
		})
	})

	Context("with a pulse source", func() {
		It("should land on every waveform corner", func() {
			src := device.NewPulseVoltageSource("V1", []string{"in", "0"}, 0, 5, 1e-3, 1e-6, 1e-6, 10e-3, 20e-3)
			ckt := rcCircuit(src)
			res, err := run(ckt, 0, 3e-3, analysis.StepConfig{Step: 1e-5})
			Expect(err).NotTo(HaveOccurred())

			times := res.Times()
			Expect(times).To(ContainElement(1e-3))
			Expect(times).To(ContainElement(1e-3 + 1e-6))
			expectMonotonic(res)

			out, _ := ckt.NodeIndex("out")
			last := res.Steps[len(res.Steps)-1]
			Expect(last.Time).To(Equal(3e-3))
			want := 5 * (1 - math.Exp(-(3e-3-1.0005e-3)/1e-3))
			Expect(last.Solution[out]).To(BeNumerically("~", want, 0.01))
		})

		It("should record nothing before the start time", func() {
			src := device.NewPulseVoltageSource("V1", []string{"in", "0"}, 0, 5, 1e-3, 1e-6, 1e-6, 10e-3, 20e-3)
			res, err := run(rcCircuit(src), 2e-3, 3e-3, analysis.StepConfig{Step: 1e-5})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Steps).NotTo(BeEmpty())
			Expect(res.Steps[0].Time).To(BeNumerically(">=", 2e-3))
			Expect(res.Accepted).To(BeNumerically(">", len(res.Steps)))
		})
	})

	Context("with a nonlinear circuit", func() {
		newCircuit := func() *circuit.Circuit {
			d := device.NewDiode("D1", []string{"out", "0"})
			d.SetModelParameters(map[string]float64{"cjo": 10e-12, "tt": 1e-9})
			ckt := circuit.New("rectifier")
			ckt.Add(
				device.NewSinVoltageSource("V1", []string{"in", "0"}, 0, 5, 1e3, 0),
				device.NewResistor("R1", []string{"in", "out"}, 1e3),
				d,
				device.NewCapacitor("C1", []string{"out", "0"}, 1e-7),
			)
			return ckt
		}

		It("should be deterministic", func() {
			a, err := run(newCircuit(), 0, 2e-3, analysis.StepConfig{Step: 1e-5})
			Expect(err).NotTo(HaveOccurred())
			b, err := run(newCircuit(), 0, 2e-3, analysis.StepConfig{Step: 1e-5})
			Expect(err).NotTo(HaveOccurred())

			Expect(cmp.Diff(a.Steps, b.Steps)).To(BeEmpty())
			Expect(b.Rejected).To(Equal(a.Rejected))
		})

		It("should clamp the output near one diode drop", func() {
			ckt := newCircuit()
			res, err := run(ckt, 0, 2e-3, analysis.StepConfig{Step: 1e-5})
			Expect(err).NotTo(HaveOccurred())

			out, _ := ckt.NodeIndex("out")
			for _, v := range res.Trace(out) {
				Expect(v).To(BeNumerically("<", 0.9))
			}
			for _, step := range res.Steps[1:] {
				Expect(step.Step).To(BeNumerically("<=", 2e-3/50+2*opts.MinStep))
			}
		})

		It("should escalate a rejection at the minimum step", func() {
			opts.MaxTranIterations = 1
			opts.MinStep = 1e-9
			res, err := run(newCircuit(), 0, 1e-3, analysis.StepConfig{Step: 1e-6})
			Expect(err).To(MatchError(simerr.ErrConvergence))
			Expect(err).To(MatchError(simerr.ErrStepRejected))

			var cf *simerr.ConvergenceFailure
			Expect(errors.As(err, &cf)).To(BeTrue())
			Expect(cf.Analysis).To(Equal("TRAN"))
			Expect(cf.Time).To(BeNumerically(">", 0))

			Expect(res).NotTo(BeNil())
			Expect(res.Steps).To(HaveLen(1))
			Expect(res.NewtonFailures).To(Equal(4))
		})
	})

	Context("when stopped early", func() {
		It("should return the accepted steps on cancellation", func() {
			cancelled, cancel := context.WithCancel(ctx)
			defer cancel()
			obs := &countingObserver{onAccept: func(n int) {
				if n == 5 {
					cancel()
				}
			}}

			ckt := rcCircuit(device.NewDCVoltageSource("V1", []string{"in", "0"}, 5))
			res, err := analysis.SolveTransient(cancelled, ckt, 0, 5e-3,
				analysis.StepConfig{Step: 1e-5, UseInitialConditions: true},
				analysis.WithObserver(obs))
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.Steps).To(HaveLen(6))
			Expect(res.Accepted).To(Equal(5))
		})

		It("should stop at the time step budget", func() {
			opts.MaxTimeSteps = 3
			ckt := rcCircuit(device.NewDCVoltageSource("V1", []string{"in", "0"}, 5))
			res, err := run(ckt, 0, 5e-3, analysis.StepConfig{Step: 1e-5, UseInitialConditions: true})
			Expect(err).To(MatchError(analysis.ErrTimeStepBudget))
			Expect(res.Accepted).To(Equal(3))
			Expect(res.Steps).To(HaveLen(4))
		})
	})

	It("should reject an empty interval", func() {
		_, err := run(divider(), 1e-3, 1e-3, analysis.StepConfig{})
		Expect(err).To(HaveOccurred())
	})

	It("should fill the named result map", func() {
		tr := analysis.NewTransient(0, 1e-3, analysis.StepConfig{Step: 1e-4}, analysis.WithOptions(opts))
		Expect(tr.Setup(divider())).To(Succeed())
		Expect(tr.Execute(ctx)).To(Succeed())

		results := tr.GetResults()
		Expect(results).To(HaveKey("TIME"))
		Expect(results["V(out)"]).To(HaveLen(len(results["TIME"])))
		Expect(results["TIME"][0]).To(Equal(0.0))
	})
})
