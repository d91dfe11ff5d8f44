package analysis_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/internal/logging"
	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/simerr"
)

type countingObserver struct {
	analysis.NopObserver
	aids     []string
	accepted int
	rejected int
	onAccept func(n int)
}

func (o *countingObserver) ConvergenceAid(strategy string, _ int, converged bool) {
	if converged {
		o.aids = append(o.aids, strategy)
	}
}

func (o *countingObserver) StepAccepted(float64, float64, int) {
	o.accepted++
	if o.onAccept != nil {
		o.onAccept(o.accepted)
	}
}

func (o *countingObserver) StepRejected(float64, float64, string) { o.rejected++ }

var _ = Describe("SolveDC", func() {
	var (
		ctx  context.Context
		opts config.Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		opts = config.Defaults()
	})

	solve := func(ckt *circuit.Circuit, extra ...analysis.Option) (*analysis.DCResult, error) {
		all := append([]analysis.Option{
			analysis.WithOptions(opts),
			analysis.WithLogger(logging.NewTestLogger()),
		}, extra...)
		return analysis.SolveDC(ctx, ckt, all...)
	}

	Context("with a linear circuit", func() {
		It("should converge after a single Newton iteration", func() {
			res, err := solve(divider())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Iterations).To(Equal(1))
			Expect(res.Strategy).To(Equal(analysis.StrategyNewton))
			Expect(res.V("out")).To(BeNumerically("~", 5, 1e-12))
			Expect(res.I("V1")).To(BeNumerically("~", 5e-3, 1e-15))
			Expect(res.Names).To(Equal([]string{"V(in)", "V(out)", "I(V1)"}))
			Expect(res.Matrix.Factorizations).To(Equal(1))
		})

		It("should report a singular system without trying convergence aids", func() {
			ckt := circuit.New("parallel sources")
			ckt.Add(
				device.NewDCVoltageSource("V1", []string{"a", "0"}, 5),
				device.NewDCVoltageSource("V2", []string{"a", "0"}, 3),
				device.NewResistor("R1", []string{"a", "0"}, 1e3),
			)
			obs := &countingObserver{}
			_, err := solve(ckt, analysis.WithObserver(obs))
			Expect(err).To(MatchError(simerr.ErrSingularMatrix))
			Expect(errors.Is(err, simerr.ErrConvergence)).To(BeFalse())
			Expect(obs.aids).To(BeEmpty())
		})
	})

	Context("with a floating node", func() {
		It("should fail with a construction error", func() {
			ckt := circuit.New("floating")
			ckt.Add(
				device.NewDCVoltageSource("V1", []string{"a", "0"}, 1),
				device.NewResistor("R1", []string{"a", "0"}, 1e3),
				device.NewResistor("R2", []string{"b", "c"}, 1e3),
			)
			_, err := solve(ckt)
			Expect(err).To(MatchError(simerr.ErrConstruction))

			var ce *simerr.ConstructionError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.Node).To(Equal("b"))
		})
	})

	Context("with a diode", func() {
		It("should satisfy the Shockley equation and KVL at the solution", func() {
			res, err := solve(diodeCircuit())
			Expect(err).NotTo(HaveOccurred())

			vd := res.V("a")
			id := res.I("D1")
			vt := consts.ThermalVoltage(consts.REFTEMP)
			Expect(vd).To(BeNumerically(">", 0.6))
			Expect(vd).To(BeNumerically("<", 0.8))
			Expect(id).To(BeNumerically("~", 1e-14*(math.Exp(vd/vt)-1)+opts.Gmin*vd, 1e-9*id))

			// round trip: the current gives back the voltage
			Expect(vt * math.Log((id-opts.Gmin*vd)/1e-14+1)).To(BeNumerically("~", vd, 1e-9))
			Expect(5 - 1e3*id - vd).To(BeNumerically("~", 0, 1e-8))
			Expect(res.I("R1")).To(BeNumerically("~", id, 1e-11))
		})
	})

	Context("with transistors and diodes", func() {
		It("should conserve current at every node", func() {
			ckt := mixedCircuit(nil)
			res, err := solve(ckt)
			Expect(err).NotTo(HaveOccurred())

			rec := &residualRecorder{f: make([]float64, ckt.Size())}
			status := device.NewCircuitStatus(device.OperatingPointAnalysis)
			Expect(ckt.Load(rec, res.Solution, status)).To(Succeed())
			for i := 0; i < ckt.NumNodes(); i++ {
				Expect(math.Abs(rec.f[i])).To(BeNumerically("<=", 1e-11), ckt.UnknownName(i))
			}
			Expect(res.ResidualNorm).To(BeNumerically("<=", opts.AbsTolV))
		})

		It("should not depend on the order devices are added", func() {
			a, err := solve(mixedCircuit(nil))
			Expect(err).NotTo(HaveOccurred())
			b, err := solve(mixedCircuit([]int{6, 5, 4, 3, 2, 1, 0}))
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Values).To(HaveLen(len(a.Values)))
			for name, v := range a.Values {
				Expect(b.Values).To(HaveKeyWithValue(name, BeNumerically("~", v, 1e-8+1e-8*math.Abs(v))))
			}
		})

		It("should be deterministic", func() {
			a, err := solve(mixedCircuit(nil))
			Expect(err).NotTo(HaveOccurred())
			b, err := solve(mixedCircuit(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Solution).To(Equal(a.Solution))
			Expect(b.Iterations).To(Equal(a.Iterations))
		})
	})

	Context("when plain Newton cannot start", func() {
		It("should fall back to gmin stepping", func() {
			obs := &countingObserver{}
			res, err := solve(cubicCircuit(0), analysis.WithObserver(obs))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Strategy).To(Equal(analysis.StrategyGminStepping))
			Expect(res.GminSteps).To(Equal(opts.MaxGminSteps + 1))
			Expect(res.V("a")).To(BeNumerically("~", 1, 1e-6))
			Expect(obs.aids).To(Equal([]string{"gmin-stepping"}))
		})

		It("should reach the same solution whatever the stepping path", func() {
			a, err := solve(cubicCircuit(0))
			Expect(err).NotTo(HaveOccurred())

			opts.MaxGminSteps = 3
			b, err := solve(cubicCircuit(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Strategy).To(Equal(analysis.StrategyGminStepping))
			Expect(b.V("a")).To(BeNumerically("~", a.V("a"), 1e-9))
		})

		It("should fall back to source stepping without gmin stepping", func() {
			opts.MaxGminSteps = 0
			opts.MaxNewtonIterations = 6
			obs := &countingObserver{}
			res, err := solve(cubicCircuit(0.1), analysis.WithObserver(obs))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Strategy).To(Equal(analysis.StrategySourceStepping))
			Expect(res.SourceSteps).To(BeNumerically(">=", opts.MaxSourceSteps))
			Expect(obs.aids).To(Equal([]string{"source-stepping"}))

			// v^3 + 0.1v = 1
			v := res.V("a")
			Expect(v*v*v + 0.1*v).To(BeNumerically("~", 1, 1e-9))
		})

		It("should surface the singular matrix once every aid is disabled", func() {
			opts.MaxGminSteps = 0
			opts.MaxSourceSteps = 0
			_, err := solve(cubicCircuit(0))
			Expect(err).To(MatchError(simerr.ErrSingularMatrix))
		})
	})

	Context("when Newton runs out of iterations", func() {
		It("should report a convergence failure with diagnostics", func() {
			opts.MaxNewtonIterations = 3
			opts.MaxGminSteps = 0
			opts.MaxSourceSteps = 0
			_, err := solve(cubicCircuit(0.1))
			Expect(err).To(MatchError(simerr.ErrConvergence))

			var cf *simerr.ConvergenceFailure
			Expect(errors.As(err, &cf)).To(BeTrue())
			Expect(cf.Analysis).To(Equal("OP"))
			Expect(cf.Iterations).To(Equal(3))
			Expect(cf.ResidualNorm).To(BeNumerically(">", 0))
		})
	})

	Context("when every convergence aid fails", func() {
		It("should report the residual of the last attempt", func() {
			opts.MaxNewtonIterations = 5
			_, err := solve(cubicCircuit(0.01))
			Expect(err).To(MatchError(simerr.ErrConvergence))
			var cf *simerr.ConvergenceFailure
			Expect(errors.As(err, &cf)).To(BeTrue())
			// plain Newton stops near 7.7e3, source stepping close to the root
			Expect(cf.ResidualNorm).To(BeNumerically(">", 0))
			Expect(cf.ResidualNorm).To(BeNumerically("<", 1))
			Expect(cf.Iterations).To(BeNumerically(">", 5))
		})

		It("should report the gmin stepping residual when it is the last aid", func() {
			opts.MaxNewtonIterations = 5
			opts.MaxSourceSteps = 0
			_, err := solve(cubicCircuit(0.01))
			var cf *simerr.ConvergenceFailure
			Expect(errors.As(err, &cf)).To(BeTrue())
			// plain Newton stops near 7.7e3, the gmin ladder near 1e3
			Expect(cf.ResidualNorm).To(BeNumerically("<", 3e3))
		})
	})

	Context("through the Analysis interface", func() {
		It("should fill the named result map", func() {
			var op analysis.Analysis = analysis.NewOP(analysis.WithOptions(opts))
			Expect(op.Setup(divider())).To(Succeed())
			Expect(op.Execute(ctx)).To(Succeed())
			Expect(op.GetResults()).To(HaveKeyWithValue("V(out)", ConsistOf(BeNumerically("~", 5, 1e-12))))
		})

		It("should reject invalid options", func() {
			opts.RelTol = 0
			op := analysis.NewOP(analysis.WithOptions(opts))
			Expect(op.Setup(divider())).NotTo(Succeed())
		})
	})

	It("should stop when the context is cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := analysis.SolveDC(cancelled, diodeCircuit())
		Expect(err).To(MatchError(context.Canceled))
	})
})
