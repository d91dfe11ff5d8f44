package analysis_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/device"
)

var _ = Describe("DCSweep", func() {
	It("should sweep a source and restore its value", func() {
		ckt := diodeCircuit()
		dc, err := analysis.NewDCSweep([]string{"V1"}, []float64{0}, []float64{5}, []float64{1})
		Expect(err).NotTo(HaveOccurred())
		Expect(dc.Setup(ckt)).To(Succeed())
		Expect(dc.Execute(context.Background())).To(Succeed())

		results := dc.GetResults()
		Expect(results["SWEEP1"]).To(Equal([]float64{0, 1, 2, 3, 4, 5}))
		Expect(results["V(a)"]).To(HaveLen(6))
		Expect(results["V(a)"][0]).To(BeNumerically("~", 0, 1e-9))
		for i := 1; i < 6; i++ {
			Expect(results["V(a)"][i]).To(BeNumerically(">", results["V(a)"][i-1]))
		}
		Expect(dc.Points()).To(HaveLen(6))

		v1, _ := ckt.Device("V1")
		Expect(v1.(device.Sweepable).GetValue()).To(Equal(5.0))
	})

	It("should give a swept source its time waveform back", func() {
		src := device.NewPulseVoltageSource("V1", []string{"in", "0"}, 0, 5, 1e-3, 1e-6, 1e-6, 10e-3, 20e-3)
		ckt := rcCircuit(src)
		dc, err := analysis.NewDCSweep([]string{"V1"}, []float64{0}, []float64{1}, []float64{0.5})
		Expect(err).NotTo(HaveOccurred())
		Expect(dc.Setup(ckt)).To(Succeed())
		Expect(dc.Execute(context.Background())).To(Succeed())
		Expect(dc.GetResults()["V(out)"]).To(HaveLen(3))

		Expect(src.Waveform().Type).To(Equal(device.PULSE))
		Expect(src.GetValue()).To(Equal(0.0))
		Expect(src.GetVoltage(2e-3)).To(Equal(5.0))

		res, err := analysis.SolveTransient(context.Background(), ckt, 0, 2e-3, analysis.StepConfig{Step: 1e-5})
		Expect(err).NotTo(HaveOccurred())
		out, _ := ckt.NodeIndex("out")
		last := res.Steps[len(res.Steps)-1]
		want := 5 * (1 - math.Exp(-(2e-3-1.0005e-3)/1e-3))
		Expect(last.Solution[out]).To(BeNumerically("~", want, 0.01))
	})

	It("should nest a second source inside the first", func() {
		dc, err := analysis.NewDCSweep([]string{"V1", "R1"}, []float64{1, 0}, []float64{2, 1}, []float64{1, 0.5})
		Expect(err).NotTo(HaveOccurred())
		Expect(dc.Setup(divider())).NotTo(Succeed())

		ckt := divider()
		ckt.Add(device.NewDCCurrentSource("I1", []string{"0", "out"}, 0))
		dc, err = analysis.NewDCSweep([]string{"V1", "I1"}, []float64{1, 0}, []float64{2, 1e-3}, []float64{1, 0.5e-3})
		Expect(err).NotTo(HaveOccurred())
		Expect(dc.Setup(ckt)).To(Succeed())
		Expect(dc.Execute(context.Background())).To(Succeed())

		results := dc.GetResults()
		Expect(results["SWEEP1"]).To(Equal([]float64{1, 1, 1, 2, 2, 2}))
		Expect(results["SWEEP2"]).To(Equal([]float64{0, 0.5e-3, 1e-3, 0, 0.5e-3, 1e-3}))
		// out = v1/2 - 500*i1
		Expect(results["V(out)"][5]).To(BeNumerically("~", 1-0.5, 1e-9))
	})

	It("should reject sweeps that never reach their stop value", func() {
		_, err := analysis.NewDCSweep([]string{"V1"}, []float64{0}, []float64{5}, []float64{-1})
		Expect(err).To(HaveOccurred())
		_, err = analysis.NewDCSweep([]string{"V1"}, []float64{0}, []float64{5}, []float64{0})
		Expect(err).To(HaveOccurred())
	})

	It("should report a missing source", func() {
		dc, err := analysis.NewDCSweep([]string{"V9"}, []float64{0}, []float64{1}, []float64{1})
		Expect(err).NotTo(HaveOccurred())
		Expect(dc.Setup(divider())).To(MatchError(ContainSubstring("V9")))
	})
})
