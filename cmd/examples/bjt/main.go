package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/netlist"
	"github.com/edp1096/spicecore/pkg/util"
)

const design = `
title: BJT Common Emitter Amplifier Circuit
models:
  - name: Q2N2222
    type: NPN
    params: {is: 1.8e-14, bf: 100, vaf: 100, ikf: 0.3, cje: 22.0e-12, cjc: 8.0e-12, tf: 0.3e-9}
elements:
  - {name: Vcc, nodes: [vcc, "0"], value: 12}
  - {name: Vin, nodes: [in, "0"], source: {type: sin, args: [0, 0.1, 1000, 0]}}
  - {name: Rc, nodes: [vcc, c], value: 1000}
  - {name: Rb1, nodes: [vcc, b], value: 10000}
  - {name: Rb2, nodes: [b, "0"], value: 2200}
  - {name: Re, nodes: [e, "0"], value: 220}
  - {name: Cin, nodes: [in, b], value: 10.0e-6}
  - {name: Cout, nodes: [c, out], value: 10.0e-6}
  - {name: RL, nodes: [out, "0"], value: 10000}
  - {name: Ce, nodes: [e, "0"], value: 100.0e-6}
  - {name: Q1, nodes: [c, b, e], model: Q2N2222}
`

func createCircuit() (*circuit.Circuit, error) {
	data, err := netlist.Decode(strings.NewReader(design))
	if err != nil {
		return nil, fmt.Errorf("error design: %w", err)
	}
	return netlist.BuildCircuit(data)
}

func peakToPeak(times, values []float64, from float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, t := range times {
		if t >= from {
			lo, hi = min(lo, values[i]), max(hi, values[i])
		}
	}
	return hi - lo
}

func main() {
	fmt.Print("===== BJT Common Emitter Amplifier Example =====\n\n")
	ctx := context.Background()

	fmt.Println("Generating circuit...")
	ckt, err := createCircuit()
	if err != nil {
		log.Fatalf("error circuit generation: %v", err)
	}

	fmt.Println("Running operating point analysis...")
	op := analysis.NewOP()
	if err := op.Setup(ckt); err != nil {
		log.Fatalf("error setting up operating point: %v", err)
	}
	if err := op.Execute(ctx); err != nil {
		log.Fatalf("error running operating point: %v", err)
	}

	fmt.Println("Circuit information:")
	fmt.Printf("  Name: %s\n", ckt.Name())
	fmt.Printf("  Node count: %d (except GND)\n", ckt.NumNodes())
	fmt.Printf("  Matrix: %d nonzeros, %d factorizations\n", op.Result().Matrix.NonZeros, op.Result().Matrix.Factorizations)

	bias := op.Result()
	vbe := bias.V("b") - bias.V("e")
	vce := bias.V("c") - bias.V("e")
	q, _ := ckt.Device("Q1")
	ib := q.(*device.Bjt).BaseCurrent(bias.Solution, device.NewCircuitStatus(device.OperatingPointAnalysis))

	fmt.Println("\nTransistor Q1 bias point:")
	fmt.Printf("  VBE = %s\n", util.FormatValueFactor(vbe, "V"))
	fmt.Printf("  VCE = %s\n", util.FormatValueFactor(vce, "V"))
	fmt.Printf("  IC = %s\n", util.FormatValueFactor(bias.I("Q1"), "A"))
	fmt.Printf("  IB = %s\n", util.FormatValueFactor(ib, "A"))

	fmt.Println("\nRunning transient analysis...")
	tran := analysis.NewTransient(0, 5e-3, analysis.StepConfig{Step: 5e-6, MaxStep: 20e-6})
	if err := tran.Setup(ckt); err != nil {
		log.Fatalf("error setting up transient analysis: %v", err)
	}
	if err := tran.Execute(ctx); err != nil {
		log.Fatalf("error running transient analysis: %v", err)
	}

	results := tran.GetResults()
	times := results["TIME"]
	fmt.Printf("\nTransient analysis completed with %d time points\n", len(times))

	vinPP := peakToPeak(times, results["V(in)"], 3e-3)
	voutPP := peakToPeak(times, results["V(out)"], 3e-3)

	fmt.Println("\nSignal Analysis (steady state):")
	fmt.Printf("  Input signal: %s pp\n", util.FormatValueFactor(vinPP, "V"))
	fmt.Printf("  Output signal: %s pp\n", util.FormatValueFactor(voutPP, "V"))
	if vinPP > 0 {
		gain := voutPP / vinPP
		fmt.Printf("  Voltage gain: %.2f (%.1f dB)\n", gain, 20*math.Log10(gain))
	}

	fmt.Println("\nDone!")
}
