package main

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/netlist"
	"github.com/edp1096/spicecore/pkg/waveform"
)

func main() {
	fmt.Print("===== Diode DC Sweep Example =====\n\n")

	data := &netlist.NetlistData{
		Title: "Diode DC Sweep Circuit",
		ModelDefs: []netlist.Model{{
			Name:   "D1N4148",
			Type:   "D",
			Params: map[string]float64{"is": 2.52e-9, "n": 1.752, "cj0": 4e-12, "vj": 0.7, "bv": 100.0},
		}},
		Elements: []netlist.Element{
			{Type: "V", Name: "Vsweep", Nodes: []string{"1", "0"}},
			{Type: "R", Name: "Rs", Nodes: []string{"1", "2"}, Value: 10.0},
			{Type: "D", Name: "D1", Nodes: []string{"2", "0"}, Model: "D1N4148"},
		},
	}
	models, err := netlist.Models(data.ModelDefs)
	if err != nil {
		log.Fatalf("error models: %v", err)
	}
	data.Models = models

	fmt.Println("Generating circuit...")
	ckt, err := netlist.BuildCircuit(data)
	if err != nil {
		log.Fatalf("error circuit generation: %v", err)
	}

	// 0V to 1.2V, 0.05V step
	fmt.Println("Setting up DC sweep analysis...")
	sweep, err := analysis.NewDCSweep([]string{"Vsweep"}, []float64{0.0}, []float64{1.2}, []float64{0.05})
	if err != nil {
		log.Fatalf("error creating DC sweep: %v", err)
	}
	if err := sweep.Setup(ckt); err != nil {
		log.Fatalf("error setting up DC sweep: %v", err)
	}

	fmt.Println("Running DC sweep analysis...")
	if err := sweep.Execute(context.Background()); err != nil {
		log.Fatalf("error running DC sweep: %v", err)
	}
	fmt.Println()

	results := sweep.GetResults()
	sweepPoints := len(results["SWEEP1"])
	fmt.Printf("Number of sweep points: %d\n\n", sweepPoints)

	fmt.Println("Vsweep(V)    Vdiode(V)    Idiode(mA)    Conductance(mS)")
	fmt.Println("----------------------------------------------------------")

	thresholdIdx, maxIdx := -1, 0
	for i := range sweepPoints {
		vsweep := results["SWEEP1"][i]
		vdiode := results["V(2)"][i]
		idiode := results["I(D1)"][i]

		conductance := 0.0
		if vdiode > 0.01 {
			conductance = idiode / vdiode * 1000.0
		}
		fmt.Printf("%8.3f      %8.3f      %8.3f      %8.3f\n", vsweep, vdiode, idiode*1000.0, conductance)

		if thresholdIdx < 0 && idiode >= 1e-3 {
			thresholdIdx = i
		}
		if math.Abs(idiode) > math.Abs(results["I(D1)"][maxIdx]) {
			maxIdx = i
		}
	}

	fmt.Println("\nDiode Characteristics Analysis:")
	if thresholdIdx >= 0 {
		fmt.Printf("  Estimated threshold voltage: %.3f V\n", results["V(2)"][thresholdIdx])
	}
	fmt.Printf("  Maximum current: %.3f mA at %.3f V\n", results["I(D1)"][maxIdx]*1000.0, results["SWEEP1"][maxIdx])

	traces, err := waveform.FromResults(results, "SWEEP1", "V(2)")
	if err != nil {
		log.Fatal(err)
	}
	if err := waveform.SavePNG("diode_sweep.png", traces, waveform.Options{Title: data.Title, XLabel: "Vsweep (V)", YLabel: "V"}); err != nil {
		log.Fatal(err)
	}

	fmt.Println("\nDone!")
}
