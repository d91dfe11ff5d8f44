package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
)

type DCSweep struct {
	BaseAnalysis
	sourceNames []string    // Names of voltage/current sources to sweep
	sweepVals   [][]float64 // Generated sweep values for each source
	sources     []device.Sweepable
	origWaves   []device.Waveform // Original waveforms of the sources
	points      []*DCResult
}

// NewDCSweep sweeps one source, or two nested (the second inner), from
// start to stop in increments of step.
func NewDCSweep(sources []string, starts, stops, steps []float64, opts ...Option) (*DCSweep, error) {
	if len(sources) != len(starts) || len(sources) != len(stops) || len(sources) != len(steps) {
		return nil, fmt.Errorf("inconsistent parameter lengths")
	}
	if len(sources) == 0 || len(sources) > 2 {
		return nil, fmt.Errorf("unsupported number of sweep sources: %d", len(sources))
	}

	dc := &DCSweep{
		BaseAnalysis: *NewBaseAnalysis(opts...),
		sourceNames:  sources,
		sweepVals:    make([][]float64, len(sources)),
	}
	for i := range sources {
		vals, err := sweepValues(starts[i], stops[i], steps[i])
		if err != nil {
			return nil, fmt.Errorf("sweep %s: %w", sources[i], err)
		}
		dc.sweepVals[i] = vals
	}
	return dc, nil
}

// sweepValues lists start, start+step, ... up to stop inclusive.
func sweepValues(start, stop, step float64) ([]float64, error) {
	if step == 0 || math.IsNaN(step) || (stop-start)*step < 0 {
		return nil, fmt.Errorf("step %g does not lead from %g to %g", step, start, stop)
	}
	n := int(math.Floor((stop-start)/step+1e-9)) + 1
	vals := make([]float64, n)
	for k := range vals {
		vals[k] = start + float64(k)*step
	}
	return vals, nil
}

func (dc *DCSweep) Setup(ckt *circuit.Circuit) error {
	if err := dc.setup(ckt); err != nil {
		return err
	}

	dc.sources = dc.sources[:0]
	dc.origWaves = dc.origWaves[:0]
	for _, name := range dc.sourceNames {
		dev, ok := ckt.Device(name)
		if !ok {
			return fmt.Errorf("source %s not found", name)
		}
		src, ok := dev.(device.Sweepable)
		if !ok || (dev.GetType() != "V" && dev.GetType() != "I") {
			return fmt.Errorf("device %s is not an independent source", name)
		}
		dc.sources = append(dc.sources, src)
		dc.origWaves = append(dc.origWaves, src.Waveform())
	}
	return nil
}

func (dc *DCSweep) Execute(ctx context.Context) error {
	if dc.Circuit == nil {
		return fmt.Errorf("circuit not set")
	}

	nw, err := newNewton(dc.Circuit, dc.opts, dc.log)
	if err != nil {
		return err
	}
	defer nw.close()

	defer func() {
		for i, src := range dc.sources {
			src.SetWaveform(dc.origWaves[i])
		}
	}()

	dc.points = dc.points[:0]
	var x []float64

	// Single source sweep
	if len(dc.sources) == 1 {
		for _, val := range dc.sweepVals[0] {
			dc.sources[0].SetValue(val)
			res, err := dc.operatingPoint(ctx, nw, x, nil)
			if err != nil {
				return fmt.Errorf("sweep point %s=%g: %w", dc.sourceNames[0], val, err)
			}
			x = res.Solution
			dc.StoreResult(res, val)
		}
		return nil
	}

	// Nested sweep, the second source inner
	for _, val1 := range dc.sweepVals[0] {
		dc.sources[0].SetValue(val1)
		for _, val2 := range dc.sweepVals[1] {
			dc.sources[1].SetValue(val2)
			res, err := dc.operatingPoint(ctx, nw, x, nil)
			if err != nil {
				return fmt.Errorf("sweep point %s=%g, %s=%g: %w",
					dc.sourceNames[0], val1, dc.sourceNames[1], val2, err)
			}
			x = res.Solution
			dc.StoreResult(res, val1, val2)
		}
	}
	return nil
}

// StoreResult appends one converged point and its sweep values (SWEEP1,
// SWEEP2) to the result map.
func (dc *DCSweep) StoreResult(res *DCResult, sweepVals ...float64) {
	dc.points = append(dc.points, res)
	for i, v := range sweepVals {
		key := fmt.Sprintf("SWEEP%d", i+1)
		dc.results[key] = append(dc.results[key], v)
	}
	dc.storeSolution(res.Values)
}

// Points returns the operating point of every sweep value, in sweep order.
func (dc *DCSweep) Points() []*DCResult {
	return dc.points
}
