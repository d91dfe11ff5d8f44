package circuit

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/integrator"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Load assembles the residual and Jacobian of every device at x.
func (c *Circuit) Load(m matrix.DeviceMatrix, x []float64, status *device.CircuitStatus) error {
	return c.loadDevices(c.devices, m, x, status)
}

func (c *Circuit) loadDevices(devs []device.Device, m matrix.DeviceMatrix, x []float64, status *device.CircuitStatus) error {
	if !c.built {
		return fmt.Errorf("circuit %s: Load before Build", c.name)
	}
	if len(x) != c.Size() {
		return fmt.Errorf("circuit %s: solution length %d, want %d", c.name, len(x), c.Size())
	}

	for _, dev := range devs {
		if err := dev.Stamp(m, x, status); err != nil {
			return fmt.Errorf("stamping device %s: %w", dev.GetName(), err)
		}
	}

	if g := status.Gshunt; g > 0 {
		for i := 0; i < c.numNodes; i++ {
			m.AddResidual(i, g*x[i])
			m.AddElement(i, i, g)
		}
	}
	return nil
}

// Pattern records every Jacobian entry any device can touch, in DC and in
// transient, plus the full diagonal.
func (c *Circuit) Pattern() (*matrix.Pattern, error) {
	size := c.Size()
	p := matrix.NewPattern(size)
	x := make([]float64, size)
	states := integrator.NewStates(c.stateCount)

	for _, mode := range []device.AnalysisMode{device.OperatingPointAnalysis, device.TransientAnalysis} {
		status := device.NewCircuitStatus(mode)
		status.States = states
		if mode == device.TransientAnalysis {
			status.Coeffs = integrator.NewCoeffs(integrator.Trapezoidal, 1)
		}
		if err := c.Load(p, x, status); err != nil {
			return nil, err
		}
	}

	for i := 0; i < size; i++ {
		p.AddElement(i, i, 0)
	}
	return p, nil
}

// ResetNonLinear moves every nonlinear linearization point to x.
func (c *Circuit) ResetNonLinear(x []float64) {
	for _, nl := range c.nonlinearDevices {
		nl.ResetVoltages(x)
	}
}

// UpdateNonLinear lets every nonlinear device limit its step toward x and
// reports whether any of them did.
func (c *Circuit) UpdateNonLinear(x []float64, status *device.CircuitStatus) bool {
	limited := false
	for _, nl := range c.nonlinearDevices {
		if nl.UpdateVoltages(x, status) {
			limited = true
		}
	}
	return limited
}
