package analysis_test

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// cubicConductor draws k*v^3 from its first node to its second. Its
// conductance vanishes at zero bias, which defeats plain Newton from a
// zero start.
type cubicConductor struct {
	device.BaseDevice
	k float64
}

var _ device.NonLinear = (*cubicConductor)(nil)

func newCubicConductor(name string, nodeNames []string, k float64) *cubicConductor {
	return &cubicConductor{
		BaseDevice: device.BaseDevice{
			Name:      name,
			NodeNames: nodeNames,
			Nodes:     []int{matrix.Ground, matrix.Ground},
		},
		k: k,
	}
}

func (c *cubicConductor) GetType() string { return "X" }

func (c *cubicConductor) Validate() error {
	if len(c.NodeNames) != 2 {
		return fmt.Errorf("cubic conductor %s: requires 2 nodes", c.Name)
	}
	return nil
}

func nodeVoltage(x []float64, n int) float64 {
	if n == matrix.Ground {
		return 0
	}
	return x[n]
}

func (c *cubicConductor) Stamp(m matrix.DeviceMatrix, x []float64, _ *device.CircuitStatus) error {
	a, b := c.Nodes[0], c.Nodes[1]
	v := nodeVoltage(x, a) - nodeVoltage(x, b)
	i := c.k * v * v * v
	g := 3 * c.k * v * v

	m.AddResidual(a, i)
	m.AddResidual(b, -i)
	m.AddElement(a, a, g)
	m.AddElement(a, b, -g)
	m.AddElement(b, a, -g)
	m.AddElement(b, b, g)
	return nil
}

func (c *cubicConductor) UpdateVoltages([]float64, *device.CircuitStatus) bool { return false }

func (c *cubicConductor) ResetVoltages([]float64) {}

// residualRecorder keeps only the residual of an assembly.
type residualRecorder struct{ f []float64 }

func (r *residualRecorder) AddElement(int, int, float64) {}

func (r *residualRecorder) AddResidual(i int, v float64) {
	if i != matrix.Ground {
		r.f[i] += v
	}
}

func divider() *circuit.Circuit {
	ckt := circuit.New("divider")
	ckt.Add(
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "out"}, 1e3),
		device.NewResistor("R2", []string{"out", "0"}, 1e3),
	)
	return ckt
}

func diodeCircuit() *circuit.Circuit {
	ckt := circuit.New("diode")
	ckt.Add(
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 5),
		device.NewResistor("R1", []string{"in", "a"}, 1e3),
		device.NewDiode("D1", []string{"a", "0"}),
	)
	return ckt
}

// mixedCircuit has a diode clamp and a common-emitter stage.
func mixedCircuit(order []int) *circuit.Circuit {
	devs := []device.Device{
		device.NewDCVoltageSource("VCC", []string{"vcc", "0"}, 5),
		device.NewResistor("R1", []string{"vcc", "a"}, 1e3),
		device.NewDiode("D1", []string{"a", "0"}),
		device.NewResistor("RB", []string{"vcc", "b"}, 430e3),
		device.NewResistor("RC", []string{"vcc", "c"}, 1e3),
		device.NewBJT("Q1", []string{"c", "b", "0"}),
		device.NewResistor("R2", []string{"a", "c"}, 10e3),
	}
	ckt := circuit.New("mixed")
	if order == nil {
		ckt.Add(devs...)
		return ckt
	}
	for _, i := range order {
		ckt.Add(devs[i])
	}
	return ckt
}

func rcCircuit(source *device.VoltageSource) *circuit.Circuit {
	ckt := circuit.New("rc")
	ckt.Add(
		source,
		device.NewResistor("R1", []string{"in", "out"}, 1e3),
		device.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
	)
	return ckt
}

func cubicCircuit(shunt float64) *circuit.Circuit {
	ckt := circuit.New("cubic")
	ckt.Add(
		device.NewDCCurrentSource("I1", []string{"a", "0"}, 1),
		newCubicConductor("X1", []string{"a", "0"}, 1),
	)
	if shunt > 0 {
		ckt.Add(device.NewResistor("R1", []string{"a", "0"}, 1/shunt))
	}
	return ckt
}
