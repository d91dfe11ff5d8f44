package device

import (
	"fmt"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type Resistor struct {
	BaseDevice
	Tc1  float64
	Tc2  float64
	Tnom float64
}

func NewResistor(name string, nodeNames []string, value float64) *Resistor {
	return &Resistor{
		BaseDevice: newBaseDevice(name, value, nodeNames),
		Tc1:        0.0,
		Tc2:        0.0,
		Tnom:       consts.REFTEMP,
	}
}

func (r *Resistor) GetType() string { return "R" }

func (r *Resistor) SetModelParameters(params map[string]float64) {
	setParams(map[string]*float64{"tc1": &r.Tc1, "tc2": &r.Tc2, "tnom": &r.Tnom}, params)
}

func (r *Resistor) Validate() error {
	if err := r.checkNodes("resistor", 2); err != nil {
		return err
	}
	if !(r.Value > 0) {
		return fmt.Errorf("resistor %s: resistance must be positive, got %g", r.Name, r.Value)
	}
	return nil
}

func (r *Resistor) Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	g := 1.0 / r.temperatureAdjustedValue(status.Temp)
	stampConductance(m, x, r.Nodes[0], r.Nodes[1], g)
	return nil
}

// Current flows from the first node to the second.
func (r *Resistor) Current(x []float64, status *CircuitStatus) float64 {
	v := voltage(x, r.Nodes[0]) - voltage(x, r.Nodes[1])
	return v / r.temperatureAdjustedValue(status.Temp)
}

func (r *Resistor) SetValue(value float64) { r.Value = value }

func (r *Resistor) temperatureAdjustedValue(temp float64) float64 {
	dt := temp - r.Tnom
	factor := 1.0 + r.Tc1*dt + r.Tc2*dt*dt
	return r.Value * factor
}
