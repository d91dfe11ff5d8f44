package device

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type Capacitor struct {
	BaseDevice
	offset int
}

var _ Reactive = (*Capacitor)(nil)

func NewCapacitor(name string, nodeNames []string, value float64) *Capacitor {
	return &Capacitor{BaseDevice: newBaseDevice(name, value, nodeNames)}
}

func (c *Capacitor) GetType() string { return "C" }

func (c *Capacitor) Validate() error {
	if err := c.checkNodes("capacitor", 2); err != nil {
		return err
	}
	if c.Value < 0 {
		return fmt.Errorf("capacitor %s: capacitance must not be negative, got %g", c.Name, c.Value)
	}
	return nil
}

func (c *Capacitor) ChargeCount() int          { return 1 }
func (c *Capacitor) SetStateOffset(offset int) { c.offset = offset }

func (c *Capacitor) Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	n1, n2 := c.Nodes[0], c.Nodes[1]
	ctl := []control{{n1, n2}}

	v := autodiff.Var(ctl[0].value(x), 0, 1)
	q := v.Scale(c.Value)
	i := status.Integrate(c.offset, q)
	stampCurrent(m, n1, n2, i, ctl)

	if status.Mode != TransientAnalysis {
		// open circuit in DC, kept from floating by gmin
		stampConductance(m, x, n1, n2, status.Gmin)
	}
	return nil
}

func (c *Capacitor) SetValue(value float64) { c.Value = value }
