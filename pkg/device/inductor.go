package device

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Inductor carries its current as a branch unknown. In DC it is a short.
type Inductor struct {
	BaseDevice
	branchIdx int
	offset    int
}

var (
	_ BranchDevice = (*Inductor)(nil)
	_ Reactive     = (*Inductor)(nil)
)

func NewInductor(name string, nodeNames []string, value float64) *Inductor {
	return &Inductor{BaseDevice: newBaseDevice(name, value, nodeNames)}
}

func (l *Inductor) GetType() string { return "L" }

func (l *Inductor) Validate() error {
	if err := l.checkNodes("inductor", 2); err != nil {
		return err
	}
	if !(l.Value > 0) {
		return fmt.Errorf("inductor %s: inductance must be positive, got %g", l.Name, l.Value)
	}
	return nil
}

func (l *Inductor) ChargeCount() int          { return 1 }
func (l *Inductor) SetStateOffset(offset int) { l.offset = offset }

func (l *Inductor) BranchIndex() int {
	return l.branchIdx
}

func (l *Inductor) SetBranchIndex(idx int) {
	l.branchIdx = idx
}

func (l *Inductor) Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	n1, n2 := l.Nodes[0], l.Nodes[1]
	b := l.branchIdx
	stampBranchKCL(m, x, n1, n2, b)

	// v1 - v2 - dphi/dt = 0, phi = L*i
	m.AddResidual(b, voltage(x, n1)-voltage(x, n2))
	m.AddElement(b, n1, 1)
	m.AddElement(b, n2, -1)

	flux := autodiff.Var(x[b], 0, 1).Scale(l.Value)
	emf := status.Integrate(l.offset, flux)
	m.AddResidual(b, -emf.V)
	m.AddElement(b, b, -emf.Deriv(0))
	return nil
}

// Current flows from the first node to the second.
func (l *Inductor) Current(x []float64, _ *CircuitStatus) float64 {
	return x[l.branchIdx]
}

func (l *Inductor) SetValue(value float64) { l.Value = value }
