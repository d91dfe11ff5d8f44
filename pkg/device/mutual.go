package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Mutual couples two inductors with coefficient k. It adds the mutual flux
// M*i2 to the first inductor's branch equation and M*i1 to the second's,
// with M = k*sqrt(L1*L2). It has no terminals of its own.
type Mutual struct {
	BaseDevice
	inductors   []*Inductor
	names       []string
	coefficient float64
	offset      int
}

var (
	_ Coupling = (*Mutual)(nil)
	_ Reactive = (*Mutual)(nil)
)

func NewMutual(name string, indNames []string, k float64) *Mutual {
	return &Mutual{
		BaseDevice:  newBaseDevice(name, k, nil),
		names:       indNames,
		coefficient: k,
		inductors:   make([]*Inductor, len(indNames)),
	}
}

func (m *Mutual) GetType() string { return "K" }

func (m *Mutual) Validate() error {
	if len(m.names) != 2 {
		return fmt.Errorf("mutual coupling %s: requires exactly two inductors", m.Name)
	}
	if m.names[0] == m.names[1] {
		return fmt.Errorf("mutual coupling %s: cannot couple %s to itself", m.Name, m.names[0])
	}
	if !(m.coefficient > 0 && m.coefficient <= 1) {
		return fmt.Errorf("mutual coupling %s: coefficient must be in (0, 1], got %g", m.Name, m.coefficient)
	}
	return nil
}

func (m *Mutual) InductorNames() []string { return m.names }

func (m *Mutual) SetInductor(index int, ind *Inductor) error {
	if index < 0 || index >= len(m.inductors) {
		return fmt.Errorf("invalid inductor index: %d", index)
	}
	m.inductors[index] = ind
	return nil
}

func (m *Mutual) GetCoefficient() float64 { return m.coefficient }

// Inductance is M = k*sqrt(L1*L2).
func (m *Mutual) Inductance() float64 {
	if m.inductors[0] == nil || m.inductors[1] == nil {
		return 0
	}
	return m.coefficient * math.Sqrt(m.inductors[0].Value*m.inductors[1].Value)
}

func (m *Mutual) ChargeCount() int          { return 2 }
func (m *Mutual) SetStateOffset(offset int) { m.offset = offset }

func (m *Mutual) Stamp(mat matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	l1, l2 := m.inductors[0], m.inductors[1]
	if l1 == nil || l2 == nil {
		return fmt.Errorf("mutual coupling %s: inductors not resolved", m.Name)
	}
	mi := m.Inductance()
	b1, b2 := l1.BranchIndex(), l2.BranchIndex()

	emf1 := status.Integrate(m.offset, autodiff.Var(x[b2], 0, 1).Scale(mi))
	mat.AddResidual(b1, -emf1.V)
	mat.AddElement(b1, b2, -emf1.Deriv(0))

	emf2 := status.Integrate(m.offset+2, autodiff.Var(x[b1], 0, 1).Scale(mi))
	mat.AddResidual(b2, -emf2.V)
	mat.AddElement(b2, b1, -emf2.Deriv(0))
	return nil
}
