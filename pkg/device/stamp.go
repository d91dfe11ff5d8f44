package device

import (
	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

func voltage(x []float64, n int) float64 {
	if n == matrix.Ground {
		return 0
	}
	return x[n]
}

// control is a controlling voltage v(pos) - v(neg). Derivative slot k of a
// device expression refers to controls[k].
type control struct{ pos, neg int }

func (c control) value(x []float64) float64 {
	return voltage(x, c.pos) - voltage(x, c.neg)
}

// deltas returns how far x has moved from the linearization point.
func deltas(x []float64, ctl []control, at []float64) []float64 {
	dx := make([]float64, len(ctl))
	for k, c := range ctl {
		dx[k] = c.value(x) - at[k]
	}
	return dx
}

// stampCurrent adds a branch current i flowing through the device from node
// from to node to: it leaves from and enters to.
func stampCurrent(m matrix.DeviceMatrix, from, to int, i autodiff.Dual, ctl []control) {
	m.AddResidual(from, i.V)
	m.AddResidual(to, -i.V)
	for k, c := range ctl {
		d := i.Deriv(k)
		m.AddElement(from, c.pos, d)
		m.AddElement(from, c.neg, -d)
		m.AddElement(to, c.pos, -d)
		m.AddElement(to, c.neg, d)
	}
}

// stampRow adds f to a single residual row.
func stampRow(m matrix.DeviceMatrix, row int, f autodiff.Dual, ctl []control) {
	m.AddResidual(row, f.V)
	for k, c := range ctl {
		d := f.Deriv(k)
		m.AddElement(row, c.pos, d)
		m.AddElement(row, c.neg, -d)
	}
}

// stampConductance is a linear conductance g between a and b.
func stampConductance(m matrix.DeviceMatrix, x []float64, a, b int, g float64) {
	v := voltage(x, a) - voltage(x, b)
	m.AddResidual(a, g*v)
	m.AddResidual(b, -g*v)
	m.AddElement(a, a, g)
	m.AddElement(a, b, -g)
	m.AddElement(b, a, -g)
	m.AddElement(b, b, g)
}

// stampBranchKCL connects a branch current unknown: it leaves node a and
// enters node b.
func stampBranchKCL(m matrix.DeviceMatrix, x []float64, a, b, branch int) {
	i := x[branch]
	m.AddResidual(a, i)
	m.AddResidual(b, -i)
	m.AddElement(a, branch, 1)
	m.AddElement(b, branch, -1)
}
