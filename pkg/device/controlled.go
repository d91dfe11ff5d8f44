package device

import (
	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// VCVS forces v(out+) - v(out-) = gain * (v(ctl+) - v(ctl-)).
// Nodes are out+, out-, ctl+, ctl-.
type VCVS struct {
	BaseDevice
	branchIdx int
}

var _ BranchDevice = (*VCVS)(nil)

func NewVCVS(name string, nodeNames []string, gain float64) *VCVS {
	return &VCVS{BaseDevice: newBaseDevice(name, gain, nodeNames)}
}

func (e *VCVS) GetType() string { return "E" }

func (e *VCVS) Validate() error { return e.checkNodes("vcvs", 4) }

// Only the output pair is joined; the control pair draws no current.
func (e *VCVS) TerminalGroups() [][]int { return [][]int{{0, 1}} }

func (e *VCVS) BranchIndex() int       { return e.branchIdx }
func (e *VCVS) SetBranchIndex(idx int) { e.branchIdx = idx }

func (e *VCVS) Stamp(m matrix.DeviceMatrix, x []float64, _ *CircuitStatus) error {
	op, on, cp, cn := e.Nodes[0], e.Nodes[1], e.Nodes[2], e.Nodes[3]
	b := e.branchIdx
	stampBranchKCL(m, x, op, on, b)

	ctl := []control{{op, on}, {cp, cn}}
	v := autodiff.Vars(ctl[0].value(x), ctl[1].value(x))
	stampRow(m, b, v[0].Sub(v[1].Scale(e.Value)), ctl)
	return nil
}

func (e *VCVS) Current(x []float64, _ *CircuitStatus) float64 {
	return -x[e.branchIdx]
}

// VCCS draws gm * (v(ctl+) - v(ctl-)) out of out+ and returns it into out-.
// Nodes are out+, out-, ctl+, ctl-.
type VCCS struct {
	BaseDevice
}

func NewVCCS(name string, nodeNames []string, gm float64) *VCCS {
	return &VCCS{BaseDevice: newBaseDevice(name, gm, nodeNames)}
}

func (g *VCCS) GetType() string { return "G" }

func (g *VCCS) Validate() error { return g.checkNodes("vccs", 4) }

func (g *VCCS) TerminalGroups() [][]int { return [][]int{{0, 1}} }

func (g *VCCS) Stamp(m matrix.DeviceMatrix, x []float64, _ *CircuitStatus) error {
	ctl := []control{{g.Nodes[2], g.Nodes[3]}}
	i := autodiff.Var(ctl[0].value(x), 0, 1).Scale(g.Value)
	stampCurrent(m, g.Nodes[0], g.Nodes[1], i, ctl)
	return nil
}

func (g *VCCS) Current(x []float64, _ *CircuitStatus) float64 {
	return g.Value * (voltage(x, g.Nodes[2]) - voltage(x, g.Nodes[3]))
}
