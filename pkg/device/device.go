package device

import (
	"fmt"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/integrator"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Device is one circuit element. Stamp adds the element's contribution to
// the residual F(x) and the Jacobian dF/dx at the solution estimate x.
type Device interface {
	GetName() string
	GetType() string
	GetNodeNames() []string
	GetNodes() []int
	SetNodes(nodes []int)
	Validate() error
	Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error
}

// BranchDevice owns a current unknown.
type BranchDevice interface {
	Device
	BranchIndex() int
	SetBranchIndex(idx int)
}

// NonLinear devices keep a linearization point (their junction voltages)
// between Newton iterations. UpdateVoltages moves it toward x, limiting the
// step, and reports whether limiting changed anything.
type NonLinear interface {
	Device
	UpdateVoltages(x []float64, status *CircuitStatus) bool
	ResetVoltages(x []float64)
}

// Reactive devices store charges or fluxes in the integrator state vector.
// Each charge takes two slots starting at the offset.
type Reactive interface {
	Device
	ChargeCount() int
	SetStateOffset(offset int)
}

// Breakpointer devices have waveform corners the time stepper must land on.
type Breakpointer interface {
	Breakpoints(start, stop float64) []float64
}

// Sweepable devices have a DC value that a sweep can change.
type Sweepable interface {
	Device
	GetValue() float64
	SetValue(value float64)
	Waveform() Waveform
	SetWaveform(wave Waveform)
}

// Coupling devices reference other devices by name.
type Coupling interface {
	Device
	InductorNames() []string
	SetInductor(index int, ind *Inductor) error
}

// CurrentReporter devices report a terminal current for the result map.
type CurrentReporter interface {
	Current(x []float64, status *CircuitStatus) float64
}

// Grouped devices conduct only between some of their terminals. Each group
// lists terminal positions joined by a DC path through the device.
type Grouped interface {
	TerminalGroups() [][]int
}

// TerminalGroups returns the conducting terminal groups of d. By default
// all terminals form one group.
func TerminalGroups(d Device) [][]int {
	if g, ok := d.(Grouped); ok {
		return g.TerminalGroups()
	}
	n := len(d.GetNodes())
	if n == 0 {
		return nil
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	return [][]int{all}
}

type BaseDevice struct {
	Name      string
	Nodes     []int
	Value     float64
	NodeNames []string
}

type ModelParam struct {
	Type   string
	Name   string
	Params map[string]float64
}

type SourceType int

const (
	DC SourceType = iota
	SIN
	PULSE
	PWL
)

func (t SourceType) String() string {
	switch t {
	case SIN:
		return "SIN"
	case PULSE:
		return "PULSE"
	case PWL:
		return "PWL"
	default:
		return "DC"
	}
}

type AnalysisMode int

const (
	OperatingPointAnalysis AnalysisMode = iota
	TransientAnalysis
	DCSweep
)

func (m AnalysisMode) String() string {
	switch m {
	case TransientAnalysis:
		return "TRAN"
	case DCSweep:
		return "DC"
	default:
		return "OP"
	}
}

type CircuitStatus struct {
	Time         float64
	TimeStep     float64
	Mode         AnalysisMode
	Temp         float64
	Gmin         float64 // conductance across every junction
	Gshunt       float64 // node-to-ground conductance while gmin stepping
	SourceFactor float64 // scale of all independent sources while source stepping

	States *integrator.States
	Coeffs *integrator.Coeffs // nil outside transient
}

func NewCircuitStatus(mode AnalysisMode) *CircuitStatus {
	return &CircuitStatus{
		Mode:         mode,
		Temp:         consts.REFTEMP,
		Gmin:         1e-12,
		SourceFactor: 1,
	}
}

// Integrate turns the charge at the device state offset into its companion
// current. Outside transient the current is zero.
func (s *CircuitStatus) Integrate(offset int, q autodiff.Dual) autodiff.Dual {
	if s.Mode != TransientAnalysis {
		return s.States.Integrate(offset, q, nil)
	}
	return s.States.Integrate(offset, q, s.Coeffs)
}

func (d *BaseDevice) GetName() string {
	return d.Name
}

func (d *BaseDevice) GetNodes() []int {
	return d.Nodes
}

func (d *BaseDevice) GetNodeNames() []string {
	return d.NodeNames
}

func (d *BaseDevice) GetValue() float64 {
	return d.Value
}

func (d *BaseDevice) SetNodes(nodes []int) {
	d.Nodes = nodes
}

func (d *BaseDevice) checkNodes(kind string, n int) error {
	if len(d.NodeNames) != n {
		return fmt.Errorf("%s %s: requires exactly %d nodes, got %d", kind, d.Name, n, len(d.NodeNames))
	}
	return nil
}

func newBaseDevice(name string, value float64, nodeNames []string) BaseDevice {
	nodes := make([]int, len(nodeNames))
	for i := range nodes {
		nodes[i] = matrix.Ground
	}
	return BaseDevice{
		Name:      name,
		Value:     value,
		NodeNames: nodeNames,
		Nodes:     nodes,
	}
}

// setParams copies the known keys of params into fields.
func setParams(fields map[string]*float64, params map[string]float64) {
	for key, field := range fields {
		if value, ok := params[key]; ok {
			*field = value
		}
	}
}
