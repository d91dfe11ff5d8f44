package device

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/matrix"
)

// VoltageSource forces v(n+) - v(n-). Its branch current enters n+.
type VoltageSource struct {
	BaseDevice
	wave      Waveform
	branchIdx int
}

var (
	_ BranchDevice = (*VoltageSource)(nil)
	_ Sweepable    = (*VoltageSource)(nil)
)

func NewVoltageSource(name string, nodeNames []string, wave Waveform) *VoltageSource {
	return &VoltageSource{
		BaseDevice: newBaseDevice(name, wave.At(0), nodeNames),
		wave:       wave,
	}
}

func NewDCVoltageSource(name string, nodeNames []string, value float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, Waveform{Type: DC, DC: value})
}

func NewSinVoltageSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, Waveform{
		Type: SIN, Offset: offset, Amplitude: amplitude, Freq: freq, Phase: phase,
	})
}

func NewPulseVoltageSource(name string, nodeNames []string, v1, v2, delay, rise, fall, pWidth, period float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, Waveform{
		Type: PULSE, V1: v1, V2: v2, Delay: delay, Rise: rise, Fall: fall, PWidth: pWidth, Period: period,
	})
}

func NewPWLVoltageSource(name string, nodeNames []string, times []float64, values []float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, Waveform{Type: PWL, Times: times, Values: values})
}

func (v *VoltageSource) GetType() string { return "V" }

func (v *VoltageSource) Validate() error {
	if err := v.checkNodes("voltage source", 2); err != nil {
		return err
	}
	if err := v.wave.Validate(); err != nil {
		return fmt.Errorf("voltage source %s: %w", v.Name, err)
	}
	return nil
}

func (v *VoltageSource) GetVoltage(t float64) float64 {
	return v.wave.At(t)
}

func (v *VoltageSource) Waveform() Waveform { return v.wave }

func (v *VoltageSource) Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	n1, n2 := v.Nodes[0], v.Nodes[1]
	b := v.branchIdx
	stampBranchKCL(m, x, n1, n2, b)

	// v1 - v2 = V
	value := v.GetVoltage(status.Time) * status.SourceFactor
	m.AddResidual(b, voltage(x, n1)-voltage(x, n2)-value)
	m.AddElement(b, n1, 1)
	m.AddElement(b, n2, -1)
	return nil
}

// Current is the current delivered out of n+.
func (v *VoltageSource) Current(x []float64, _ *CircuitStatus) float64 {
	return -x[v.branchIdx]
}

func (v *VoltageSource) Breakpoints(start, stop float64) []float64 {
	return v.wave.Breakpoints(start, stop)
}

func (v *VoltageSource) BranchIndex() int {
	return v.branchIdx
}

func (v *VoltageSource) SetBranchIndex(idx int) {
	v.branchIdx = idx
}

// SetValue turns the source into a DC source of the given value.
func (v *VoltageSource) SetValue(value float64) {
	v.Value = value
	v.wave = Waveform{Type: DC, DC: value}
}

// SetWaveform replaces the time behaviour, undoing SetValue.
func (v *VoltageSource) SetWaveform(wave Waveform) {
	v.wave = wave
	v.Value = wave.At(0)
}
