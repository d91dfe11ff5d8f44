package device

import (
	"fmt"

	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// CurrentSource delivers its current into the first node; it returns
// through the second.
type CurrentSource struct {
	BaseDevice
	wave Waveform
}

var _ Sweepable = (*CurrentSource)(nil)

func NewCurrentSource(name string, nodeNames []string, wave Waveform) *CurrentSource {
	return &CurrentSource{
		BaseDevice: newBaseDevice(name, wave.At(0), nodeNames),
		wave:       wave,
	}
}

func NewDCCurrentSource(name string, nodeNames []string, value float64) *CurrentSource {
	return NewCurrentSource(name, nodeNames, Waveform{Type: DC, DC: value})
}

func NewSinCurrentSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *CurrentSource {
	return NewCurrentSource(name, nodeNames, Waveform{
		Type: SIN, Offset: offset, Amplitude: amplitude, Freq: freq, Phase: phase,
	})
}

func NewPulseCurrentSource(name string, nodeNames []string, i1, i2, delay, rise, fall, pWidth, period float64) *CurrentSource {
	return NewCurrentSource(name, nodeNames, Waveform{
		Type: PULSE, V1: i1, V2: i2, Delay: delay, Rise: rise, Fall: fall, PWidth: pWidth, Period: period,
	})
}

func NewPWLCurrentSource(name string, nodeNames []string, times []float64, values []float64) *CurrentSource {
	return NewCurrentSource(name, nodeNames, Waveform{Type: PWL, Times: times, Values: values})
}

func (i *CurrentSource) GetType() string { return "I" }

func (i *CurrentSource) Validate() error {
	if err := i.checkNodes("current source", 2); err != nil {
		return err
	}
	if err := i.wave.Validate(); err != nil {
		return fmt.Errorf("current source %s: %w", i.Name, err)
	}
	return nil
}

// TerminalGroups is empty: an ideal current source is no DC path.
func (i *CurrentSource) TerminalGroups() [][]int { return nil }

func (i *CurrentSource) GetCurrent(t float64) float64 {
	return i.wave.At(t)
}

func (i *CurrentSource) Waveform() Waveform { return i.wave }

func (i *CurrentSource) Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	value := i.GetCurrent(status.Time) * status.SourceFactor
	// drawn from the second node, pushed into the first
	stampCurrent(m, i.Nodes[1], i.Nodes[0], autodiff.Const(value), nil)
	return nil
}

func (i *CurrentSource) Current(_ []float64, status *CircuitStatus) float64 {
	return i.GetCurrent(status.Time) * status.SourceFactor
}

func (i *CurrentSource) Breakpoints(start, stop float64) []float64 {
	return i.wave.Breakpoints(start, stop)
}

// SetValue turns the source into a DC source of the given value.
func (i *CurrentSource) SetValue(value float64) {
	i.Value = value
	i.wave = Waveform{Type: DC, DC: value}
}

func (i *CurrentSource) SetWaveform(wave Waveform) {
	i.wave = wave
	i.Value = wave.At(0)
}
