package device

import (
	"fmt"
	"math"
)

// Waveform is the value of an independent source over time.
type Waveform struct {
	Type SourceType

	DC float64

	// SIN
	Offset    float64
	Amplitude float64
	Freq      float64
	Phase     float64 // degrees

	// PULSE
	V1     float64
	V2     float64
	Delay  float64
	Rise   float64
	Fall   float64
	PWidth float64
	Period float64

	// PWL
	Times  []float64
	Values []float64
}

func (w *Waveform) At(t float64) float64 {
	switch w.Type {
	case SIN:
		phaseRad := w.Phase * math.Pi / 180.0
		return w.Offset + w.Amplitude*math.Sin(2.0*math.Pi*w.Freq*t+phaseRad)
	case PULSE:
		return w.pulse(t)
	case PWL:
		return w.pwl(t)
	default:
		return w.DC
	}
}

func (w *Waveform) Validate() error {
	switch w.Type {
	case SIN:
		if w.Freq < 0 {
			return fmt.Errorf("SIN frequency must not be negative, got %g", w.Freq)
		}
	case PULSE:
		if w.Rise < 0 || w.Fall < 0 || w.PWidth < 0 || w.Period < 0 || w.Delay < 0 {
			return fmt.Errorf("PULSE timing must not be negative")
		}
		if w.Period > 0 && w.Rise+w.PWidth+w.Fall > w.Period {
			return fmt.Errorf("PULSE period %g shorter than rise+width+fall", w.Period)
		}
	case PWL:
		if len(w.Times) == 0 || len(w.Times) != len(w.Values) {
			return fmt.Errorf("PWL needs matching, non-empty time and value lists")
		}
		for i := 1; i < len(w.Times); i++ {
			if w.Times[i] < w.Times[i-1] {
				return fmt.Errorf("PWL times must not decrease (t[%d]=%g < t[%d]=%g)", i, w.Times[i], i-1, w.Times[i-1])
			}
		}
	}
	return nil
}

func (w *Waveform) pulse(t float64) float64 {
	if t < w.Delay {
		return w.V1
	}

	t = t - w.Delay
	if w.Period > 0 {
		t = math.Mod(t, w.Period)
	}

	if t < w.Rise {
		return w.V1 + (w.V2-w.V1)*t/w.Rise
	}

	if t < w.Rise+w.PWidth {
		return w.V2
	}

	fallStart := w.Rise + w.PWidth
	if t < fallStart+w.Fall {
		return w.V2 - (w.V2-w.V1)*(t-fallStart)/w.Fall
	}

	return w.V1
}

func (w *Waveform) pwl(t float64) float64 {
	if len(w.Times) == 0 || len(w.Times) != len(w.Values) {
		return 0
	}
	if t <= w.Times[0] {
		return w.Values[0]
	}

	lastIdx := len(w.Times) - 1
	if t >= w.Times[lastIdx] {
		return w.Values[lastIdx]
	}

	for i := 1; i < len(w.Times); i++ {
		if t <= w.Times[i] {
			t1, t2 := w.Times[i-1], w.Times[i]
			v1, v2 := w.Values[i-1], w.Values[i]
			if t2 == t1 {
				return v2
			}
			slope := (v2 - v1) / (t2 - t1)
			return v1 + slope*(t-t1)
		}
	}

	return w.Values[lastIdx]
}

// Breakpoints lists the corners of the waveform inside (start, stop].
func (w *Waveform) Breakpoints(start, stop float64) []float64 {
	var out []float64
	add := func(t float64) {
		if t > start && t <= stop {
			out = append(out, t)
		}
	}

	switch w.Type {
	case PULSE:
		corners := []float64{0, w.Rise, w.Rise + w.PWidth, w.Rise + w.PWidth + w.Fall}
		for base := w.Delay; base <= stop; base += w.Period {
			for _, c := range corners {
				add(base + c)
			}
			if w.Period <= 0 {
				break
			}
		}
	case PWL:
		for _, t := range w.Times {
			add(t)
		}
	}
	return out
}
