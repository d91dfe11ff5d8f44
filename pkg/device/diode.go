package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

type Diode struct {
	BaseDevice
	// Model parameters
	Is  float64 // Saturation current
	N   float64 // Emission coefficient
	Bv  float64 // Breakdown voltage, 0 for none
	Ibv float64 // Current at breakdown voltage
	Cj0 float64 // Zero-bias junction capacitance
	M   float64 // Grading coefficient
	Vj  float64 // Built-in potential
	Fc  float64 // Forward-bias depletion capacitance coefficient
	Tt  float64 // Transit time

	// Temperature parameters
	Eg   float64 // Energy gap (eV)
	Xti  float64 // Saturation current temperature exponent
	Tnom float64

	vd     float64 // linearization point
	offset int
}

var (
	_ NonLinear = (*Diode)(nil)
	_ Reactive  = (*Diode)(nil)
)

func NewDiode(name string, nodeNames []string) *Diode {
	d := &Diode{BaseDevice: newBaseDevice(name, 0, nodeNames)}
	d.setDefaultParameters()
	return d
}

func (d *Diode) GetType() string { return "D" }

func (d *Diode) setDefaultParameters() {
	d.Is = 1e-14
	d.N = 1.0
	d.Bv = 100.0
	d.Ibv = 1e-3
	d.Cj0 = 0.0
	d.M = 0.5
	d.Vj = 1.0
	d.Fc = 0.5
	d.Tt = 0.0

	d.Eg = 1.11 // silicon
	d.Xti = 3.0
	d.Tnom = consts.REFTEMP
}

func (d *Diode) SetModelParameters(params map[string]float64) {
	setParams(map[string]*float64{
		"is":   &d.Is,
		"n":    &d.N,
		"bv":   &d.Bv,
		"ibv":  &d.Ibv,
		"cj0":  &d.Cj0,
		"cjo":  &d.Cj0,
		"m":    &d.M,
		"vj":   &d.Vj,
		"fc":   &d.Fc,
		"tt":   &d.Tt,
		"eg":   &d.Eg,
		"xti":  &d.Xti,
		"tnom": &d.Tnom,
	}, params)
}

func (d *Diode) Validate() error {
	if err := d.checkNodes("diode", 2); err != nil {
		return err
	}
	switch {
	case !(d.Is > 0):
		return fmt.Errorf("diode %s: IS must be positive, got %g", d.Name, d.Is)
	case !(d.N > 0):
		return fmt.Errorf("diode %s: N must be positive, got %g", d.Name, d.N)
	case d.Bv < 0 || d.Ibv <= 0:
		return fmt.Errorf("diode %s: invalid breakdown BV=%g IBV=%g", d.Name, d.Bv, d.Ibv)
	case d.Cj0 < 0 || d.Tt < 0:
		return fmt.Errorf("diode %s: CJ0 and TT must not be negative", d.Name)
	case d.M <= 0 || d.M >= 1 || d.Vj <= 0 || d.Fc < 0 || d.Fc >= 1:
		return fmt.Errorf("diode %s: invalid junction parameters M=%g VJ=%g FC=%g", d.Name, d.M, d.Vj, d.Fc)
	}
	return nil
}

func (d *Diode) ChargeCount() int {
	if d.Cj0 > 0 || d.Tt > 0 {
		return 1
	}
	return 0
}

func (d *Diode) SetStateOffset(offset int) { d.offset = offset }

type diodeTemp struct {
	nvt, is, bv, vcrit float64
}

func (d *Diode) atTemperature(temp float64) diodeTemp {
	vt := consts.ThermalVoltage(temp)
	nvt := d.N * vt
	is := saturationCurrent(d.Is, d.Eg, d.Xti, d.N, temp, d.Tnom, vt)

	// shift the knee so the current at -BV is IBV
	bv := d.Bv
	if bv > 0 && d.Ibv > is {
		bv -= nvt * math.Log(d.Ibv/is)
	}
	return diodeTemp{nvt: nvt, is: is, bv: bv, vcrit: junctionVcrit(nvt, is)}
}

func (d *Diode) ctl() []control { return []control{{d.Nodes[0], d.Nodes[1]}} }

func (d *Diode) Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	t := d.atTemperature(status.Temp)
	ctl := d.ctl()

	vd := autodiff.Var(d.vd, 0, 1)
	ij := junctionCurrent(vd, t.is, t.nvt, t.bv)
	id := ij.Add(vd.Scale(status.Gmin))

	if d.ChargeCount() > 0 {
		q := depletionCharge(vd, d.Cj0, d.Vj, d.M, d.Fc).Add(ij.Scale(d.Tt))
		id = id.Add(status.Integrate(d.offset, q))
	}

	id = id.Extrapolate(deltas(x, ctl, []float64{d.vd}))
	stampCurrent(m, d.Nodes[0], d.Nodes[1], id, ctl)
	return nil
}

func (d *Diode) UpdateVoltages(x []float64, status *CircuitStatus) bool {
	t := d.atTemperature(status.Temp)
	vnew := d.ctl()[0].value(x)
	vlim, limited := pnjlim(vnew, d.vd, t.nvt, t.vcrit)
	d.vd = vlim
	return limited
}

func (d *Diode) ResetVoltages(x []float64) {
	d.vd = d.ctl()[0].value(x)
}

// Current is the static anode-to-cathode current at x.
func (d *Diode) Current(x []float64, status *CircuitStatus) float64 {
	t := d.atTemperature(status.Temp)
	v := d.ctl()[0].value(x)
	return junctionCurrent(autodiff.Const(v), t.is, t.nvt, t.bv).V + status.Gmin*v
}

// Voltage is the junction voltage the model was last evaluated at.
func (d *Diode) Voltage() float64 { return d.vd }
