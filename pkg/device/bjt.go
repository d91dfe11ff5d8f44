package device

import (
	"fmt"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Bjt is a Gummel-Poon bipolar transistor without terminal resistances.
// Nodes are collector, base, emitter.
type Bjt struct {
	BaseDevice
	Type string // "NPN" or "PNP"

	// DC Model Parameters
	Is  float64 // Transport saturation current
	Bf  float64 // Ideal maximum forward beta
	Br  float64 // Ideal maximum reverse beta
	Nf  float64 // Forward emission coefficient
	Nr  float64 // Reverse emission coefficient
	Vaf float64 // Forward Early voltage, 0 for none
	Var float64 // Reverse Early voltage, 0 for none
	Ikf float64 // Forward beta roll-off corner current, 0 for none
	Ikr float64 // Reverse beta roll-off corner current, 0 for none
	Ise float64 // B-E leakage saturation current
	Ne  float64 // B-E leakage emission coefficient
	Isc float64 // B-C leakage saturation current
	Nc  float64 // B-C leakage emission coefficient

	// Capacitance Parameters
	Cje float64 // B-E zero-bias depletion capacitance
	Vje float64 // B-E built-in potential
	Mje float64 // B-E grading coefficient
	Cjc float64 // B-C zero-bias depletion capacitance
	Vjc float64 // B-C built-in potential
	Mjc float64 // B-C grading coefficient
	Fc  float64 // Forward bias depletion capacitance coefficient
	Tf  float64 // Ideal forward transit time
	Tr  float64 // Ideal reverse transit time

	// Temperature Parameters
	Eg   float64
	Xti  float64
	Tnom float64

	vbe, vbc float64 // linearization point, NPN sense
	offset   int
}

var (
	_ NonLinear = (*Bjt)(nil)
	_ Reactive  = (*Bjt)(nil)
)

func NewBJT(name string, nodeNames []string) *Bjt {
	b := &Bjt{BaseDevice: newBaseDevice(name, 0, nodeNames), Type: "NPN"}
	b.setDefaultParameters()
	return b
}

func (b *Bjt) GetType() string { return "Q" }

func (b *Bjt) setDefaultParameters() {
	b.Is = 1e-16
	b.Bf = 100.0
	b.Br = 1.0
	b.Nf = 1.0
	b.Nr = 1.0
	b.Vaf = 100.0
	b.Var = 100.0
	b.Ikf = 0.01
	b.Ikr = 0.01
	b.Ise = 0.0
	b.Ne = 1.5
	b.Isc = 0.0
	b.Nc = 2.0

	b.Cje = 0.0
	b.Vje = 0.75
	b.Mje = 0.33
	b.Cjc = 0.0
	b.Vjc = 0.75
	b.Mjc = 0.33
	b.Fc = 0.5
	b.Tf = 0.0
	b.Tr = 0.0

	b.Eg = 1.11
	b.Xti = 3.0
	b.Tnom = consts.REFTEMP
}

func (b *Bjt) SetModelParameters(params map[string]float64) {
	if typeVal, ok := params["type"]; ok {
		if typeVal == 1.0 {
			b.Type = "PNP"
		} else {
			b.Type = "NPN"
		}
	}

	setParams(map[string]*float64{
		"is":   &b.Is,
		"bf":   &b.Bf,
		"br":   &b.Br,
		"nf":   &b.Nf,
		"nr":   &b.Nr,
		"vaf":  &b.Vaf,
		"var":  &b.Var,
		"ikf":  &b.Ikf,
		"ikr":  &b.Ikr,
		"ise":  &b.Ise,
		"ne":   &b.Ne,
		"isc":  &b.Isc,
		"nc":   &b.Nc,
		"cje":  &b.Cje,
		"vje":  &b.Vje,
		"mje":  &b.Mje,
		"cjc":  &b.Cjc,
		"vjc":  &b.Vjc,
		"mjc":  &b.Mjc,
		"fc":   &b.Fc,
		"tf":   &b.Tf,
		"tr":   &b.Tr,
		"eg":   &b.Eg,
		"xti":  &b.Xti,
		"tnom": &b.Tnom,
	}, params)
}

func (b *Bjt) Validate() error {
	if err := b.checkNodes("bjt", 3); err != nil {
		return err
	}
	switch {
	case b.Type != "NPN" && b.Type != "PNP":
		return fmt.Errorf("bjt %s: unknown type %q", b.Name, b.Type)
	case !(b.Is > 0) || !(b.Bf > 0) || !(b.Br > 0):
		return fmt.Errorf("bjt %s: IS, BF and BR must be positive", b.Name)
	case !(b.Nf > 0) || !(b.Nr > 0) || !(b.Ne > 0) || !(b.Nc > 0):
		return fmt.Errorf("bjt %s: emission coefficients must be positive", b.Name)
	case b.Vaf < 0 || b.Var < 0 || b.Ikf < 0 || b.Ikr < 0 || b.Ise < 0 || b.Isc < 0:
		return fmt.Errorf("bjt %s: VAF, VAR, IKF, IKR, ISE and ISC must not be negative", b.Name)
	case b.Cje < 0 || b.Cjc < 0 || b.Tf < 0 || b.Tr < 0:
		return fmt.Errorf("bjt %s: capacitances and transit times must not be negative", b.Name)
	case b.Mje <= 0 || b.Mje >= 1 || b.Mjc <= 0 || b.Mjc >= 1 || b.Vje <= 0 || b.Vjc <= 0 || b.Fc < 0 || b.Fc >= 1:
		return fmt.Errorf("bjt %s: invalid junction parameters", b.Name)
	}
	return nil
}

func (b *Bjt) ChargeCount() int {
	if b.Cje > 0 || b.Cjc > 0 || b.Tf > 0 || b.Tr > 0 {
		return 2
	}
	return 0
}

func (b *Bjt) SetStateOffset(offset int) { b.offset = offset }

func (b *Bjt) polarity() float64 {
	if b.Type == "PNP" {
		return -1
	}
	return 1
}

// ctl returns vbe and vbc in NPN sense.
func (b *Bjt) ctl() []control {
	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]
	if b.Type == "PNP" {
		return []control{{ne, nb}, {nc, nb}}
	}
	return []control{{nb, ne}, {nb, nc}}
}

type bjtCurrents struct {
	ic, ib   autodiff.Dual
	qbe, qbc autodiff.Dual
}

func inverse(v float64) float64 {
	if v == 0 {
		return 0
	}
	return 1 / v
}

func (b *Bjt) evaluate(vbe, vbc autodiff.Dual, temp, gmin float64) bjtCurrents {
	vt := consts.ThermalVoltage(temp)
	is := saturationCurrent(b.Is, b.Eg, b.Xti, 1, temp, b.Tnom, vt)

	cbe := junctionCurrent(vbe, is, b.Nf*vt, 0)
	cbc := junctionCurrent(vbc, is, b.Nr*vt, 0)
	cben := junctionCurrent(vbe, b.Ise, b.Ne*vt, 0)
	cbcn := junctionCurrent(vbc, b.Isc, b.Nc*vt, 0)

	// base charge: Early effect and high injection
	q1 := autodiff.Const(1).Sub(vbc.Scale(inverse(b.Vaf))).Sub(vbe.Scale(inverse(b.Var)))
	q1 = autodiff.Const(1).Div(q1)
	q2 := cbe.Scale(inverse(b.Ikf)).Add(cbc.Scale(inverse(b.Ikr)))
	arg := autodiff.Max(q2.Scale(4).AddConst(1), autodiff.Const(0))
	qb := q1.Mul(arg.Sqrt().AddConst(1)).Scale(0.5)

	cbeg := cbe.Add(vbe.Scale(gmin))
	cbcg := cbc.Add(vbc.Scale(gmin))

	ic := cbeg.Sub(cbcg).Div(qb).Sub(cbcg.Scale(1 / b.Br)).Sub(cbcn)
	ib := cbeg.Scale(1 / b.Bf).Add(cben).Add(cbcg.Scale(1 / b.Br)).Add(cbcn)

	return bjtCurrents{
		ic:  ic,
		ib:  ib,
		qbe: cbe.Div(qb).Scale(b.Tf).Add(depletionCharge(vbe, b.Cje, b.Vje, b.Mje, b.Fc)),
		qbc: cbc.Scale(b.Tr).Add(depletionCharge(vbc, b.Cjc, b.Vjc, b.Mjc, b.Fc)),
	}
}

func (b *Bjt) Stamp(m matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	nc, nb, ne := b.Nodes[0], b.Nodes[1], b.Nodes[2]
	ctl := b.ctl()
	p := b.polarity()

	v := autodiff.Vars(b.vbe, b.vbc)
	c := b.evaluate(v[0], v[1], status.Temp, status.Gmin)
	dx := deltas(x, ctl, []float64{b.vbe, b.vbc})

	stampCurrent(m, nc, ne, c.ic.Extrapolate(dx).Scale(p), ctl)
	stampCurrent(m, nb, ne, c.ib.Extrapolate(dx).Scale(p), ctl)

	if b.ChargeCount() > 0 {
		ibe := status.Integrate(b.offset, c.qbe)
		ibc := status.Integrate(b.offset+2, c.qbc)
		stampCurrent(m, nb, ne, ibe.Extrapolate(dx).Scale(p), ctl)
		stampCurrent(m, nb, nc, ibc.Extrapolate(dx).Scale(p), ctl)
	}
	return nil
}

func (b *Bjt) UpdateVoltages(x []float64, status *CircuitStatus) bool {
	vt := consts.ThermalVoltage(status.Temp)
	ctl := b.ctl()

	vcrit := junctionVcrit(vt, b.Is)
	vbe, limBE := pnjlim(ctl[0].value(x), b.vbe, b.Nf*vt, vcrit)
	vbc, limBC := pnjlim(ctl[1].value(x), b.vbc, b.Nr*vt, vcrit)
	b.vbe, b.vbc = vbe, vbc
	return limBE || limBC
}

func (b *Bjt) ResetVoltages(x []float64) {
	ctl := b.ctl()
	b.vbe = ctl[0].value(x)
	b.vbc = ctl[1].value(x)
}

// Current is the static collector current at x.
func (b *Bjt) Current(x []float64, status *CircuitStatus) float64 {
	ctl := b.ctl()
	v := autodiff.Vars(ctl[0].value(x), ctl[1].value(x))
	return b.polarity() * b.evaluate(v[0], v[1], status.Temp, status.Gmin).ic.V
}

// BaseCurrent is the static base current at x.
func (b *Bjt) BaseCurrent(x []float64, status *CircuitStatus) float64 {
	ctl := b.ctl()
	v := autodiff.Vars(ctl[0].value(x), ctl[1].value(x))
	return b.polarity() * b.evaluate(v[0], v[1], status.Temp, status.Gmin).ib.V
}

func (b *Bjt) Voltages() (vbe, vbc float64) { return b.vbe, b.vbc }
