package device

import (
	"fmt"
	"math"

	"github.com/edp1096/spicecore/internal/consts"
	"github.com/edp1096/spicecore/pkg/autodiff"
	"github.com/edp1096/spicecore/pkg/matrix"
)

// Mosfet is a level 1 (Shichman-Hodges) MOSFET with bulk junction diodes
// and constant overlap capacitances. Nodes are drain, gate, source, bulk.
type Mosfet struct {
	BaseDevice
	Type  string // "NMOS" or "PMOS"
	Level int

	// Geometry
	L  float64
	W  float64
	LD float64 // Lateral diffusion

	// DC parameters
	VTO    float64 // Threshold voltage
	KP     float64 // Transconductance parameter
	GAMMA  float64 // Body effect parameter
	PHI    float64 // Surface potential
	LAMBDA float64 // Channel length modulation
	IS     float64 // Bulk junction saturation current
	N      float64 // Bulk junction emission coefficient

	// Capacitances
	CBD  float64 // Bulk-drain zero-bias capacitance
	CBS  float64 // Bulk-source zero-bias capacitance
	CGSO float64 // Gate-source overlap capacitance per unit width
	CGDO float64 // Gate-drain overlap capacitance per unit width
	CGBO float64 // Gate-bulk overlap capacitance per unit length
	MJ   float64 // Bulk junction grading coefficient
	PB   float64 // Bulk junction potential
	FC   float64 // Forward-bias depletion capacitance coefficient

	vgs, vds, vbs float64 // linearization point, NMOS sense
	von           float64
	offset        int
}

var (
	_ NonLinear = (*Mosfet)(nil)
	_ Reactive  = (*Mosfet)(nil)
)

func NewMosfet(name string, nodeNames []string) *Mosfet {
	m := &Mosfet{
		BaseDevice: newBaseDevice(name, 0, nodeNames),
		Type:       "NMOS",
		Level:      1,
	}
	m.setDefaultParameters()
	m.von = m.VTO
	return m
}

func (m *Mosfet) GetType() string { return "M" }

func (m *Mosfet) setDefaultParameters() {
	m.L = 10e-6
	m.W = 10e-6
	m.LD = 0.0

	m.VTO = 0.7
	m.KP = 2e-5
	m.GAMMA = 0.5
	m.PHI = 0.6
	m.LAMBDA = 0.01
	m.IS = 1e-14
	m.N = 1.0

	m.CBD = 0.0
	m.CBS = 0.0
	m.CGSO = 0.0
	m.CGDO = 0.0
	m.CGBO = 0.0
	m.MJ = 0.5
	m.PB = 0.8
	m.FC = 0.5
}

func (m *Mosfet) SetModelParameters(params map[string]float64) {
	if levelVal, ok := params["level"]; ok {
		m.Level = int(levelVal)
	}

	if typeVal, ok := params["type"]; ok {
		if typeVal == 1.0 {
			m.Type = "PMOS"
		} else {
			m.Type = "NMOS"
		}
	}

	setParams(map[string]*float64{
		"l":      &m.L,
		"w":      &m.W,
		"ld":     &m.LD,
		"vto":    &m.VTO,
		"kp":     &m.KP,
		"gamma":  &m.GAMMA,
		"phi":    &m.PHI,
		"lambda": &m.LAMBDA,
		"is":     &m.IS,
		"n":      &m.N,
		"cbd":    &m.CBD,
		"cbs":    &m.CBS,
		"cgso":   &m.CGSO,
		"cgdo":   &m.CGDO,
		"cgbo":   &m.CGBO,
		"mj":     &m.MJ,
		"pb":     &m.PB,
		"fc":     &m.FC,
	}, params)

	// a PMOS threshold is negative unless given
	if _, ok := params["vto"]; !ok && m.Type == "PMOS" {
		m.VTO = -math.Abs(m.VTO)
	}
	m.von = m.polarity() * m.VTO
}

func (m *Mosfet) Validate() error {
	if err := m.checkNodes("mosfet", 4); err != nil {
		return err
	}
	switch {
	case m.Level != 1:
		return fmt.Errorf("mosfet %s: level %d not supported", m.Name, m.Level)
	case m.Type != "NMOS" && m.Type != "PMOS":
		return fmt.Errorf("mosfet %s: unknown type %q", m.Name, m.Type)
	case !(m.L-2*m.LD > 0) || !(m.W > 0):
		return fmt.Errorf("mosfet %s: effective L and W must be positive", m.Name)
	case !(m.KP > 0) || !(m.PHI > 0):
		return fmt.Errorf("mosfet %s: KP and PHI must be positive", m.Name)
	case m.GAMMA < 0 || m.LAMBDA < 0:
		return fmt.Errorf("mosfet %s: GAMMA and LAMBDA must not be negative", m.Name)
	case !(m.IS > 0) || !(m.N > 0):
		return fmt.Errorf("mosfet %s: IS and N must be positive", m.Name)
	case m.CBD < 0 || m.CBS < 0 || m.CGSO < 0 || m.CGDO < 0 || m.CGBO < 0:
		return fmt.Errorf("mosfet %s: capacitances must not be negative", m.Name)
	case m.MJ <= 0 || m.MJ >= 1 || m.PB <= 0 || m.FC < 0 || m.FC >= 1:
		return fmt.Errorf("mosfet %s: invalid junction parameters", m.Name)
	}
	return nil
}

func (m *Mosfet) ChargeCount() int {
	if m.CGSO > 0 || m.CGDO > 0 || m.CGBO > 0 || m.CBD > 0 || m.CBS > 0 {
		return 5
	}
	return 0
}

func (m *Mosfet) SetStateOffset(offset int) { m.offset = offset }

func (m *Mosfet) polarity() float64 {
	if m.Type == "PMOS" {
		return -1
	}
	return 1
}

// The gate is insulated.
func (m *Mosfet) TerminalGroups() [][]int { return [][]int{{0, 2, 3}} }

// ctl returns vgs, vds and vbs in NMOS sense.
func (m *Mosfet) ctl() []control {
	nd, ng, ns, nb := m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]
	if m.Type == "PMOS" {
		return []control{{ns, ng}, {ns, nd}, {ns, nb}}
	}
	return []control{{ng, ns}, {nd, ns}, {nb, ns}}
}

// channel is the forward-mode drain current (vds >= 0) and the threshold.
func (m *Mosfet) channel(vgs, vds, vbs autodiff.Dual) (autodiff.Dual, float64) {
	sqphi := math.Sqrt(m.PHI)
	var sarg autodiff.Dual
	if vbs.V <= 0 {
		sarg = vbs.Neg().AddConst(m.PHI).Sqrt()
	} else {
		sarg = vbs.Scale(-1 / (2 * sqphi)).AddConst(sqphi)
		sarg = autodiff.Max(sarg, autodiff.Const(0))
	}
	vth := sarg.AddConst(-sqphi).Scale(m.GAMMA).AddConst(m.polarity() * m.VTO)
	vgst := vgs.Sub(vth)

	beta := m.KP * m.W / (m.L - 2*m.LD)
	clm := vds.Scale(m.LAMBDA).AddConst(1)

	switch {
	case vgst.V <= 0:
		// cutoff
		return vgs.Scale(0), vth.V
	case vgst.V <= vds.V:
		// saturation
		return vgst.Sqr().Scale(beta / 2).Mul(clm), vth.V
	default:
		// linear
		return vds.Mul(vgst.Sub(vds.Scale(0.5))).Scale(beta).Mul(clm), vth.V
	}
}

type mosCurrents struct {
	ids, ibs, ibd autodiff.Dual
	von           float64
}

func (m *Mosfet) evaluate(vgs, vds, vbs autodiff.Dual, temp, gmin float64) mosCurrents {
	var c mosCurrents
	vbd := vbs.Sub(vds)
	if vds.V >= 0 {
		c.ids, c.von = m.channel(vgs, vds, vbs)
	} else {
		// source and drain swap roles
		ids, von := m.channel(vgs.Sub(vds), vds.Neg(), vbd)
		c.ids, c.von = ids.Neg(), von
	}

	nvt := m.N * consts.ThermalVoltage(temp)
	c.ibs = junctionCurrent(vbs, m.IS, nvt, 0).Add(vbs.Scale(gmin))
	c.ibd = junctionCurrent(vbd, m.IS, nvt, 0).Add(vbd.Scale(gmin))
	return c
}

func (m *Mosfet) Stamp(mat matrix.DeviceMatrix, x []float64, status *CircuitStatus) error {
	nd, ng, ns, nb := m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]
	ctl := m.ctl()
	p := m.polarity()

	v := autodiff.Vars(m.vgs, m.vds, m.vbs)
	vgs, vds, vbs := v[0], v[1], v[2]
	c := m.evaluate(vgs, vds, vbs, status.Temp, status.Gmin)
	m.von = c.von
	dx := deltas(x, ctl, []float64{m.vgs, m.vds, m.vbs})

	stampCurrent(mat, nd, ns, c.ids.Extrapolate(dx).Scale(p), ctl)
	stampCurrent(mat, nb, ns, c.ibs.Extrapolate(dx).Scale(p), ctl)
	stampCurrent(mat, nb, nd, c.ibd.Extrapolate(dx).Scale(p), ctl)

	if m.ChargeCount() > 0 {
		vgd := vgs.Sub(vds)
		vgb := vgs.Sub(vbs)
		vbd := vbs.Sub(vds)
		leff := m.L - 2*m.LD

		charges := []struct {
			from, to int
			q        autodiff.Dual
		}{
			{ng, ns, vgs.Scale(m.CGSO * m.W)},
			{ng, nd, vgd.Scale(m.CGDO * m.W)},
			{ng, nb, vgb.Scale(m.CGBO * leff)},
			{nb, ns, depletionCharge(vbs, m.CBS, m.PB, m.MJ, m.FC)},
			{nb, nd, depletionCharge(vbd, m.CBD, m.PB, m.MJ, m.FC)},
		}
		for k, ch := range charges {
			i := status.Integrate(m.offset+2*k, ch.q)
			stampCurrent(mat, ch.from, ch.to, i.Extrapolate(dx).Scale(p), ctl)
		}
	}
	return nil
}

func (m *Mosfet) UpdateVoltages(x []float64, status *CircuitStatus) bool {
	ctl := m.ctl()
	vgs, vds, vbs := ctl[0].value(x), ctl[1].value(x), ctl[2].value(x)
	vbd := vbs - vds
	vgd := vgs - vds
	vgdOld := m.vgs - m.vds
	vbdOld := m.vbs - m.vds

	if m.vds >= 0 {
		vgs = fetlim(vgs, m.vgs, m.von)
		vds = vgs - vgd
		vds = limvds(vds, m.vds)
	} else {
		vgd = fetlim(vgd, vgdOld, m.von)
		vds = vgs - vgd
		vds = -limvds(-vds, -m.vds)
		vgs = vgd + vds
	}

	nvt := m.N * consts.ThermalVoltage(status.Temp)
	vcrit := junctionVcrit(nvt, m.IS)
	if vds >= 0 {
		vbs, _ = pnjlim(vbs, m.vbs, nvt, vcrit)
	} else {
		vbd, _ = pnjlim(vbd, vbdOld, nvt, vcrit)
		vbs = vbd + vds
	}

	raw := []float64{ctl[0].value(x), ctl[1].value(x), ctl[2].value(x)}
	m.vgs, m.vds, m.vbs = vgs, vds, vbs
	return !closeTo(raw[0], vgs) || !closeTo(raw[1], vds) || !closeTo(raw[2], vbs)
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func (m *Mosfet) ResetVoltages(x []float64) {
	ctl := m.ctl()
	m.vgs, m.vds, m.vbs = ctl[0].value(x), ctl[1].value(x), ctl[2].value(x)
}

// Current is the static drain current at x, positive into the drain.
func (m *Mosfet) Current(x []float64, status *CircuitStatus) float64 {
	ctl := m.ctl()
	v := autodiff.Vars(ctl[0].value(x), ctl[1].value(x), ctl[2].value(x))
	c := m.evaluate(v[0], v[1], v[2], status.Temp, status.Gmin)
	return m.polarity() * (c.ids.V - c.ibd.V)
}

func (m *Mosfet) Voltages() (vgs, vds, vbs float64) { return m.vgs, m.vds, m.vbs }
