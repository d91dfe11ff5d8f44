package device

import (
	"math"

	"github.com/edp1096/spicecore/pkg/autodiff"
)

const maxExpArg = 100

// junctionCurrent is the pn-junction law in the three SPICE3 regions:
// exponential above -3*nvt, a cubic approach to -is in reverse, and an
// exponential breakdown below -bv. bv <= 0 disables breakdown.
func junctionCurrent(v autodiff.Dual, is, nvt, bv float64) autodiff.Dual {
	switch {
	case v.V >= -3*nvt:
		return autodiff.LimExp(v.Scale(1/nvt), maxExpArg).AddConst(-1).Scale(is)
	case bv <= 0 || v.V >= -bv:
		arg := autodiff.Const(3 * nvt / math.E).Div(v).Powf(3)
		return arg.AddConst(1).Scale(-is)
	default:
		return v.AddConst(bv).Scale(-1 / nvt).Exp().Scale(-is)
	}
}

// depletionCharge is the charge of a junction with zero-bias capacitance
// cj0, built-in potential vj and grading m. Above fc*vj the capacitance is
// continued linearly.
func depletionCharge(v autodiff.Dual, cj0, vj, m, fc float64) autodiff.Dual {
	if cj0 == 0 {
		return v.Scale(0)
	}
	fcpb := fc * vj
	if v.V < fcpb {
		arg := v.Scale(-1 / vj).AddConst(1)
		return arg.Powf(1 - m).Neg().AddConst(1).Scale(cj0 * vj / (1 - m))
	}

	f1 := vj * (1 - math.Pow(1-fc, 1-m)) / (1 - m)
	f2 := math.Pow(1-fc, 1+m)
	f3 := 1 - fc*(1+m)
	lin := v.AddConst(-fcpb).Scale(f3)
	quad := v.Sqr().AddConst(-fcpb * fcpb).Scale(m / (2 * vj))
	return lin.Add(quad).Scale(1 / f2).AddConst(f1).Scale(cj0)
}

// saturationCurrent scales is from tnom to temp.
func saturationCurrent(is, eg, xti, n, temp, tnom, vt float64) float64 {
	ratio := temp / tnom
	return is * math.Pow(ratio, xti/n) * math.Exp((ratio-1)*eg/(n*vt))
}
