package autodiff

import "math"

type cmpKind int

const (
	cmpDiscrete cmpKind = iota
	cmpLinear
	cmpSigmoid
)

// CmpMethod selects how a comparison turns into a truth degree in [0, 1].
type CmpMethod struct {
	kind  cmpKind
	param float64
}

// Discrete comparisons are exact steps with zero derivative.
var Discrete = CmpMethod{kind: cmpDiscrete}

// Linear ramps the truth degree across |a-b| <= eps.
func Linear(eps float64) CmpMethod { return CmpMethod{kind: cmpLinear, param: eps} }

// Sigmoid uses a logistic curve of steepness k.
func Sigmoid(k float64) CmpMethod { return CmpMethod{kind: cmpSigmoid, param: k} }

func zeroLike(a, b Dual, v float64) Dual {
	return Dual{V: v, D: make([]float64, max(len(a.D), len(b.D)))}
}

// less is the degree to which a < b (or a <= b when orEqual).
func less(a, b Dual, m CmpMethod, orEqual bool) Dual {
	diff := a.Sub(b)
	switch m.kind {
	case cmpLinear:
		eps := m.param
		switch {
		case diff.V < -eps:
			return zeroLike(a, b, 1)
		case diff.V > eps:
			return zeroLike(a, b, 0)
		}
		return diff.Scale(-0.5 / eps).AddConst(0.5)
	case cmpSigmoid:
		s := 1 / (1 + math.Exp(m.param*diff.V))
		return chain(s, diff, -m.param*s*(1-s))
	}
	if diff.V < 0 || (orEqual && diff.V == 0) {
		return zeroLike(a, b, 1)
	}
	return zeroLike(a, b, 0)
}

func Lt(a, b Dual, m CmpMethod) Dual { return less(a, b, m, false) }

func Le(a, b Dual, m CmpMethod) Dual { return less(a, b, m, true) }

func Gt(a, b Dual, m CmpMethod) Dual { return less(b, a, m, false) }

func Ge(a, b Dual, m CmpMethod) Dual { return less(b, a, m, true) }

// Eq is a triangle (Linear) or bell (Sigmoid) around a == b.
func Eq(a, b Dual, m CmpMethod) Dual {
	diff := a.Sub(b)
	switch m.kind {
	case cmpLinear:
		if math.Abs(diff.V) >= m.param {
			return zeroLike(a, b, 0)
		}
		return diff.Abs().Scale(-1 / m.param).AddConst(1)
	case cmpSigmoid:
		s := 1 / (1 + math.Exp(m.param*diff.V))
		return chain(4*s*(1-s), diff, -4*m.param*s*(1-s)*(1-2*s))
	}
	if diff.V == 0 {
		return zeroLike(a, b, 1)
	}
	return zeroLike(a, b, 0)
}

func Ne(a, b Dual, m CmpMethod) Dual { return Not(Eq(a, b, m)) }

func Not(c Dual) Dual { return c.Neg().AddConst(1) }

func And(a, b Dual) Dual { return a.Mul(b) }

func Or(a, b Dual) Dual { return a.Add(b).Sub(a.Mul(b)) }

// Cond blends two branches by a truth degree: c*onTrue + (1-c)*onFalse.
func Cond(c, onTrue, onFalse Dual) Dual {
	return c.Mul(onTrue).Add(Not(c).Mul(onFalse))
}
