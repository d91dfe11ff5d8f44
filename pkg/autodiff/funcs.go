package autodiff

import "math"

func (a Dual) Exp() Dual {
	e := math.Exp(a.V)
	return chain(e, a, e)
}

func (a Dual) Log() Dual { return chain(math.Log(a.V), a, 1/a.V) }

func (a Dual) Sqrt() Dual {
	s := math.Sqrt(a.V)
	return chain(s, a, 0.5/s)
}

func (a Dual) Sqr() Dual { return chain(a.V*a.V, a, 2*a.V) }

func (a Dual) Sin() Dual { return chain(math.Sin(a.V), a, math.Cos(a.V)) }

func (a Dual) Cos() Dual { return chain(math.Cos(a.V), a, -math.Sin(a.V)) }

func (a Dual) Tanh() Dual {
	t := math.Tanh(a.V)
	return chain(t, a, 1-t*t)
}

func (a Dual) Erf() Dual {
	return chain(math.Erf(a.V), a, 2/math.SqrtPi*math.Exp(-a.V*a.V))
}

// Powf raises a to a constant power.
func (a Dual) Powf(p float64) Dual {
	switch p {
	case 0:
		return Dual{V: 1, D: make([]float64, len(a.D))}
	case 1:
		return a
	}
	return chain(math.Pow(a.V, p), a, p*math.Pow(a.V, p-1))
}

// Pow raises a to a dual power. A constant exponent falls back to Powf so
// that negative bases stay usable.
func (a Dual) Pow(b Dual) Dual {
	if !b.hasGrad() {
		return a.Powf(b.V)
	}
	v := math.Pow(a.V, b.V)
	return combine(v, a, b.V*math.Pow(a.V, b.V-1), b, v*math.Log(a.V))
}

// Abs takes the derivative of the non-negative branch at zero.
func (a Dual) Abs() Dual {
	if a.V >= 0 {
		return a
	}
	return a.Neg()
}

// Select returns onTrue when cond holds, else onFalse. The derivative is
// that of the chosen branch.
func Select(cond bool, onTrue, onFalse Dual) Dual {
	if cond {
		return onTrue
	}
	return onFalse
}

// Min returns the smaller operand; ties pick a.
func Min(a, b Dual) Dual { return Select(a.V <= b.V, a, b) }

// Max returns the larger operand; ties pick a.
func Max(a, b Dual) Dual { return Select(a.V >= b.V, a, b) }

// Clamp limits x to [lo, hi]. Outside the interval the result is constant.
func Clamp(x Dual, lo, hi float64) Dual {
	switch {
	case x.V < lo:
		return Dual{V: lo, D: make([]float64, len(x.D))}
	case x.V > hi:
		return Dual{V: hi, D: make([]float64, len(x.D))}
	}
	return x
}

// LimExp is exp(x) continued linearly above xmax, so junction models stay
// finite for any Newton iterate.
func LimExp(x Dual, xmax float64) Dual {
	if x.V <= xmax {
		return x.Exp()
	}
	e := math.Exp(xmax)
	return chain(e*(1+x.V-xmax), x, e)
}
