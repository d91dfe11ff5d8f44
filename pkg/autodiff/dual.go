// Package autodiff implements forward-mode automatic differentiation with
// dual numbers.
//
// A Dual carries a value together with its partial derivatives with respect
// to a small, fixed set of inputs, typically the terminal voltages of one
// device. Evaluating a model expression on Duals yields the current and its
// exact Jacobian row in a single pass:
//
//	v := autodiff.Vars(va, vc)        // d/dva, d/dvc
//	vd := v[0].Sub(v[1])
//	id := vd.Scale(1 / nvt).Exp().AddConst(-1).Scale(is)
//	// id.V is the current, id.D[0], id.D[1] its partials
//
// Operations never fail. NaN and Inf propagate through values and
// derivatives the way they do through float64 arithmetic.
package autodiff

// Dual is a value with its gradient. A nil or short D is read as zeros.
type Dual struct {
	V float64
	D []float64
}

// Const returns a value with no dependence on any input.
func Const(v float64) Dual {
	return Dual{V: v}
}

// Var returns input i of n, with unit derivative in slot i.
func Var(v float64, i, n int) Dual {
	d := make([]float64, n)
	d[i] = 1
	return Dual{V: v, D: d}
}

// Vars seeds one input per value.
func Vars(values ...float64) []Dual {
	out := make([]Dual, len(values))
	for i, v := range values {
		out[i] = Var(v, i, len(values))
	}
	return out
}

// Deriv returns the partial derivative with respect to input i.
func (a Dual) Deriv(i int) float64 {
	if i < 0 || i >= len(a.D) {
		return 0
	}
	return a.D[i]
}

// Len is the number of tracked inputs.
func (a Dual) Len() int { return len(a.D) }

func (a Dual) hasGrad() bool {
	for _, d := range a.D {
		if d != 0 {
			return true
		}
	}
	return false
}

// chain builds f(a) given f'(a).
func chain(v float64, a Dual, da float64) Dual {
	if len(a.D) == 0 {
		return Dual{V: v}
	}
	d := make([]float64, len(a.D))
	for i, ad := range a.D {
		d[i] = da * ad
	}
	return Dual{V: v, D: d}
}

// combine builds f(a, b) given its partials ca and cb.
func combine(v float64, a Dual, ca float64, b Dual, cb float64) Dual {
	n := max(len(a.D), len(b.D))
	if n == 0 {
		return Dual{V: v}
	}
	d := make([]float64, n)
	for i, ad := range a.D {
		d[i] += ca * ad
	}
	for i, bd := range b.D {
		d[i] += cb * bd
	}
	return Dual{V: v, D: d}
}

func (a Dual) Add(b Dual) Dual { return combine(a.V+b.V, a, 1, b, 1) }

func (a Dual) Sub(b Dual) Dual { return combine(a.V-b.V, a, 1, b, -1) }

func (a Dual) Mul(b Dual) Dual { return combine(a.V*b.V, a, b.V, b, a.V) }

func (a Dual) Div(b Dual) Dual {
	return combine(a.V/b.V, a, 1/b.V, b, -a.V/(b.V*b.V))
}

func (a Dual) Neg() Dual { return chain(-a.V, a, -1) }

// Scale multiplies by a constant.
func (a Dual) Scale(c float64) Dual { return chain(c*a.V, a, c) }

// AddConst shifts the value; the gradient is unchanged.
func (a Dual) AddConst(c float64) Dual {
	return Dual{V: a.V + c, D: a.D}
}

// Extrapolate returns the first-order estimate a.V + sum(D[i]*dx[i]) with
// the gradient unchanged. Devices use it to move an evaluation made at a
// limited operating point back onto the actual iterate.
func (a Dual) Extrapolate(dx []float64) Dual {
	v := a.V
	for i, d := range a.D {
		if i < len(dx) {
			v += d * dx[i]
		}
	}
	return Dual{V: v, D: a.D}
}

// Sum adds any number of duals.
func Sum(terms ...Dual) Dual {
	acc := Const(0)
	for _, t := range terms {
		acc = acc.Add(t)
	}
	return acc
}
