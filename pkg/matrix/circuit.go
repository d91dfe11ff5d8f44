package matrix

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/edp1096/sparse"

	"github.com/edp1096/spicecore/pkg/simerr"
)

// ErrReorder reports that a reused pivot order broke down. The factor was
// abandoned part way, so the system must be reassembled before the next
// Factorize, which will compute a fresh ordering.
var ErrReorder = errors.New("matrix: pivot order no longer usable")

// Symbolic is the analysed structure of a system: the sparse matrix with
// every element of the pattern allocated, and pointers to them keyed by
// unknown indices. Pointers are taken before the first ordering, so they
// stay valid when the solver permutes rows and columns.
type Symbolic struct {
	size  int
	mat   *sparse.Matrix
	elems map[entry]*sparse.Element
}

// Analyze allocates the pattern plus every diagonal.
func Analyze(p *Pattern) (*Symbolic, error) {
	if p.size <= 0 {
		return nil, fmt.Errorf("matrix: empty system")
	}
	if err := p.check(); err != nil {
		return nil, err
	}

	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(p.size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %w", err)
	}

	s := &Symbolic{size: p.size, mat: mat, elems: make(map[entry]*sparse.Element, p.Len()+p.size)}
	for i := 0; i < p.size; i++ {
		s.element(i, i)
	}
	for _, e := range p.Entries() {
		s.element(e[0], e[1])
	}
	return s, nil
}

func (s *Symbolic) element(i, j int) *sparse.Element {
	key := entry{i, j}
	if el, ok := s.elems[key]; ok {
		return el
	}
	el := s.mat.GetElement(int64(i+1), int64(j+1))
	s.elems[key] = el
	return el
}

// NonZeros is the number of allocated entries before fill-in.
func (s *Symbolic) NonZeros() int { return len(s.elems) }

// CircuitMatrix holds the Jacobian and residual of one Newton iteration.
type CircuitMatrix struct {
	Size     int
	sym      *Symbolic
	pattern  *Pattern
	residual []float64
	scale    []float64
	stale    bool
	badIndex error

	factorizations int
	reorders       int
	ordered        bool
}

var _ DeviceMatrix = (*CircuitMatrix)(nil)

// NewMatrix analyses the pattern and returns an empty system.
func NewMatrix(p *Pattern) (*CircuitMatrix, error) {
	sym, err := Analyze(p)
	if err != nil {
		return nil, err
	}
	return &CircuitMatrix{
		Size:     p.size,
		sym:      sym,
		pattern:  p,
		residual: make([]float64, p.size),
		scale:    make([]float64, p.size),
	}, nil
}

func (m *CircuitMatrix) inRange(i int) bool { return i >= 0 && i < m.Size }

func (m *CircuitMatrix) AddElement(i, j int, value float64) {
	if i == Ground || j == Ground {
		return
	}
	if !m.inRange(i) || !m.inRange(j) {
		if m.badIndex == nil {
			m.badIndex = fmt.Errorf("matrix index out of bounds (i=%d, j=%d, size=%d)", i, j, m.Size)
		}
		return
	}
	el, ok := m.sym.elems[entry{i, j}]
	if !ok {
		// Outside the analysed structure: remember it and ask for a new analysis.
		m.pattern.AddElement(i, j, value)
		m.stale = true
		return
	}
	el.Real += value
}

func (m *CircuitMatrix) AddResidual(i int, value float64) {
	if i == Ground {
		return
	}
	if !m.inRange(i) {
		if m.badIndex == nil {
			m.badIndex = fmt.Errorf("residual index out of bounds (i=%d, size=%d)", i, m.Size)
		}
		return
	}
	m.residual[i] += value
	m.scale[i] += math.Abs(value)
}

// Clear zeroes the Jacobian and the residual for the next assembly.
func (m *CircuitMatrix) Clear() {
	m.sym.mat.Clear()
	clear(m.residual)
	clear(m.scale)
	m.stale = false
	m.badIndex = nil
}

// Residual is F(x) of the last assembly. The slice is owned by the matrix.
func (m *CircuitMatrix) Residual() []float64 { return m.residual }

// RowScale is, per row, the sum of the magnitudes of every residual
// contribution. It bounds the rounding error of the residual.
func (m *CircuitMatrix) RowScale() []float64 { return m.scale }

// Stale reports that the last assembly touched entries outside the analysed
// pattern; call Reanalyze and assemble again.
func (m *CircuitMatrix) Stale() bool { return m.stale }

// Err reports an out-of-range stamp from the last assembly.
func (m *CircuitMatrix) Err() error { return m.badIndex }

// Reanalyze rebuilds the structure from the grown pattern. The pivot order
// is recomputed on the next Factorize.
func (m *CircuitMatrix) Reanalyze() error {
	sym, err := Analyze(m.pattern)
	if err != nil {
		return err
	}
	m.sym.mat.Destroy()
	m.sym = sym
	m.ordered = false
	m.stale = false
	return nil
}

// Element reads an assembled Jacobian entry. Only meaningful before Factorize.
func (m *CircuitMatrix) Element(i, j int) float64 {
	if el, ok := m.sym.elems[entry{i, j}]; ok {
		return el.Real
	}
	return 0
}

// Snapshot is a copy of an assembled system.
type Snapshot struct {
	Jacobian map[[2]int]float64
	Residual []float64
}

// Snapshot copies the non-zero Jacobian entries and the residual. Take it
// before Factorize, which overwrites the entries with LU factors.
func (m *CircuitMatrix) Snapshot() Snapshot {
	snap := Snapshot{
		Jacobian: make(map[[2]int]float64),
		Residual: append([]float64(nil), m.residual...),
	}
	for e, el := range m.sym.elems {
		if el.Real != 0 {
			snap.Jacobian[[2]int{e.row, e.col}] = el.Real
		}
	}
	return snap
}

// Numeric is a factored system, valid until the next Clear.
type Numeric struct {
	m *CircuitMatrix
}

// Factorize computes the LU factors. The first call orders the matrix
// (Markowitz with threshold pivoting); later calls reuse that order.
func (m *CircuitMatrix) Factorize() (*Numeric, error) {
	if m.badIndex != nil {
		return nil, m.badIndex
	}
	if m.stale {
		return nil, fmt.Errorf("matrix: assembly touched entries outside the analysed pattern")
	}

	mat := m.sym.mat
	reuse := m.ordered && !mat.NeedsOrdering
	if !reuse {
		mat.NeedsOrdering = true
	}

	m.factorizations++
	if err := mat.Factor(); err != nil {
		if reuse {
			mat.NeedsOrdering = true
			m.ordered = false
			return nil, fmt.Errorf("%w: %v", ErrReorder, err)
		}
		return nil, m.singular(err)
	}
	if !reuse {
		m.reorders++
	}
	m.ordered = true
	return &Numeric{m: m}, nil
}

func (m *CircuitMatrix) singular(err error) error {
	mat := m.sym.mat
	sme := &simerr.SingularMatrixError{Row: -1, Col: -1}
	if step := mat.SingularRow; step > 0 && int(step) < len(mat.IntToExtRowMap) {
		sme.Row = int(mat.IntToExtRowMap[step]) - 1
		sme.Col = int(mat.IntToExtColMap[mat.SingularCol]) - 1
	}
	return fmt.Errorf("factoring %dx%d system (%v): %w", m.Size, m.Size, err, sme)
}

// Solve solves J*x = rhs. rhs and the result are indexed by unknown.
func (n *Numeric) Solve(rhs []float64) ([]float64, error) {
	m := n.m
	if len(rhs) != m.Size {
		return nil, fmt.Errorf("rhs length %d does not match system size %d", len(rhs), m.Size)
	}

	b := make([]float64, m.Size+1) // 1-based indexing
	copy(b[1:], rhs)

	sol, err := m.sym.mat.Solve(b)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %w", err)
	}

	x := make([]float64, m.Size)
	copy(x, sol[1:])
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &simerr.SingularMatrixError{Row: -1, Col: -1, NearSingular: true}
		}
	}
	return x, nil
}

// SolveNewton factors the assembled system and returns dx with J*dx = -F.
func (m *CircuitMatrix) SolveNewton() ([]float64, error) {
	num, err := m.Factorize()
	if err != nil {
		return nil, err
	}
	rhs := make([]float64, m.Size)
	for i, f := range m.residual {
		rhs[i] = -f
	}
	return num.Solve(rhs)
}

// Stats describes the work done by the solver so far.
type Stats struct {
	Size           int
	NonZeros       int
	Factorizations int
	Orderings      int
}

func (m *CircuitMatrix) Stats() Stats {
	return Stats{
		Size:           m.Size,
		NonZeros:       m.sym.NonZeros(),
		Factorizations: m.factorizations,
		Orderings:      m.reorders,
	}
}

// PrintSystem writes the assembled equations J*dx = -F, one row per unknown.
func (m *CircuitMatrix) PrintSystem(w io.Writer) {
	fmt.Fprintf(w, "\nCircuit Equations (%dx%d):\n", m.Size, m.Size)
	fmt.Fprintln(w, "Node equations first, followed by branch equations")

	for i := 0; i < m.Size; i++ {
		fmt.Fprintf(w, "Equation %d:", i)
		for j := 0; j < m.Size; j++ {
			if v := m.Element(i, j); v != 0 {
				fmt.Fprintf(w, "  %+g*dx%d", v, j)
			}
		}
		fmt.Fprintf(w, " = %g\n", -m.residual[i])
	}
}

func (m *CircuitMatrix) Destroy() {
	if m.sym != nil && m.sym.mat != nil {
		m.sym.mat.Destroy()
	}
}
