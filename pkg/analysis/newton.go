package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"

	"github.com/edp1096/spicecore/internal/logging"
	"github.com/edp1096/spicecore/pkg/circuit"
	"github.com/edp1096/spicecore/pkg/config"
	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
	"github.com/edp1096/spicecore/pkg/simerr"
)

var (
	errMaxIterations = errors.New("iteration limit reached")
	errDiverged      = errors.New("non-finite residual or update")
)

const maxBackoffs = 4

// newton solves F(x) = 0 for one circuit. The matrix and its pivot order
// live as long as the newton value and are reused by every solve.
type newton struct {
	ckt    *circuit.Circuit
	mat    *matrix.CircuitMatrix
	opts   config.Options
	log    logr.Logger
	abstol []float64 // per unknown: abstol_v for voltages, abstol_i for currents
}

type newtonResult struct {
	x            []float64
	iterations   int
	residualNorm float64
}

func newNewton(ckt *circuit.Circuit, opts config.Options, log logr.Logger) (*newton, error) {
	pattern, err := ckt.Pattern()
	if err != nil {
		return nil, fmt.Errorf("building jacobian pattern: %w", err)
	}
	mat, err := matrix.NewMatrix(pattern)
	if err != nil {
		return nil, fmt.Errorf("analysing jacobian: %w", err)
	}

	abstol := make([]float64, ckt.Size())
	for i := range abstol {
		abstol[i] = opts.AbsTolI
		if ckt.UnknownKind(i) == circuit.NodeVoltage {
			abstol[i] = opts.AbsTolV
		}
	}

	log.V(logging.DEBUG).Info("jacobian analysed", "size", mat.Size, "nonzeros", mat.Stats().NonZeros)
	return &newton{ckt: ckt, mat: mat, opts: opts, log: log, abstol: abstol}, nil
}

func (n *newton) close() {
	n.mat.Destroy()
}

// assemble loads the system at x, re-analysing once if a device touched an
// entry the pattern did not predict.
func (n *newton) assemble(x []float64, status *device.CircuitStatus) error {
	for range 2 {
		n.mat.Clear()
		if err := n.ckt.Load(n.mat, x, status); err != nil {
			return err
		}
		if err := n.mat.Err(); err != nil {
			return err
		}
		if !n.mat.Stale() {
			return nil
		}
		n.log.V(logging.DEBUG).Info("jacobian pattern grew, re-analysing")
		if err := n.mat.Reanalyze(); err != nil {
			return err
		}
	}
	return fmt.Errorf("jacobian pattern still growing after re-analysis")
}

// step solves J*dx = -F for the assembled system. A collapsed pivot of a
// reused ordering costs one extra assembly and a full reorder.
func (n *newton) step(x []float64, status *device.CircuitStatus) ([]float64, error) {
	dx, err := n.mat.SolveNewton()
	if errors.Is(err, matrix.ErrReorder) {
		n.log.V(logging.DEBUG).Info("pivot collapsed, reordering", "err", err.Error())
		if err := n.assemble(x, status); err != nil {
			return nil, err
		}
		dx, err = n.mat.SolveNewton()
	}
	if err != nil {
		var sme *simerr.SingularMatrixError
		if errors.As(err, &sme) && sme.Row >= 0 {
			sme.RowName = n.ckt.UnknownName(sme.Row)
			sme.ColName = n.ckt.UnknownName(sme.Col)
		}
		return nil, err
	}
	return dx, nil
}

// solve runs Newton-Raphson from x0. It converges when every update is
// within tolerance for two consecutive iterations without any device
// limiting its junction voltages (one solve for a linear circuit), and,
// when checkResidual is set, the residual at the final point satisfies KCL.
//
// The returned result is valid on error too: it holds the last iterate and
// the iteration count.
func (n *newton) solve(ctx context.Context, x0 []float64, status *device.CircuitStatus, maxIter int, checkResidual bool) (newtonResult, error) {
	size := n.ckt.Size()
	x := make([]float64, size)
	if x0 != nil {
		copy(x, x0)
	}
	n.ckt.ResetNonLinear(x)

	res := newtonResult{x: x}
	linear := n.ckt.IsLinear()

	var (
		prev     []float64 // iterate before the last update
		lastDx   []float64
		passes   int
		pending  bool
		backoffs int
	)

	for iter := 0; ; iter++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := n.assemble(x, status); err != nil {
			return res, err
		}
		F := n.mat.Residual()
		res.residualNorm = floats.Norm(F, math.Inf(1))

		if !finite(F) {
			if prev == nil || backoffs == maxBackoffs {
				return res, fmt.Errorf("iteration %d: %w", iter, errDiverged)
			}
			backoffs++
			floats.Scale(0.5, lastDx)
			floats.AddTo(x, prev, lastDx)
			n.ckt.ResetNonLinear(x)
			n.log.V(logging.TRACE).Info("non-finite residual, backing off", "iteration", iter, "backoff", backoffs)
			passes = 0
			pending = false
			continue
		}

		if pending {
			if !checkResidual || n.residualConverged(F) {
				return res, nil
			}
			pending = false
			passes = 0
		}

		if res.iterations >= maxIter {
			return res, errMaxIterations
		}

		dx, err := n.step(x, status)
		if err != nil {
			if prev != nil && backoffs < maxBackoffs && isNearSingular(err) {
				backoffs++
				floats.Scale(0.5, lastDx)
				floats.AddTo(x, prev, lastDx)
				n.ckt.ResetNonLinear(x)
				continue
			}
			return res, err
		}
		res.iterations++

		if prev == nil {
			prev = make([]float64, size)
		}
		copy(prev, x)
		lastDx = dx
		floats.Add(x, dx)

		limited := n.ckt.UpdateNonLinear(x, status)
		n.log.V(logging.TRACE).Info("newton iteration",
			"iteration", res.iterations, "residual", res.residualNorm, "limited", limited)

		switch {
		case linear:
			pending = true
		case !limited && n.updateConverged(x, dx):
			passes++
			pending = passes >= 2
		default:
			passes = 0
		}
	}
}

func (n *newton) updateConverged(x, dx []float64) bool {
	for i, d := range dx {
		if math.Abs(d) >= n.abstol[i]+n.opts.RelTol*math.Abs(x[i]) {
			return false
		}
	}
	return true
}

// residualConverged checks KCL at node rows and the branch equations. The
// node bound allows for rounding in the sum of the row's contributions.
func (n *newton) residualConverged(F []float64) bool {
	scale := n.mat.RowScale()
	numNodes := n.ckt.NumNodes()
	for i, f := range F {
		bound := n.opts.AbsTolV
		if i < numNodes {
			bound = n.opts.AbsTolI + 64*epsilon*scale[i]
		}
		if math.Abs(f) > bound {
			return false
		}
	}
	return true
}

const epsilon = 0x1p-52

func finite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func isNearSingular(err error) bool {
	var sme *simerr.SingularMatrixError
	return errors.As(err, &sme) && sme.NearSingular
}
