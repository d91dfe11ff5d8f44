package matrix

import (
	"fmt"
	"sort"
)

// Ground is the index of the reference node. Stamps that touch it are
// dropped, since its voltage is fixed at zero and it has no equation.
const Ground = -1

// DeviceMatrix receives device stamps in residual form: AddResidual adds
// to F(x) and AddElement adds to the Jacobian dF/dx. Indices are unknown
// indices in [0, size) or Ground.
type DeviceMatrix interface {
	AddElement(i, j int, value float64)
	AddResidual(i int, value float64)
}

type entry struct{ row, col int }

// Pattern records which Jacobian entries the devices touch, without values.
type Pattern struct {
	size    int
	entries map[entry]struct{}
}

var _ DeviceMatrix = (*Pattern)(nil)

func NewPattern(size int) *Pattern {
	return &Pattern{size: size, entries: make(map[entry]struct{})}
}

func (p *Pattern) AddElement(i, j int, _ float64) {
	if i == Ground || j == Ground {
		return
	}
	p.entries[entry{i, j}] = struct{}{}
}

func (p *Pattern) AddResidual(int, float64) {}

func (p *Pattern) Size() int { return p.size }

// Len is the number of distinct structural entries.
func (p *Pattern) Len() int { return len(p.entries) }

func (p *Pattern) Has(i, j int) bool {
	_, ok := p.entries[entry{i, j}]
	return ok
}

// Entries returns the entries sorted by row, then column.
func (p *Pattern) Entries() [][2]int {
	out := make([][2]int, 0, len(p.entries))
	for e := range p.entries {
		out = append(out, [2]int{e.row, e.col})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a][0] != out[b][0] {
			return out[a][0] < out[b][0]
		}
		return out[a][1] < out[b][1]
	})
	return out
}

func (p *Pattern) check() error {
	for e := range p.entries {
		if e.row < 0 || e.row >= p.size || e.col < 0 || e.col >= p.size {
			return fmt.Errorf("pattern entry (%d,%d) outside %dx%d system", e.row, e.col, p.size, p.size)
		}
	}
	return nil
}
