package circuit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edp1096/spicecore/pkg/device"
	"github.com/edp1096/spicecore/pkg/matrix"
	"github.com/edp1096/spicecore/pkg/simerr"
)

type UnknownKind int

const (
	NodeVoltage UnknownKind = iota
	BranchCurrent
)

func (k UnknownKind) String() string {
	if k == BranchCurrent {
		return "current"
	}
	return "voltage"
}

type Circuit struct {
	name      string
	nodeMap   map[string]int
	branchMap map[string]int
	unknowns  []string // V(node) then I(device), by index
	devices   []device.Device
	byName    map[string]device.Device
	numNodes  int

	nonlinearDevices []device.NonLinear
	breakpointers    []device.Breakpointer
	stateCount       int
	built            bool
}

func New(name string) *Circuit {
	return &Circuit{name: name}
}

func (c *Circuit) Name() string {
	return c.name
}

// Add appends devices. Indices are assigned by Build.
func (c *Circuit) Add(devs ...device.Device) {
	c.devices = append(c.devices, devs...)
	c.built = false
}

// IsGround reports whether a node name denotes the reference node.
func IsGround(name string) bool {
	return name == "0" || strings.EqualFold(name, "gnd")
}

// Build validates the devices and assigns unknown indices: node voltages
// in order of first appearance, then branch currents in device order.
func (c *Circuit) Build() error {
	c.nodeMap = make(map[string]int)
	c.branchMap = make(map[string]int)
	c.byName = make(map[string]device.Device, len(c.devices))
	c.unknowns = c.unknowns[:0]
	c.nonlinearDevices = nil
	c.breakpointers = nil
	c.stateCount = 0
	c.built = false

	for _, dev := range c.devices {
		name := dev.GetName()
		if name == "" {
			return &simerr.ConstructionError{Reason: fmt.Sprintf("%s device without a name", dev.GetType())}
		}
		if _, dup := c.byName[name]; dup {
			return &simerr.ConstructionError{Device: name, Reason: "duplicate device name"}
		}
		c.byName[name] = dev

		if err := dev.Validate(); err != nil {
			return &simerr.ConstructionError{Device: name, Reason: err.Error()}
		}
	}

	for _, dev := range c.devices {
		for _, nodeName := range dev.GetNodeNames() {
			if IsGround(nodeName) {
				continue
			}
			if nodeName == "" {
				return &simerr.ConstructionError{Device: dev.GetName(), Reason: "empty node name"}
			}
			if _, exists := c.nodeMap[nodeName]; !exists {
				c.nodeMap[nodeName] = len(c.nodeMap)
				c.unknowns = append(c.unknowns, fmt.Sprintf("V(%s)", nodeName))
			}
		}
	}
	c.numNodes = len(c.nodeMap)

	branchIdx := c.numNodes
	for _, dev := range c.devices {
		if bd, ok := dev.(device.BranchDevice); ok {
			c.branchMap[dev.GetName()] = branchIdx
			c.unknowns = append(c.unknowns, fmt.Sprintf("I(%s)", dev.GetName()))
			bd.SetBranchIndex(branchIdx)
			branchIdx++
		}
	}

	if c.Size() == 0 {
		return &simerr.ConstructionError{Reason: "circuit has no unknowns"}
	}

	for _, dev := range c.devices {
		nodeIndices := make([]int, len(dev.GetNodeNames()))
		for i, nodeName := range dev.GetNodeNames() {
			if IsGround(nodeName) {
				nodeIndices[i] = matrix.Ground
				continue
			}
			nodeIndices[i] = c.nodeMap[nodeName]
		}
		dev.SetNodes(nodeIndices)

		if cp, ok := dev.(device.Coupling); ok {
			if err := c.resolveCoupling(cp); err != nil {
				return err
			}
		}

		if r, ok := dev.(device.Reactive); ok {
			if n := r.ChargeCount(); n > 0 {
				r.SetStateOffset(c.stateCount)
				c.stateCount += 2 * n
			}
		}

		if nl, ok := dev.(device.NonLinear); ok {
			c.nonlinearDevices = append(c.nonlinearDevices, nl)
		}

		if bp, ok := dev.(device.Breakpointer); ok {
			c.breakpointers = append(c.breakpointers, bp)
		}
	}

	if err := c.checkConnectivity(); err != nil {
		return err
	}

	c.built = true
	return nil
}

func (c *Circuit) resolveCoupling(cp device.Coupling) error {
	for i, name := range cp.InductorNames() {
		dev, ok := c.byName[name]
		if !ok {
			return &simerr.ConstructionError{Device: cp.GetName(), Reason: fmt.Sprintf("unknown inductor %s", name)}
		}
		ind, ok := dev.(*device.Inductor)
		if !ok {
			return &simerr.ConstructionError{Device: cp.GetName(), Reason: fmt.Sprintf("%s is not an inductor", name)}
		}
		if err := cp.SetInductor(i, ind); err != nil {
			return &simerr.ConstructionError{Device: cp.GetName(), Reason: err.Error()}
		}
	}
	return nil
}

// checkConnectivity rejects nodes with no conducting path to ground.
func (c *Circuit) checkConnectivity() error {
	// index numNodes stands for ground
	parent := make([]int, c.numNodes+1)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	slot := func(n int) int {
		if n == matrix.Ground {
			return c.numNodes
		}
		return n
	}

	for _, dev := range c.devices {
		nodes := dev.GetNodes()
		for _, group := range device.TerminalGroups(dev) {
			for _, t := range group[1:] {
				a, b := find(slot(nodes[group[0]])), find(slot(nodes[t]))
				parent[a] = b
			}
		}
	}

	ground := find(c.numNodes)
	for name, idx := range c.nodeMap {
		if find(idx) != ground {
			return &simerr.ConstructionError{Node: c.firstFloating(find, ground, name), Reason: "no DC path to ground"}
		}
	}
	return nil
}

// firstFloating picks the floating node that appeared first, so the error
// does not depend on map iteration order.
func (c *Circuit) firstFloating(find func(int) int, ground int, fallback string) string {
	for i := 0; i < c.numNodes; i++ {
		if find(i) != ground {
			return strings.TrimSuffix(strings.TrimPrefix(c.unknowns[i], "V("), ")")
		}
	}
	return fallback
}

// Size is the number of unknowns.
func (c *Circuit) Size() int {
	return len(c.nodeMap) + len(c.branchMap)
}

func (c *Circuit) Built() bool { return c.built }

func (c *Circuit) NumNodes() int { return c.numNodes }

func (c *Circuit) NodeIndex(name string) (int, bool) {
	if IsGround(name) {
		return matrix.Ground, true
	}
	idx, ok := c.nodeMap[name]
	return idx, ok
}

func (c *Circuit) BranchIndex(deviceName string) (int, bool) {
	idx, ok := c.branchMap[deviceName]
	return idx, ok
}

// UnknownName is V(node) or I(device).
func (c *Circuit) UnknownName(i int) string {
	if i < 0 || i >= len(c.unknowns) {
		return fmt.Sprintf("x[%d]", i)
	}
	return c.unknowns[i]
}

func (c *Circuit) UnknownNames() []string {
	return append([]string(nil), c.unknowns...)
}

func (c *Circuit) UnknownKind(i int) UnknownKind {
	if i >= c.numNodes {
		return BranchCurrent
	}
	return NodeVoltage
}

func (c *Circuit) GetNodeMap() map[string]int {
	return c.nodeMap
}

func (c *Circuit) GetBranchMap() map[string]int {
	return c.branchMap
}

func (c *Circuit) GetDevices() []device.Device {
	return c.devices
}

func (c *Circuit) Device(name string) (device.Device, bool) {
	dev, ok := c.byName[name]
	return dev, ok
}

func (c *Circuit) NonLinearDevices() []device.NonLinear {
	return c.nonlinearDevices
}

// IsLinear reports a circuit whose equations are linear in the unknowns.
func (c *Circuit) IsLinear() bool {
	return len(c.nonlinearDevices) == 0
}

// StateCount is the length of the integrator state vectors.
func (c *Circuit) StateCount() int {
	return c.stateCount
}

// Breakpoints returns the sorted, de-duplicated waveform corners in
// (start, stop].
func (c *Circuit) Breakpoints(start, stop float64) []float64 {
	var all []float64
	for _, bp := range c.breakpointers {
		all = append(all, bp.Breakpoints(start, stop)...)
	}
	sort.Float64s(all)

	out := all[:0]
	for _, t := range all {
		if len(out) > 0 && t-out[len(out)-1] <= 1e-15*max(1, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Solution maps a solution vector to named results: V(node) for every node
// and I(device) for every device that reports a current.
func (c *Circuit) Solution(x []float64, status *device.CircuitStatus) map[string]float64 {
	solution := make(map[string]float64, len(c.nodeMap)+len(c.devices))

	for name, idx := range c.nodeMap {
		solution[fmt.Sprintf("V(%s)", name)] = x[idx]
	}

	for _, dev := range c.devices {
		if cr, ok := dev.(device.CurrentReporter); ok {
			solution[fmt.Sprintf("I(%s)", dev.GetName())] = cr.Current(x, status)
		}
	}

	return solution
}

// GetNodeVoltage reads a node voltage from x; ground and unknown indices read 0.
func (c *Circuit) GetNodeVoltage(x []float64, nodeIdx int) float64 {
	if nodeIdx < 0 || nodeIdx >= c.numNodes || nodeIdx >= len(x) {
		return 0
	}
	return x[nodeIdx]
}
