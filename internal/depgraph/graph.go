// Package depgraph builds the dependency graph between raw inputs and
// formula outputs of a workbook.
package depgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bits-and-blooms/bitset"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/formula"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

// Parser extracts the ranges a formula reads.
type Parser interface {
	References(text, sheet string) ([]address.Range, error)
}

// Options configures Build.
type Options struct {
	// IgnoreParseErrors keeps building when a formula cannot be parsed; the
	// cell becomes an unparsed node that is neither input nor output.
	IgnoreParseErrors bool
	Parser            Parser
	Logger            *slog.Logger
}

// Graph is an arena of nodes with index edges. Topology is immutable once
// built.
type Graph struct {
	nodes     []Node
	byRange   map[address.Range]int
	formulaAt map[address.Address]int
	order     []int

	inputs   []int
	outputs  []int
	formulas []int
	inputPos map[int]int
	reach    []*bitset.BitSet
}

// Build reads the host's formula graph and constructs the dependency graph.
func Build(ctx context.Context, wb host.Workbook, opts Options) (*Graph, error) {
	if opts.Parser == nil {
		opts.Parser = formula.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cells, err := wb.ReadFormulaGraph(ctx)
	if err != nil {
		return nil, host.IOError("formulas", address.Address{}, err)
	}

	g := &Graph{
		byRange:   make(map[address.Range]int),
		formulaAt: make(map[address.Address]int),
	}

	// formula nodes first so ranges can see every formula they contain
	for _, fc := range cells {
		id := g.add(address.Single(fc.Address))
		g.nodes[id].Formula = fc.Formula
		g.formulaAt[fc.Address] = id
	}

	for _, fc := range cells {
		id := g.formulaAt[fc.Address]
		refs, err := opts.Parser.References(fc.Formula, fc.Address.Sheet)
		if err != nil {
			if !opts.IgnoreParseErrors {
				return nil, &ParseError{Address: fc.Address, Formula: fc.Formula, Err: err}
			}
			opts.Logger.Warn("skipping unparseable formula", "cell", fc.Address.String(), "error", err)
			g.nodes[id].Unparsed = true
			continue
		}
		for _, ref := range refs {
			g.link(id, g.refNode(ref))
		}
	}

	if err := g.sort(); err != nil {
		return nil, err
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		if !n.IsTerminalInput() {
			continue
		}
		members := n.Cells()
		n.Values = make([]string, len(members))
		for j, a := range members {
			v, err := wb.ReadCellValue(ctx, a)
			if err != nil {
				return nil, host.IOError("read", a, err)
			}
			n.Values[j] = v
		}
	}

	g.classify()
	g.propagateWeights()

	opts.Logger.Debug("dependency graph built",
		"nodes", len(g.nodes), "inputs", len(g.inputs), "outputs", len(g.outputs))
	return g, nil
}

func (g *Graph) add(r address.Range) int {
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{ID: id, Key: r.String(), Range: r})
	g.byRange[r] = id
	return id
}

func (g *Graph) link(dependent, dep int) {
	g.nodes[dependent].Deps = append(g.nodes[dependent].Deps, dep)
	g.nodes[dep].Dependents = append(g.nodes[dep].Dependents, dependent)
}

// refNode returns the node for a referenced cell or range, creating it on
// first use. A new range node depends on the formula cells it contains.
func (g *Graph) refNode(r address.Range) int {
	if r.IsSingle() {
		if id, ok := g.formulaAt[r.Start]; ok {
			return id
		}
	}
	if id, ok := g.byRange[r]; ok {
		return id
	}
	id := g.add(r)
	if !r.IsSingle() {
		for _, a := range r.Cells() {
			if fid, ok := g.formulaAt[a]; ok {
				g.link(id, fid)
			}
		}
	}
	return id
}

// sort computes a topological order (Kahn) and fails on cycles.
func (g *Graph) sort() error {
	indegree := make([]int, len(g.nodes))
	queue := make([]int, 0, len(g.nodes))
	for i := range g.nodes {
		indegree[i] = len(g.nodes[i].Deps)
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	g.order = make([]int, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.order = append(g.order, id)
		for _, next := range g.nodes[id].Dependents {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(g.order) == len(g.nodes) {
		return nil
	}
	return &CycleError{Path: g.findCycle(indegree)}
}

// findCycle walks dependencies among the unsorted nodes until one repeats.
func (g *Graph) findCycle(indegree []int) []string {
	visited := make([]int, len(g.nodes)) // 0=unvisited, 1=in-progress, 2=done
	var path, cycle []int

	var dfs func(id int) bool
	dfs = func(id int) bool {
		visited[id] = 1
		path = append(path, id)
		for _, dep := range g.nodes[id].Deps {
			if indegree[dep] == 0 {
				continue
			}
			if visited[dep] == 1 {
				for i := len(path) - 1; i >= 0; i-- {
					cycle = append([]int{path[i]}, cycle...)
					if path[i] == dep {
						break
					}
				}
				cycle = append(cycle, dep)
				return true
			}
			if visited[dep] == 0 && dfs(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		visited[id] = 2
		return false
	}

	for i := range g.nodes {
		if indegree[i] > 0 && visited[i] == 0 && dfs(i) {
			break
		}
	}
	keys := make([]string, len(cycle))
	for i, id := range cycle {
		keys[i] = g.nodes[id].Key
	}
	return keys
}

func (g *Graph) classify() {
	g.inputPos = make(map[int]int)
	for i := range g.nodes {
		n := &g.nodes[i]
		switch {
		case n.IsTerminalInput():
			n.Kind = RawInput
			g.inputPos[i] = len(g.inputs)
			g.inputs = append(g.inputs, i)
		case n.IsFormula() && len(n.Dependents) == 0 && !n.Unparsed:
			n.Kind = TerminalOutput
			g.outputs = append(g.outputs, i)
		default:
			n.Kind = Intermediate
		}
		if n.IsFormula() && !n.Unparsed {
			g.formulas = append(g.formulas, i)
		}
	}
}

// propagateWeights seeds terminal inputs with 1.0 and pushes weight and
// input reachability toward the outputs in topological order.
func (g *Graph) propagateWeights() {
	g.reach = make([]*bitset.BitSet, len(g.nodes))
	for _, id := range g.order {
		n := &g.nodes[id]
		set := bitset.New(uint(len(g.inputs)))
		if pos, ok := g.inputPos[id]; ok {
			n.Weight = 1.0
			set.Set(uint(pos))
		} else if !n.Unparsed {
			n.Weight = 0
			for _, dep := range n.Deps {
				n.Weight += g.nodes[dep].Weight
				set.InPlaceUnion(g.reach[dep])
			}
		}
		g.reach[id] = set
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given arena index.
func (g *Graph) Node(id int) *Node { return &g.nodes[id] }

// Lookup finds the node for a cell or range key such as "Sheet1!A1:A4".
func (g *Graph) Lookup(key string) (*Node, bool) {
	r, err := address.ParseRange(key, "")
	if err != nil {
		return nil, false
	}
	if r.IsSingle() {
		if id, ok := g.formulaAt[r.Start]; ok {
			return &g.nodes[id], true
		}
	}
	id, ok := g.byRange[r]
	if !ok {
		return nil, false
	}
	return &g.nodes[id], true
}

// TerminalInputs returns nodes without dependencies, in construction order.
func (g *Graph) TerminalInputs() []*Node { return g.collect(g.inputs) }

// TerminalOutputs returns formula nodes without dependents, in construction order.
func (g *Graph) TerminalOutputs() []*Node { return g.collect(g.outputs) }

// Formulas returns every parsed formula node, in construction order.
func (g *Graph) Formulas() []*Node { return g.collect(g.formulas) }

// HasVectorInputs reports whether any terminal input spans more than one cell.
func (g *Graph) HasVectorInputs() bool {
	for _, id := range g.inputs {
		if g.nodes[id].IsVector() {
			return true
		}
	}
	return false
}

// Reaches reports whether terminal input in influences node out.
func (g *Graph) Reaches(in, out *Node) bool {
	pos, ok := g.inputPos[in.ID]
	if !ok {
		return false
	}
	return g.reach[out.ID].Test(uint(pos))
}

// ReachingInputs returns the terminal inputs that influence n.
func (g *Graph) ReachingInputs(n *Node) []*Node {
	var out []*Node
	for pos, ok := g.reach[n.ID].NextSet(0); ok; pos, ok = g.reach[n.ID].NextSet(pos + 1) {
		out = append(out, &g.nodes[g.inputs[pos]])
	}
	return out
}

// TopologicalOrder returns arena indexes with dependencies before dependents.
func (g *Graph) TopologicalOrder() []int {
	return append([]int(nil), g.order...)
}

func (g *Graph) collect(ids []int) []*Node {
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = &g.nodes[id]
	}
	return out
}

func (g *Graph) String() string {
	return fmt.Sprintf("depgraph(%d nodes, %d inputs, %d outputs)", len(g.nodes), len(g.inputs), len(g.outputs))
}
