package depgraph

// Stats computes graph metrics.
func (g *Graph) Stats() Stats {
	s := Stats{
		TotalNodes:   len(g.nodes),
		FormulaCount: len(g.formulas),
		InputCount:   len(g.inputs),
		OutputCount:  len(g.outputs),
	}
	for i := range g.nodes {
		n := &g.nodes[i]
		s.TotalEdges += len(n.Deps)
		if n.Unparsed {
			s.UnparsedCount++
		}
		if n.Kind == RawInput {
			s.InputCellCount += n.Len()
			if n.IsVector() {
				s.VectorInputCount++
			}
		}
		if len(n.Deps) > s.MaxFanIn {
			s.MaxFanIn = len(n.Deps)
		}
		if len(n.Dependents) > s.MaxFanOut {
			s.MaxFanOut = len(n.Dependents)
			s.HotspotNode = n.Key
		}
	}
	s.ConnectedComponents = g.countComponents()
	return s
}

// countComponents counts weakly connected components via union-find.
func (g *Graph) countComponents() int {
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for i := range g.nodes {
		for _, dep := range g.nodes[i].Deps {
			if fa, fb := find(i), find(dep); fa != fb {
				parent[fa] = fb
			}
		}
	}
	roots := make(map[int]bool)
	for i := range g.nodes {
		roots[find(i)] = true
	}
	return len(roots)
}
