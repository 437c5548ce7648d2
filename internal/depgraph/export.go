package depgraph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportDOT generates a Graphviz DOT representation of the graph. Edges run
// from a dependency to the node that reads it.
func ExportDOT(g *Graph) string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	bySheet := make(map[string][]*Node)
	var sheets []string
	for i := range g.nodes {
		n := &g.nodes[i]
		sheet := n.Range.Sheet()
		if _, ok := bySheet[sheet]; !ok {
			sheets = append(sheets, sheet)
		}
		bySheet[sheet] = append(bySheet[sheet], n)
	}

	for _, sheet := range sheets {
		b.WriteString(fmt.Sprintf("  subgraph cluster_%s {\n", sanitizeDOTID(sheet)))
		b.WriteString(fmt.Sprintf("    label=%q;\n", sheet))
		b.WriteString("    style=dashed;\n")
		b.WriteString("    color=\"#58a6ff\";\n")
		for _, n := range bySheet[sheet] {
			b.WriteString(fmt.Sprintf("    %q [label=%q shape=%s style=filled fillcolor=\"%s\"];\n",
				n.Key, nodeLabel(n), nodeShape(n), nodeColor(n)))
		}
		b.WriteString("  }\n\n")
	}

	for _, id := range g.order {
		n := &g.nodes[id]
		for _, dep := range n.Deps {
			b.WriteString(fmt.Sprintf("  %q -> %q [label=\"%.0f\"];\n",
				g.nodes[dep].Key, n.Key, g.nodes[dep].Weight))
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid diagram of the graph.
func ExportMermaid(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph LR\n")
	for i := range g.nodes {
		n := &g.nodes[i]
		b.WriteString(fmt.Sprintf("  %s%s\n", sanitizeMermaidID(n.Key), mermaidNodeShape(n)))
	}
	for _, id := range g.order {
		n := &g.nodes[id]
		for _, dep := range n.Deps {
			b.WriteString(fmt.Sprintf("  %s --> %s\n",
				sanitizeMermaidID(g.nodes[dep].Key), sanitizeMermaidID(n.Key)))
		}
	}
	return b.String()
}

type jsonGraph struct {
	Nodes []Node `json:"nodes"`
	Order []int  `json:"order"`
	Stats Stats  `json:"stats"`
}

// ExportJSON serializes the graph to JSON.
func ExportJSON(g *Graph) ([]byte, error) {
	return json.MarshalIndent(jsonGraph{Nodes: g.nodes, Order: g.order, Stats: g.Stats()}, "", "  ")
}

// FormatStats returns a human-readable summary of graph statistics.
func FormatStats(g *Graph) string {
	s := g.Stats()
	var b strings.Builder
	b.WriteString("Dependency Graph Statistics\n")
	b.WriteString("==========================\n\n")
	b.WriteString(fmt.Sprintf("Nodes:       %d total\n", s.TotalNodes))
	b.WriteString(fmt.Sprintf("  Formulas:  %d\n", s.FormulaCount))
	b.WriteString(fmt.Sprintf("  Inputs:    %d (%d vector, %d cells)\n", s.InputCount, s.VectorInputCount, s.InputCellCount))
	b.WriteString(fmt.Sprintf("  Outputs:   %d\n", s.OutputCount))
	if s.UnparsedCount > 0 {
		b.WriteString(fmt.Sprintf("  Unparsed:  %d\n", s.UnparsedCount))
	}
	b.WriteString(fmt.Sprintf("Edges:       %d total\n", s.TotalEdges))
	b.WriteString(fmt.Sprintf("Max Fan-Out: %d (%s)\n", s.MaxFanOut, s.HotspotNode))
	b.WriteString(fmt.Sprintf("Max Fan-In:  %d\n", s.MaxFanIn))
	b.WriteString(fmt.Sprintf("Components:  %d\n", s.ConnectedComponents))
	return b.String()
}

func sanitizeDOTID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func sanitizeMermaidID(s string) string {
	return sanitizeDOTID(s)
}

func nodeLabel(n *Node) string {
	label := n.Range.Start.Cell()
	if n.IsVector() {
		label += ":" + n.Range.End.Cell()
	}
	if n.IsFormula() {
		label += "\n" + n.Formula
	}
	return label
}

func nodeShape(n *Node) string {
	switch {
	case n.Unparsed:
		return "octagon"
	case n.Kind == RawInput && n.IsVector():
		return "box3d"
	case n.Kind == RawInput:
		return "box"
	case n.Kind == TerminalOutput:
		return "doublecircle"
	default:
		return "ellipse"
	}
}

func nodeColor(n *Node) string {
	switch {
	case n.Unparsed:
		return "#f85149"
	case n.Kind == RawInput:
		return "#1f6feb"
	case n.Kind == TerminalOutput:
		return "#d29922"
	case n.IsFormula():
		return "#238636"
	default:
		return "#8957e5"
	}
}

func mermaidNodeShape(n *Node) string {
	label := strings.ReplaceAll(nodeLabel(n), "\"", "'")
	label = strings.ReplaceAll(label, "\n", " ")
	switch n.Kind {
	case RawInput:
		return fmt.Sprintf("[\"%s\"]", label)
	case TerminalOutput:
		return fmt.Sprintf("((\"%s\"))", label)
	default:
		return fmt.Sprintf("([\"%s\"])", label)
	}
}
