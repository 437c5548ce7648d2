package depgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/efebarandurmaz/cellaudit/internal/address"
)

// Kind classifies graph nodes.
type Kind int

const (
	RawInput Kind = iota
	Intermediate
	TerminalOutput
)

func (k Kind) String() string {
	switch k {
	case RawInput:
		return "raw_input"
	case Intermediate:
		return "intermediate"
	case TerminalOutput:
		return "terminal_output"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON exports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Node is a single cell or a contiguous range collapsed to one unit. Nodes
// live in the graph's arena; Deps and Dependents hold arena indexes.
type Node struct {
	ID         int           `json:"id"`
	Key        string        `json:"key"`
	Range      address.Range `json:"-"`
	Values     []string      `json:"values,omitempty"` // member cell values, inputs only
	Formula    string        `json:"formula,omitempty"`
	Deps       []int         `json:"deps,omitempty"`
	Dependents []int         `json:"dependents,omitempty"`
	Weight     float64       `json:"weight"`
	Kind       Kind          `json:"kind"`
	Unparsed   bool          `json:"unparsed,omitempty"`
}

// IsFormula reports whether the node is a formula cell.
func (n *Node) IsFormula() bool { return n.Formula != "" }

// Len returns the number of member cells.
func (n *Node) Len() int { return n.Range.Len() }

// IsVector reports whether the node spans more than one cell.
func (n *Node) IsVector() bool { return n.Range.Len() > 1 }

// Cells expands the node's member cells in row-major order.
func (n *Node) Cells() []address.Address { return n.Range.Cells() }

// IsTerminalInput reports whether the node has no dependencies and holds
// raw values that can be resampled.
func (n *Node) IsTerminalInput() bool {
	return len(n.Deps) == 0 && !n.IsFormula() && !n.Unparsed
}

// Stats holds computed metrics about the graph.
type Stats struct {
	TotalNodes          int    `json:"total_nodes"`
	TotalEdges          int    `json:"total_edges"`
	FormulaCount        int    `json:"formula_count"`
	InputCount          int    `json:"input_count"`
	VectorInputCount    int    `json:"vector_input_count"`
	InputCellCount      int    `json:"input_cell_count"`
	OutputCount         int    `json:"output_count"`
	UnparsedCount       int    `json:"unparsed_count"`
	MaxFanIn            int    `json:"max_fan_in"`
	MaxFanOut           int    `json:"max_fan_out"`
	HotspotNode         string `json:"hotspot_node,omitempty"`
	ConnectedComponents int    `json:"connected_components"`
}

// ErrGraphBuild is matched by every structural build failure.
var ErrGraphBuild = errors.New("graph build failed")

// ParseError reports a formula that could not be parsed.
type ParseError struct {
	Address address.Address
	Formula string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse formula at %s (%q): %v", e.Address, e.Formula, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrGraphBuild, e.Err} }

// CycleError reports a dependency cycle; Path starts and ends on the same key.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrGraphBuild }
