package depgraph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/efebarandurmaz/cellaudit/internal/formula"
	"github.com/efebarandurmaz/cellaudit/internal/host/memhost"
)

func keys(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Key
	}
	return out
}

func sumSheet() *memhost.Workbook {
	wb := memhost.New()
	wb.SetRange("A1:A4", "10", "1000", "10", "15")
	wb.SetFormula("A5", "=SUM(A1:A4)", memhost.Sum("A1:A4"))
	return wb
}

func mustBuild(t *testing.T, wb *memhost.Workbook, opts Options) *Graph {
	t.Helper()
	g, err := Build(context.Background(), wb, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestBuild_EmptyWorkbook(t *testing.T) {
	g := mustBuild(t, memhost.New(), Options{})

	if g.Len() != 0 {
		t.Errorf("expected 0 nodes, got %d", g.Len())
	}
	if len(g.TerminalInputs()) != 0 || len(g.TerminalOutputs()) != 0 {
		t.Error("expected no inputs or outputs")
	}
	if s := g.Stats(); s.ConnectedComponents != 0 {
		t.Errorf("expected 0 components, got %d", s.ConnectedComponents)
	}
}

func TestBuild_VectorInput(t *testing.T) {
	g := mustBuild(t, sumSheet(), Options{})

	inputs := g.TerminalInputs()
	if len(inputs) != 1 || inputs[0].Key != "Sheet1!A1:A4" {
		t.Fatalf("inputs = %v, want [Sheet1!A1:A4]", keys(inputs))
	}
	in := inputs[0]
	if !in.IsVector() || in.Len() != 4 {
		t.Errorf("expected 4-cell vector input, got len %d", in.Len())
	}
	if strings.Join(in.Values, ",") != "10,1000,10,15" {
		t.Errorf("values = %v", in.Values)
	}
	if !g.HasVectorInputs() {
		t.Error("expected HasVectorInputs")
	}

	outputs := g.TerminalOutputs()
	if len(outputs) != 1 || outputs[0].Key != "Sheet1!A5" {
		t.Fatalf("outputs = %v, want [Sheet1!A5]", keys(outputs))
	}
	if outputs[0].Kind != TerminalOutput || in.Kind != RawInput {
		t.Errorf("kinds = %s/%s", in.Kind, outputs[0].Kind)
	}
}

func TestBuild_SingleCellsAndIntermediates(t *testing.T) {
	wb := memhost.New()
	wb.Set("A1", "2")
	wb.Set("B1", "3")
	wb.SetFormula("C1", "=A1*B1", func(c *memhost.Calc) (string, error) { return "6", nil })
	wb.SetFormula("D1", "=C1+A1", func(c *memhost.Calc) (string, error) { return "8", nil })

	g := mustBuild(t, wb, Options{})

	if got := keys(g.TerminalInputs()); strings.Join(got, " ") != "Sheet1!A1 Sheet1!B1" {
		t.Errorf("inputs = %v", got)
	}
	if got := keys(g.TerminalOutputs()); strings.Join(got, " ") != "Sheet1!D1" {
		t.Errorf("outputs = %v", got)
	}
	if got := keys(g.Formulas()); strings.Join(got, " ") != "Sheet1!C1 Sheet1!D1" {
		t.Errorf("formulas = %v", got)
	}
	if g.HasVectorInputs() {
		t.Error("expected no vector inputs")
	}

	c1, _ := g.Lookup("Sheet1!C1")
	if c1.Kind != Intermediate {
		t.Errorf("C1 kind = %s, want intermediate", c1.Kind)
	}
	// D1 = C1 (A1 + B1) + A1
	d1, _ := g.Lookup("Sheet1!D1")
	if d1.Weight != 3 {
		t.Errorf("D1 weight = %v, want 3", d1.Weight)
	}
}

func TestBuild_RangeContainingFormula(t *testing.T) {
	wb := memhost.New()
	wb.Set("A1", "1")
	wb.SetFormula("A2", "=A1*2", func(c *memhost.Calc) (string, error) { return "2", nil })
	wb.Set("A3", "3")
	wb.SetFormula("B1", "=SUM(A1:A3)", memhost.Sum("A1:A3"))

	g := mustBuild(t, wb, Options{})

	rng, ok := g.Lookup("Sheet1!A1:A3")
	if !ok {
		t.Fatal("range node missing")
	}
	if rng.IsTerminalInput() {
		t.Error("range containing a formula must not be a terminal input")
	}
	if got := keys(g.TerminalInputs()); strings.Join(got, " ") != "Sheet1!A1" {
		t.Errorf("inputs = %v, want [Sheet1!A1]", got)
	}
}

func TestBuild_ConstantFormulaIsNotInput(t *testing.T) {
	wb := memhost.New()
	wb.SetFormula("A1", "=1+2", func(c *memhost.Calc) (string, error) { return "3", nil })
	wb.SetFormula("B1", "=A1*2", func(c *memhost.Calc) (string, error) { return "6", nil })

	g := mustBuild(t, wb, Options{})
	if n := len(g.TerminalInputs()); n != 0 {
		t.Errorf("expected no terminal inputs, got %d", n)
	}
}

func TestBuild_Cycle(t *testing.T) {
	wb := memhost.New()
	wb.SetFormula("A1", "=B1+1", func(c *memhost.Calc) (string, error) { return "0", nil })
	wb.SetFormula("B1", "=A1+1", func(c *memhost.Calc) (string, error) { return "0", nil })

	_, err := Build(context.Background(), wb, Options{})
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("err = %v, want *CycleError", err)
	}
	if !errors.Is(err, ErrGraphBuild) {
		t.Error("expected ErrGraphBuild")
	}
	if len(cycle.Path) < 3 || cycle.Path[0] != cycle.Path[len(cycle.Path)-1] {
		t.Errorf("path = %v, want closed loop", cycle.Path)
	}
}

func TestBuild_SelfReferencingRange(t *testing.T) {
	wb := memhost.New()
	wb.Set("A1", "1")
	wb.SetFormula("A2", "=SUM(A1:A2)", func(c *memhost.Calc) (string, error) { return "0", nil })

	if _, err := Build(context.Background(), wb, Options{}); !errors.Is(err, ErrGraphBuild) {
		t.Fatalf("err = %v, want ErrGraphBuild", err)
	}
}

func TestBuild_ParseErrors(t *testing.T) {
	newBook := func() *memhost.Workbook {
		wb := sumSheet()
		wb.SetFormula("B1", "=SUM(A1:A4", func(c *memhost.Calc) (string, error) { return "0", nil })
		return wb
	}

	t.Run("strict", func(t *testing.T) {
		_, err := Build(context.Background(), newBook(), Options{})
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("err = %v, want *ParseError", err)
		}
		if pe.Address.Cell() != "B1" {
			t.Errorf("address = %s, want B1", pe.Address)
		}
		if !errors.Is(err, ErrGraphBuild) || !errors.Is(err, formula.ErrMalformed) {
			t.Error("expected ErrGraphBuild and ErrMalformed in chain")
		}
	})

	t.Run("ignored", func(t *testing.T) {
		g := mustBuild(t, newBook(), Options{IgnoreParseErrors: true})
		b1, ok := g.Lookup("Sheet1!B1")
		if !ok || !b1.Unparsed {
			t.Fatal("expected B1 as unparsed node")
		}
		if got := keys(g.TerminalOutputs()); strings.Join(got, " ") != "Sheet1!A5" {
			t.Errorf("outputs = %v, want [Sheet1!A5]", got)
		}
		if got := keys(g.TerminalInputs()); strings.Join(got, " ") != "Sheet1!A1:A4" {
			t.Errorf("inputs = %v", got)
		}
		if g.Stats().UnparsedCount != 1 {
			t.Error("expected one unparsed node")
		}
	})
}

func TestReachability(t *testing.T) {
	wb := memhost.New()
	wb.SetRange("A1:A3", "1", "2", "3")
	wb.SetRange("B1:B3", "4", "5", "6")
	wb.SetFormula("C1", "=SUM(A1:A3)", memhost.Sum("A1:A3"))
	wb.SetFormula("C2", "=SUM(B1:B3)", memhost.Sum("B1:B3"))
	wb.SetFormula("C3", "=C1+C2", func(c *memhost.Calc) (string, error) { return "21", nil })
	wb.SetFormula("D1", "=C1*2", func(c *memhost.Calc) (string, error) { return "12", nil })

	g := mustBuild(t, wb, Options{})
	a, _ := g.Lookup("Sheet1!A1:A3")
	b, _ := g.Lookup("Sheet1!B1:B3")
	c3, _ := g.Lookup("Sheet1!C3")
	d1, _ := g.Lookup("Sheet1!D1")

	tests := []struct {
		name    string
		in, out *Node
		want    bool
	}{
		{"A reaches C3", a, c3, true},
		{"B reaches C3", b, c3, true},
		{"A reaches D1", a, d1, true},
		{"B misses D1", b, d1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Reaches(tt.in, tt.out); got != tt.want {
				t.Errorf("Reaches = %v, want %v", got, tt.want)
			}
		})
	}

	if got := keys(g.ReachingInputs(d1)); strings.Join(got, " ") != "Sheet1!A1:A3" {
		t.Errorf("ReachingInputs(D1) = %v", got)
	}
	if c3.Weight != 2 {
		t.Errorf("C3 weight = %v, want 2", c3.Weight)
	}
}

func TestTopologicalOrder(t *testing.T) {
	wb := memhost.New()
	wb.SetFormula("C1", "=B1+1", func(c *memhost.Calc) (string, error) { return "0", nil })
	wb.SetFormula("B1", "=A1+1", func(c *memhost.Calc) (string, error) { return "0", nil })
	wb.Set("A1", "1")

	g := mustBuild(t, wb, Options{})
	pos := make(map[string]int)
	for i, id := range g.TopologicalOrder() {
		pos[g.Node(id).Key] = i
	}
	if !(pos["Sheet1!A1"] < pos["Sheet1!B1"] && pos["Sheet1!B1"] < pos["Sheet1!C1"]) {
		t.Errorf("order = %v", pos)
	}
}

func TestStats(t *testing.T) {
	wb := sumSheet()
	wb.Set("E1", "7")
	wb.SetFormula("F1", "=E1", func(c *memhost.Calc) (string, error) { return "7", nil })

	s := mustBuild(t, wb, Options{}).Stats()
	if s.TotalNodes != 4 {
		t.Errorf("TotalNodes = %d, want 4", s.TotalNodes)
	}
	if s.TotalEdges != 2 {
		t.Errorf("TotalEdges = %d, want 2", s.TotalEdges)
	}
	if s.InputCount != 2 || s.VectorInputCount != 1 || s.InputCellCount != 5 {
		t.Errorf("inputs = %d/%d/%d", s.InputCount, s.VectorInputCount, s.InputCellCount)
	}
	if s.ConnectedComponents != 2 {
		t.Errorf("ConnectedComponents = %d, want 2", s.ConnectedComponents)
	}
}

func TestExportDOT(t *testing.T) {
	dot := ExportDOT(mustBuild(t, sumSheet(), Options{}))

	for _, want := range []string{"digraph dependencies", "cluster_Sheet1", `"Sheet1!A1:A4" -> "Sheet1!A5"`, "box3d"} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}
}

func TestExportMermaid(t *testing.T) {
	out := ExportMermaid(mustBuild(t, sumSheet(), Options{}))
	if !strings.HasPrefix(out, "graph LR\n") {
		t.Error("missing header")
	}
	if !strings.Contains(out, "Sheet1_A1_A4 --> Sheet1_A5") {
		t.Errorf("missing edge in:\n%s", out)
	}
}

func TestExportJSON(t *testing.T) {
	data, err := ExportJSON(mustBuild(t, sumSheet(), Options{}))
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	var decoded struct {
		Nodes []struct {
			Key  string `json:"key"`
			Kind string `json:"kind"`
		} `json:"nodes"`
		Stats Stats `json:"stats"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Nodes) != 2 || decoded.Stats.TotalNodes != 2 {
		t.Fatalf("decoded %d nodes", len(decoded.Nodes))
	}
	if decoded.Nodes[0].Kind != "terminal_output" {
		t.Errorf("first node kind = %s", decoded.Nodes[0].Kind)
	}
}

func TestFormatStats(t *testing.T) {
	out := FormatStats(mustBuild(t, sumSheet(), Options{}))
	if !strings.Contains(out, "Inputs:    1 (1 vector, 4 cells)") {
		t.Errorf("unexpected stats output:\n%s", out)
	}
}
