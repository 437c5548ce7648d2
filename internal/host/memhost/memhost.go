// Package memhost is an in-memory spreadsheet host. Formula cells carry Excel
// formula text (for dependency extraction) and a Go function that computes
// their value, so the engine can be exercised without a real spreadsheet.
package memhost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

// DefaultSheet is used for unqualified references.
const DefaultSheet = "Sheet1"

const maxDepth = 256

var errCircular = errors.New("circular formula evaluation")

// Func computes a formula cell's value.
type Func func(c *Calc) (string, error)

type cell struct {
	value   string
	formula string
	fn      Func
}

// Workbook is a map-backed host.Workbook and host.Display.
type Workbook struct {
	mu       sync.Mutex
	cells    map[address.Address]*cell
	order    []address.Address
	attrs    map[address.Address]host.Attr
	computed map[address.Address]string

	// BeforeWrite, when set, can fail a write.
	BeforeWrite func(a address.Address, value string) error
	// BeforeRecalc, when set, can fail a recalculation.
	BeforeRecalc func() error

	writes  int
	recalcs int
}

// New returns an empty workbook.
func New() *Workbook {
	return &Workbook{
		cells:    make(map[address.Address]*cell),
		attrs:    make(map[address.Address]host.Attr),
		computed: make(map[address.Address]string),
	}
}

// Set stores a raw value at cell (e.g. "A1" or "Data!B2"), replacing any
// formula.
func (w *Workbook) Set(ref, value string) {
	a := mustParse(ref)
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.cellAt(a)
	c.value, c.formula, c.fn = value, "", nil
	w.computed = make(map[address.Address]string)
}

// SetRange stores values row-major across the range ref.
func (w *Workbook) SetRange(ref string, values ...string) {
	r, err := address.ParseRange(ref, DefaultSheet)
	if err != nil {
		panic(err)
	}
	cells := r.Cells()
	if len(values) != len(cells) {
		panic(fmt.Sprintf("memhost: %d values for %d cells in %s", len(values), len(cells), ref))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, a := range cells {
		w.cellAt(a).value = values[i]
	}
	w.computed = make(map[address.Address]string)
}

// SetFormula makes ref a formula cell with the given text and evaluator.
func (w *Workbook) SetFormula(ref, text string, fn Func) {
	a := mustParse(ref)
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.cellAt(a)
	c.formula = text
	c.fn = fn
	w.computed = make(map[address.Address]string)
}

// Writes returns how many WriteCellValue calls reached the workbook.
func (w *Workbook) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// Recalcs returns how many Recalculate calls reached the workbook.
func (w *Workbook) Recalcs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recalcs
}

// Value returns the raw or computed value of ref, for assertions.
func (w *Workbook) Value(ref string) string {
	v, err := w.ReadCellValue(context.Background(), mustParse(ref))
	if err != nil {
		return "#ERR"
	}
	return v
}

// Attr returns the display attribute of ref, for assertions.
func (w *Workbook) Attr(ref string) host.Attr {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attrs[mustParse(ref)]
}

func (w *Workbook) ReadFormulaGraph(ctx context.Context) ([]host.FormulaCell, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []host.FormulaCell
	for _, a := range w.order {
		if c := w.cells[a]; c.formula != "" {
			out = append(out, host.FormulaCell{Address: a, Formula: c.formula})
		}
	}
	return out, nil
}

func (w *Workbook) ReadCellValue(ctx context.Context, a address.Address) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eval(a, 0)
}

func (w *Workbook) WriteCellValue(ctx context.Context, a address.Address, value string) error {
	if w.BeforeWrite != nil {
		if err := w.BeforeWrite(a, value); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.cellAt(a)
	if c.fn != nil {
		return fmt.Errorf("memhost: %s holds a formula", a)
	}
	c.value = value
	w.writes++
	return nil
}

func (w *Workbook) Recalculate(ctx context.Context) error {
	if w.BeforeRecalc != nil {
		if err := w.BeforeRecalc(); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.computed = make(map[address.Address]string)
	w.recalcs++
	return nil
}

func (w *Workbook) GetDisplayAttribute(ctx context.Context, a address.Address) (host.Attr, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attrs[a], nil
}

func (w *Workbook) SetDisplayAttribute(ctx context.Context, a address.Address, attr host.Attr) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if attr == (host.Attr{}) {
		delete(w.attrs, a)
		return nil
	}
	w.attrs[a] = attr
	return nil
}

func (w *Workbook) cellAt(a address.Address) *cell {
	c, ok := w.cells[a]
	if !ok {
		c = &cell{}
		w.cells[a] = c
		w.order = append(w.order, a)
	}
	return c
}

// eval must be called with mu held.
func (w *Workbook) eval(a address.Address, depth int) (string, error) {
	c, ok := w.cells[a]
	if !ok {
		return "", nil
	}
	if c.fn == nil {
		return c.value, nil
	}
	if v, ok := w.computed[a]; ok {
		return v, nil
	}
	if depth > maxDepth {
		return "", fmt.Errorf("%w at %s", errCircular, a)
	}
	v, err := c.fn(&Calc{w: w, sheet: a.Sheet, depth: depth + 1})
	if err != nil {
		return "", fmt.Errorf("evaluate %s: %w", a, err)
	}
	w.computed[a] = v
	return v, nil
}

// Calc gives formula functions read access to other cells.
type Calc struct {
	w     *Workbook
	sheet string
	depth int
}

// Values returns the values of ref (cell or range) in row-major order.
func (c *Calc) Values(ref string) ([]string, error) {
	r, err := address.ParseRange(ref, c.sheet)
	if err != nil {
		return nil, err
	}
	cells := r.Cells()
	out := make([]string, len(cells))
	for i, a := range cells {
		if out[i], err = c.w.eval(a, c.depth); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Value returns the value of a single cell.
func (c *Calc) Value(ref string) (string, error) {
	vs, err := c.Values(ref)
	if err != nil {
		return "", err
	}
	if len(vs) != 1 {
		return "", fmt.Errorf("%s is not a single cell", ref)
	}
	return vs[0], nil
}

// Sum adds the numeric values of ref, skipping text and blanks like SUM.
func (c *Calc) Sum(ref string) (float64, error) {
	vs, err := c.Values(ref)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, v := range vs {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			total += f
		}
	}
	return total, nil
}

// Sum returns a Func computing SUM(ref).
func Sum(ref string) Func {
	return func(c *Calc) (string, error) {
		total, err := c.Sum(ref)
		if err != nil {
			return "", err
		}
		return FormatNumber(total), nil
	}
}

// Average returns a Func computing AVERAGE(ref) over numeric cells.
func Average(ref string) Func {
	return func(c *Calc) (string, error) {
		vs, err := c.Values(ref)
		if err != nil {
			return "", err
		}
		var total float64
		var n int
		for _, v := range vs {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				total += f
				n++
			}
		}
		if n == 0 {
			return "#DIV/0!", nil
		}
		return FormatNumber(total / float64(n)), nil
	}
}

// FormatNumber renders a float the way a spreadsheet displays it.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func mustParse(ref string) address.Address {
	a, err := address.Parse(ref, DefaultSheet)
	if err != nil {
		panic(err)
	}
	return a
}
