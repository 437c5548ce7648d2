// Package xlsx adapts an .xlsx file opened with excelize to the host
// interfaces. Formula values are computed on read with CalcCellValue, so
// Recalculate has nothing to flush.
package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/formula"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

var rawValue = excelize.Options{RawCellValue: true}

// Workbook wraps an excelize file.
type Workbook struct {
	mu     sync.Mutex
	f      *excelize.File
	path   string
	fills  map[fillKey]int
	logger *slog.Logger
}

type fillKey struct {
	base int
	fill string
}

// Open reads the workbook at path.
func Open(path string, logger *slog.Logger) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	wb := New(f, logger)
	wb.path = path
	return wb, nil
}

// New wraps an already opened file.
func New(f *excelize.File, logger *slog.Logger) *Workbook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workbook{f: f, fills: make(map[fillKey]int), logger: logger}
}

// File exposes the underlying excelize file.
func (w *Workbook) File() *excelize.File { return w.f }

// Path returns the file the workbook was opened from, if any.
func (w *Workbook) Path() string { return w.path }

// Save writes the workbook back to its original path.
func (w *Workbook) Save() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Save()
}

// SaveAs writes the workbook to path.
func (w *Workbook) SaveAs(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.SaveAs(path)
}

// Close releases the underlying file.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// DefinedNames returns workbook-scoped names that resolve to ranges, for
// formula.Parser.Names.
func (w *Workbook) DefinedNames() map[string]address.Range {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make(map[string]address.Range)
	for _, dn := range w.f.GetDefinedName() {
		ref := strings.TrimPrefix(dn.RefersTo, "=")
		r, err := address.ParseRange(ref, "")
		if err != nil {
			w.logger.Debug("skipping defined name", "name", dn.Name, "refers_to", dn.RefersTo)
			continue
		}
		names[dn.Name] = r
	}
	return names
}

// Parser returns a formula parser that knows the workbook's defined names.
func (w *Workbook) Parser() *formula.Parser {
	return &formula.Parser{Names: w.DefinedNames()}
}

func (w *Workbook) ReadFormulaGraph(ctx context.Context) ([]host.FormulaCell, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []host.FormulaCell
	for _, sheet := range w.f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bounds, err := w.usedRange(sheet)
		if err != nil {
			return nil, err
		}
		if bounds == nil {
			continue
		}
		for _, a := range bounds.Cells() {
			text, err := w.f.GetCellFormula(sheet, a.Cell())
			if err != nil {
				return nil, fmt.Errorf("formula %s: %w", a, err)
			}
			if text == "" {
				continue
			}
			if !strings.HasPrefix(text, "=") {
				text = "=" + text
			}
			out = append(out, host.FormulaCell{Address: a, Formula: text})
		}
	}
	return out, nil
}

// usedRange returns A1 through the larger of the sheet's dimension record and
// the extent of its stored values. The dimension is stale on files that were
// built in memory.
func (w *Workbook) usedRange(sheet string) (*address.Range, error) {
	maxCol, maxRow := 0, 0
	if dim, err := w.f.GetSheetDimension(sheet); err == nil && dim != "" {
		if !strings.Contains(dim, ":") {
			dim += ":" + dim
		}
		if r, err := address.ParseRange(dim, sheet); err == nil {
			maxCol, maxRow = r.End.Col, r.End.Row
		}
	}

	rows, err := w.f.GetRows(sheet, rawValue)
	if err != nil {
		return nil, fmt.Errorf("rows %s: %w", sheet, err)
	}
	maxRow = max(maxRow, len(rows))
	for _, row := range rows {
		maxCol = max(maxCol, len(row))
	}
	if maxCol == 0 || maxRow == 0 {
		return nil, nil
	}
	r := address.NewRange(address.New(sheet, 1, 1), address.New(sheet, maxCol, maxRow))
	return &r, nil
}

func (w *Workbook) ReadCellValue(ctx context.Context, a address.Address) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	text, err := w.f.GetCellFormula(a.Sheet, a.Cell())
	if err != nil {
		return "", err
	}
	if text != "" {
		return w.f.CalcCellValue(a.Sheet, a.Cell(), rawValue)
	}
	return w.f.GetCellValue(a.Sheet, a.Cell(), rawValue)
}

// WriteCellValue stores numeric text as a number so formulas can use it.
func (w *Workbook) WriteCellValue(ctx context.Context, a address.Address, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return w.f.SetCellFloat(a.Sheet, a.Cell(), f, -1, 64)
	}
	return w.f.SetCellStr(a.Sheet, a.Cell(), value)
}

func (w *Workbook) Recalculate(ctx context.Context) error {
	return ctx.Err()
}

func (w *Workbook) GetDisplayAttribute(ctx context.Context, a address.Address) (host.Attr, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, err := w.f.GetCellStyle(a.Sheet, a.Cell())
	if err != nil {
		return host.Attr{}, err
	}
	return host.Attr{StyleID: id}, nil
}

// SetDisplayAttribute restores StyleID exactly when Fill is empty; otherwise
// it paints Fill over the cell's current style.
func (w *Workbook) SetDisplayAttribute(ctx context.Context, a address.Address, attr host.Attr) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cell := a.Cell()
	if attr.Fill == "" {
		return w.f.SetCellStyle(a.Sheet, cell, cell, attr.StyleID)
	}

	base, err := w.f.GetCellStyle(a.Sheet, cell)
	if err != nil {
		return err
	}
	key := fillKey{base: base, fill: attr.Fill}
	id, ok := w.fills[key]
	if !ok {
		style, err := w.f.GetStyle(base)
		if err != nil || style == nil {
			style = &excelize.Style{}
		}
		style.Fill = excelize.Fill{Type: "pattern", Color: []string{"#" + attr.Fill}, Pattern: 1}
		if id, err = w.f.NewStyle(style); err != nil {
			return fmt.Errorf("new style: %w", err)
		}
		w.fills[key] = id
	}
	return w.f.SetCellStyle(a.Sheet, cell, cell, id)
}
