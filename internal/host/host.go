// Package host defines the spreadsheet capabilities the audit engine needs.
//
// The engine never touches a live document directly: it receives a Workbook
// (values, formulas, recalculation) and optionally a Display (cell colouring)
// and drives them in a strict write, recalculate, read, restore sequence.
package host

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/cellaudit/internal/address"
)

// FormulaCell is one formula-bearing cell as reported by the host.
type FormulaCell struct {
	Address address.Address
	Formula string
}

// Workbook is the value and recalculation surface of a host spreadsheet.
type Workbook interface {
	// ReadFormulaGraph lists every formula cell in a stable order.
	ReadFormulaGraph(ctx context.Context) ([]FormulaCell, error)
	// ReadCellValue returns the displayed value of a cell as text.
	ReadCellValue(ctx context.Context, a address.Address) (string, error)
	// WriteCellValue replaces a raw cell's value.
	WriteCellValue(ctx context.Context, a address.Address, value string) error
	// Recalculate brings every formula up to date with the written values.
	Recalculate(ctx context.Context) error
}

// Attr is a cell's display attribute. StyleID restores a saved attribute
// exactly; Fill (RRGGBB) paints a solid background.
type Attr struct {
	StyleID int    `json:"style_id"`
	Fill    string `json:"fill,omitempty"`
}

// Display attributes used by the audit workflow.
var (
	Suspicious = Attr{Fill: "FF0000"}
	KnownGood  = Attr{Fill: "008000"}
)

// Display is the visual surface used to flag and restore cells.
type Display interface {
	GetDisplayAttribute(ctx context.Context, a address.Address) (Attr, error)
	SetDisplayAttribute(ctx context.Context, a address.Address, attr Attr) error
}

// Progress receives one tick per evaluated bootstrap draw.
type Progress interface {
	ReportProgress(current, max int)
	IsCancelled() bool
}

// NopProgress ignores progress and is never cancelled.
type NopProgress struct{}

func (NopProgress) ReportProgress(int, int) {}
func (NopProgress) IsCancelled() bool       { return false }

// HostIOError reports a failed read, write or recalculation.
type HostIOError struct {
	Op      string // "read", "write", "recalculate", "formulas"
	Address address.Address
	Err     error
}

func (e *HostIOError) Error() string {
	if e.Address == (address.Address{}) {
		return fmt.Sprintf("host %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("host %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *HostIOError) Unwrap() error { return e.Err }

// IOError wraps err as a *HostIOError unless it already is one or is nil.
func IOError(op string, a address.Address, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*HostIOError); ok {
		return err
	}
	return &HostIOError{Op: op, Address: a, Err: err}
}
