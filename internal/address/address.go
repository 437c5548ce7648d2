// Package address models worksheet cell addresses and rectangular ranges.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrInvalid is returned for references that are not A1-style cells or ranges.
	ErrInvalid = errors.New("invalid cell reference")
	// ErrUnbounded is returned for whole-column or whole-row references (A:A, 1:1).
	ErrUnbounded = errors.New("unbounded range reference")
)

// Address identifies one worksheet cell. Col and Row are 1-based.
type Address struct {
	Sheet string `json:"sheet"`
	Col   int    `json:"col"`
	Row   int    `json:"row"`
}

// New returns the address of the cell at (col, row) on sheet.
func New(sheet string, col, row int) Address {
	return Address{Sheet: sheet, Col: col, Row: row}
}

// Cell returns the sheet-less A1 name, e.g. "B7".
func (a Address) Cell() string {
	name, err := excelize.CoordinatesToCellName(a.Col, a.Row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", a.Row, a.Col)
	}
	return name
}

// String returns the fully qualified name, e.g. "Sheet1!B7".
func (a Address) String() string {
	return quoteSheet(a.Sheet) + "!" + a.Cell()
}

// MarshalText lets addresses act as JSON object keys.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a fully qualified address.
func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b), "")
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Less orders addresses by sheet, then row, then column.
func (a Address) Less(b Address) bool {
	if a.Sheet != b.Sheet {
		return a.Sheet < b.Sheet
	}
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}

// Parse parses "A1", "$A$1", "Sheet1!A1" or "'My Sheet'!A1". References
// without a sheet resolve against defaultSheet.
func Parse(ref, defaultSheet string) (Address, error) {
	sheet, cell := splitSheet(ref, defaultSheet)
	cell = strings.ReplaceAll(cell, "$", "")
	if cell == "" || strings.Contains(cell, ":") {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalid, ref)
	}
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalid, ref)
	}
	return Address{Sheet: sheet, Col: col, Row: row}, nil
}

// Range is a rectangular block of cells on one sheet. Start is the top-left
// corner and End the bottom-right corner.
type Range struct {
	Start Address `json:"start"`
	End   Address `json:"end"`
}

// Single returns the one-cell range covering a.
func Single(a Address) Range {
	return Range{Start: a, End: a}
}

// NewRange normalizes two corners into a Range.
func NewRange(a, b Address) Range {
	return Range{
		Start: Address{Sheet: a.Sheet, Col: min(a.Col, b.Col), Row: min(a.Row, b.Row)},
		End:   Address{Sheet: a.Sheet, Col: max(a.Col, b.Col), Row: max(a.Row, b.Row)},
	}
}

// Sheet returns the worksheet the range lives on.
func (r Range) Sheet() string { return r.Start.Sheet }

// Len returns the number of cells in the range.
func (r Range) Len() int {
	return (r.End.Col - r.Start.Col + 1) * (r.End.Row - r.Start.Row + 1)
}

// IsSingle reports whether the range covers exactly one cell.
func (r Range) IsSingle() bool { return r.Start == r.End }

// Cells expands the range in row-major order.
func (r Range) Cells() []Address {
	cells := make([]Address, 0, r.Len())
	for row := r.Start.Row; row <= r.End.Row; row++ {
		for col := r.Start.Col; col <= r.End.Col; col++ {
			cells = append(cells, Address{Sheet: r.Start.Sheet, Col: col, Row: row})
		}
	}
	return cells
}

// Contains reports whether a lies inside the range.
func (r Range) Contains(a Address) bool {
	return a.Sheet == r.Start.Sheet &&
		a.Col >= r.Start.Col && a.Col <= r.End.Col &&
		a.Row >= r.Start.Row && a.Row <= r.End.Row
}

// String renders "Sheet1!A1:B4", or the single address for one-cell ranges.
func (r Range) String() string {
	if r.IsSingle() {
		return r.Start.String()
	}
	return quoteSheet(r.Start.Sheet) + "!" + r.Start.Cell() + ":" + r.End.Cell()
}

// ParseRange parses a cell or range reference such as "A1:B4" or
// "'Q1 Data'!$A$1:$A$10". A single cell parses as a one-cell range.
func ParseRange(ref, defaultSheet string) (Range, error) {
	sheet, body := splitSheet(ref, defaultSheet)
	parts := strings.Split(body, ":")
	switch len(parts) {
	case 1:
		a, err := Parse(quoteSheet(sheet)+"!"+parts[0], sheet)
		if err != nil {
			return Range{}, err
		}
		return Single(a), nil
	case 2:
		lo := strings.ReplaceAll(parts[0], "$", "")
		hi := strings.ReplaceAll(parts[1], "$", "")
		if isUnbounded(lo) || isUnbounded(hi) {
			return Range{}, fmt.Errorf("%w: %q", ErrUnbounded, ref)
		}
		a, err := Parse(quoteSheet(sheet)+"!"+lo, sheet)
		if err != nil {
			return Range{}, err
		}
		b, err := Parse(quoteSheet(sheet)+"!"+hi, sheet)
		if err != nil {
			return Range{}, err
		}
		return NewRange(a, b), nil
	default:
		return Range{}, fmt.Errorf("%w: %q", ErrInvalid, ref)
	}
}

// isUnbounded matches pure column ("A") or pure row ("1") corners.
func isUnbounded(corner string) bool {
	if corner == "" {
		return true
	}
	hasDigit := strings.ContainsAny(corner, "0123456789")
	hasLetter := strings.IndexFunc(corner, func(r rune) bool {
		return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
	}) >= 0
	return !hasDigit || !hasLetter
}

func splitSheet(ref, defaultSheet string) (string, string) {
	idx := strings.LastIndex(ref, "!")
	if idx < 0 {
		return defaultSheet, ref
	}
	sheet := ref[:idx]
	if len(sheet) >= 2 && strings.HasPrefix(sheet, "'") && strings.HasSuffix(sheet, "'") {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	return sheet, ref[idx+1:]
}

func quoteSheet(sheet string) string {
	if sheet == "" {
		return sheet
	}
	if strings.ContainsAny(sheet, " '!-+()&,;") {
		return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return sheet
}
