package xlsx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/host"
)

func newTestBook(t *testing.T) *Workbook {
	t.Helper()
	f := excelize.NewFile()
	for i, v := range []int{10, 1000, 10, 15} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatalf("SetCellValue: %v", err)
		}
	}
	if err := f.SetCellFormula("Sheet1", "B5", "SUM(A1:A4)"); err != nil {
		t.Fatalf("SetCellFormula: %v", err)
	}
	if err := f.SetCellValue("Sheet1", "C6", "note"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	wb := New(f, nil)
	t.Cleanup(func() { wb.Close() })
	return wb
}

func TestReadFormulaGraph(t *testing.T) {
	wb := newTestBook(t)
	cells, err := wb.ReadFormulaGraph(context.Background())
	if err != nil {
		t.Fatalf("ReadFormulaGraph: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("got %d formula cells, want 1", len(cells))
	}
	if cells[0].Address.String() != "Sheet1!B5" || cells[0].Formula != "=SUM(A1:A4)" {
		t.Errorf("cell = %s %q", cells[0].Address, cells[0].Formula)
	}
}

func TestWriteRecalculateRead(t *testing.T) {
	ctx := context.Background()
	wb := newTestBook(t)
	out := address.New("Sheet1", 2, 5)

	got, err := wb.ReadCellValue(ctx, out)
	if err != nil {
		t.Fatalf("ReadCellValue: %v", err)
	}
	if got != "1035" {
		t.Errorf("B5 = %q, want 1035", got)
	}

	if err := wb.WriteCellValue(ctx, address.New("Sheet1", 1, 2), "1"); err != nil {
		t.Fatalf("WriteCellValue: %v", err)
	}
	if err := wb.Recalculate(ctx); err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if got, _ := wb.ReadCellValue(ctx, out); got != "36" {
		t.Errorf("B5 after write = %q, want 36", got)
	}
}

func TestDisplayAttributeRoundTrip(t *testing.T) {
	ctx := context.Background()
	wb := newTestBook(t)
	a := address.New("Sheet1", 1, 2)

	saved, err := wb.GetDisplayAttribute(ctx, a)
	if err != nil {
		t.Fatalf("GetDisplayAttribute: %v", err)
	}
	if err := wb.SetDisplayAttribute(ctx, a, host.Suspicious); err != nil {
		t.Fatalf("SetDisplayAttribute: %v", err)
	}
	painted, _ := wb.GetDisplayAttribute(ctx, a)
	if painted.StyleID == saved.StyleID {
		t.Error("expected a new style after painting")
	}
	if err := wb.SetDisplayAttribute(ctx, a, saved); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored, _ := wb.GetDisplayAttribute(ctx, a); restored != saved {
		t.Errorf("restored = %+v, want %+v", restored, saved)
	}
}

func TestOpenSaveAs(t *testing.T) {
	wb := newTestBook(t)
	path := filepath.Join(t.TempDir(), "book.xlsx")
	if err := wb.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if reopened.Path() != path {
		t.Errorf("Path = %s", reopened.Path())
	}
	cells, err := reopened.ReadFormulaGraph(context.Background())
	if err != nil || len(cells) != 1 {
		t.Fatalf("reopened formulas = %v, %v", cells, err)
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.xlsx"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
