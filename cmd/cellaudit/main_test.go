package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/config"
	"github.com/efebarandurmaz/cellaudit/internal/host/xlsx"
	"github.com/efebarandurmaz/cellaudit/internal/observability"
	"github.com/efebarandurmaz/cellaudit/internal/sessionstate"
)

func testEnv() *env {
	return &env{
		ctx:     context.Background(),
		cfg:     config.Default(),
		logger:  slog.Default(),
		audit:   observability.Disabled(),
		metrics: observability.NewAuditMetrics(),
	}
}

func writeOutlierBook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	for i, v := range []int{10, 1000, 10, 15} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SetCellFormula("Sheet1", "A5", "SUM(A1:A4)"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "outlier.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunAnalyze_SavesState(t *testing.T) {
	path := writeOutlierBook(t)
	e := testEnv()

	if err := runAnalyze(e, path, passFlags{draws: 300}, true, true, ""); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}

	state, err := sessionstate.LoadState(sessionstate.StatePath(path))
	if err != nil || state == nil {
		t.Fatalf("state not saved: %v", err)
	}
	if len(state.Scores) != 4 || state.Scores[0].Cell.String() != "Sheet1!A2" {
		t.Errorf("scores = %+v", state.Scores)
	}
	if e.metrics.PassesTotal.Value() != 1 {
		t.Errorf("passes = %v", e.metrics.PassesTotal.Value())
	}
}

func TestRunAnalyze_ShadeSavesWorkbook(t *testing.T) {
	path := writeOutlierBook(t)
	out := filepath.Join(t.TempDir(), "shaded.xlsx")

	if err := runAnalyze(testEnv(), path, passFlags{draws: 300, shade: true}, true, true, out); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}

	wb, err := xlsx.Open(out, nil)
	if err != nil {
		t.Fatalf("shaded workbook not written: %v", err)
	}
	defer wb.Close()
	attr, err := wb.GetDisplayAttribute(context.Background(), address.New("Sheet1", 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if attr.StyleID == 0 {
		t.Error("A2 was not shaded")
	}
}

func TestRunAnalyze_SkipsConfirmedCells(t *testing.T) {
	path := writeOutlierBook(t)
	e := testEnv()
	wb, err := xlsx.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	opts := e.sessionOptions(wb, passFlags{}, false)
	a2 := address.New("Sheet1", 1, 2)
	if err := saveState(e, wb, path, opts, []address.Address{a2}, nil); err != nil {
		t.Fatalf("saveState: %v", err)
	}
	wb.Close()

	wb, s, seeded, err := openSession(e, path, passFlags{draws: 300}, true)
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer wb.Close()
	if len(seeded) != 1 || seeded[0] != a2 {
		t.Fatalf("seeded = %v", seeded)
	}
	if err := s.Analyze(e.ctx, 0); err != nil {
		t.Fatal(err)
	}
	for _, sc := range s.Flaggable() {
		if sc.Address == a2 {
			t.Error("confirmed cell flagged again")
		}
	}
}

func TestDedupe(t *testing.T) {
	a, b := address.New("S", 1, 1), address.New("S", 1, 2)
	got := dedupe([]address.Address{a, b, a, b})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("dedupe = %v", got)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		debug bool
		want  slog.Level
	}{
		{"info", config.LogConfig{Level: "info"}, false, slog.LevelInfo},
		{"warn json", config.LogConfig{Level: "warn", Format: "json"}, false, slog.LevelWarn},
		{"bad level", config.LogConfig{Level: "loud"}, false, slog.LevelInfo},
		{"debug flag wins", config.LogConfig{Level: "error"}, true, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLogger(tt.cfg, tt.debug)
			if !l.Enabled(context.Background(), tt.want) {
				t.Errorf("level %s not enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-4) {
				t.Errorf("level below %s enabled", tt.want)
			}
		})
	}
}
