package tui

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/analysis"
	"github.com/efebarandurmaz/cellaudit/internal/audit"
	"github.com/efebarandurmaz/cellaudit/internal/host/memhost"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

func outlierBook() *memhost.Workbook {
	wb := memhost.New()
	wb.SetRange("A1:A4", "10", "1000", "10", "15")
	wb.SetFormula("A5", "=SUM(A1:A4)", memhost.Sum("A1:A4"))
	return wb
}

func analyzedModel(t *testing.T) (ReviewModel, *memhost.Workbook, *audit.Session) {
	t.Helper()
	ctx := context.Background()
	wb := outlierBook()
	opts := audit.DefaultOptions()
	opts.Analysis.Draws = 1000
	opts.Analysis.Seed = 7
	opts.Analysis.Budget = 0
	s := audit.New(wb, opts)
	if err := s.Analyze(ctx, 0); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return NewReviewModel(ctx, s, wb, NewReviewSession("outlier.xlsx")), wb, s
}

func update(t *testing.T, m ReviewModel, msg tea.Msg) (ReviewModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(ReviewModel), cmd
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drain runs cmd and returns the audit message it produces, unwrapping a
// batch with the spinner tick.
func drain(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return msg
	}
	for _, c := range batch {
		if c == nil {
			continue
		}
		switch got := c().(type) {
		case flaggedMsg, resetMsg:
			return got
		}
	}
	t.Fatal("no audit message in batch")
	return nil
}

func flagFirst(t *testing.T, m ReviewModel) ReviewModel {
	t.Helper()
	m, _ = update(t, m, m.flagCmd()())
	if m.session.Current() == nil {
		t.Fatalf("no cell flagged (err %v)", m.err)
	}
	return m
}

func TestReviewModel_FlagShowsCell(t *testing.T) {
	m, _, _ := analyzedModel(t)
	m = flagFirst(t, m)

	item := m.session.Current()
	if item.Cell.String() != "Sheet1!A2" {
		t.Errorf("flagged = %s, want Sheet1!A2", item.Cell)
	}
	if item.Value != "1000" {
		t.Errorf("value = %q", item.Value)
	}
	if item.Score == 0 || item.Normalized != 1 {
		t.Errorf("score = %d normalized = %v", item.Score, item.Normalized)
	}
	if m.busy {
		t.Error("model still busy after flag")
	}

	view := m.View()
	for _, want := range []string{"outlier.xlsx", "Sheet1!A2", "1000", "Queue (1)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestReviewModel_MarkOKUntilNoBugs(t *testing.T) {
	m, wb, s := analyzedModel(t)
	m = flagFirst(t, m)

	m, cmd := update(t, m, keyMsg("o"))
	if !m.busy {
		t.Error("model not busy while marking")
	}
	m, cmd = update(t, m, drain(t, cmd))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.Quit after no bugs remain")
	}
	if !m.session.NoBugsRemain {
		t.Error("NoBugsRemain not set")
	}
	if got := m.session.Items[0].Status; got != ReviewMarkedOK {
		t.Errorf("status = %s", got)
	}
	if s.State() != audit.Idle {
		t.Errorf("session state = %s", s.State())
	}
	if wb.Attr("A2").Fill != "" {
		t.Errorf("A2 fill = %q after reset", wb.Attr("A2").Fill)
	}
}

func TestReviewModel_FixValue(t *testing.T) {
	m, wb, _ := analyzedModel(t)
	m = flagFirst(t, m)

	m, _ = update(t, m, keyMsg("f"))
	if !m.inputMode {
		t.Fatal("f did not open the input")
	}
	if m.textInput.Value() != "1000" {
		t.Errorf("input prefilled with %q", m.textInput.Value())
	}
	m.textInput.SetValue("20")

	m, cmd := update(t, m, keyMsg("enter"))
	if m.inputMode {
		t.Error("input still open after enter")
	}
	m, _ = update(t, m, drain(t, cmd))

	item := m.session.Items[0]
	if item.Status != ReviewFixed || item.FixedValue != "20" {
		t.Errorf("item = %+v", item)
	}
	if wb.Value("A5") != "55" {
		t.Errorf("A5 = %s after fix", wb.Value("A5"))
	}
	if !m.session.NoBugsRemain {
		t.Error("expected no bugs after fix")
	}
}

func TestReviewModel_EscapeCancelsInput(t *testing.T) {
	m, _, _ := analyzedModel(t)
	m = flagFirst(t, m)

	m, _ = update(t, m, keyMsg("f"))
	m, cmd := update(t, m, keyMsg("esc"))
	if m.inputMode || cmd != nil {
		t.Error("esc should close the input without a command")
	}
	if m.session.Current() == nil {
		t.Error("cancelled fix should leave the cell pending")
	}
}

func TestReviewModel_Reset(t *testing.T) {
	m, wb, s := analyzedModel(t)
	m = flagFirst(t, m)

	m, cmd := update(t, m, keyMsg("r"))
	m, _ = update(t, m, drain(t, cmd))
	if !m.session.Reset {
		t.Error("Reset not recorded")
	}
	if s.State() != audit.Idle {
		t.Errorf("state = %s", s.State())
	}
	if wb.Attr("A2").Fill != "" {
		t.Error("flag highlight not restored")
	}
}

func TestReviewModel_IgnoresActionsWhileBusy(t *testing.T) {
	m, _, _ := analyzedModel(t)
	m, cmd := update(t, m, keyMsg("o"))
	if cmd != nil {
		t.Error("action started while a pass is running")
	}
	if !strings.Contains(m.View(), "Analyzing") {
		t.Error("busy view should show progress")
	}
}

type failingAuditor struct{}

func (failingAuditor) Flag(context.Context) (address.Address, error) {
	return address.Address{}, errors.New("host went away")
}
func (failingAuditor) MarkAsOK(context.Context) (address.Address, error) {
	return address.Address{}, nil
}
func (failingAuditor) FixError(context.Context, string) (address.Address, error) {
	return address.Address{}, nil
}
func (failingAuditor) ResetTool(context.Context) error { return nil }
func (failingAuditor) Flaggable() []scoring.Score       { return nil }
func (failingAuditor) Result() *analysis.Result         { return nil }

func TestReviewModel_ShowsErrors(t *testing.T) {
	m := NewReviewModel(context.Background(), failingAuditor{}, memhost.New(), NewReviewSession("broken.xlsx"))
	m, cmd := update(t, m, m.flagCmd()())
	if cmd != nil {
		t.Error("error should not quit")
	}
	if !strings.Contains(m.View(), "host went away") {
		t.Errorf("view does not show error:\n%s", m.View())
	}
}

func TestSaveReviewReport(t *testing.T) {
	session := NewReviewSession("book.xlsx")
	session.Items = append(session.Items,
		&ReviewItem{Cell: address.New("Sheet1", 1, 2), Score: 9, Value: "1000"},
		&ReviewItem{Cell: address.New("Sheet1", 2, 3), Score: 4, Value: "900"},
	)
	session.decide(ReviewMarkedOK, "")
	session.Items[0].Status = ReviewFixed
	session.Items[0].FixedValue = "10"

	path := filepath.Join(t.TempDir(), "review.json")
	if err := SaveReviewReport(session, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var report ReviewReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.Workbook != "book.xlsx" || len(report.Items) != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.Items[0].Status != "fixed" || report.Items[0].FixedValue != "10" {
		t.Errorf("item 0 = %+v", report.Items[0])
	}
	if report.Items[1].Status != "marked_ok" || report.Items[1].DecidedAt == "" {
		t.Errorf("item 1 = %+v", report.Items[1])
	}
	if report.Summary != (ReviewCounts{Total: 2, MarkedOK: 1, Fixed: 1}) {
		t.Errorf("summary = %+v", report.Summary)
	}
}

func TestSummaryModel_View(t *testing.T) {
	session := NewReviewSession("book.xlsx")
	session.Items = append(session.Items, &ReviewItem{
		Cell: address.New("Sheet1", 1, 2), Value: "1000", FixedValue: "10", Status: ReviewFixed,
	})
	session.NoBugsRemain = true

	view := NewSummaryModel(session).View()
	for _, want := range []string{"book.xlsx", "No bugs remain", "Sheet1!A2", "1000 -> 10"} {
		if !strings.Contains(view, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}
