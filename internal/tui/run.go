package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/efebarandurmaz/cellaudit/internal/host"
)

// RunReview starts the interactive review program over an analyzed auditor.
// It shows the review screen, then the summary, and returns the session
// with the user's decisions.
func RunReview(ctx context.Context, auditor Auditor, wb host.Workbook, session *ReviewSession) (*ReviewSession, error) {
	reviewModel := NewReviewModel(ctx, auditor, wb, session)
	p := tea.NewProgram(reviewModel, tea.WithAltScreen(), tea.WithContext(ctx))
	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("TUI error: %w", err)
	}

	final := finalModel.(ReviewModel)

	summaryModel := NewSummaryModel(final.session)
	sp := tea.NewProgram(summaryModel, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := sp.Run(); err != nil {
		return nil, fmt.Errorf("summary error: %w", err)
	}

	return final.session, nil
}

// ReviewReport is the JSON form of a review session
type ReviewReport struct {
	Timestamp    string             `json:"timestamp"`
	Workbook     string             `json:"workbook"`
	NoBugsRemain bool               `json:"no_bugs_remain"`
	Reset        bool               `json:"reset"`
	Items        []ReviewReportItem `json:"items"`
	Summary      ReviewCounts       `json:"summary"`
}

// ReviewReportItem is one flagged cell and its decision
type ReviewReportItem struct {
	Cell       string  `json:"cell"`
	Score      int     `json:"score"`
	Normalized float64 `json:"normalized"`
	Value      string  `json:"value"`
	Status     string  `json:"status"`
	FixedValue string  `json:"fixed_value,omitempty"`
	DecidedAt  string  `json:"decided_at,omitempty"`
}

// BuildReviewReport converts a session to its report form.
func BuildReviewReport(session *ReviewSession) ReviewReport {
	items := make([]ReviewReportItem, 0, len(session.Items))
	for _, item := range session.Items {
		ri := ReviewReportItem{
			Cell:       item.Cell.String(),
			Score:      item.Score,
			Normalized: item.Normalized,
			Value:      item.Value,
			Status:     item.Status.String(),
			FixedValue: item.FixedValue,
		}
		if !item.DecidedAt.IsZero() {
			ri.DecidedAt = item.DecidedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, ri)
	}

	return ReviewReport{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Workbook:     session.Workbook,
		NoBugsRemain: session.NoBugsRemain,
		Reset:        session.Reset,
		Items:        items,
		Summary:      session.Counts(),
	}
}

// SaveReviewReport writes a JSON report of the review decisions.
func SaveReviewReport(session *ReviewSession, outputPath string) error {
	data, err := json.MarshalIndent(BuildReviewReport(session), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}
