package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// SummaryModel shows how a review ended and which cells were corrected.
type SummaryModel struct {
	session  *ReviewSession
	styles   *Styles
	width    int
	height   int
	quitting bool
}

// NewSummaryModel creates a new summary screen
func NewSummaryModel(session *ReviewSession) SummaryModel {
	return SummaryModel{
		session: session,
		styles:  DefaultStyles(),
	}
}

// Init implements tea.Model
func (m SummaryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m SummaryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "enter":
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model
func (m SummaryModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Review Summary - " + m.session.Workbook))
	b.WriteString("\n\n")

	c := m.session.Counts()
	b.WriteString(m.renderStatsTable(c))
	b.WriteString("\n")
	b.WriteString(m.styles.Outcome(m.session).Render(outcome(m.session)))
	b.WriteString("\n\n")

	if c.Fixed > 0 {
		b.WriteString(m.styles.Label.Render("Corrected cells:"))
		b.WriteString("\n\n")
		for _, item := range m.session.Items {
			if item.Status == ReviewFixed {
				b.WriteString(m.renderCorrection(item))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Help.Render("Press enter to save and exit"))
	return b.String()
}

func outcome(session *ReviewSession) string {
	switch {
	case session.NoBugsRemain:
		return "No bugs remain"
	case session.Reset:
		return "Session reset"
	default:
		return "Review stopped"
	}
}

func (m SummaryModel) renderStatsTable(c ReviewCounts) string {
	rows := []struct {
		label  string
		n      int
		status ReviewStatus
	}{
		{"Marked OK", c.MarkedOK, ReviewMarkedOK},
		{"Fixed", c.Fixed, ReviewFixed},
		{"Undecided", c.Pending, ReviewPending},
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %-16s %d\n", "Flagged cells:", c.Total))
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %-16s %s\n", r.label+":", m.styles.Status(r.status).Render(fmt.Sprint(r.n))))
	}
	return b.String()
}

func (m SummaryModel) renderCorrection(item *ReviewItem) string {
	return fmt.Sprintf("  %s  %s -> %s  (score %d)\n", m.styles.CellRef.Render(item.Cell.String()), item.Value, item.FixedValue, item.Score)
}
