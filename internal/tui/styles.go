package tui

import "github.com/charmbracelet/lipgloss"

// Palette. Suspicion runs from calm to hot the way the workbook shading
// runs from white to red; known-good matches the green fill MarkAsOK paints.
const (
	colorInk       = lipgloss.Color("#0d1117")
	colorFrame     = lipgloss.Color("#30363d")
	colorFocus     = lipgloss.Color("#58a6ff")
	colorKnownGood = lipgloss.Color("#3fb950")
	colorHot       = lipgloss.Color("#f85149")
	colorWarm      = lipgloss.Color("#d29922")
	colorMuted     = lipgloss.Color("#8b949e")
	colorBody      = lipgloss.Color("#c9d1d9")
	colorStrong    = lipgloss.Color("#f0f6fc")
)

// Styles are the lipgloss styles shared by the review and summary screens.
type Styles struct {
	Header   lipgloss.Style
	Counts   lipgloss.Style
	Label    lipgloss.Style
	Help     lipgloss.Style
	Error    lipgloss.Style
	Spinner  lipgloss.Style
	CellRef  lipgloss.Style
	Queue    lipgloss.Style
	Panel    lipgloss.Style
	Flagged  lipgloss.Style
	Marker   lipgloss.Style
	statuses map[ReviewStatus]lipgloss.Style
}

func badge(bg lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Background(bg).Foreground(colorInk).Padding(0, 1).Bold(true)
}

func frame(border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(1, 2)
}

// DefaultStyles returns the dark-terminal style set.
func DefaultStyles() *Styles {
	return &Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(colorStrong).MarginBottom(1),
		Counts:  lipgloss.NewStyle().Foreground(colorBody).MarginBottom(1),
		Label:   lipgloss.NewStyle().Foreground(colorBody),
		Help:    lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		Error:   badge(colorHot),
		Spinner: lipgloss.NewStyle().Foreground(colorFocus),
		CellRef: lipgloss.NewStyle().Foreground(colorStrong).Bold(true),
		Queue:   lipgloss.NewStyle().Foreground(colorMuted).Padding(0, 2),
		Panel:   frame(colorFrame),
		Flagged: frame(colorHot),
		Marker: lipgloss.NewStyle().
			Foreground(colorFocus).
			Bold(true).
			Padding(0, 2).
			BorderStyle(lipgloss.Border{Bottom: "─"}).
			BorderBottom(true).
			BorderForeground(colorFocus),
		statuses: map[ReviewStatus]lipgloss.Style{
			ReviewPending:  lipgloss.NewStyle().Foreground(colorMuted),
			ReviewMarkedOK: lipgloss.NewStyle().Foreground(colorKnownGood).Bold(true),
			ReviewFixed:    lipgloss.NewStyle().Foreground(colorWarm).Bold(true),
		},
	}
}

// Status returns the text style for a review decision.
func (s *Styles) Status(st ReviewStatus) lipgloss.Style {
	return s.statuses[st]
}

// Outcome returns the badge for how a review ended.
func (s *Styles) Outcome(session *ReviewSession) lipgloss.Style {
	switch {
	case session.NoBugsRemain:
		return badge(colorKnownGood)
	case session.Reset:
		return badge(colorWarm)
	default:
		return badge(colorMuted)
	}
}

// SuspicionColor returns a badge style for a normalized score.
// Red for >=0.8, yellow for >=0.5, green below.
func SuspicionColor(score float64) lipgloss.Style {
	switch {
	case score >= 0.8:
		return badge(colorHot)
	case score >= 0.5:
		return badge(colorWarm)
	default:
		return badge(colorKnownGood)
	}
}
