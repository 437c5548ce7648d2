package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/efebarandurmaz/cellaudit/internal/address"
	"github.com/efebarandurmaz/cellaudit/internal/audit"
	"github.com/efebarandurmaz/cellaudit/internal/host"
	"github.com/efebarandurmaz/cellaudit/internal/scoring"
)

// flaggedMsg carries the outcome of a flag, mark or fix.
type flaggedMsg struct {
	item  *ReviewItem
	queue []scoring.Score
	err   error
}

type resetMsg struct {
	err error
}

type ReviewModel struct {
	ctx       context.Context
	auditor   Auditor
	wb        host.Workbook
	session   *ReviewSession
	styles    *Styles
	queue     []scoring.Score
	viewport  viewport.Model
	spinner   spinner.Model
	width     int
	height    int
	busy      bool // a pass is running
	quitting  bool
	err       error
	inputMode bool // true when typing a correction
	textInput textinput.Model
	help      help.Model
	keys      keyMap
}

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	MarkOK key.Binding
	Fix    key.Binding
	Reset  key.Binding
	Enter  key.Binding
	Quit   key.Binding
	Escape key.Binding
}

func (km keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		km.Up,
		km.Down,
		km.MarkOK,
		km.Fix,
		km.Reset,
		km.Quit,
	}
}

func (km keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{km.Up, km.Down},
		{km.MarkOK, km.Fix, km.Reset},
		{km.Enter, km.Escape, km.Quit},
	}
}

func newKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
		MarkOK: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "mark as OK"),
		),
		Fix: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "fix value"),
		),
		Reset: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reset"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "submit"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
	}
}

// NewReviewModel returns the review screen for an analyzed auditor. wb is
// read to show each flagged cell's current value.
func NewReviewModel(ctx context.Context, auditor Auditor, wb host.Workbook, session *ReviewSession) ReviewModel {
	styles := DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Enter the correct value..."
	ti.Width = 40

	vp := viewport.New(40, 10)
	vp.Style = lipgloss.NewStyle()

	return ReviewModel{
		ctx:       ctx,
		auditor:   auditor,
		wb:        wb,
		session:   session,
		styles:    styles,
		viewport:  vp,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.Spinner)),
		width:     80,
		height:    24,
		busy:      true,
		textInput: ti,
		help:      help.New(),
		keys:      newKeyMap(),
	}
}

func (m ReviewModel) Init() tea.Cmd {
	return tea.Batch(m.flagCmd(), m.spinner.Tick)
}

func (m ReviewModel) flagCmd() tea.Cmd {
	return m.run(m.auditor.Flag)
}

func (m ReviewModel) markCmd() tea.Cmd {
	return m.run(m.auditor.MarkAsOK)
}

func (m ReviewModel) fixCmd(value string) tea.Cmd {
	return m.run(func(ctx context.Context) (address.Address, error) {
		return m.auditor.FixError(ctx, value)
	})
}

func (m ReviewModel) resetCmd() tea.Cmd {
	ctx, a := m.ctx, m.auditor
	return func() tea.Msg {
		return resetMsg{err: a.ResetTool(ctx)}
	}
}

// run performs op off the UI loop and describes the cell it flags.
func (m ReviewModel) run(op func(context.Context) (address.Address, error)) tea.Cmd {
	ctx, a, wb := m.ctx, m.auditor, m.wb
	return func() tea.Msg {
		cell, err := op(ctx)
		if err != nil {
			return flaggedMsg{err: err}
		}
		queue := a.Flaggable()
		item := &ReviewItem{
			Cell:       cell,
			Normalized: normalizedScore(a.Result(), cell),
			Status:     ReviewPending,
		}
		for _, sc := range queue {
			if sc.Address == cell {
				item.Score = sc.Count
				break
			}
		}
		if v, err := wb.ReadCellValue(ctx, cell); err == nil {
			item.Value = v
		}
		return flaggedMsg{item: item, queue: queue}
	}
}

func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width/2 - 4
		m.viewport.Height = msg.Height - 10
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case flaggedMsg:
		m.busy = false
		if msg.err != nil {
			if errors.Is(msg.err, audit.ErrNoBugsRemain) {
				m.session.NoBugsRemain = true
				m.queue = nil
				m.quitting = true
				return m, tea.Quit
			}
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.session.Items = append(m.session.Items, msg.item)
		m.queue = msg.queue
		m.viewport.SetContent(m.renderQueue())
		m.viewport.GotoTop()
		return m, nil

	case resetMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session.Reset = true
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		if m.inputMode {
			switch msg.String() {
			case "enter":
				value := strings.TrimSpace(m.textInput.Value())
				if value == "" {
					return m, nil
				}
				m.inputMode = false
				m.textInput.SetValue("")
				m.textInput.Blur()
				if m.session.decide(ReviewFixed, value) == nil {
					return m, nil
				}
				m.busy = true
				return m, tea.Batch(m.fixCmd(value), m.spinner.Tick)
			case "esc":
				m.inputMode = false
				m.textInput.SetValue("")
				m.textInput.Blur()
				return m, nil
			default:
				m.textInput, cmd = m.textInput.Update(msg)
				return m, cmd
			}
		}

		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}

		switch msg.String() {
		case "j", "down", "k", "up":
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd

		case "o":
			if m.session.decide(ReviewMarkedOK, "") == nil {
				return m, nil
			}
			m.busy = true
			return m, tea.Batch(m.markCmd(), m.spinner.Tick)

		case "f":
			item := m.session.Current()
			if item == nil {
				return m, nil
			}
			m.inputMode = true
			m.textInput.SetValue(item.Value)
			m.textInput.Focus()
			return m, textinput.Blink

		case "r":
			m.busy = true
			return m, tea.Batch(m.resetCmd(), m.spinner.Tick)
		}
	}

	return m, nil
}

func (m ReviewModel) View() string {
	if m.quitting {
		return ""
	}

	var sections []string
	sections = append(sections, m.renderTopBar())

	if m.busy && m.session.Current() == nil {
		sections = append(sections, m.spinner.View()+" Analyzing workbook...")
	} else {
		sections = append(sections, m.renderPanels())
	}

	if m.err != nil {
		sections = append(sections, m.styles.Error.Render("Error: "+m.err.Error()))
	}

	sections = append(sections, m.renderBottom())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m ReviewModel) renderTopBar() string {
	title := m.styles.Header.Render(fmt.Sprintf("cellaudit review - %s", m.session.Workbook))
	c := m.session.Counts()
	progress := m.styles.Counts.Render(fmt.Sprintf("ok %d  fixed %d  queued %d", c.MarkedOK, c.Fixed, len(m.queue)))
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", progress)
}

func (m ReviewModel) renderPanels() string {
	panelWidth := (m.width - 6) / 2
	left := lipgloss.NewStyle().Width(panelWidth).Render(m.renderFlagged())
	right := lipgloss.NewStyle().Width(panelWidth).Render(m.renderQueuePanel())
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func (m ReviewModel) renderFlagged() string {
	item := m.session.Current()
	if item == nil {
		return m.styles.Panel.Render(m.styles.Help.Render("No cell flagged"))
	}

	var b strings.Builder
	b.WriteString(m.styles.Marker.Render("Flagged cell"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.CellRef.Render(item.Cell.String()))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Value: %s\n", item.Value))
	b.WriteString(fmt.Sprintf("Score: %d  ", item.Score))
	b.WriteString(SuspicionColor(item.Normalized).Render(fmt.Sprintf("%.2f", item.Normalized)))
	if m.busy {
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + " Re-analyzing...")
	}
	return m.styles.Flagged.Render(b.String())
}

func (m ReviewModel) renderQueuePanel() string {
	title := m.styles.Queue.Render(fmt.Sprintf("Queue (%d)", len(m.queue)))
	return m.styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, m.viewport.View()))
}

// renderQueue lists the remaining flaggable cells, the flagged one marked.
func (m ReviewModel) renderQueue() string {
	var flagged address.Address
	if item := m.session.Current(); item != nil {
		flagged = item.Cell
	}
	lines := make([]string, 0, len(m.queue))
	for _, sc := range m.queue {
		marker := " "
		if sc.Address == flagged {
			marker = "▶"
		}
		lines = append(lines, fmt.Sprintf("%s %-16s %5d", marker, sc.Address, sc.Count))
	}
	return strings.Join(lines, "\n")
}

func (m ReviewModel) renderBottom() string {
	if m.inputMode {
		return m.styles.Help.Render("Correct value: " + m.textInput.View())
	}
	return m.styles.Help.Render(m.help.ShortHelpView(m.keys.ShortHelp()))
}
