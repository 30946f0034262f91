package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
	cancel  context.CancelFunc
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	elapsed := time.Since(m.started).Round(100 * time.Millisecond)
	if !m.done {
		fmt.Fprintf(&b, "%s %s %s\n", spinnerStyle.Render(frames[m.frame]), titleStyle.Render(m.title), detailStyle.Render(elapsed.String()))
		return b.String()
	}
	if m.err != nil {
		fmt.Fprintf(&b, "%s %s\n", failStyle.Render("FAIL"), titleStyle.Render(m.title))
	} else {
		fmt.Fprintf(&b, "%s %s %s\n", okStyle.Render("PASS"), titleStyle.Render(m.title), detailStyle.Render(elapsed.String()))
	}
	for _, d := range m.details {
		fmt.Fprintf(&b, "  %s %s\n", detailStyle.Render("•"), d)
	}
	if m.err != nil {
		fmt.Fprintf(&b, "  %s\n", failStyle.Render(m.err.Error()))
	}
	return b.String()
}

// Run executes fn behind a terminal spinner and prints its details when it
// finishes. Pressing q or ctrl+c cancels fn's context.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(model{title: title, started: time.Now(), cancel: cancel})
	go func() {
		details, err := fn(ctx)
		p.Send(doneMsg{details: details, err: err})
	}()
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("run ui: %w", err)
	}
	m := final.(model)
	return m.details, m.err
}
