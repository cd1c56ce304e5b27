package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/backfill/session"
)

// refreshInterval is how often the view samples the session.
const refreshInterval = 100 * time.Millisecond

// Source is the session state the progress view reads.
type Source interface {
	Status() []session.TargetStatus
	IsDone() bool
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "hide"),
	),
}

type tickMsg time.Time

// ProgressModel shows per-target sync status while a session runs.
type ProgressModel struct {
	source   Source
	spinner  spinner.Model
	targets  []session.TargetStatus
	done     bool
	quitting bool
	width    int
}

// NewProgressModel creates a progress model reading from source.
func NewProgressModel(source Source) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle
	return ProgressModel{
		source:  source,
		spinner: sp,
		targets: source.Status(),
		width:   80,
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		// Sample done before status so the last snapshot is complete.
		done := m.source.IsDone()
		m.targets = m.source.Status()
		if done {
			m.done = true
			return m, tea.Quit
		}
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Done reports whether the session finished while the view was open.
func (m ProgressModel) Done() bool {
	return m.done
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("backfill sync"))
	b.WriteString("\n")

	counts := make(map[session.Status]int)
	for _, t := range m.targets {
		counts[t.Status]++
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("synced", counts[session.StatusSynced]+counts[session.StatusViewed], successColor),
		renderStatBox("skipped", counts[session.StatusSkipped], mutedColor),
		renderStatBox("failed", counts[session.StatusFailed], errorColor),
		renderStatBox("pending", counts[session.StatusPending]+counts[session.StatusRunning], highlightColor),
	))
	b.WriteString("\n")

	pathWidth := m.width - 14
	if pathWidth < 20 {
		pathWidth = 20
	}
	for _, t := range m.targets {
		marker := "  "
		if t.Status == session.StatusRunning && !m.done {
			marker = m.spinner.View() + " "
		}
		label := LabelStyle.Inherit(StatusStyle(string(t.Status))).Render(string(t.Status))
		fmt.Fprintf(&b, "%s%s %s\n", marker, label, truncateLeft(t.Path, pathWidth))
	}

	if !m.done && !m.quitting {
		b.WriteString(HelpStyle.Render("q: hide progress (sync continues)"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	box := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return box.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// truncateLeft keeps the tail of a path, which is where run directories
// differ.
func truncateLeft(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return "..." + s[len(s)-width+3:]
}

// RunProgress shows the progress view until the session finishes or the
// user hides it. The session keeps running either way.
func RunProgress(source Source, out io.Writer) error {
	p := tea.NewProgram(NewProgressModel(source), tea.WithOutput(out))
	_, err := p.Run()
	return err
}
