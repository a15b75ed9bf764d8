package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/chatexec/internal/api"
	"github.com/mattjoyce/chatexec/internal/history"
)

const (
	pollInterval = 2 * time.Second
	historyDepth = 20
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health    api.HealthzResponse
	connected bool
	lastCheck time.Time
	commands  []api.CommandInfo
	entries   []history.Entry

	cmdTable table.Model
	theme    Theme

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	columns := []table.Column{
		{Title: "Command", Width: 20},
		{Title: "Source", Width: 8},
		{Title: "Timeout", Width: 8},
		{Title: "Help", Width: 48},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#E5C07B"))
	t.SetStyles(styles)

	return &Model{
		apiURL:   apiURL,
		apiKey:   apiKey,
		cmdTable: t,
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchHealth(m.apiURL, m.apiKey),
		fetchCommands(m.apiURL, m.apiKey),
		fetchHistory(m.apiURL, m.apiKey, historyDepth),
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.cmdTable, cmd = m.cmdTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(
			fetchHealth(m.apiURL, m.apiKey),
			fetchCommands(m.apiURL, m.apiKey),
			fetchHistory(m.apiURL, m.apiKey, historyDepth),
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.connected = true
		m.lastCheck = time.Now()
		m.lastError = ""

	case commandsMsg:
		m.commands = msg
		rows := make([]table.Row, 0, len(msg))
		for _, c := range msg {
			rows = append(rows, table.Row{
				c.Name,
				c.Source,
				fmt.Sprintf("%ds", c.TimeoutSeconds),
				firstLine(c.Help),
			})
		}
		m.cmdTable.SetRows(rows)

	case historyMsg:
		m.entries = msg

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	header := m.renderHeader()
	commands := m.theme.Border.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Commands"),
			m.cmdTable.View(),
		),
	)
	histPane := m.theme.Border.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Recent Executions"),
			m.renderHistory(),
		),
	)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(" ⚠ " + m.lastError)
	}

	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Navigate Commands")

	parts := []string{header, commands, histPane}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	status := m.theme.StatusFailed.Render("● disconnected")
	if m.connected {
		status = m.theme.StatusOK.Render("● connected")
	}
	info := fmt.Sprintf(" %d commands • up %s",
		m.health.CommandsLoaded,
		(time.Duration(m.health.UptimeSeconds) * time.Second).String(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Left,
		m.theme.Header.Render("chatexec watch "),
		status,
		m.theme.Dim.Render(info),
	)
}

func (m Model) renderHistory() string {
	if len(m.entries) == 0 {
		return m.theme.Dim.Render("  no executions yet")
	}

	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		style := m.theme.StatusOK
		detail := ""
		switch e.Outcome {
		case "completed":
			if e.ExitCode != nil && *e.ExitCode != 0 {
				style = m.theme.StatusFailed
				detail = fmt.Sprintf("exit %d", *e.ExitCode)
			} else {
				detail = "exit 0"
			}
		case "timed_out":
			style = m.theme.StatusTimedOut
			detail = "timed out"
		default:
			style = m.theme.StatusFailed
			detail = e.Outcome
		}
		lines = append(lines, fmt.Sprintf(" %s  %-18s %s  %s",
			m.theme.Dim.Render(e.StartedAt.Local().Format("15:04:05")),
			e.Command,
			style.Render(detail),
			m.theme.Dim.Render(fmt.Sprintf("%dms", e.DurationMS)),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
