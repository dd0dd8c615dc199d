package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-http-trigger/executor"
	"github.com/wippyai/wasm-http-trigger/tracker"
)

const refreshInterval = 500 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type tickMsg time.Time

type dashboardModel struct {
	tracker   *tracker.MemoryTracker
	component string
	table     table.Model
}

func newDashboardModel(component string, t *tracker.MemoryTracker) *dashboardModel {
	rows := statsRows(t.Stats())
	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Metric", Width: 16},
			{Title: "Value", Width: 14},
		}),
		table.WithRows(rows),
		// one line for the header
		table.WithHeight(len(rows)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true)
	styles.Selected = lipgloss.NewStyle()
	tbl.SetStyles(styles)

	return &dashboardModel{tracker: t, component: component, table: tbl}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *dashboardModel) Init() tea.Cmd {
	return tick()
}

func statsRows(s tracker.Stats) []table.Row {
	return []table.Row{
		{"Instances", strconv.FormatUint(s.InstanceCount, 10)},
		{"Current memory", executor.FormatBytes(s.CurrentMemory)},
		{"Peak memory", executor.FormatBytes(s.PeakMemory)},
	}
}

func (m *dashboardModel) refresh() {
	m.table.SetRows(statsRows(m.tracker.Stats()))
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case tickMsg:
		m.refresh()
		return m, tick()
	}
	return m, nil
}

func (m *dashboardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("HTTP Trigger"))
	b.WriteString(" ")
	b.WriteString(m.component)
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("q quit"))
	return b.String()
}

// runDashboard shows the tracker until the user quits or ctx ends.
func runDashboard(ctx context.Context, component string, t *tracker.MemoryTracker) error {
	p := tea.NewProgram(newDashboardModel(component, t), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
