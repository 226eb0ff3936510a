package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-ccm/pkg/ccm"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	settledStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	formingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	overviewView view = iota
	rosterView
)

var viewNames = []string{"Overview", "Roster"}

type keyMap struct {
	Tab     key.Binding
	Refresh key.Binding
	Quit    key.Binding
	Up      key.Binding
	Down    key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("up/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("down/j", "down"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Tab, k.Refresh}, {k.Up, k.Down}, {k.Quit}}
}

type model struct {
	src         fetcher
	interval    time.Duration
	currentView view
	roster      table.Model
	spinner     spinner.Model
	help        help.Model
	keys        keyMap
	width       int
	snap        *ccm.Snapshot
	err         error
	fetching    bool
	lastFetch   time.Time
	transitions int
}

type tickMsg time.Time

type statusMsg struct {
	snap ccm.Snapshot
	err  error
	at   time.Time
}

func initialModel(src fetcher, interval time.Duration) model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Idx", Width: 4},
			{Title: "Node", Width: 20},
			{Title: "Status", Width: 8},
			{Title: "Member", Width: 7},
			{Title: "UUID", Width: 36},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		src:      src,
		interval: interval,
		roster:   t,
		spinner:  sp,
		help:     help.New(),
		keys:     keys,
	}
}

func (m model) fetchCmd() tea.Cmd {
	src := m.src
	timeout := m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, err := src.Fetch(ctx)
		return statusMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd(), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % view(len(viewNames))
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			if !m.fetching {
				m.fetching = true
				return m, m.fetchCmd()
			}
			return m, nil
		}
		if m.currentView == rosterView {
			var cmd tea.Cmd
			m.roster, cmd = m.roster.Update(msg)
			return m, cmd
		}
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{m.tickCmd()}
		if !m.fetching {
			m.fetching = true
			cmds = append(cmds, m.fetchCmd())
		}
		return m, tea.Batch(cmds...)

	case statusMsg:
		m.fetching = false
		m.lastFetch = msg.at
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		if m.snap != nil && m.snap.Major != msg.snap.Major {
			m.transitions++
		}
		snap := msg.snap
		m.snap = &snap
		m.roster.SetRows(rosterRows(snap))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func rosterRows(snap ccm.Snapshot) []table.Row {
	rows := make([]table.Row, 0, len(snap.Roster))
	for _, n := range snap.Roster {
		member := ""
		if n.Member {
			member = "yes"
		}
		rows = append(rows, table.Row{fmt.Sprint(n.Index), n.Name, n.Status, member, n.UUID})
	}
	return rows
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("ccm-top"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch {
	case m.snap == nil && m.err == nil:
		s.WriteString(contentStyle.Render(m.spinner.View() + " connecting..."))
	case m.currentView == overviewView:
		s.WriteString(m.renderOverview())
	case m.currentView == rosterView:
		s.WriteString(contentStyle.Render(m.roster.View()))
	}

	if m.err != nil {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("  " + m.err.Error()))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func (m model) renderTabs() string {
	rendered := make([]string, 0, len(viewNames))
	for i, name := range viewNames {
		if view(i) == m.currentView {
			rendered = append(rendered, activeTabStyle.Render(name))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) renderOverview() string {
	if m.snap == nil {
		return ""
	}
	snap := m.snap

	state := formingStyle.Render(snap.State)
	if snap.Settled {
		state = settledStyle.Render(snap.State)
	}
	if snap.Stopped {
		state = errorStyle.Render("STOPPED")
	}

	node := fmt.Sprintf(`Node
-----------------
Name:        %s
State:       %s
Leader:      %s
Quorum:      %v
Transition:  %d.%d
Joined at:   %d
Cookie:      %s`,
		snap.Node, state, dash(snap.Leader), snap.Quorum,
		snap.Major, snap.Minor, snap.JoinedTransition, dash(snap.Cookie))

	var report string
	if r := snap.LastReport; r != nil {
		var members strings.Builder
		for _, mem := range r.Members {
			fmt.Fprintf(&members, "\n  %-16s born %d", mem.Name, mem.BornOn)
		}
		report = fmt.Sprintf(`Last report
-----------------
Transition:  %d
Leader:      %s
Settled at:  %s
Members:%s`,
			r.Transition, r.Leader, r.At.Format(time.TimeOnly), members.String())
	} else {
		report = "Last report\n-----------------\nnone yet"
	}

	footer := fmt.Sprintf("transitions seen: %d   last poll: %s",
		m.transitions, m.lastFetch.Format(time.TimeOnly))

	return contentStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Top, statsBoxStyle.Render(node), statsBoxStyle.Render(report)) +
			"\n" + helpStyle.Render(footer))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
