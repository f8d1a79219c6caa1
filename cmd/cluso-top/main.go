// Command cluso-top is a terminal dashboard for a cluster middleware
// instance. It polls the admin API and can activate or deactivate members.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-dbcluster/pkg/admin"
	"github.com/dd0wney/cluso-dbcluster/pkg/health"
	clustertls "github.com/dd0wney/cluso-dbcluster/pkg/tls"
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

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)

	statusStyles = map[health.Status]lipgloss.Style{
		health.StatusHealthy:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true),
		health.StatusDegraded:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")).Bold(true),
		health.StatusUnhealthy: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
	}
)

type view int

const (
	membersView view = iota
	healthView
	viewCount
)

var viewNames = []string{"Members", "Health"}

type keyMap struct {
	Tab        key.Binding
	Activate   key.Binding
	Deactivate key.Binding
	Refresh    key.Binding
	Quit       key.Binding
	Up         key.Binding
	Down       key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	Activate: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "activate"),
	),
	Deactivate: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "deactivate"),
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
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Activate, k.Deactivate, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Refresh, k.Quit},
		{k.Up, k.Down},
		{k.Activate, k.Deactivate},
	}
}

// source is the part of the admin client the dashboard uses.
type source interface {
	Members(ctx context.Context) ([]admin.MemberStatus, error)
	Health(ctx context.Context) (health.Response, error)
	Activate(ctx context.Context, id, strategy string) (admin.MemberStatus, error)
	Deactivate(ctx context.Context, id string) (admin.MemberStatus, error)
}

type model struct {
	src         source
	strategy    string
	interval    time.Duration
	currentView view
	memberTable table.Model
	help        help.Model
	keys        keyMap
	width       int
	height      int
	members     []admin.MemberStatus
	report      health.Response
	refreshed   time.Time
	pending     string
	message     string
	messageErr  bool
}

type tickMsg time.Time

type snapshotMsg struct {
	members []admin.MemberStatus
	report  health.Response
	err     error
}

type actionMsg struct {
	verb   string
	status admin.MemberStatus
	err    error
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func initialModel(src source, interval time.Duration, strategy string) model {
	columns := []table.Column{
		{Title: "ID", Width: 16},
		{Title: "Driver", Width: 10},
		{Title: "Weight", Width: 8},
		{Title: "Local", Width: 6},
		{Title: "State", Width: 10},
		{Title: "Dirty", Width: 6},
	}

	t := table.New(
		table.WithColumns(columns),
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

	return model{
		src:         src,
		strategy:    strategy,
		interval:    interval,
		currentView: membersView,
		memberTable: t,
		help:        help.New(),
		keys:        keys,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tickCmd(m.interval))
}

func (m model) fetch() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), admin.DefaultClientTimeout)
		defer cancel()
		members, err := src.Members(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		report, err := src.Health(ctx)
		return snapshotMsg{members: members, report: report, err: err}
	}
}

func (m model) act(verb, id string) tea.Cmd {
	src, strategy := m.src, m.strategy
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), admin.DefaultClientTimeout)
		defer cancel()
		var (
			st  admin.MemberStatus
			err error
		)
		if verb == "activate" {
			st, err = src.Activate(ctx, id, strategy)
		} else {
			st, err = src.Deactivate(ctx, id)
		}
		if st.ID == "" {
			st.ID = id
		}
		return actionMsg{verb: verb, status: st, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tea.Batch(m.fetch(), tickCmd(m.interval))

	case snapshotMsg:
		if msg.err != nil {
			m.setMessage(fmt.Sprintf("Refresh failed: %v", msg.err), true)
			return m, nil
		}
		m.members = msg.members
		m.report = msg.report
		m.refreshed = time.Now()
		m.updateMemberTable()
		return m, nil

	case actionMsg:
		m.pending = ""
		if msg.err != nil {
			m.setMessage(fmt.Sprintf("Failed to %s %s: %v", msg.verb, msg.status.ID, msg.err), true)
		} else {
			m.setMessage(fmt.Sprintf("%s is %s", msg.status.ID, msg.status.State), false)
		}
		return m, m.fetch()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % viewCount
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()

		case key.Matches(msg, m.keys.Activate), key.Matches(msg, m.keys.Deactivate):
			if m.currentView != membersView || m.pending != "" {
				return m, nil
			}
			row := m.memberTable.SelectedRow()
			if row == nil {
				return m, nil
			}
			verb := "deactivate"
			if key.Matches(msg, m.keys.Activate) {
				verb = "activate"
			}
			m.pending = row[0]
			m.setMessage(fmt.Sprintf("%s %s...", strings.ToUpper(verb[:1])+verb[1:], row[0]), false)
			return m, m.act(verb, row[0])
		}
	}

	if m.currentView == membersView {
		m.memberTable, cmd = m.memberTable.Update(msg)
	}
	return m, cmd
}

func (m *model) setMessage(text string, isErr bool) {
	m.message = text
	m.messageErr = isErr
}

func (m *model) updateMemberTable() {
	rows := make([]table.Row, 0, len(m.members))
	for _, st := range m.members {
		rows = append(rows, table.Row{
			st.ID,
			st.Driver,
			fmt.Sprintf("%d", st.Weight),
			yesNo(st.Local),
			st.State,
			yesNo(st.Dirty),
		})
	}
	m.memberTable.SetRows(rows)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("Cluso DB Cluster"))
	s.WriteString("\n\n")

	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case membersView:
		s.WriteString(m.renderMembers())
	case healthView:
		s.WriteString(m.renderHealth())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(errorStyle.Render("✗ " + m.message))
		} else {
			s.WriteString(successStyle.Render("✓ " + m.message))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return s.String()
}

func (m model) renderTabs() string {
	var renderedTabs []string
	for i, tab := range viewNames {
		if view(i) == m.currentView {
			renderedTabs = append(renderedTabs, activeTabStyle.Render(tab))
		} else {
			renderedTabs = append(renderedTabs, inactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)
}

func (m model) renderStatus() string {
	if m.report.Status == "" {
		return "unknown"
	}
	style, ok := statusStyles[m.report.Status]
	if !ok {
		return string(m.report.Status)
	}
	return style.Render(string(m.report.Status))
}

func (m model) renderMembers() string {
	active := 0
	for _, st := range m.members {
		if st.State == "active" {
			active++
		}
	}

	summary := fmt.Sprintf("Status:    %s\nActive:    %d/%d\nRefreshed: %s",
		m.renderStatus(), active, len(m.members), formatTime(m.refreshed))

	return contentStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		statsBoxStyle.Render(summary),
		"",
		m.memberTable.View(),
	))
}

func (m model) renderHealth() string {
	if len(m.report.Checks) == 0 {
		return contentStyle.Render(helpStyle.Render("No health report yet"))
	}

	names := make([]string, 0, len(m.report.Checks))
	for name := range m.report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var s strings.Builder
	fmt.Fprintf(&s, "Overall: %s   Uptime: %s\n\n", m.renderStatus(), m.report.Uptime.Round(time.Second))
	for _, name := range names {
		check := m.report.Checks[name]
		status := string(check.Status)
		if style, ok := statusStyles[check.Status]; ok {
			status = style.Render(status)
		}
		fmt.Fprintf(&s, "%-24s %s", name, status)
		if check.Message != "" {
			fmt.Fprintf(&s, "  %s", check.Message)
		}
		s.WriteString("\n")
	}
	return contentStyle.Render(statsBoxStyle.Render(strings.TrimRight(s.String(), "\n")))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("15:04:05")
}

func main() {
	addr := flag.String("addr", "http://localhost:9090", "Admin API base URL")
	token := flag.String("token", os.Getenv("CLUSO_ADMIN_TOKEN"), "Bearer token for the admin API")
	caFile := flag.String("ca", "", "CA file for https admin endpoints")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	interval := flag.Duration("interval", 2*time.Second, "Refresh interval")
	strategy := flag.String("strategy", "", "Synchronization strategy for activation (default: cluster default)")
	flag.Parse()

	var tlsConfig *tls.Config
	if *caFile != "" || *insecure {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: *insecure}
		if *caFile != "" {
			pool, err := clustertls.LoadCAPool(*caFile)
			if err != nil {
				log.Fatalf("Failed to load CA: %v", err)
			}
			tlsConfig.RootCAs = pool
		}
	}

	client := admin.NewClient(*addr, *token, tlsConfig)
	p := tea.NewProgram(initialModel(client, *interval, *strategy), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}
