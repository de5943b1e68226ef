// Package tui is a terminal dashboard over a recall store: registered
// sources, recent activity, and aggregated token usage, refreshed on a
// timer while recall watch runs in the background.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/recall-tools/recall/internal/store"
	"github.com/recall-tools/recall/internal/usage"
)

// Tab is one pane of the dashboard.
type Tab int

const (
	TabSources Tab = iota
	TabTimeline
	TabUsage
)

func (t Tab) String() string {
	return []string{"Sources", "Timeline", "Usage"}[t]
}

// Model is the dashboard's bubbletea model.
type Model struct {
	dbPath string

	currentTab  Tab
	width       int
	height      int
	ready       bool
	lastRefresh time.Time
	err         error

	sources  []store.Source
	timeline []store.Event
	usage    usage.Summary

	spinner spinner.Model
}

type tickMsg time.Time

type dataMsg struct {
	sources  []store.Source
	timeline []store.Event
	usage    usage.Summary
	err      error
}

// NewModel creates a dashboard bound to the store at dbPath.
func NewModel(dbPath string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		dbPath:     dbPath,
		currentTab: TabSources,
		spinner:    s,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.refreshData,
		tickEvery(5*time.Second),
	)
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refreshData() tea.Msg {
	data := dataMsg{}

	st, err := store.Open(m.dbPath)
	if err != nil {
		data.err = err
		return data
	}
	defer st.Close()

	if sources, err := st.ListSources(""); err == nil {
		data.sources = sources
	}

	if events, _, _, err := st.Timeline(store.Filter{Limit: 15}); err == nil {
		data.timeline = events
	}

	if summary, err := usage.GetSummary(st, nil, nil, usage.KnownPricing()); err == nil {
		data.usage = summary
	}

	return data
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "1":
			m.currentTab = TabSources
		case "2":
			m.currentTab = TabTimeline
		case "3":
			m.currentTab = TabUsage
		case "r":
			return m, m.refreshData
		case "tab":
			m.currentTab = Tab((int(m.currentTab) + 1) % 3)
		case "shift+tab":
			m.currentTab = Tab((int(m.currentTab) + 2) % 3)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tickMsg:
		return m, tea.Batch(
			m.refreshData,
			tickEvery(5*time.Second),
		)

	case dataMsg:
		m.sources = msg.sources
		m.timeline = msg.timeline
		m.usage = msg.usage
		m.err = msg.err
		m.lastRefresh = time.Now()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	switch m.currentTab {
	case TabSources:
		b.WriteString(m.renderSourcesTab())
	case TabTimeline:
		b.WriteString(m.renderTimelineTab())
	case TabUsage:
		b.WriteString(m.renderUsageTab())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) renderHeader() string {
	title := "recall"
	refresh := fmt.Sprintf("Last refresh: %s", m.lastRefresh.Format("15:04:05"))

	headerWidth := m.width
	if headerWidth < 60 {
		headerWidth = 60
	}

	left := lipgloss.NewStyle().Bold(true).Render(title)
	right := lipgloss.NewStyle().Foreground(mutedColor).Render(refresh)

	gap := headerWidth - lipgloss.Width(left) - lipgloss.Width(right) - 4
	if gap < 0 {
		gap = 0
	}

	return lipgloss.NewStyle().
		Background(lipgloss.Color("#2D3748")).
		Foreground(lipgloss.Color("#FFFFFF")).
		Padding(0, 1).
		Width(headerWidth).
		Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderTabs() string {
	var tabs []string
	for i := 0; i < 3; i++ {
		tab := Tab(i)
		style := tabStyle
		if tab == m.currentTab {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(fmt.Sprintf("[%d]%s", i+1, tab.String())))
	}
	return strings.Join(tabs, " ")
}

func (m Model) renderFooter() string {
	help := "  [1-3] Switch tabs  [Tab] Next  [r] Refresh  [q] Quit"
	if m.err != nil {
		help = statusErrorStyle.Render(m.err.Error()) + "\n" + help
	}
	return helpStyle.Render(help)
}

func (m Model) renderSourcesTab() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sources"))
	b.WriteString("\n\n")

	if len(m.sources) == 0 {
		b.WriteString(statusMutedStyle.Render("  no sources registered"))
		return b.String()
	}

	for _, s := range m.sources {
		icon := StatusIcon(string(s.Status))
		b.WriteString(fmt.Sprintf("  %s %-10s %-8s %s\n", icon, s.Kind, s.Status, s.Locator))
	}
	return b.String()
}

func (m Model) renderTimelineTab() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Timeline"))
	b.WriteString("\n\n")

	if len(m.timeline) == 0 {
		b.WriteString(statusMutedStyle.Render("  no events yet"))
		return b.String()
	}

	for _, e := range m.timeline {
		ts := e.EventTS.Format("15:04:05")
		b.WriteString(fmt.Sprintf("  %s %-10s %s\n", statusMutedStyle.Render(ts), e.EventType, e.ToolName))
	}
	return b.String()
}

func (m Model) renderUsageTab() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Usage"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("  Input tokens:       %d\n", m.usage.InputTokens))
	b.WriteString(fmt.Sprintf("  Output tokens:      %d\n", m.usage.OutputTokens))
	b.WriteString(fmt.Sprintf("  Cache read tokens:  %d\n", m.usage.CacheReadTokens))
	b.WriteString(fmt.Sprintf("  Cache write tokens: %d\n", m.usage.CacheCreateTokens))
	b.WriteString(fmt.Sprintf("  Cost:               %s\n", statusActiveStyle.Render(fmt.Sprintf("$%.4f", m.usage.CostUSD))))
	return b.String()
}

// Run starts the dashboard as a full-screen bubbletea program.
func Run(dbPath string) error {
	p := tea.NewProgram(
		NewModel(dbPath),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
