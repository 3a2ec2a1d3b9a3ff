// Package tui is the live index dashboard shown by `codegraph watch --ui`.
package tui

import (
	coreapp "codegraph/internal/core/app"
	"codegraph/internal/shared/util"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	unresolvedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

// StatsSource returns the current index statistics.
type StatsSource func() coreapp.Stats

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type panelMode int

const (
	panelBreakdown panelMode = iota
	panelStale
)

type statsMsg coreapp.Stats

type tickMsg time.Time

type model struct {
	source     StatsSource
	interval   time.Duration
	stats      coreapp.Stats
	breakdown  list.Model
	stale      list.Model
	mode       panelMode
	lastUpdate time.Time
}

func newModel(source StatsSource, interval time.Duration) model {
	breakdown := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	breakdown.Title = "Index Breakdown"
	breakdown.SetShowStatusBar(false)
	breakdown.SetFilteringEnabled(true)

	stale := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	stale.Title = "Stale Files"
	stale.SetShowStatusBar(false)
	stale.SetFilteringEnabled(true)

	return model{
		source:    source,
		interval:  interval,
		breakdown: breakdown,
		stale:     stale,
		mode:      panelBreakdown,
	}
}

func (m model) refresh() tea.Cmd {
	source := m.source
	return func() tea.Msg { return statsMsg(source()) }
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.activeList().FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if m.mode == panelBreakdown {
				m.mode = panelStale
			} else {
				m.mode = panelBreakdown
			}
			return m, nil
		case "r":
			return m, m.refresh()
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		height := msg.Height - v - 6
		if height < 5 {
			height = 5
		}
		m.breakdown.SetSize(msg.Width-h, height)
		m.stale.SetSize(msg.Width-h, height)
	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())
	case statsMsg:
		m.stats = coreapp.Stats(msg)
		m.lastUpdate = time.Now()
		m.breakdown.SetItems(breakdownItems(m.stats))
		m.stale.SetItems(staleItems(m.stats))
		return m, nil
	}

	var cmd tea.Cmd
	if m.mode == panelBreakdown {
		m.breakdown, cmd = m.breakdown.Update(msg)
	} else {
		m.stale, cmd = m.stale.Update(msg)
	}
	return m, cmd
}

func (m *model) activeList() *list.Model {
	if m.mode == panelStale {
		return &m.stale
	}
	return &m.breakdown
}

func breakdownItems(st coreapp.Stats) []list.Item {
	var items []list.Item
	add := func(group string, counts map[string]int) {
		for _, k := range util.SortedStringKeys(counts) {
			items = append(items, item{title: k, desc: fmt.Sprintf("%s: %d", group, counts[k])})
		}
	}
	add("symbols", st.SymbolsByKind)
	add("relationships", st.RelationsByKind)
	add("files", st.FilesByLanguage)
	return items
}

func staleItems(st coreapp.Stats) []list.Item {
	items := make([]list.Item, 0, len(st.StaleFiles)+len(st.PendingRebuilds))
	for _, f := range st.StaleFiles {
		items = append(items, item{title: f, desc: "parse error; last good revision served"})
	}
	for _, f := range st.PendingRebuilds {
		items = append(items, item{title: f, desc: "awaiting forced rebuild"})
	}
	return items
}

func (m model) View() string {
	st := m.stats
	status := statusStyle.Render(fmt.Sprintf("Last update: %s | revision %d | %d files | %d symbols | %d relationships | queue %d",
		m.lastUpdate.Format("15:04:05"), st.Revision, st.Files, st.Symbols, st.Relationships, st.QueueDepth))

	var summary string
	if len(st.StaleFiles) == 0 && st.Unresolved == 0 {
		summary = successStyle.Render("Index Clean")
	} else {
		summary = fmt.Sprintf("%s | %s",
			staleStyle.Render(fmt.Sprintf("%d stale", len(st.StaleFiles))),
			unresolvedStyle.Render(fmt.Sprintf("%d unresolved", st.Unresolved)))
	}
	cache := statusStyle.Render(fmt.Sprintf("cache %d/%d entries, hit ratio %.0f%%",
		st.Cache.Entries, st.Cache.Capacity, st.Cache.HitRatio*100))

	header := fmt.Sprintf("%s\n%s | %s\n%s\n", titleStyle("codegraph"), status, summary, cache)
	help := statusStyle.Render(strings.Join([]string{"tab: switch panel", "r: refresh", "/: filter", "q: quit"}, " | "))

	body := m.breakdown.View()
	if m.mode == panelStale {
		body = m.stale.View()
	}
	return docStyle.Render(header + "\n" + help + "\n\n" + body)
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, source StatsSource, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	p := tea.NewProgram(newModel(source, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
