// Package tui provides a Bubble Tea TUI for viewing session reports.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/report"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	bulletStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	barStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))

	kindEnterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindAwayStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindLinkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabViewer
	tabActivity
	tabInteractions
	tabAbsences
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Viewer", "Activity", "Interactions", "Absences", "Timeline",
}

// ── Timeline event ───────────────────

type eventKind string

const (
	kindEnter  eventKind = "ENTER"
	kindLeave  eventKind = "LEAVE"
	kindReturn eventKind = "RETURN"
	kindLink   eventKind = "LINK"
	kindExit   eventKind = "EXIT"
)

type timelineEvent struct {
	ts   time.Time
	kind eventKind
	text string
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	report    *report.Report
	filename  string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	timeline  []timelineEvent
}

// New creates a new TUI model for the given report and source filename.
func New(r *report.Report, filename string) Model {
	return Model{
		report:   r,
		filename: filepath.Base(filename),
		sortAsc:  true,
		timeline: buildTimeline(r),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4", "5", "6":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				if m.ready {
					m.viewports[tabTimeline].SetContent(m.renderTab(tabTimeline))
					m.viewports[tabTimeline].GotoTop()
				}
			}
		}
		if !m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  viewtrack  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-6 jump  q quit"
	if m.activeTab == tabTimeline {
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title, tab row and status bar take one row each
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabViewer:
		return m.renderViewer()
	case tabActivity:
		return m.renderActivity()
	case tabInteractions:
		return m.renderInteractions()
	case tabAbsences:
		return m.renderAbsences()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func bullet(text string) string {
	return bulletStyle.Render("  •") + "  " + text + "\n"
}

func none() string { return dimStyle.Render("  (none)") + "\n" }

func row(sb *strings.Builder, label, value string) {
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-16s", label)) + "  " + value + "\n")
}

func (m *Model) renderSummary() string {
	s := m.report.Session
	var sb strings.Builder
	sb.WriteString(heading("Session Summary"))
	row(&sb, "Surface:", string(s.Surface))
	row(&sb, "Subject:", s.SubjectID)
	row(&sb, "Source:", s.SourceURL)
	row(&sb, "Session:", s.ID)
	row(&sb, "Entered:", s.EntryTime.Format("2006-01-02 15:04:05 MST"))
	row(&sb, "Left:", s.ExitTime.Format("2006-01-02 15:04:05 MST"))
	row(&sb, "Duration:", s.Duration)
	row(&sb, "Active Time:", s.ActiveTime)
	if s.Stale {
		row(&sb, "Ended:", "by inactivity")
	}

	snap := m.report.Snapshot
	sb.WriteString(heading("Counts"))
	switch s.Surface.Kind() {
	case telemetry.KindPaged:
		row(&sb, "Pages Visited:", fmt.Sprintf("%d", snap.PagesVisited()))
		row(&sb, "Selections:", fmt.Sprintf("%d", len(snap.Selections)))
		row(&sb, "Clicks:", fmt.Sprintf("%d", snap.TotalClicks))
		row(&sb, "Links:", fmt.Sprintf("%d", len(snap.Links)))
	case telemetry.KindVideo:
		if p := snap.Playback; p != nil {
			row(&sb, "Plays:", fmt.Sprintf("%d", p.PlayCount))
			row(&sb, "Pauses:", fmt.Sprintf("%d", p.PauseCount))
			row(&sb, "Seeks:", fmt.Sprintf("%d", p.SeekCount))
		}
	case telemetry.KindPage:
		row(&sb, "Heatmap Cells:", fmt.Sprintf("%d", len(snap.Heatmap)))
	}
	row(&sb, "Absences:", fmt.Sprintf("%d", len(snap.Absences)))
	return sb.String()
}

func (m *Model) renderViewer() string {
	id := m.report.Snapshot.Identity
	var sb strings.Builder
	sb.WriteString(heading("Viewer"))
	row(&sb, "User:", id.UserID)
	row(&sb, "IP:", id.IP)
	row(&sb, "Location:", id.Location)
	row(&sb, "Region:", id.Region)
	row(&sb, "Device:", id.Device)
	row(&sb, "OS:", id.OS)
	row(&sb, "Browser:", id.Browser)
	row(&sb, "Identified:", fmt.Sprintf("%t", m.report.Snapshot.IdentificationSent))
	return sb.String()
}

func (m *Model) renderActivity() string {
	snap := m.report.Snapshot
	var sb strings.Builder
	switch snap.Subject.Surface.Kind() {
	case telemetry.KindPaged:
		sb.WriteString(heading(fmt.Sprintf("Pages (%d)", snap.PagesVisited())))
		if len(snap.Units) == 0 {
			sb.WriteString(none())
			break
		}
		var longest time.Duration
		for _, u := range snap.Units {
			longest = max(longest, snap.UnitTime[u])
		}
		for _, u := range snap.Units {
			d := snap.UnitTime[u]
			mark := "  "
			if u == snap.MostVisited {
				mark = bulletStyle.Render(" ★")
			}
			sb.WriteString(fmt.Sprintf("%s p.%-4d %s  %s\n", mark, u, bar(d, longest, m.width/2), timeStyle.Render(human(d))))
		}

	case telemetry.KindVideo:
		sb.WriteString(heading("Playback"))
		p := snap.Playback
		if p == nil {
			sb.WriteString(none())
			break
		}
		row(&sb, "Watched:", human(snap.ActiveTime))
		row(&sb, "Downloaded:", fmt.Sprintf("%t", p.Downloaded))
		sb.WriteString(heading("Speed"))
		if len(p.Speeds) == 0 {
			sb.WriteString(dimStyle.Render("  normal speed throughout") + "\n")
		}
		for _, sp := range p.Speeds {
			sb.WriteString(bullet(fmt.Sprintf("%gx  %s → %s", sp.Speed, delivery.FormatTime(sp.Start), openEnd(sp.End))))
		}
		sb.WriteString(heading("Fullscreen"))
		if len(p.Fullscreen) == 0 {
			sb.WriteString(none())
		}
		for _, fs := range p.Fullscreen {
			sb.WriteString(bullet(fmt.Sprintf("%s → %s", delivery.FormatTime(fs.Entered), openEnd(fs.Exited))))
		}

	case telemetry.KindPage:
		sb.WriteString(heading(fmt.Sprintf("Pointer Heatmap (%d cells)", len(snap.Heatmap))))
		if len(snap.Heatmap) == 0 {
			sb.WriteString(none())
			break
		}
		cells := make([]string, 0, len(snap.Heatmap))
		var longest time.Duration
		for k, d := range snap.Heatmap {
			cells = append(cells, k)
			longest = max(longest, d)
		}
		sort.Slice(cells, func(i, j int) bool {
			di, dj := snap.Heatmap[cells[i]], snap.Heatmap[cells[j]]
			if di != dj {
				return di > dj
			}
			return cells[i] < cells[j]
		})
		for _, k := range cells {
			d := snap.Heatmap[k]
			sb.WriteString(fmt.Sprintf("  %-12s %s  %s\n", k, bar(d, longest, m.width/2), timeStyle.Render(human(d))))
		}
	}
	return sb.String()
}

func (m *Model) renderInteractions() string {
	snap := m.report.Snapshot
	var sb strings.Builder
	switch snap.Subject.Surface.Kind() {
	case telemetry.KindPaged:
		sb.WriteString(heading(fmt.Sprintf("Selections (%d)", len(snap.Selections))))
		if len(snap.Selections) == 0 {
			sb.WriteString(none())
		}
		for _, s := range snap.Selections {
			sb.WriteString(bullet(fmt.Sprintf("%s  ×%d  %q", dimStyle.Render(fmt.Sprintf("p.%d", s.Unit)), s.Count, s.Text)))
		}
		sb.WriteString(heading(fmt.Sprintf("Links (%d of %d clicks)", len(snap.Links), snap.TotalClicks)))
		if len(snap.Links) == 0 {
			sb.WriteString(none())
		}
		for _, l := range snap.Links {
			sb.WriteString(fmt.Sprintf("  %s  p.%-4d %s\n", timeStyle.Render(l.At.Format("15:04:05")), l.Unit, l.URL))
		}

	case telemetry.KindVideo:
		p := snap.Playback
		if p == nil {
			sb.WriteString(heading("Interactions"))
			sb.WriteString(none())
			break
		}
		sb.WriteString(heading(fmt.Sprintf("Pauses (%d)", len(p.PauseResume))))
		if len(p.PauseResume) == 0 {
			sb.WriteString(none())
		}
		for _, pr := range p.PauseResume {
			sb.WriteString(bullet(fmt.Sprintf("%s → %s", delivery.FormatTime(pr.PauseAt), openEnd(pr.ResumeAt))))
		}
		sb.WriteString(heading(fmt.Sprintf("Skips (%d)", len(p.Skips))))
		if len(p.Skips) == 0 {
			sb.WriteString(none())
		}
		for _, s := range p.Skips {
			sb.WriteString(bullet(fmt.Sprintf("%s → %s", delivery.FormatTime(s.From), delivery.FormatTime(s.To))))
		}
		sb.WriteString(heading(fmt.Sprintf("Jumps (%d)", len(p.Jumps))))
		if len(p.Jumps) == 0 {
			sb.WriteString(none())
		}
		for _, j := range p.Jumps {
			sb.WriteString(bullet(fmt.Sprintf("%-8s %s → %s", j.Kind, delivery.FormatTime(j.From), delivery.FormatTime(j.To))))
		}

	default:
		sb.WriteString(heading("Interactions"))
		sb.WriteString(dimStyle.Render("  (pointer activity is on the Activity tab)") + "\n")
	}
	return sb.String()
}

func (m *Model) renderAbsences() string {
	abs := m.report.Snapshot.Absences
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Absences (%d)", len(abs))))
	if len(abs) == 0 {
		sb.WriteString(none())
		return sb.String()
	}
	for _, a := range abs {
		sb.WriteString(fmt.Sprintf("  %s → %s  %s\n",
			timeStyle.Render(a.Leave.Format("15:04:05")),
			timeStyle.Render(a.Return.Format("15:04:05")),
			human(a.Duration),
		))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder

	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := make([]timelineEvent, len(m.timeline))
	copy(events, m.timeline)
	if m.sortAsc {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.Before(events[j].ts) })
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.After(events[j].ts) })
	}

	for _, ev := range events {
		ts := timeStyle.Render(ev.ts.Format("15:04:05"))
		var badge string
		switch ev.kind {
		case kindEnter, kindExit:
			badge = kindEnterStyle.Render(fmt.Sprintf("  %-8s", string(ev.kind)))
		case kindLeave, kindReturn:
			badge = kindAwayStyle.Render(fmt.Sprintf("  %-8s", string(ev.kind)))
		case kindLink:
			badge = kindLinkStyle.Render(fmt.Sprintf("  %-8s", string(ev.kind)))
		}
		sb.WriteString(ts + badge + "  " + ev.text + "\n\n")
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func buildTimeline(r *report.Report) []timelineEvent {
	snap := r.Snapshot
	events := []timelineEvent{{ts: r.Session.EntryTime, kind: kindEnter, text: r.Session.SourceURL}}
	for _, a := range snap.Absences {
		events = append(events,
			timelineEvent{ts: a.Leave, kind: kindLeave, text: "surface hidden"},
			timelineEvent{ts: a.Return, kind: kindReturn, text: "back after " + human(a.Duration)},
		)
	}
	for _, l := range snap.Links {
		events = append(events, timelineEvent{ts: l.At, kind: kindLink, text: fmt.Sprintf("p.%d %s", l.Unit, l.URL)})
	}
	exit := "active " + r.Session.ActiveTime
	if r.Session.Stale {
		exit += ", ended by inactivity"
	}
	return append(events, timelineEvent{ts: r.Session.ExitTime, kind: kindExit, text: exit})
}

func bar(d, longest time.Duration, width int) string {
	if width < 10 {
		width = 10
	}
	n := 0
	if longest > 0 {
		n = int(float64(width) * float64(d) / float64(longest))
	}
	return barStyle.Render(strings.Repeat("█", n)) + dimStyle.Render(strings.Repeat("·", width-n))
}

func human(d time.Duration) string { return delivery.FormatTime(d.Seconds()) }

func openEnd(v *float64) string {
	if v == nil {
		return "end"
	}
	return delivery.FormatTime(*v)
}

// Run starts the TUI for the given report.
func Run(r *report.Report, filename string) error {
	p := tea.NewProgram(New(r, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
