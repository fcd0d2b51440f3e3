// Package tui renders a live terminal view of a running transfer.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/report"
	"github.com/pgmirror/pgmirror/internal/transfer"
)

// EventMsg delivers an engine event to the model.
type EventMsg engine.Event

// DoneMsg ends the view with the run's report.
type DoneMsg struct {
	Report *report.RunReport
	Err    error
}

// tableState is the display state of one table.
type tableState string

const (
	tablePending tableState = "pending"
	tableRunning tableState = "running"
)

type tableRow struct {
	name  string
	state tableState
	rows  int64
	err   string
}

// ProgressModel is the bubbletea model for a transfer in progress.
type ProgressModel struct {
	// Cancel is called once when the user asks to stop.
	Cancel func()

	spinner    spinner.Model
	runID      string
	target     string
	tables     []tableRow
	index      map[string]int
	rows       int64
	started    time.Time
	cancelling bool
	done       bool
	report     *report.RunReport
	err        error
	width      int
}

// NewProgressModel creates a progress model.
func NewProgressModel(cancel func()) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return ProgressModel{
		Cancel:  cancel,
		spinner: s,
		index:   make(map[string]int),
		started: time.Now(),
		width:   100,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				if m.Cancel != nil {
					m.Cancel()
				}
			}
		case "enter":
			if m.done {
				return m, tea.Quit
			}
		}
		return m, nil

	case EventMsg:
		m.apply(engine.Event(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *ProgressModel) apply(ev engine.Event) {
	switch ev.Type {
	case engine.EventRunStarted:
		m.runID = ev.RunID
		if ev.Status != nil {
			m.target = ev.Status.Target
		}
	case engine.EventTablesListed:
		m.tables = m.tables[:0]
		m.index = make(map[string]int, len(ev.Tables))
		for _, name := range ev.Tables {
			m.row(name)
		}
	case engine.EventTableStarted:
		m.row(ev.Table).state = tableRunning
	case engine.EventBatchCommitted:
		m.row(ev.Table).rows = ev.TableRows
		m.rows += int64(ev.BatchRows)
	case engine.EventTableOutcome:
		if ev.Outcome == nil {
			return
		}
		r := m.row(ev.Table)
		r.state = tableState(ev.Outcome.Status)
		r.rows = ev.Outcome.Rows
		r.err = ev.Outcome.Error
	}
}

// row returns the display row for name, appending it if unseen. Outcomes
// may carry the exact-case table name, so lookups fall back to a case-folded
// match.
func (m *ProgressModel) row(name string) *tableRow {
	if i, ok := m.index[name]; ok {
		return &m.tables[i]
	}
	for i := range m.tables {
		if strings.EqualFold(m.tables[i].name, name) {
			m.index[name] = i
			return &m.tables[i]
		}
	}
	m.tables = append(m.tables, tableRow{name: name, state: tablePending})
	m.index[name] = len(m.tables) - 1
	return &m.tables[len(m.tables)-1]
}

func (m ProgressModel) finished() int {
	n := 0
	for _, t := range m.tables {
		if t.state != tablePending && t.state != tableRunning {
			n++
		}
	}
	return n
}

func (m ProgressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("pgmirror transfer"))
	b.WriteString("\n\n")
	if m.runID != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  run %s → %s", m.runID, m.target)))
		b.WriteString("\n")
	}

	if len(m.tables) == 0 && !m.done {
		b.WriteString(fmt.Sprintf("  %s Listing tables...\n", m.spinner.View()))
		return b.String()
	}

	if n := len(m.tables); n > 0 {
		pct := float64(m.finished()) / float64(n) * 100
		b.WriteString(fmt.Sprintf("  %s %d/%d tables\n", renderProgressBar(pct, m.width-30), m.finished(), n))
	}
	b.WriteString(fmt.Sprintf("  %d rows copied  elapsed %s\n\n", m.rows, time.Since(m.started).Round(time.Second)))

	for _, t := range m.tables {
		var icon string
		switch t.state {
		case tableState(transfer.StatusCopied):
			icon = successStyle.Render("OK")
		case tableState(transfer.StatusSkipped):
			icon = warnStyle.Render("--")
		case tableState(transfer.StatusFailed):
			icon = errStyle.Render("XX")
		case tableRunning:
			icon = highlightStyle.Render(m.spinner.View())
		default:
			icon = dimStyle.Render("..")
		}
		line := fmt.Sprintf("  %s %-30s", icon, t.name)
		if t.rows > 0 || t.state == tableState(transfer.StatusCopied) {
			line += fmt.Sprintf(" %10d rows", t.rows)
		}
		if t.err != "" {
			line += " " + errStyle.Render(t.err)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		b.WriteString(errStyle.Render("  Transfer failed: " + m.err.Error()))
	case m.done && m.report != nil:
		b.WriteString(statusStyle(m.report.Status).Render("  Transfer " + m.report.Status))
	case m.cancelling:
		b.WriteString(warnStyle.Render("  Cancelling after the current batch..."))
	default:
		b.WriteString(dimStyle.Render("  q: cancel transfer"))
	}
	b.WriteString("\n")
	return b.String()
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case report.StatusCompleted:
		return successStyle
	case report.StatusFailed:
		return errStyle
	default:
		return warnStyle
	}
}

// Done returns true once the run has finished.
func (m ProgressModel) Done() bool {
	return m.done
}

// Cancelled returns true if the user asked to stop.
func (m ProgressModel) Cancelled() bool {
	return m.cancelling
}

// Report returns the final report, if the run produced one.
func (m ProgressModel) Report() *report.RunReport {
	return m.report
}

func renderProgressBar(pct float64, width int) string {
	if width < 10 {
		width = 10
	}
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	empty := width - filled
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", empty) + "]"
}
