package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/report"
	"github.com/pgmirror/pgmirror/internal/transfer"
)

func send(m ProgressModel, msgs ...tea.Msg) ProgressModel {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(ProgressModel)
	}
	return m
}

func TestNewProgressModel(t *testing.T) {
	m := NewProgressModel(nil)
	if m.Done() || m.Cancelled() {
		t.Error("new model should be neither done nor cancelled")
	}
	if !strings.Contains(m.View(), "Listing tables") {
		t.Error("view should show the listing spinner before tables arrive")
	}
}

func TestProgressModel_Events(t *testing.T) {
	m := send(NewProgressModel(nil),
		EventMsg{Type: engine.EventRunStarted, RunID: "run-1", Status: &engine.RunStatus{Target: "postgres://u@dst:5432/app"}},
		EventMsg{Type: engine.EventTablesListed, Tables: []string{"users", "orders", "audit"}},
		EventMsg{Type: engine.EventTableStarted, Table: "users"},
		EventMsg{Type: engine.EventBatchCommitted, Table: "users", BatchRows: 5000, TableRows: 5000},
		EventMsg{Type: engine.EventBatchCommitted, Table: "users", BatchRows: 12, TableRows: 5012},
		EventMsg{Type: engine.EventTableOutcome, Table: "Users", Outcome: &transfer.Outcome{Table: "Users", Status: transfer.StatusCopied, Rows: 5012}},
		EventMsg{Type: engine.EventTableStarted, Table: "orders"},
		EventMsg{Type: engine.EventTableOutcome, Table: "orders", Outcome: &transfer.Outcome{Table: "orders", Status: transfer.StatusFailed, Error: "batch 1: disk full"}},
	)

	if len(m.tables) != 3 {
		t.Fatalf("tables = %+v", m.tables)
	}
	if m.tables[0].state != tableState(transfer.StatusCopied) || m.tables[0].rows != 5012 {
		t.Errorf("users row = %+v", m.tables[0])
	}
	if m.rows != 5012 {
		t.Errorf("rows = %d", m.rows)
	}
	if m.finished() != 2 {
		t.Errorf("finished = %d, want 2", m.finished())
	}

	v := m.View()
	for _, want := range []string{"run-1", "2/3 tables", "users", "disk full", "audit"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestProgressModel_Cancel(t *testing.T) {
	calls := 0
	m := send(NewProgressModel(func() { calls++ }),
		tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}},
		tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}},
	)
	if !m.Cancelled() {
		t.Error("q should cancel")
	}
	if calls != 1 {
		t.Errorf("cancel called %d times, want 1", calls)
	}
	if m.Done() {
		t.Error("cancel should wait for the run to finish")
	}
}

func TestProgressModel_Done(t *testing.T) {
	rep := &report.RunReport{Status: report.StatusCompletedWithFailures}
	m := NewProgressModel(nil)
	next, cmd := m.Update(DoneMsg{Report: rep})
	m = next.(ProgressModel)
	if !m.Done() || m.Report() != rep {
		t.Error("DoneMsg should finish the model with its report")
	}
	if cmd == nil {
		t.Error("DoneMsg should quit the program")
	}
	if !strings.Contains(m.View(), "completed_with_failures") {
		t.Errorf("view = %s", m.View())
	}

	m = send(NewProgressModel(nil), DoneMsg{Err: errors.New("listing tables: permission denied")})
	if !strings.Contains(m.View(), "permission denied") {
		t.Errorf("view = %s", m.View())
	}
}

func TestRenderProgressBar(t *testing.T) {
	if got := renderProgressBar(50, 10); got != "[=====     ]" {
		t.Errorf("renderProgressBar(50, 10) = %q", got)
	}
	if got := renderProgressBar(150, 4); got != "["+strings.Repeat("=", 10)+"]" {
		t.Errorf("overflow bar = %q", got)
	}
}
