package tui

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/report"
	"github.com/pgmirror/pgmirror/internal/transfer"
)

// RunFunc runs a transfer to completion.
type RunFunc func(ctx context.Context) (*transfer.Result, *report.RunReport, error)

// Run shows the progress view while run executes, feeding it eng's events.
// Pressing q cancels the context passed to run; the view stays up until run
// returns.
func Run(ctx context.Context, eng *engine.Engine, out io.Writer, run RunFunc) (*transfer.Result, *report.RunReport, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(cancel), tea.WithContext(ctx), tea.WithOutput(out))

	prev := eng.OnEvent
	eng.OnEvent = func(ev engine.Event) {
		if prev != nil {
			prev(ev)
		}
		p.Send(EventMsg(ev))
	}
	defer func() { eng.OnEvent = prev }()

	type outcome struct {
		res *transfer.Result
		rep *report.RunReport
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, rep, err := run(runCtx)
		done <- outcome{res, rep, err}
		p.Send(DoneMsg{Report: rep, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		// The program was killed (parent context or terminal failure): stop
		// the run and wait for it to release its resources.
		cancel()
	}
	o := <-done
	return o.res, o.rep, o.err
}
