package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// FormatText renders the report as plain text.
func FormatText(r *RunReport) string {
	var b strings.Builder

	b.WriteString("=== pgmirror Transfer Report ===\n")
	b.WriteString(fmt.Sprintf("Run:      %s\n", r.RunID))
	b.WriteString(fmt.Sprintf("Status:   %s\n", r.Status))
	b.WriteString(fmt.Sprintf("Source:   %s (schema %s)\n", r.Source, r.Schema))
	b.WriteString(fmt.Sprintf("Target:   %s\n", r.Target))
	b.WriteString(fmt.Sprintf("Started:  %s\n", r.StartedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Duration: %s\n\n", time.Duration(r.DurationMS)*time.Millisecond))

	b.WriteString(fmt.Sprintf("Tables: %d copied, %d skipped, %d failed (%d rows)\n",
		r.Summary.Copied, r.Summary.Skipped, r.Summary.Failed, r.Summary.Rows))
	for _, t := range r.Tables {
		b.WriteString(fmt.Sprintf("  [%s] %s: %d rows", strings.ToUpper(t.Status), t.Name, t.Rows))
		if t.Error != "" {
			b.WriteString(": " + t.Error)
		}
		b.WriteString("\n")
		for _, w := range t.Warnings {
			b.WriteString("      warning: " + w + "\n")
		}
	}
	if r.Error != "" {
		b.WriteString("\nError: " + r.Error + "\n")
	}
	for _, w := range r.Warnings {
		b.WriteString("Warning: " + w + "\n")
	}
	return b.String()
}

// Render formats the report for a terminal.
func Render(r *RunReport) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Transfer "+r.RunID) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s → %s  (schema %s, %s)",
		r.Source, r.Target, r.Schema, time.Duration(r.DurationMS)*time.Millisecond)) + "\n\n")

	width := len("TABLE")
	for _, t := range r.Tables {
		width = max(width, len(t.Name))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-*s  %-8s  %12s", width, "TABLE", "STATUS", "ROWS")) + "\n")
	for _, t := range r.Tables {
		status := statusStyle(t.Status).Render(fmt.Sprintf("%-8s", t.Status))
		b.WriteString(fmt.Sprintf("%-*s  %s  %12d\n", width, t.Name, status, t.Rows))
		if t.Error != "" {
			b.WriteString(errStyle.Render("    "+t.Error) + "\n")
		}
		for _, w := range t.Warnings {
			b.WriteString(warnStyle.Render("    "+w) + "\n")
		}
	}

	summary := fmt.Sprintf("%s  %d copied  %d skipped  %d failed  %d rows",
		statusStyle(r.Status).Render(r.Status), r.Summary.Copied, r.Summary.Skipped, r.Summary.Failed, r.Summary.Rows)
	if r.Error != "" {
		summary += "\n" + errStyle.Render(r.Error)
	}
	b.WriteString("\n" + boxStyle.Render(summary) + "\n")
	return b.String()
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "copied", StatusCompleted:
		return successStyle
	case "skipped", StatusCancelled, StatusCompletedWithFailures:
		return warnStyle
	default:
		return errStyle
	}
}
