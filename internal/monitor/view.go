// Package monitor renders task state for terminals.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// StatusBadge returns a colored badge for a task status.
func StatusBadge(s taskstate.Status) string {
	switch s {
	case taskstate.StatusCompleted:
		return healthyStyle.Render("✓ COMPLETED")
	case taskstate.StatusAborted:
		return errorStyle.Render("✗ ABORTED")
	case taskstate.StatusWaitingExternalInput:
		return warningStyle.Render("? WAITING INPUT")
	case taskstate.StatusWaitingWorker:
		return valueStyle.Render("… WAITING WORKER")
	default:
		return valueStyle.Render("▶ " + strings.ToUpper(string(s)))
	}
}

func row(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

// RenderTask renders the outcome of an engine call.
func RenderTask(out *engine.Outcome, now time.Time) string {
	if out == nil || out.Task == nil {
		return dimStyle.Render("no task")
	}
	t := out.Task

	var b strings.Builder
	b.WriteString(headerStyle.Render("penny task " + t.TaskID))
	b.WriteString("\n\n")

	rows := []string{
		row("status", StatusBadge(t.Status)),
		row("workflow", valueStyle.Render(t.WorkflowID)),
		row("phase", valueStyle.Render(orDash(t.CurrentPhaseID))+" "+dimStyle.Render("("+t.Stage+")")),
		row("version", valueStyle.Render(fmt.Sprintf("%d", t.Version))),
		row("artifacts", valueStyle.Render(fmt.Sprintf("%d", len(t.History)))),
		row("counters", valueStyle.Render(FormatCounters(t.RetryCounters))),
		row("updated", dimStyle.Render(FormatAge(t.UpdatedAt, now))),
	}
	if t.LastVerdict != "" {
		rows = append(rows, row("last verdict", valueStyle.Render(t.LastVerdict)))
	}
	if out.Decision != nil {
		rows = append(rows, row("decision", valueStyle.Render(string(out.Decision.Action))))
	}
	if t.AbortReason != "" {
		rows = append(rows, row("abort reason", errorStyle.Render(t.AbortReason)))
	}
	if out.AbortPending {
		rows = append(rows, row("abort", warningStyle.Render("pending at next boundary")))
	}
	b.WriteString(containerStyle.Render(strings.Join(rows, "\n")))

	if len(t.Hops) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Detours"))
		for _, h := range t.Hops {
			line := fmt.Sprintf("%s → %s (%s, %s)", h.From, h.To, h.Route, h.Verdict)
			if h.ReturnTo != "" {
				line += " return to " + h.ReturnTo
			}
			b.WriteString("\n  " + line)
		}
	}

	if len(t.Guidance) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Guidance"))
		for _, g := range t.Guidance {
			b.WriteString("\n  • " + g)
		}
	}

	if esc := out.Escalation; esc != nil {
		b.WriteString("\n")
		b.WriteString(RenderEscalation(esc))
	}

	b.WriteString("\n")
	return b.String()
}

// RenderEscalation renders the pending questions of a waiting task.
func RenderEscalation(esc *taskstate.Escalation) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Escalation at " + esc.PhaseID))
	b.WriteString("\n  " + warningStyle.Render(esc.Reason))
	for _, q := range esc.Questions {
		b.WriteString("\n  ")
		b.WriteString(valueStyle.Render("[" + q.ID + "]"))
		b.WriteString(" " + q.Prompt)
		if len(q.Options) > 0 {
			b.WriteString("\n      " + dimStyle.Render("options: "+strings.Join(q.Options, " | ")))
		}
		if q.AllowFreeText {
			b.WriteString("\n      " + dimStyle.Render("free text accepted"))
		}
	}
	return b.String()
}

// RenderTaskList renders one line per task.
func RenderTaskList(tasks []*taskstate.TaskInstance, now time.Time) string {
	if len(tasks) == 0 {
		return dimStyle.Render("no tasks") + "\n"
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("penny tasks (%d)", len(tasks))))
	b.WriteString("\n")
	for _, t := range tasks {
		b.WriteString(fmt.Sprintf("\n%s  %s  %s  %s  %s",
			valueStyle.Render(t.TaskID),
			dimStyle.Render(t.WorkflowID),
			orDash(t.CurrentPhaseID),
			StatusBadge(t.Status),
			dimStyle.Render(FormatAge(t.UpdatedAt, now)),
		))
	}
	b.WriteString("\n")
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
