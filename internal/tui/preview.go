package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/seqrun/internal/orchestrator"
	"github.com/kingrea/seqrun/internal/runstate"
	"github.com/kingrea/seqrun/internal/workflow"
)

// RenderPreview lists every step of plan followed by the preflight issues.
func RenderPreview(plan workflow.Plan, issues []workflow.Issue) string {
	var blocks []string
	blocks = append(blocks, titleStyle.Render("SEQUENTIAL STEPS PREVIEW"),
		fmt.Sprintf("Total steps configured: %d", plan.Len()))
	for index := 1; index <= plan.Len(); index++ {
		step, _ := plan.Step(index)
		blocks = append(blocks, renderStep(index, step, plan.Duration(index)))
	}
	blocks = append(blocks, renderIssues(issues))
	return lipgloss.JoinVertical(lipgloss.Left, blocks...) + "\n"
}

func renderStep(index int, step workflow.StepSpec, duration int) string {
	lines := []string{
		headerStyle.Render(fmt.Sprintf("STEP %d: %s", index, step.Name)),
	}
	if step.Description != "" {
		lines = append(lines, "Description: "+step.Description)
	}
	lines = append(lines,
		fmt.Sprintf("Final step:  %d", step.FinalStep),
		fmt.Sprintf("Duration:    %d steps", duration),
	)
	if len(step.Edits) == 0 {
		lines = append(lines, detailTextStyle.Render("No parameter changes"))
	} else {
		lines = append(lines, "Parameter changes:")
		for _, edit := range step.SortedEdits() {
			lines = append(lines, detailTextStyle.Render(fmt.Sprintf("  line %-3d %s", edit.Line, edit.Content)))
		}
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderIssues(issues []workflow.Issue) string {
	if len(issues) == 0 {
		return labelStyleReady.Render("No continuity issues found.")
	}
	lines := []string{labelStyleWarn.Render(fmt.Sprintf("Found %d continuity issue(s):", len(issues)))}
	for _, issue := range issues {
		lines = append(lines, "  - "+issue.String())
	}
	return strings.Join(lines, "\n")
}

// RenderState summarizes a persisted run state.
func RenderState(state runstate.State) string {
	lines := []string{
		titleStyle.Render("RUN " + state.RunID),
		fmt.Sprintf("Work dir: %s", state.WorkDir),
		fmt.Sprintf("Status:   %s", labelStyleForState(string(state.Status)).Render(friendlyLabel(string(state.Status)))),
	}
	if state.StatusReason != "" {
		lines = append(lines, detailTextStyle.Render("Reason:   "+state.StatusReason))
	}
	lines = append(lines, fmt.Sprintf("Progress: %d/%d steps completed", state.Completed(), state.TotalSteps))
	if !state.UpdatedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Updated:  %s", state.UpdatedAt.Local().Format(time.DateTime)))
	}
	for _, rec := range state.Steps {
		label := labelStyleForState(string(rec.Status)).Render(friendlyLabel(string(rec.Status)))
		line := fmt.Sprintf("  %2d. %-24s %s", rec.Index, rec.Name, label)
		if rec.Stage != "" && rec.Status != runstate.StepStatusCompleted {
			line += detailTextStyle.Render(" at " + rec.Stage)
		}
		if rec.JobID != "" {
			line += detailTextStyle.Render(" job " + rec.JobID)
		}
		lines = append(lines, line)
		if rec.Error != "" {
			lines = append(lines, detailTextStyle.Render("      "+rec.Error))
		}
	}
	if next := state.NextStep(state.TotalSteps); next <= state.TotalSteps && state.Status != runstate.RunStatusRunning {
		lines = append(lines, hintStyle.Render(fmt.Sprintf("Resume with: seqrun resume --workdir %s --from-step %d", state.WorkDir, next)))
	}
	return strings.Join(lines, "\n") + "\n"
}

// RenderOutcome summarizes a finished Run.
func RenderOutcome(out orchestrator.Outcome, total int) string {
	switch out.Status {
	case orchestrator.StatusCompleted:
		return labelStyleReady.Render(fmt.Sprintf("All %d steps completed successfully.", total)) + "\n"
	case orchestrator.StatusCancelled:
		return labelStyleWarn.Render(fmt.Sprintf("Run cancelled during step %d (%s). Submitted jobs keep running on the scheduler.", out.Step, out.Stage)) + "\n"
	default:
		msg := fmt.Sprintf("Run halted at step %d/%d, stage %s: %s", out.Step, total, out.Stage, out.Kind())
		lines := []string{labelStyleBlocked.Render(msg)}
		if out.Err != nil {
			lines = append(lines, detailTextStyle.Render("  "+out.Err.Error()))
		}
		return strings.Join(lines, "\n") + "\n"
	}
}
