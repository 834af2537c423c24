package task

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	v1 "github.com/kiosk404/cohort/internal/cohortd/handler/v1"
)

const markdownWidth = 100

func printTask(w io.Writer, t *v1.TaskResponse, output string, colored bool) error {
	if output == "json" {
		return util.PrintJSON(w, t)
	}
	if t.Task == nil {
		return fmt.Errorf("empty task in reply")
	}

	table := util.NewTable("FIELD", "VALUE")
	table.AddRow("ID:", t.ID)
	table.AddRow("Status:", util.Status(string(t.Status), colored))
	table.AddRow("Target:", t.TargetPersona)
	table.AddRow("Mode:", string(t.Mode))
	if t.ParentID != "" {
		table.AddRow("Parent:", t.ParentID)
	}
	table.AddRow("Correlation:", t.CorrelationID)
	table.AddRow("Progress:", fmt.Sprintf("%.0f%%", t.Progress*100))
	table.AddRow("Rework:", t.ReworkCount)
	table.AddRow("Tool calls:", t.ToolCalls)
	table.AddRow("Cost:", util.Money(t.Cost))
	table.AddRow("Created:", t.CreatedAt.Local().Format(time.RFC3339))
	if t.CompletedAt != nil {
		table.AddRow("Completed:", t.CompletedAt.Local().Format(time.RFC3339))
	}
	if t.Error != "" {
		table.AddRow("Error:", t.Error)
	}
	fmt.Fprintln(w, table)
	fmt.Fprintf(w, "\nCommand:\n  %s\n", strings.ReplaceAll(util.Wrap(t.Command, markdownWidth-2), "\n", "\n  "))

	if t.Partial && len(t.Failures) > 0 {
		fmt.Fprintln(w, "\nMissing contributions:")
		for _, f := range t.Failures {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	if len(t.Findings) > 0 {
		fmt.Fprintln(w, "\nUnresolved review findings:")
		for _, f := range t.Findings {
			fmt.Fprintf(w, "  - %s\n", util.Wrap(f, markdownWidth-4))
		}
	}

	if d := t.Delegation; d != nil && len(d.Subtasks) > 0 {
		fmt.Fprintf(w, "\nDelegation by %s:\n", d.ManagerID)
		plan := util.NewTable("SUBTASK", "SPECIALIST", "MODE", "RESULT", "INSTRUCTION")
		results := map[string]string{}
		for _, r := range d.Results {
			switch {
			case r.Success:
				results[r.SubtaskID] = util.Status("succeeded", colored)
			case r.Cancelled:
				results[r.SubtaskID] = util.Status("cancelled", colored)
			default:
				results[r.SubtaskID] = util.Status("failed", colored)
			}
		}
		for _, s := range d.Subtasks {
			res, ok := results[s.ID]
			if !ok {
				res = "-"
			}
			plan.AddRow(s.ID, s.SpecialistID, string(s.Mode), res, util.Truncate(s.Instruction, 50))
		}
		fmt.Fprintln(w, plan)
	}

	if t.Markdown != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, util.RenderMarkdown(t.Markdown, markdownWidth, colored))
	}
	return nil
}
