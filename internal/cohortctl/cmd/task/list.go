package task

import (
	"context"
	"fmt"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/kiosk404/cohort/internal/cohortctl/client"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/spf13/cobra"
)

// ListOptions is the options of 'list'.
type ListOptions struct {
	Statuses    []string
	Correlation string
	Children    bool
	Limit       int

	factory util.Factory
	util.IOStreams
}

// NewCmdList returns the 'list' command.
func NewCmdList(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	o := &ListOptions{Limit: 50, factory: f, IOStreams: ioStreams}

	cmd := &cobra.Command{
		Use:                   "list",
		DisableFlagsInUseLine: true,
		Aliases:               []string{"ls"},
		Short:                 "List tasks",
		Example: heredoc.Doc(`
			# Root tasks, newest first
			cohortctl list

			# Every task fanned out from one command
			cohortctl list --correlation 0b7c9d1e

			# Failures only
			cohortctl list --status failed,cancelled`),
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(o.Run(cmd.Context()))
		},
	}

	cmd.Flags().StringSliceVar(&o.Statuses, "status", o.Statuses, "Only tasks in these statuses.")
	cmd.Flags().StringVar(&o.Correlation, "correlation", o.Correlation, "Only tasks sharing this correlation id.")
	cmd.Flags().BoolVar(&o.Children, "children", o.Children, "Include child tasks.")
	cmd.Flags().IntVar(&o.Limit, "limit", o.Limit, "Maximum number of tasks to show; 0 for all.")

	return cmd
}

func (o *ListOptions) Run(ctx context.Context) error {
	tasks, err := o.factory.Client().ListTasks(ctx, client.TaskListOptions{
		Statuses:      o.Statuses,
		CorrelationID: o.Correlation,
		Children:      o.Children,
		Limit:         o.Limit,
	})
	if err != nil {
		return err
	}
	if o.factory.Output() == "json" {
		return util.PrintJSON(o.Out, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(o.ErrOut, "No tasks found.")
		return nil
	}

	now := time.Now()
	wide := o.factory.Output() == "wide"
	table := util.NewTable("ID", "STATUS", "TARGET", "PROGRESS", "AGE", "COMMAND")
	if wide {
		table = util.NewTable("ID", "STATUS", "TARGET", "PROGRESS", "AGE", "PARENT", "REWORK", "TOOLS", "COMMAND")
	}
	for _, t := range tasks {
		progress := fmt.Sprintf("%.0f%%", t.Progress*100)
		status := util.Status(string(t.Status), o.factory.Color())
		if wide {
			table.AddRow(t.ID, status, t.TargetPersona, progress, util.Age(t.CreatedAt, now),
				t.ParentID, t.ReworkCount, t.ToolCalls, util.Truncate(t.Command, 60))
			continue
		}
		table.AddRow(t.ID, status, t.TargetPersona, progress, util.Age(t.CreatedAt, now), util.Truncate(t.Command, 50))
	}
	fmt.Fprintln(o.Out, table)
	return nil
}
