package task

import (
	"context"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/spf13/cobra"
)

// NewCmdGet returns the 'get' command.
func NewCmdGet(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "get TASK_ID",
		DisableFlagsInUseLine: true,
		Short:                 "Show a task, its delegation plan and its artifact",
		Example: heredoc.Doc(`
			# Show a task with its rendered artifact
			cohortctl get 0b7c9d1e

			# Raw JSON
			cohortctl get 0b7c9d1e -o json`),
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(runGet(cmd.Context(), f, ioStreams, args[0]))
		},
	}
	return cmd
}

func runGet(ctx context.Context, f util.Factory, ioStreams util.IOStreams, id string) error {
	task, err := f.Client().GetTask(ctx, id)
	if err != nil {
		return err
	}
	return printTask(ioStreams.Out, task, f.Output(), f.Color())
}
