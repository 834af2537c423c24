package task

import (
	"context"
	"fmt"

	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/spf13/cobra"
)

// NewCmdCancel returns the 'cancel' command.
func NewCmdCancel(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "cancel TASK_ID...",
		DisableFlagsInUseLine: true,
		Short:                 "Cancel tasks and every subtask they spawned",
		Long: "Cancel stops in-flight generation, withdraws queued batch members and " +
			"leaves work that already finished recorded in the cost ledger.",
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(runCancel(cmd.Context(), f, ioStreams, args))
		},
	}
	return cmd
}

func runCancel(ctx context.Context, f util.Factory, ioStreams util.IOStreams, ids []string) error {
	c := f.Client()
	var failed int
	for _, id := range ids {
		task, err := c.CancelTask(ctx, id)
		if err != nil {
			failed++
			fmt.Fprintf(ioStreams.ErrOut, "task %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(ioStreams.Out, "task %s %s\n", task.ID, util.Status(string(task.Status), f.Color()))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks could not be cancelled", failed, len(ids))
	}
	return nil
}
