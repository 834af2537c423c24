package task

import (
	"context"
	"fmt"
	"io"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/kiosk404/cohort/internal/cohortctl/client"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/spf13/cobra"
)

// NewCmdEvents returns the 'events' command.
func NewCmdEvents(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:                   "events TASK_ID",
		DisableFlagsInUseLine: true,
		Short:                 "Print the event history of a task",
		Example: heredoc.Doc(`
			# Replay and keep following until the task ends
			cohortctl events -f 0b7c9d1e`),
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			if f.Output() == "json" {
				util.CheckErr(f.Client().StreamEvents(ctx, args[0], follow, func(ev *evententity.Event) error {
					return util.PrintJSON(ioStreams.Out, ev)
				}))
				return
			}
			util.CheckErr(streamTo(ctx, f.Client(), args[0], follow, ioStreams.Out, f.Color()))
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", follow, "Keep streaming until the task ends.")
	return cmd
}

func followEvents(ctx context.Context, c *client.Client, id string, w io.Writer, colored bool) error {
	return streamTo(ctx, c, id, true, w, colored)
}

func streamTo(ctx context.Context, c *client.Client, id string, follow bool, w io.Writer, colored bool) error {
	var spent float64
	return c.StreamEvents(ctx, id, follow, func(ev *evententity.Event) error {
		spent += ev.CostDelta
		fmt.Fprintln(w, formatEvent(ev, spent, colored))
		return nil
	})
}

func formatEvent(ev *evententity.Event, spent float64, colored bool) string {
	ts := ev.At.Local().Format("15:04:05")
	switch ev.Type {
	case evententity.EventTypeStatus:
		line := fmt.Sprintf("%s %-9s %s", ts, "status", util.Status(ev.Status, colored))
		if ev.Detail != "" {
			line += "  " + ev.Detail
		}
		return line
	case evententity.EventTypeProgress:
		return fmt.Sprintf("%s %-9s %3.0f%%  %s", ts, "progress", ev.Progress*100, ev.Detail)
	case evententity.EventTypeCost:
		return fmt.Sprintf("%s %-9s +%s (%s total)  %s", ts, "cost", util.Money(ev.CostDelta), util.Money(spent), ev.PersonaID)
	default:
		return fmt.Sprintf("%s %-9s %s", ts, string(ev.Type), ev.Detail)
	}
}
