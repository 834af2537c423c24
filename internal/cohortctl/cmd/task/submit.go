package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	v1 "github.com/kiosk404/cohort/internal/cohortd/handler/v1"
	"github.com/spf13/cobra"
)

var submitExample = heredoc.Doc(`
	# Let the coordinator route the command
	cohortctl submit "Draft the Q3 budget and a hiring plan for it"

	# Send straight to a division manager and wait for the artifact
	cohortctl submit --target cfo --wait "Reconcile the June invoices"

	# Let specialists use provider batch jobs at the batch discount
	cohortctl submit --mode batch "Summarize every open contract"`)

// SubmitOptions is the options of 'submit'.
type SubmitOptions struct {
	Target string
	Mode   string
	Wait   bool

	command string
	factory util.Factory
	util.IOStreams
}

func NewSubmitOptions(f util.Factory, ioStreams util.IOStreams) *SubmitOptions {
	return &SubmitOptions{
		Target:    "auto",
		Mode:      "sync",
		factory:   f,
		IOStreams: ioStreams,
	}
}

// NewCmdSubmit returns the 'submit' command.
func NewCmdSubmit(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	o := NewSubmitOptions(f, ioStreams)

	cmd := &cobra.Command{
		Use:                   "submit COMMAND",
		DisableFlagsInUseLine: true,
		Short:                 "Hand a command to the organization",
		Long: heredoc.Doc(`
			Submit a natural-language command. The coordinator answers it directly
			or routes it to one or more division managers, who split it into
			subtasks for their specialists. The reply is the task id; use --wait
			to follow progress and print the delivered artifact.`),
		Example: submitExample,
		Args:    cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(o.Complete(args))
			util.CheckErr(o.Validate())
			util.CheckErr(o.Run(cmd.Context()))
		},
	}

	cmd.Flags().StringVar(&o.Target, "target", o.Target, "Persona to send the command to, or 'auto' for the coordinator.")
	cmd.Flags().StringVar(&o.Mode, "mode", o.Mode, "Execution mode: 'sync' or 'batch'.")
	cmd.Flags().BoolVarP(&o.Wait, "wait", "w", o.Wait, "Stream progress until the task ends, then print the result.")

	return cmd
}

func (o *SubmitOptions) Complete(args []string) error {
	o.command = strings.TrimSpace(strings.Join(args, " "))
	return nil
}

func (o *SubmitOptions) Validate() error {
	if o.command == "" {
		return util.UsageErrorf("cohortctl submit", "the command must not be empty")
	}
	if o.Mode != "sync" && o.Mode != "batch" {
		return util.UsageErrorf("cohortctl submit", "invalid --mode %q, must be 'sync' or 'batch'", o.Mode)
	}
	return nil
}

func (o *SubmitOptions) Run(ctx context.Context) error {
	c := o.factory.Client()
	resp, err := c.SubmitTask(ctx, &v1.SubmitTaskRequest{
		Command: o.command,
		Target:  o.Target,
		Mode:    o.Mode,
	})
	if err != nil {
		return err
	}
	if !o.Wait {
		if o.factory.Output() == "json" {
			return util.PrintJSON(o.Out, resp)
		}
		fmt.Fprintf(o.Out, "task %s %s\n", resp.ID, util.Status(string(resp.Status), o.factory.Color()))
		return nil
	}

	fmt.Fprintf(o.ErrOut, "task %s submitted\n", resp.ID)
	if err := followEvents(ctx, c, resp.ID, o.ErrOut, o.factory.Color()); err != nil {
		return err
	}
	task, err := c.GetTask(ctx, resp.ID)
	if err != nil {
		return err
	}
	return printTask(o.Out, task, o.factory.Output(), o.factory.Color())
}
