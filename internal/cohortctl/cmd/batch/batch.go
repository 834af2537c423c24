// Package batch holds the 'batch' commands.
package batch

import (
	"fmt"
	"time"

	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/spf13/cobra"
)

// NewCmdBatch returns the 'batch' command group.
func NewCmdBatch(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "batch",
		Aliases: []string{"batches"},
		Short:   "Inspect provider batch jobs",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(newCmdList(f, ioStreams))
	cmd.AddCommand(newCmdGet(f, ioStreams))
	return cmd
}

func newCmdList(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	var (
		provider string
		states   []string
		limit    = 50
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List batch jobs, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			jobs, err := f.Client().ListBatches(cmd.Context(), provider, states, limit)
			util.CheckErr(err)
			if f.Output() == "json" {
				util.CheckErr(util.PrintJSON(ioStreams.Out, jobs))
				return
			}
			if len(jobs) == 0 {
				fmt.Fprintln(ioStreams.ErrOut, "No batch jobs found.")
				return
			}
			now := time.Now()
			table := util.NewTable("ID", "PROVIDER", "STATE", "MEMBERS", "NATIVE", "AGE", "ERROR")
			for _, j := range jobs {
				table.AddRow(j.ID, j.Provider, util.Status(string(j.State), f.Color()), len(j.MemberIDs),
					j.Native, util.Age(j.CreatedAt, now), util.Truncate(j.Error, 40))
			}
			fmt.Fprintln(ioStreams.Out, table)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", provider, "Only jobs of this provider.")
	cmd.Flags().StringSliceVar(&states, "state", states, "Only jobs in these states.")
	cmd.Flags().IntVar(&limit, "limit", limit, "Maximum number of jobs; 0 for all.")
	return cmd
}

func newCmdGet(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show a batch job and its members",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job, err := f.Client().GetBatch(cmd.Context(), args[0])
			util.CheckErr(err)
			if f.Output() == "json" {
				util.CheckErr(util.PrintJSON(ioStreams.Out, job))
				return
			}
			table := util.NewTable("FIELD", "VALUE")
			table.AddRow("ID:", job.ID)
			table.AddRow("Provider:", job.Provider)
			table.AddRow("State:", util.Status(string(job.State), f.Color()))
			table.AddRow("Remote ID:", job.RemoteID)
			table.AddRow("Native:", job.Native)
			table.AddRow("Fetch attempts:", job.FetchAttempts)
			table.AddRow("Created:", job.CreatedAt.Local().Format(time.RFC3339))
			if job.SubmittedAt != nil {
				table.AddRow("Submitted:", job.SubmittedAt.Local().Format(time.RFC3339))
			}
			if job.CompletedAt != nil {
				table.AddRow("Completed:", job.CompletedAt.Local().Format(time.RFC3339))
			}
			if job.Error != "" {
				table.AddRow("Error:", job.Error)
			}
			fmt.Fprintln(ioStreams.Out, table)

			members := util.NewTable("MEMBER", "TASK", "PERSONA", "MODEL", "STATE", "COST", "ERROR")
			for _, m := range job.Members {
				members.AddRow(m.ID, m.TaskID, m.PersonaID, m.Ref.String(), util.Status(string(m.State), f.Color()),
					util.Money(m.Cost), util.Truncate(m.Error, 40))
			}
			fmt.Fprintf(ioStreams.Out, "\n%s\n", members)
		},
	}
}
