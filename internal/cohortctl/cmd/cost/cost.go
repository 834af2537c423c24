// Package cost holds the 'cost' commands.
package cost

import (
	"fmt"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/kiosk404/cohort/internal/cohortctl/client"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// NewCmdCost returns the 'cost' command group.
func NewCmdCost(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cost",
		Aliases: []string{"costs"},
		Short:   "Query the cost ledger",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(newCmdSummary(f, ioStreams))
	cmd.AddCommand(newCmdList(f, ioStreams))
	return cmd
}

type queryFlags struct {
	q     client.CostQuery
	batch string
}

func (qf *queryFlags) add(fs *pflag.FlagSet) {
	fs.StringSliceVar(&qf.q.TaskIDs, "task", qf.q.TaskIDs, "Only these task ids.")
	fs.StringVar(&qf.q.Persona, "persona", qf.q.Persona, "Only calls made by this persona.")
	fs.StringVar(&qf.q.Provider, "provider", qf.q.Provider, "Only calls to this provider.")
	fs.StringVar(&qf.batch, "batch", qf.batch, "'true' for batch calls only, 'false' for synchronous calls only.")
	fs.StringVar(&qf.q.Since, "since", qf.q.Since, "Start of the window: RFC 3339 or a duration ago such as 24h.")
	fs.StringVar(&qf.q.Until, "until", qf.q.Until, "End of the window: RFC 3339 or a duration ago.")
}

func (qf *queryFlags) query() (client.CostQuery, error) {
	q := qf.q
	switch qf.batch {
	case "":
	case "true", "false":
		v := qf.batch == "true"
		q.Batch = &v
	default:
		return q, fmt.Errorf("invalid --batch %q, must be 'true' or 'false'", qf.batch)
	}
	return q, nil
}

func newCmdSummary(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	var (
		qf      queryFlags
		groupBy = "persona"
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Total spend grouped by persona, provider, model or task",
		Example: heredoc.Doc(`
			# Spend per persona over the last day
			cohortctl cost summary --since 24h

			# Spend per provider on batch calls
			cohortctl cost summary --group-by provider --batch true`),
		Run: func(cmd *cobra.Command, args []string) {
			q, err := qf.query()
			util.CheckErr(err)
			sum, err := f.Client().CostSummary(cmd.Context(), groupBy, q)
			util.CheckErr(err)
			if f.Output() == "json" {
				util.CheckErr(util.PrintJSON(ioStreams.Out, sum))
				return
			}
			table := util.NewTable(strings.ToUpper(string(sum.GroupBy)), "CALLS", "INPUT", "OUTPUT", "CACHE READ", "COST")
			for _, g := range sum.Groups {
				table.AddRow(g.Key, g.Calls, g.InputTokens, g.OutputTokens, g.CacheReadTokens, util.Money(g.Cost))
			}
			table.AddRow("TOTAL", "", "", "", "", util.Money(sum.Total))
			fmt.Fprintln(ioStreams.Out, table)
		},
	}
	cmd.Flags().StringVar(&groupBy, "group-by", groupBy, "Grouping: persona, provider, model or task.")
	qf.add(cmd.Flags())
	return cmd
}

func newCmdList(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	var qf queryFlags
	qf.q.Limit = 100
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List individual cost records",
		Run: func(cmd *cobra.Command, args []string) {
			q, err := qf.query()
			util.CheckErr(err)
			records, err := f.Client().ListCosts(cmd.Context(), q)
			util.CheckErr(err)
			if f.Output() == "json" {
				util.CheckErr(util.PrintJSON(ioStreams.Out, records))
				return
			}
			if len(records) == 0 {
				fmt.Fprintln(ioStreams.ErrOut, "No cost records found.")
				return
			}
			table := util.NewTable("TIME", "TASK", "PERSONA", "MODEL", "INPUT", "OUTPUT", "BATCH", "COST")
			var total float64
			for _, r := range records {
				total += r.Cost
				table.AddRow(r.Timestamp.Local().Format(time.DateTime), r.TaskID, r.PersonaID,
					r.Provider+"/"+r.Model, r.InputTokens, r.OutputTokens, r.Batch, util.Money(r.Cost))
			}
			fmt.Fprintln(ioStreams.Out, table)
			fmt.Fprintf(ioStreams.Out, "\n%d records, %s\n", len(records), util.Money(total))
		},
	}
	qf.add(cmd.Flags())
	cmd.Flags().IntVar(&qf.q.Limit, "limit", qf.q.Limit, "Maximum number of records; 0 for all.")
	return cmd
}
