// Package model holds the 'models' command.
package model

import (
	"fmt"

	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/spf13/cobra"
)

// NewCmdModels returns the 'models' command.
func NewCmdModels(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "List the models personas may reference, with their prices",
		Run: func(cmd *cobra.Command, args []string) {
			models, err := f.Client().ListModels(cmd.Context())
			util.CheckErr(err)
			if f.Output() == "json" {
				util.CheckErr(util.PrintJSON(ioStreams.Out, models))
				return
			}
			table := util.NewTable("REF", "NAME", "CONTEXT", "REASONING", "INPUT $/M", "OUTPUT $/M", "DEFAULT")
			for _, m := range models {
				def := ""
				if m.Default {
					def = "*"
				}
				table.AddRow(m.Ref, m.Name, m.ContextWindow, m.Reasoning,
					fmt.Sprintf("%.2f", m.Cost.Input), fmt.Sprintf("%.2f", m.Cost.Output), def)
			}
			fmt.Fprintln(ioStreams.Out, table)
		},
	}
}
