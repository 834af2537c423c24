// Package persona holds the 'persona' commands.
package persona

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/kiosk404/cohort/internal/cohortctl/client"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/spf13/cobra"
)

// NewCmdPersona returns the 'persona' command group.
func NewCmdPersona(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "persona",
		Aliases: []string{"personas"},
		Short:   "Inspect and tune the persona hierarchy",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(newCmdList(f, ioStreams))
	cmd.AddCommand(newCmdGet(f, ioStreams))
	cmd.AddCommand(newCmdTree(f, ioStreams))
	cmd.AddCommand(newCmdUpdate(f, ioStreams))
	return cmd
}

func newCmdList(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	var opts client.PersonaListOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List personas",
		Example: heredoc.Doc(`
			# Every manager
			cohortctl persona list --tier manager

			# The finance division
			cohortctl persona list --division finance`),
		Run: func(cmd *cobra.Command, args []string) {
			personas, err := f.Client().ListPersonas(cmd.Context(), opts)
			util.CheckErr(err)
			util.CheckErr(printPersonas(ioStreams, f.Output(), personas))
		},
	}
	cmd.Flags().StringVar(&opts.Tier, "tier", opts.Tier, "Only this tier: coordinator, manager, specialist or worker.")
	cmd.Flags().StringVar(&opts.Division, "division", opts.Division, "Only this division.")
	return cmd
}

func printPersonas(ioStreams util.IOStreams, output string, personas []*entity.Persona) error {
	if output == "json" {
		return util.PrintJSON(ioStreams.Out, personas)
	}
	if len(personas) == 0 {
		fmt.Fprintln(ioStreams.ErrOut, "No personas found.")
		return nil
	}
	table := util.NewTable("ID", "TIER", "DIVISION", "PARENT", "MODEL", "BATCH", "TOOLS")
	for _, p := range personas {
		table.AddRow(p.ID, string(p.Tier), dash(p.Division), dash(p.ParentID), p.Model, p.Batch, dash(strings.Join(p.Tools, ",")))
	}
	fmt.Fprintln(ioStreams.Out, table)
	return nil
}

func newCmdGet(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	return &cobra.Command{
		Use:   "get PERSONA_ID",
		Short: "Show one persona",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			p, err := f.Client().GetPersona(cmd.Context(), args[0])
			util.CheckErr(err)
			if f.Output() == "json" {
				util.CheckErr(util.PrintJSON(ioStreams.Out, p))
				return
			}
			table := util.NewTable("FIELD", "VALUE")
			table.AddRow("ID:", p.ID)
			table.AddRow("Name:", dash(p.Name))
			table.AddRow("Tier:", string(p.Tier))
			table.AddRow("Division:", dash(p.Division))
			table.AddRow("Parent:", dash(p.ParentID))
			table.AddRow("Model:", p.Model)
			table.AddRow("Fallbacks:", dash(strings.Join(p.Fallbacks, ", ")))
			table.AddRow("Reasoning:", dash(p.Reasoning))
			table.AddRow("Tools:", dash(strings.Join(p.Tools, ", ")))
			table.AddRow("Batch:", p.Batch)
			table.AddRow("Description:", dash(p.Description))
			fmt.Fprintln(ioStreams.Out, table)
			if p.SystemPrompt != "" {
				fmt.Fprintf(ioStreams.Out, "\nSystem prompt:\n%s\n", util.Wrap(p.SystemPrompt, 100))
			}
		},
	}
}

func newCmdTree(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	return &cobra.Command{
		Use:   "tree [PERSONA_ID]",
		Short: "Print the reporting hierarchy below a persona",
		Long:  "Print the reporting hierarchy below a persona, the coordinator when none is given.",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			c := f.Client()
			root := ""
			if len(args) == 1 {
				root = args[0]
			} else {
				coordinators, err := c.ListPersonas(ctx, client.PersonaListOptions{Tier: string(entity.TierCoordinator)})
				util.CheckErr(err)
				if len(coordinators) == 0 {
					util.CheckErr(fmt.Errorf("no coordinator persona is configured"))
				}
				root = coordinators[0].ID
			}
			util.CheckErr(printTree(ctx, c, ioStreams, root, "", true, true))
		},
	}
}

func printTree(ctx context.Context, c *client.Client, ioStreams util.IOStreams, id, prefix string, last, top bool) error {
	p, err := c.GetPersona(ctx, id)
	if err != nil {
		return err
	}
	branch, next := "├── ", prefix+"│   "
	if last {
		branch, next = "└── ", prefix+"    "
	}
	if top {
		branch, next = "", ""
	}
	fmt.Fprintf(ioStreams.Out, "%s%s%s (%s, %s)\n", prefix, branch, p.ID, p.Tier, p.Model)

	children, err := c.PersonaChildren(ctx, id)
	if err != nil {
		return err
	}
	for i, child := range children {
		if err := printTree(ctx, c, ioStreams, child.ID, next, i == len(children)-1, false); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOptions is the options of 'persona update'.
type UpdateOptions struct {
	Name         string
	Model        string
	Fallbacks    []string
	Reasoning    string
	Tools        []string
	Division     string
	Parent       string
	Description  string
	SystemPrompt string
	Batch        bool

	patch   entity.PersonaPatch
	factory util.Factory
	util.IOStreams
}

func newCmdUpdate(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	o := &UpdateOptions{factory: f, IOStreams: ioStreams}
	cmd := &cobra.Command{
		Use:   "update PERSONA_ID",
		Short: "Change a persona at runtime",
		Long: heredoc.Doc(`
			Change a persona without restarting cohortd. The server validates the
			result against the whole hierarchy and rejects the change when a model
			is unknown or the reporting lines break. Tasks already running keep the
			persona they started with.`),
		Example: heredoc.Doc(`
			# Move the analyst to a cheaper model and allow batch jobs
			cohortctl persona update analyst --model openai/gpt-4o-mini --batch`),
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(o.Complete(cmd))
			util.CheckErr(o.Run(cmd.Context(), args[0]))
		},
	}
	cmd.Flags().StringVar(&o.Name, "name", o.Name, "Display name.")
	cmd.Flags().StringVar(&o.Model, "model", o.Model, "Primary model as provider/model.")
	cmd.Flags().StringSliceVar(&o.Fallbacks, "fallbacks", o.Fallbacks, "Models tried in order when the primary fails.")
	cmd.Flags().StringVar(&o.Reasoning, "reasoning", o.Reasoning, "Reasoning effort: off, low, medium or high.")
	cmd.Flags().StringSliceVar(&o.Tools, "tools", o.Tools, "Tools the persona may call.")
	cmd.Flags().StringVar(&o.Division, "division", o.Division, "Division the persona belongs to.")
	cmd.Flags().StringVar(&o.Parent, "parent", o.Parent, "Persona this one reports to.")
	cmd.Flags().StringVar(&o.Description, "description", o.Description, "Description used by routing.")
	cmd.Flags().StringVar(&o.SystemPrompt, "system-prompt", o.SystemPrompt, "System prompt.")
	cmd.Flags().BoolVar(&o.Batch, "batch", o.Batch, "Allow provider batch jobs for this persona.")
	return cmd
}

// Complete turns the flags that were set into a patch.
func (o *UpdateOptions) Complete(cmd *cobra.Command) error {
	flags := cmd.Flags()
	set := func(name string, dst **string, v string) {
		if flags.Changed(name) {
			*dst = &v
		}
	}
	set("name", &o.patch.Name, o.Name)
	set("model", &o.patch.Model, o.Model)
	set("reasoning", &o.patch.Reasoning, o.Reasoning)
	set("division", &o.patch.Division, o.Division)
	set("parent", &o.patch.ParentID, o.Parent)
	set("description", &o.patch.Description, o.Description)
	set("system-prompt", &o.patch.SystemPrompt, o.SystemPrompt)
	if flags.Changed("fallbacks") {
		o.patch.Fallbacks = o.Fallbacks
	}
	if flags.Changed("tools") {
		o.patch.Tools = o.Tools
	}
	if flags.Changed("batch") {
		o.patch.Batch = &o.Batch
	}
	if o.patch.Empty() {
		return util.UsageErrorf("cohortctl persona update", "nothing to change, set at least one flag")
	}
	return nil
}

func (o *UpdateOptions) Run(ctx context.Context, id string) error {
	p, err := o.factory.Client().UpdatePersona(ctx, id, &o.patch)
	if err != nil {
		return err
	}
	if o.factory.Output() == "json" {
		return util.PrintJSON(o.Out, p)
	}
	fmt.Fprintf(o.Out, "persona %s updated\n", p.ID)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
