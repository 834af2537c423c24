// Package cmd assembles the cohortctl command tree.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/batch"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/cost"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/model"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/persona"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/task"
	cmdutil "github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/kiosk404/cohort/internal/cohortctl/cmd/version"
	"github.com/kiosk404/cohort/pkg/utils/cliflag"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "COHORT"

// NewDefaultCohortCtlCommand creates the `cohortctl` command with default arguments.
func NewDefaultCohortCtlCommand() *cobra.Command {
	return NewCohortCtlCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewCohortCtlCommand creates the `cohortctl` command writing to the given streams.
func NewCohortCtlCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	v := viper.New()

	// Parent command to which all subcommands are added.
	cmds := &cobra.Command{
		Use:   "cohortctl",
		Short: "cohortctl drives a cohortd organization of LLM personas",
		Long: heredoc.Docf(`
			%s
			cohortctl submits commands to a cohortd server, follows their
			delegation through managers and specialists, tunes personas at
			runtime and reports what every call cost.

			Global flags can also be set in $HOME/.cohort/cohortctl.yaml or
			through %s_* environment variables.`, Banner(), envPrefix),
		Run: runHelp,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if v.GetBool(cmdutil.FlagNoColor) {
				color.NoColor = true
			}
			switch o := v.GetString(cmdutil.FlagOutput); o {
			case "table", "wide", "json":
				return nil
			default:
				return fmt.Errorf("invalid --output %q, must be 'table', 'wide' or 'json'", o)
			}
		},
		SilenceUsage: true,
	}
	cmds.SetIn(in)
	cmds.SetOut(out)
	cmds.SetErr(errOut)

	flags := cmds.PersistentFlags()
	flags.SetNormalizeFunc(cliflag.WordSepNormalizeFunc)
	addGlobalFlags(flags)

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(cmdutil.FlagToken, envPrefix+"_TOKEN", envPrefix+"_API_TOKEN")
	cobra.OnInitialize(func() {
		loadConfig(v, errOut)
	})

	ioStreams := cmdutil.IOStreams{In: in, Out: out, ErrOut: errOut}
	f := cmdutil.NewDefaultFactory(v)

	groups := []struct {
		group    *cobra.Group
		commands []*cobra.Command
	}{
		{
			group: &cobra.Group{ID: "task", Title: "Task Commands:"},
			commands: []*cobra.Command{
				task.NewCmdSubmit(f, ioStreams),
				task.NewCmdGet(f, ioStreams),
				task.NewCmdList(f, ioStreams),
				task.NewCmdCancel(f, ioStreams),
				task.NewCmdEvents(f, ioStreams),
			},
		},
		{
			group: &cobra.Group{ID: "org", Title: "Organization Commands:"},
			commands: []*cobra.Command{
				persona.NewCmdPersona(f, ioStreams),
				model.NewCmdModels(f, ioStreams),
			},
		},
		{
			group: &cobra.Group{ID: "accounting", Title: "Accounting Commands:"},
			commands: []*cobra.Command{
				cost.NewCmdCost(f, ioStreams),
				batch.NewCmdBatch(f, ioStreams),
			},
		},
	}
	for _, g := range groups {
		cmds.AddGroup(g.group)
		for _, c := range g.commands {
			c.GroupID = g.group.ID
			cmds.AddCommand(c)
		}
	}
	cmds.AddCommand(version.NewCmdVersion(f, ioStreams))

	return cmds
}

// loadConfig reads the optional config file. A missing file is not an error.
func loadConfig(v *viper.Viper, errOut io.Writer) {
	if cfg := v.GetString(flagConfig); cfg != "" {
		v.SetConfigFile(cfg)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		v.AddConfigPath(filepath.Join(home, ".cohort"))
		v.SetConfigName("cohortctl")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(errOut, "warning: failed to read config %s: %v\n", v.ConfigFileUsed(), err)
		}
	}
}

func runHelp(cmd *cobra.Command, args []string) {
	_ = cmd.Help()
}
