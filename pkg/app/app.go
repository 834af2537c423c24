// Package app builds a cobra root command from an options struct, a config
// file and a run function.
package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/kiosk404/cohort/pkg/utils/cliflag"
	"github.com/kiosk404/cohort/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CliOptions abstracts configuration options for reading parameters from the command line.
type CliOptions interface {
	Flags() (fss cliflag.NamedFlagSets)
	Validate() []error
}

// CompleteableOptions abstracts options which can be completed.
type CompleteableOptions interface {
	Complete() error
}

// RunFunc defines the application's startup callback function.
type RunFunc func(basename string) error

// Option defines optional parameters for initializing the application structure.
type Option func(*App)

// App is the main structure of a cli application.
type App struct {
	basename    string
	name        string
	description string
	options     CliOptions
	runFunc     RunFunc
	silence     bool
	noConfig    bool
	args        cobra.PositionalArgs
	cmd         *cobra.Command
}

// WithOptions opens the application's function to read from the command line
// or read parameters from the configuration file.
func WithOptions(opt CliOptions) Option {
	return func(a *App) { a.options = opt }
}

// WithRunFunc is used to set the application startup callback function option.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDescription is used to set the description of the application.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithSilence suppresses the startup banner.
func WithSilence() Option {
	return func(a *App) { a.silence = true }
}

// WithNoConfig disables the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// NewApp creates a new application instance based on the given name, binary name, and other options.
func NewApp(name string, basename string, opts ...Option) *App {
	a := &App{
		name:     name,
		basename: basename,
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run launches the application.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Printf("%v %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

var configFile string

func (a *App) buildCommand() {
	cmd := cobra.Command{
		Use:           a.basename,
		Short:         a.name,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.Flags().SetNormalizeFunc(cliflag.WordSepNormalizeFunc)

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
		fs := cmd.Flags()
		for _, f := range namedFlagSets.FlagSets {
			fs.AddFlagSet(f)
		}
	}

	global := namedFlagSets.FlagSet("global")
	global.BoolP("help", "h", false, fmt.Sprintf("help for %s", a.name))
	global.Bool("version", false, "Print version information and quit.")
	if !a.noConfig {
		global.StringVarP(&configFile, "config", "c", configFile,
			"Read configuration from the specified file, support JSON, TOML, YAML formats.")
	}
	cmd.Flags().AddFlagSet(global)

	cliflag.SetUsageAndHelpFunc(&cmd, namedFlagSets, 120)
	a.cmd = &cmd
}

func (a *App) runCommand(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get().Text())
		os.Exit(0)
	}

	if !a.noConfig {
		if err := a.loadConfig(cmd); err != nil {
			return err
		}
	}

	if !a.silence {
		fmt.Fprintf(cmd.OutOrStdout(), "%v Starting %s %s\n", color.GreenString("==>"), a.name, version.Get().GitVersion)
	}

	if a.options != nil {
		if err := a.applyOptionRules(); err != nil {
			return err
		}
	}

	return a.runFunc(a.basename)
}

func (a *App) loadConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	viper.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(a.basename, "-", "_")))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %q: %w", configFile, err)
		}
	}

	if a.options == nil {
		return nil
	}
	if err := viper.Unmarshal(a.options); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (a *App) applyOptionRules() error {
	if completeableOptions, ok := a.options.(CompleteableOptions); ok {
		if err := completeableOptions.Complete(); err != nil {
			return err
		}
	}

	if errs := a.options.Validate(); len(errs) != 0 {
		return errors.Join(errs...)
	}

	if printable, ok := a.options.(fmt.Stringer); ok {
		fmt.Fprintf(a.cmd.OutOrStdout(), "%v Config: `%s`\n", color.GreenString("==>"), printable.String())
	}
	return nil
}
