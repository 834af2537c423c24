package cmd

import (
	"time"

	cmdutil "github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/spf13/pflag"
)

const flagConfig = "config"

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String(flagConfig, "", "Path to a cohortctl config file.")
	flags.StringP(cmdutil.FlagServer, "s", "http://127.0.0.1:8790", "Address of the cohortd HTTP server.")
	flags.String(cmdutil.FlagToken, "", "Bearer token for the cohortd API.")
	flags.StringP(cmdutil.FlagOutput, "o", "table", "Output format: table, wide or json.")
	flags.Bool(cmdutil.FlagNoColor, false, "Disable colored output.")
	flags.Duration(cmdutil.FlagTimeout, 60*time.Second, "Timeout of a single API request.")
}
