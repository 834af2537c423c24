// Package version holds the 'version' command.
package version

import (
	"fmt"

	"github.com/kiosk404/cohort/internal/cohortctl/cmd/util"
	"github.com/kiosk404/cohort/pkg/version"
	"github.com/spf13/cobra"
)

// NewCmdVersion returns the 'version' command.
func NewCmdVersion(f util.Factory, ioStreams util.IOStreams) *cobra.Command {
	var clientOnly bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the client and server version information",
		Run: func(cmd *cobra.Command, args []string) {
			clientInfo := version.Get()
			if clientOnly {
				printVersion(ioStreams, f.Output(), "Client", clientInfo)
				return
			}
			serverInfo, err := f.Client().ServerVersion(cmd.Context())
			printVersion(ioStreams, f.Output(), "Client", clientInfo)
			if err != nil {
				fmt.Fprintf(ioStreams.ErrOut, "server version unavailable: %v\n", err)
				return
			}
			printVersion(ioStreams, f.Output(), "Server", *serverInfo)
		},
	}
	cmd.Flags().BoolVar(&clientOnly, "client", clientOnly, "Only print the client version.")
	return cmd
}

func printVersion(ioStreams util.IOStreams, output, side string, info version.Info) {
	if output == "json" {
		fmt.Fprintln(ioStreams.Out, info.ToJSON())
		return
	}
	fmt.Fprintf(ioStreams.Out, "%s:\n%s\n", side, info.Text())
}
