package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patchgraph/ingen/internal/buildinfo"
)

// Command creates a command printing build information
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			bi := buildinfo.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "ingen %s (built %s, %s, %s)\n",
				bi.GetVersion(), bi.GetBuildDate(), bi.GoVersion, bi.Platform)
		},
	}
}
