package plugins

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/patchgraph/ingen/internal/logger"
	catalog "github.com/patchgraph/ingen/internal/plugins"
)

// Command creates a command listing the built-in plugins
func Command() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List available plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			descs := catalog.NewCatalog(logger.Global().Module("plugins")).Plugins()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(descs)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "URI\tNAME\tCLASS\tPORTS")
			for _, d := range descs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", d.URI, d.Name, d.Class, len(d.Ports))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print descriptors as JSON")
	return cmd
}
