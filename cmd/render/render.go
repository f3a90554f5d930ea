package render

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patchgraph/ingen/internal/app"
	"github.com/patchgraph/ingen/internal/conf"
)

// Command creates the offline render command
func Command(settings func() *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [script.yaml]",
		Short: "Render engine output to a WAV file",
		Long:  "Apply a YAML request script to a fresh engine and render its output to a WAV file faster than real time.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			if len(args) == 1 {
				s.Render.Script = args[0]
			}

			var script *app.Script
			if s.Render.Script != "" {
				var err error
				if script, err = app.LoadScript(s.Render.Script); err != nil {
					return err
				}
			}

			res, err := app.Render(cmd.Context(), s, script)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rendered %d frames to %s (peak %.3f)\n", res.Frames, res.Path, res.Peak)
			for _, msg := range res.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "request failed: %s\n", msg)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d script requests failed", len(res.Failed), res.Requests)
			}
			return nil
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the render command
func setupFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringP("output", "o", "", "Output WAV path")
	flags.Float64P("seconds", "s", 0, "Seconds of audio to render")

	for key, flag := range map[string]string{
		"render.path":    "output",
		"render.seconds": "seconds",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
