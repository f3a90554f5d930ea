package run

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patchgraph/ingen/internal/app"
	"github.com/patchgraph/ingen/internal/conf"
)

// Command creates the command running the engine on a live driver
func Command(settings func() *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine on a live audio driver",
		Long:  "Activate the engine on the configured audio driver and serve the HTTP, MQTT and journal integrations until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			if err := saveConfig(cmd, s); err != nil {
				return err
			}
			return app.Run(cmd.Context(), s)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// saveConfig writes the effective settings to the --save-config path, if
// one was given, before the engine starts
func saveConfig(cmd *cobra.Command, s *conf.Settings) error {
	path, err := cmd.Flags().GetString("save-config")
	if err != nil || path == "" {
		return err
	}
	if err := conf.SaveYAMLConfig(path, s); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "settings written to %s\n", path)
	return nil
}

// setupFlags configures flags specific to the run command
func setupFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.String("driver", "", "Audio driver (malgo, dummy)")
	flags.String("device", "", "Playback device name for the malgo driver")
	flags.String("listen", "", "HTTP listen address")
	flags.Bool("http", false, "Enable the HTTP transport")
	flags.Bool("mqtt", false, "Enable the MQTT notification publisher")
	flags.String("broker", "", "MQTT broker URL")
	flags.Bool("journal", false, "Enable the request journal")
	flags.String("journal-path", "", "Journal database file")
	flags.Duration("journal-retention", 0, "Prune journal entries older than this (0 keeps everything)")
	flags.String("save-config", "", "Write the effective settings to this YAML file before starting")

	for key, flag := range map[string]string{
		"driver.type":       "driver",
		"driver.device":     "device",
		"http.listen":       "listen",
		"http.enabled":      "http",
		"mqtt.enabled":      "mqtt",
		"mqtt.broker":       "broker",
		"journal.enabled":   "journal",
		"journal.path":      "journal-path",
		"journal.retention": "journal-retention",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
