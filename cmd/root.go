// Package cmd holds the ingen command line
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patchgraph/ingen/cmd/plugins"
	"github.com/patchgraph/ingen/cmd/render"
	"github.com/patchgraph/ingen/cmd/run"
	"github.com/patchgraph/ingen/cmd/version"
	"github.com/patchgraph/ingen/internal/conf"
	"github.com/patchgraph/ingen/internal/logger"
)

// Context carries the loaded settings to subcommands. Settings is nil
// until the root command's pre-run hook has loaded the configuration.
type Context struct {
	ConfigFile string
	Settings   *conf.Settings

	central *logger.CentralLogger
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	ctx := &Context{}

	rootCmd := &cobra.Command{
		Use:           "ingen",
		Short:         "Real-time modular audio engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, ctx); err != nil {
		panic(err)
	}

	versionCmd := version.Command()
	subcommands := []*cobra.Command{
		run.Command(func() *conf.Settings { return ctx.Settings }),
		render.Command(func() *conf.Settings { return ctx.Settings }),
		plugins.Command(),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(ctx)
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if ctx.central != nil {
			return ctx.central.Close()
		}
		return nil
	}

	return rootCmd
}

// initialize loads the configuration and installs the central logger
func initialize(ctx *Context) error {
	settings, err := conf.Load(ctx.ConfigFile)
	if err != nil {
		return err
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	ctx.Settings = settings
	ctx.central = central
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *Context) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config.yaml")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.Uint32("samplerate", 0, "Engine sample rate")
	flags.Uint32("blocksize", 0, "Frames per audio block")
	flags.Int("channels", 0, "Output channel count")

	for key, flag := range map[string]string{
		"debug":             "debug",
		"engine.samplerate": "samplerate",
		"engine.blocksize":  "blocksize",
		"driver.channels":   "channels",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
