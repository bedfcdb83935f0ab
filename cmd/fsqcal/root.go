package main

import (
	"os"

	"github.com/spf13/cobra"

	"fsqcal/internal/config"
	appLog "fsqcal/internal/log"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	serve := newServeCommand(opts)
	cmd := &cobra.Command{
		Use:           "fsqcal",
		Short:         "Publish a Foursquare check-in history as an iCalendar feed",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand: serve.
		RunE: serve.RunE,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("FSQCAL_CONFIG"), "optional YAML config file (env FSQCAL_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug|info|warn|error)")
	cmd.Flags().AddFlagSet(serve.Flags())

	cmd.AddCommand(serve)
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newFeedCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

// loadConfig resolves the effective configuration and applies the logging
// settings from it.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", opts.configPath)
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appLog.SetFile(cfg.LogFile)
	return cfg, nil
}
