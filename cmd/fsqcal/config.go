package main

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fsqcal/internal/config"
)

type configOptions struct {
	*rootOptions
	save string
}

func newConfigCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &configOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (secrets masked) or save it as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.save, "save", "", "write the effective configuration, secrets included, to this path (0600)")
	return cmd
}

func runConfig(opts *configOptions, stdout io.Writer) error {
	cfg, err := loadConfig(opts.rootOptions)
	if err != nil {
		return err
	}
	if opts.save != "" {
		return config.Save(opts.save, cfg)
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg.Redacted())
}
