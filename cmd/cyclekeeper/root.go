package main

import (
	"github.com/spf13/cobra"

	"cyclekeeper/internal/platform/config"
)

type rootOptions struct {
	configPath string
	trace      bool
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cyclekeeper",
		Short:         "Record keeper for IVF treatment cycles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.trace, "trace", false, "write service spans as JSON lines to stderr")

	cmd.AddCommand(
		newServeCmd(opts),
		newExportCmd(opts),
		newTokenCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}
