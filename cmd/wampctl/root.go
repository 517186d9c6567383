package main

import (
	"github.com/danmuck/wampctl/internal/logging"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "wampctl.toml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wampctl",
		Short:         "Open and supervise a WAMP client session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the wampctl TOML config")

	root.AddCommand(runCmd(opts), resolveCmd(opts), configCmd(opts))
	return root
}
