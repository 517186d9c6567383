package main

import (
	"fmt"

	"github.com/danmuck/wampctl/internal/config"
	"github.com/danmuck/wampctl/internal/transport"
	"github.com/danmuck/wampctl/internal/wamp"
	"github.com/spf13/cobra"
)

func resolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the connection target for every configured transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRunnerConfig(opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, tc := range cfg.Transports {
				target, err := transport.Resolve(tc)
				if err != nil {
					return fmt.Errorf("transports[%d]: %w", i, err)
				}
				factory, err := wamp.MakeFactory(tc, func() wamp.Session { return nil }, nil)
				if err != nil {
					return fmt.Errorf("transports[%d]: %w", i, err)
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", i, transport.NormalizeKind(tc.Type), target, factory.URL())
			}
			return nil
		},
	}
}
