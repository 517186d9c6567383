package main

import (
	"fmt"

	"github.com/danmuck/wampctl/internal/config"
	"github.com/spf13/cobra"
)

func configCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check a wampctl config file",
	}

	var kind string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(opts.configPath, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s config to %s\n", kind, opts.configPath)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "tcp", "template kind: tcp|unix")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadRunnerConfig(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validated config at %s\n", opts.configPath)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
