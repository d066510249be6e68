package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mcpresso/mcpresso-oauth/server"
)

const redacted = "REDACTED"

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect server configuration files",
	}
	cmd.AddCommand(newConfigValidateCmd(opts), newConfigShowCmd())
	return cmd
}

func newConfigValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Load a configuration file, apply defaults and validate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			cfg, err := server.LoadConfig(args[0])
			if err != nil {
				return err
			}
			logger.Debug("Configuration loaded", "path", args[0], "issuer", cfg.Issuer)

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"valid":  true,
					"issuer": cfg.Issuer,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (issuer %s)\n", args[0], cfg.Issuer)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if cfg.JWTSecret != "" {
				cfg.JWTSecret = redacted
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
