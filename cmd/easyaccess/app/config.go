// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/easyaccess/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage application configuration",
		Long:  "The config command provides subcommands to manage application configuration settings.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <field> <value>",
		Short: "Set a configuration field",
		Long: `Set a configuration field. Run "easyaccess config list" to see the fields.

Example:
  easyaccess config set azp-policy require-equal
  easyaccess config set ca-cert /path/to/corporate-ca.crt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SetConfigField(configProvider(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <field>",
		Short: "Print a configuration field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := config.GetConfigField(configProvider(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <field>",
		Short: "Reset a configuration field to its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.UnsetConfigField(configProvider(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configuration fields and their values",
		Args:  cobra.NoArgs,
		RunE:  listConfigCmdFunc,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration file, including the stored registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configProvider().GetConfig()
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	})

	return cmd
}

func configProvider() *config.PathProvider {
	return config.NewPathProvider(viper.GetString("config"))
}

func listConfigCmdFunc(cmd *cobra.Command, _ []string) error {
	provider := configProvider()
	cfg, err := provider.GetConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE\tDESCRIPTION")
	for _, name := range config.ListConfigFields() {
		spec, _ := config.GetConfigFieldSpec(name)
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, spec.Getter(cfg), spec.HelpText)
	}
	return w.Flush()
}
