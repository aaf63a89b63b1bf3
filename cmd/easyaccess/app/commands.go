// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the commands of the easyaccess command-line application.
package app

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/easyaccess/pkg/logger"
)

// envPrefix is the prefix of environment variables overriding flags,
// e.g. EASYACCESS_KEY_STORE for --key-store.
const envPrefix = "EASYACCESS"

// NewRootCmd creates a new root command for the easyaccess CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "easyaccess",
		DisableAutoGenTag: true,
		Short:             "Sign in with EasyAccess from the command line",
		Long: `easyaccess registers this device as an EasyAccess client and signs in with
the OIDC authorization code flow. Approval happens in the EasyAccess app: the CLI
prints a login code and deep link and polls until the login is approved.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Re-initialize so --debug takes effect
			logger.Initialize()
			slog.SetDefault(logger.Get())
		},
		SilenceUsage: true,
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.Bool("debug", false, "Enable debug mode")
	flags.String("config", "", "Path to the configuration file (default: XDG config dir)")
	flags.String("key-store", "", "Key store for device keys: keyring or memory (overrides config)")
	flags.String("azp-policy", "", "ID token azp check: reject-equal, require-equal or ignore (overrides config)")
	flags.String("ca-cert", "", "PEM bundle trusted for the authorization environment (overrides config)")
	bindFlags(flags, "debug", "config", "key-store", "azp-policy", "ca-cert")

	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newDeregisterCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// bindFlags binds each named flag to the viper key of the same name.
func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			logger.Errorf("Error binding %s flag: %v", name, err)
		}
	}
}
