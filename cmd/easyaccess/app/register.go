// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/easyaccess/pkg/config"
	"github.com/stacklok/easyaccess/pkg/easyaccess"
	"github.com/stacklok/easyaccess/pkg/logger"
)

// defaultKeyAlias names the device key when --key-alias is not given.
const defaultKeyAlias = "easyaccess-device"

type registerFlags struct {
	authEnvURL string
	authEnv    string
	deviceID   string
	keyAlias   string
	audience   []string
	force      bool
}

func newRegisterCmd() *cobra.Command {
	var flags registerFlags

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this device as an EasyAccess client",
		Long: `Create a device key pair and register its public key with the authentication
environment. The resulting client registration is stored in the configuration file.

The client token may also be given through EASYACCESS_CLIENT_TOKEN.

Example:
  easyaccess register --auth-env-url https://auth.example.com --auth-env prod \
    --client-token "$TOKEN" --audience api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return registerCmdFunc(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.authEnvURL, "auth-env-url", "", "Base URL of the authentication environment")
	cmd.Flags().StringVar(&flags.authEnv, "auth-env", "", "Name of the authentication environment")
	cmd.Flags().String("client-token", "", "One-time client registration token")
	cmd.Flags().StringVar(&flags.deviceID, "device-id", "", "Device identifier (default: generated once and stored)")
	cmd.Flags().StringVar(&flags.keyAlias, "key-alias", defaultKeyAlias, "Alias of the device key in the key store")
	cmd.Flags().StringSliceVar(&flags.audience, "audience", nil, "Audience to request at login (repeatable)")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Replace an existing registration")
	_ = cmd.MarkFlagRequired("auth-env-url")
	bindFlags(cmd.Flags(), "client-token")

	return cmd
}

func registerCmdFunc(cmd *cobra.Command, flags registerFlags) error {
	ctx := cmd.Context()

	s, err := loadSettings()
	if err != nil {
		return err
	}

	if existing, err := s.provider.GetRegistration(); err == nil {
		if !flags.force {
			return fmt.Errorf("already registered as client %s; use --force to replace it", existing.ClientID)
		}
		logger.Warnf("previous client %s stays registered remotely; run deregister first to remove it", existing.ClientID)
	}

	deviceID := flags.deviceID
	if deviceID == "" {
		deviceID, err = config.EnsureDeviceID(s.provider)
		if err != nil {
			return err
		}
	}

	eng, err := newEngine(ctx, s)
	if err != nil {
		return err
	}
	registrar, err := easyaccess.NewRegistrar(eng.keys, eng.options...)
	if err != nil {
		return err
	}

	reg, err := registrar.Register(ctx, easyaccess.RegisterRequest{
		AuthEnvURL:  flags.authEnvURL,
		AuthEnv:     flags.authEnv,
		ClientToken: viper.GetString("client-token"),
		DeviceID:    deviceID,
		KeyAlias:    flags.keyAlias,
		Audience:    flags.audience,
	})
	if err != nil {
		return err
	}

	if err := s.provider.SetRegistration(*reg); err != nil {
		return fmt.Errorf("registered client %s but failed to store it: %w", reg.ClientID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Registered client %s (key %q)\n", reg.ClientID, reg.KeyAlias)
	return nil
}
