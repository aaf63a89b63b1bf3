// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/easyaccess/pkg/easyaccess"
	"github.com/stacklok/easyaccess/pkg/errors"
)

func newDeregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deregister",
		Short: "Remove the device registration",
		Long: `Delete the device key and then the client registration in the authentication
environment. The local key is removed even when the remote call fails.`,
		Args: cobra.NoArgs,
		RunE: deregisterCmdFunc,
	}
}

func deregisterCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	s, err := loadSettings()
	if err != nil {
		return err
	}
	reg, err := s.provider.GetRegistration()
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, s)
	if err != nil {
		return err
	}
	registrar, err := easyaccess.NewRegistrar(eng.keys, eng.options...)
	if err != nil {
		return err
	}

	err = registrar.Deregister(ctx, reg.AuthEnvURL, reg.ClientID, reg.KeyAlias)
	if errors.IsKeyProvisioning(err) {
		// the key may still be there, keep the record so the user can retry
		return err
	}

	if clearErr := s.provider.ClearRegistration(); clearErr != nil {
		return fmt.Errorf("failed to clear stored registration: %w", clearErr)
	}
	if err != nil {
		return fmt.Errorf("device key removed, but the remote client was not deleted: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deregistered client %s\n", reg.ClientID)
	return nil
}
