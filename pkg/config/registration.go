// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/stacklok/easyaccess/pkg/easyaccess"
)

func setRegistration(provider Provider, reg easyaccess.ClientRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	return provider.UpdateConfig(func(c *Config) error {
		stored := easyaccess.NewClientRegistration(reg.ClientID, reg.KeyAlias, reg.AuthEnvURL, reg.AuthEnv, reg.Audience)
		c.Registration = &stored
		return nil
	})
}

func getRegistration(provider Provider) (*easyaccess.ClientRegistration, error) {
	cfg, err := provider.GetConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Registration == nil {
		return nil, ErrNotRegistered
	}
	reg := *cfg.Registration
	return &reg, nil
}

func clearRegistration(provider Provider) error {
	return provider.UpdateConfig(func(c *Config) error {
		c.Registration = nil
		return nil
	})
}

// EnsureDeviceID returns the stored device id, generating and persisting one
// on first use.
func EnsureDeviceID(provider Provider) (string, error) {
	var deviceID string
	err := provider.UpdateConfig(func(c *Config) error {
		if c.DeviceID == "" {
			c.DeviceID = uuid.NewString()
		}
		deviceID = c.DeviceID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	return deviceID, nil
}
