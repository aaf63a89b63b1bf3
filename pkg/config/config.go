// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the on-disk configuration of the easyaccess CLI:
// the settings used to build engine options and the client registration
// produced by `easyaccess register`.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/easyaccess/pkg/auth/keys"
	"github.com/stacklok/easyaccess/pkg/auth/oidc"
	"github.com/stacklok/easyaccess/pkg/easyaccess"
)

// Key store types selectable with `--key-store`.
const (
	KeyStoreKeyring = "keyring"
	KeyStoreMemory  = "memory"
)

// Config represents the configuration of the application.
type Config struct {
	KeyStore          string        `yaml:"key_store,omitempty"`
	KeyringService    string        `yaml:"keyring_service,omitempty"`
	AzpPolicy         string        `yaml:"azp_policy,omitempty"`
	RedirectURI       string        `yaml:"redirect_uri,omitempty"`
	AppLinkScheme     string        `yaml:"app_link_scheme,omitempty"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
	CACertificatePath string        `yaml:"ca_certificate_path,omitempty"`

	// DeviceID is generated on first registration and reused afterwards.
	DeviceID string `yaml:"device_id,omitempty"`

	Registration *easyaccess.ClientRegistration `yaml:"registration,omitempty"`
}

// defaultPathGenerator generates the default config path using xdg
var defaultPathGenerator = func() (string, error) {
	return xdg.ConfigFile("easyaccess/config.yaml")
}

// getConfigPath is the current path generator, can be replaced in tests
var getConfigPath = defaultPathGenerator

// createNewConfigWithDefaults creates a new config with default values
func createNewConfigWithDefaults() Config {
	return Config{
		KeyStore:       KeyStoreKeyring,
		KeyringService: keys.DefaultKeyringService,
		AzpPolicy:      oidc.AzpRejectEqual.String(),
		RedirectURI:    easyaccess.DefaultRedirectURI,
		AppLinkScheme:  easyaccess.DefaultAppLinkScheme,
		PollInterval:   easyaccess.DefaultPollInterval,
	}
}

// applyDefaults fills settings an older or hand-edited file leaves empty.
func (c *Config) applyDefaults() {
	defaults := createNewConfigWithDefaults()
	if c.KeyStore == "" {
		c.KeyStore = defaults.KeyStore
	}
	if c.KeyringService == "" {
		c.KeyringService = defaults.KeyringService
	}
	if c.AzpPolicy == "" {
		c.AzpPolicy = defaults.AzpPolicy
	}
	if c.RedirectURI == "" {
		c.RedirectURI = defaults.RedirectURI
	}
	if c.AppLinkScheme == "" {
		c.AppLinkScheme = defaults.AppLinkScheme
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
}

// Validate checks the settings that the CLI turns into engine options.
func (c *Config) Validate() error {
	var errs []error
	if err := validateKeyStore(c.KeyStore); err != nil {
		errs = append(errs, err)
	}
	if _, err := oidc.ParseAzpPolicy(c.AzpPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll interval must not be negative"))
	}
	if c.Registration != nil {
		if err := c.Registration.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stored registration: %w", err))
		}
	}
	return errors.Join(errs...)
}

// AzpPolicyValue returns the parsed azp policy.
func (c *Config) AzpPolicyValue() (oidc.AzpPolicy, error) {
	return oidc.ParseAzpPolicy(c.AzpPolicy)
}

// EngineOptions translates the stored settings into engine options.
// The HTTP client is left to the caller.
func (c *Config) EngineOptions() ([]easyaccess.Option, error) {
	policy, err := c.AzpPolicyValue()
	if err != nil {
		return nil, err
	}
	opts := []easyaccess.Option{easyaccess.WithAzpPolicy(policy)}
	if c.RedirectURI != "" {
		opts = append(opts, easyaccess.WithRedirectURI(c.RedirectURI))
	}
	if c.AppLinkScheme != "" {
		opts = append(opts, easyaccess.WithAppLinkScheme(c.AppLinkScheme))
	}
	if c.PollInterval > 0 {
		opts = append(opts, easyaccess.WithPollInterval(c.PollInterval))
	}
	return opts, nil
}

// NewKeyProvider returns the key store named by KeyStore.
func (c *Config) NewKeyProvider() (keys.SecureKeyProvider, error) {
	switch strings.ToLower(c.KeyStore) {
	case "", KeyStoreKeyring:
		return keys.NewKeyringProvider(c.KeyringService), nil
	case KeyStoreMemory:
		return keys.NewMemoryProvider(), nil
	default:
		return nil, validateKeyStore(c.KeyStore)
	}
}

func validateKeyStore(store string) error {
	switch strings.ToLower(store) {
	case "", KeyStoreKeyring, KeyStoreMemory:
		return nil
	default:
		return fmt.Errorf("unknown key store %q (want %s or %s)", store, KeyStoreKeyring, KeyStoreMemory)
	}
}

// LoadOrCreateConfig fetches the application configuration.
// If it does not already exist - it will create a new config file with default values.
func LoadOrCreateConfig() (*Config, error) {
	return LoadOrCreateConfigWithPath("")
}

// LoadOrCreateConfigWithPath fetches the application configuration from a specific path.
// If configPath is empty, it uses the default path.
func LoadOrCreateConfigWithPath(configPath string) (*Config, error) {
	return NewLocalStore(configPath).Load(context.Background())
}

// saveToPath serializes the config struct and writes it to a specific path.
// If configPath is empty, it uses the default path.
func (c *Config) saveToPath(configPath string) error {
	if configPath == "" {
		var err error
		configPath, err = getConfigPath()
		if err != nil {
			return fmt.Errorf("unable to fetch config path: %w", err)
		}
	}

	configBytes, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Replace the file atomically.
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, configBytes, 0600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// UpdateConfig loads config from the default path, applies changes, and saves back
func UpdateConfig(updateFn func(*Config) error) error {
	return UpdateConfigAtPath("", updateFn)
}

// UpdateConfigAtPath loads config under the file lock, applies changes, and saves back.
// If configPath is empty, it uses the default path.
func UpdateConfigAtPath(configPath string, updateFn func(*Config) error) error {
	return NewLocalStore(configPath).Update(context.Background(), updateFn)
}
