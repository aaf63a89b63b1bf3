// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/stacklok/easyaccess/pkg/auth/oidc"
)

// init registers all built-in config fields
func init() {
	registerKeyStoreField()
	registerKeyringServiceField()
	registerAzpPolicyField()
	registerRedirectURIField()
	registerAppLinkSchemeField()
	registerPollIntervalField()
	registerCACertField()
}

func registerKeyStoreField() {
	RegisterConfigField(ConfigFieldSpec{
		Name: "key-store",
		SetValidator: func(_ Provider, value string) error {
			return validateKeyStore(value)
		},
		Setter:      func(cfg *Config, value string) { cfg.KeyStore = value },
		Getter:      func(cfg *Config) string { return cfg.KeyStore },
		Unsetter:    func(cfg *Config) { cfg.KeyStore = "" },
		DisplayName: "Key Store",
		HelpText:    "Where device keys live: keyring or memory",
	})
}

func registerKeyringServiceField() {
	RegisterStringField("keyring-service",
		func(cfg *Config) *string { return &cfg.KeyringService },
		nil)
}

func registerAzpPolicyField() {
	RegisterConfigField(ConfigFieldSpec{
		Name: "azp-policy",
		SetValidator: func(_ Provider, value string) error {
			_, err := oidc.ParseAzpPolicy(value)
			return err
		},
		Setter: func(cfg *Config, value string) {
			policy, _ := oidc.ParseAzpPolicy(value)
			cfg.AzpPolicy = policy.String()
		},
		Getter:      func(cfg *Config) string { return cfg.AzpPolicy },
		Unsetter:    func(cfg *Config) { cfg.AzpPolicy = "" },
		DisplayName: "Azp Policy",
		HelpText:    "ID token azp check: reject-equal, require-equal or ignore",
	})
}

func registerRedirectURIField() {
	RegisterStringField("redirect-uri",
		func(cfg *Config) *string { return &cfg.RedirectURI },
		func(_ Provider, value string) error { return validateRedirectURI(value) })
}

func registerAppLinkSchemeField() {
	RegisterStringField("app-link-scheme",
		func(cfg *Config) *string { return &cfg.AppLinkScheme },
		func(_ Provider, value string) error { return validateScheme(value) })
}

func registerPollIntervalField() {
	RegisterConfigField(ConfigFieldSpec{
		Name: "poll-interval",
		SetValidator: func(_ Provider, value string) error {
			_, err := parsePollInterval(value)
			return err
		},
		Setter: func(cfg *Config, value string) {
			cfg.PollInterval, _ = parsePollInterval(value)
		},
		Getter: func(cfg *Config) string {
			if cfg.PollInterval <= 0 {
				return ""
			}
			return cfg.PollInterval.String()
		},
		Unsetter:    func(cfg *Config) { cfg.PollInterval = 0 },
		IsSet:       func(cfg *Config) bool { return cfg.PollInterval > 0 },
		DisplayName: "Poll Interval",
		HelpText:    "Delay between approval state checks, e.g. 5s",
	})
}

// registerCACertField registers the CA certificate config field
func registerCACertField() {
	RegisterConfigField(ConfigFieldSpec{
		Name: "ca-cert",
		SetValidator: func(_ Provider, value string) error {
			cleanPath, err := validateFilePath(value)
			if err != nil {
				return fmt.Errorf("CA certificate %w", err)
			}
			certContent, err := readFile(cleanPath)
			if err != nil {
				return fmt.Errorf("CA certificate %w", err)
			}
			if err := validateCACertificate(certContent); err != nil {
				return fmt.Errorf("invalid CA certificate: %w", err)
			}
			return nil
		},
		Setter: func(cfg *Config, value string) {
			if abs, err := makeAbsolutePath(value); err == nil {
				value = abs
			}
			cfg.CACertificatePath = value
		},
		Getter:      func(cfg *Config) string { return cfg.CACertificatePath },
		Unsetter:    func(cfg *Config) { cfg.CACertificatePath = "" },
		DisplayName: "CA Certificate",
		HelpText:    "PEM bundle trusted for the authorization environment",
	})
}
