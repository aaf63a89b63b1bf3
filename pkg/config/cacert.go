// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// validateCACertificate checks that data holds at least one PEM encoded CA certificate.
func validateCACertificate(data []byte) error {
	found := false
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}
		if !cert.IsCA {
			return fmt.Errorf("certificate %q is not a CA certificate", cert.Subject.CommonName)
		}
		found = true
	}
	if !found {
		return errors.New("no PEM encoded certificate found")
	}
	return nil
}

// setCACert validates and sets the CA certificate path using the provided provider.
// It performs the following validations:
//   - Verifies the file exists and is readable
//   - Validates the certificate format
//   - Stores the absolute, cleaned path
func setCACert(provider Provider, certPath string) error {
	cleanPath, err := validateFilePath(certPath)
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

	absPath, err := makeAbsolutePath(cleanPath)
	if err != nil {
		return err
	}

	err = provider.UpdateConfig(func(c *Config) error {
		c.CACertificatePath = absPath
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}

	return nil
}

// getCACert returns the currently configured CA certificate path and its accessibility status.
//
// Note: exists can be true while accessible is false if the file was deleted after configuration.
func getCACert(provider Provider) (certPath string, exists bool, accessible bool) {
	cfg, err := provider.GetConfig()
	if err != nil || cfg.CACertificatePath == "" {
		return "", false, false
	}

	certPath = cfg.CACertificatePath
	_, statErr := os.Stat(certPath)
	return certPath, true, statErr == nil
}

// unsetCACert removes the CA certificate configuration from the config file.
// If no CA certificate is currently configured, this function is a no-op.
func unsetCACert(provider Provider) error {
	err := provider.UpdateConfig(func(c *Config) error {
		c.CACertificatePath = ""
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}
	return nil
}
