// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Error message templates for consistent error formatting
const (
	errFileNotFound        = "file not found or not accessible: %w"
	errFileRead            = "failed to read file: %w"
	errInvalidURL          = "invalid URL format: %w"
	errAbsolutePathResolve = "failed to resolve absolute path: %w"
)

// validateFilePath validates that a file path exists and is accessible.
// Returns the cleaned path.
func validateFilePath(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	if _, err := os.Stat(cleanPath); err != nil {
		return "", fmt.Errorf(errFileNotFound, err)
	}

	return cleanPath, nil
}

// readFile reads the contents of a file with consistent error messaging.
func readFile(path string) ([]byte, error) {
	// #nosec G304: File path is user-provided but validated by the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFileRead, err)
	}
	return data, nil
}

// validateRedirectURI checks that value is an absolute URI with a custom scheme,
// such as com.example.app:/oauth-callback.
func validateRedirectURI(value string) error {
	parsed, err := neturl.Parse(value)
	if err != nil {
		return fmt.Errorf(errInvalidURL, err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("redirect URI must be absolute")
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect URI must not contain a fragment")
	}
	return nil
}

// validateScheme checks value against the URI scheme grammar of RFC 3986.
func validateScheme(value string) error {
	if value == "" {
		return fmt.Errorf("scheme must not be empty")
	}
	for i, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || strings.ContainsRune("+-.", r)):
		default:
			return fmt.Errorf("invalid character %q in scheme %q", r, value)
		}
	}
	return nil
}

// parsePollInterval parses a positive Go duration such as "5s".
func parsePollInterval(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid poll interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll interval must be positive")
	}
	return d, nil
}

// makeAbsolutePath converts a relative path to an absolute path.
func makeAbsolutePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf(errAbsolutePathResolve, err)
	}
	return absPath, nil
}
