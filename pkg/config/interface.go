// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"github.com/stacklok/easyaccess/pkg/easyaccess"
)

// Provider defines the interface for configuration operations
type Provider interface {
	GetConfig() (*Config, error)
	UpdateConfig(updateFn func(*Config) error) error

	// Registration operations
	SetRegistration(reg easyaccess.ClientRegistration) error
	GetRegistration() (*easyaccess.ClientRegistration, error)
	ClearRegistration() error

	// CA certificate operations
	SetCACert(certPath string) error
	GetCACert() (certPath string, exists bool, accessible bool)
	UnsetCACert() error
}

// PathProvider implements Provider using a specific config path.
// An empty path means the XDG default.
type PathProvider struct {
	configPath string
}

// NewDefaultProvider creates a config provider using the default XDG config path
func NewDefaultProvider() *PathProvider {
	return &PathProvider{}
}

// NewPathProvider creates a new config provider with a specific path
func NewPathProvider(configPath string) *PathProvider {
	return &PathProvider{configPath: configPath}
}

// GetConfig loads and returns the config
func (p *PathProvider) GetConfig() (*Config, error) {
	return LoadOrCreateConfigWithPath(p.configPath)
}

// UpdateConfig updates the config under the file lock
func (p *PathProvider) UpdateConfig(updateFn func(*Config) error) error {
	return UpdateConfigAtPath(p.configPath, updateFn)
}

// SetRegistration stores the registration, replacing any previous one
func (p *PathProvider) SetRegistration(reg easyaccess.ClientRegistration) error {
	return setRegistration(p, reg)
}

// GetRegistration returns the stored registration or ErrNotRegistered
func (p *PathProvider) GetRegistration() (*easyaccess.ClientRegistration, error) {
	return getRegistration(p)
}

// ClearRegistration removes the stored registration
func (p *PathProvider) ClearRegistration() error {
	return clearRegistration(p)
}

// SetCACert validates and sets the CA certificate path
func (p *PathProvider) SetCACert(certPath string) error {
	return setCACert(p, certPath)
}

// GetCACert returns the configured CA certificate path and its accessibility
func (p *PathProvider) GetCACert() (certPath string, exists bool, accessible bool) {
	return getCACert(p)
}

// UnsetCACert removes the CA certificate configuration
func (p *PathProvider) UnsetCACert() error {
	return unsetCACert(p)
}
