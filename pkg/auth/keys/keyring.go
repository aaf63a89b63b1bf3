// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the OS keyring service name keys are stored under.
const DefaultKeyringService = "easyaccess"

// KeyringProvider stores PEM encoded private keys in the OS keyring
// (macOS Keychain, Windows Credential Manager, Secret Service on Linux),
// so a registration survives process restarts.
type KeyringProvider struct {
	service string
	opts    options
	locks   AliasLocks
}

// NewKeyringProvider creates a provider storing keys under service.
// An empty service uses DefaultKeyringService.
func NewKeyringProvider(service string, opts ...Option) *KeyringProvider {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringProvider{service: service, opts: newOptions(opts)}
}

// Generate creates a new key pair under alias, replacing any existing one.
func (p *KeyringProvider) Generate(_ context.Context, alias string) (*rsa.PublicKey, error) {
	if err := validateAlias(alias); err != nil {
		return nil, err
	}
	unlock := p.locks.Lock(alias)
	defer unlock()

	key, err := generateRSAKey(p.opts.bits)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := keyring.Set(p.service, alias, string(pem.EncodeToMemory(block))); err != nil {
		return nil, fmt.Errorf("failed to store key in keyring: %w", err)
	}
	return &key.PublicKey, nil
}

// PublicKey returns the public key stored under alias.
func (p *KeyringProvider) PublicKey(_ context.Context, alias string) (*rsa.PublicKey, error) {
	unlock := p.locks.Lock(alias)
	defer unlock()

	key, err := p.load(alias)
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

// Sign signs data with the key stored under alias.
func (p *KeyringProvider) Sign(_ context.Context, alias string, data []byte) ([]byte, error) {
	unlock := p.locks.Lock(alias)
	defer unlock()

	key, err := p.load(alias)
	if err != nil {
		return nil, err
	}
	return signRS256(key, data)
}

// Delete removes the key under alias.
func (p *KeyringProvider) Delete(_ context.Context, alias string) error {
	unlock := p.locks.Lock(alias)
	defer unlock()

	err := keyring.Delete(p.service, alias)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete key from keyring: %w", err)
	}
	return nil
}

// Exists reports whether a key is stored under alias.
func (p *KeyringProvider) Exists(_ context.Context, alias string) (bool, error) {
	unlock := p.locks.Lock(alias)
	defer unlock()

	_, err := keyring.Get(p.service, alias)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read key from keyring: %w", err)
	}
	return true, nil
}

func (p *KeyringProvider) load(alias string) (*rsa.PrivateKey, error) {
	encoded, err := keyring.Get(p.service, alias)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key from keyring: %w", err)
	}

	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("keyring entry %s is not an RSA private key", alias)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored key: %w", err)
	}
	return key, nil
}

var _ SecureKeyProvider = (*KeyringProvider)(nil)
