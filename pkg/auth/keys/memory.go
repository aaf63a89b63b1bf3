// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// MemoryProvider keeps private keys sealed in memguard enclaves for the
// lifetime of the process. Keys are lost on exit.
type MemoryProvider struct {
	opts  options
	locks AliasLocks

	mu   sync.RWMutex
	keys map[string]*memguard.Enclave
}

// NewMemoryProvider creates an empty in-process provider.
func NewMemoryProvider(opts ...Option) *MemoryProvider {
	return &MemoryProvider{
		opts: newOptions(opts),
		keys: make(map[string]*memguard.Enclave),
	}
}

// Generate creates a new key pair under alias.
func (p *MemoryProvider) Generate(_ context.Context, alias string) (*rsa.PublicKey, error) {
	if err := validateAlias(alias); err != nil {
		return nil, err
	}
	unlock := p.locks.Lock(alias)
	defer unlock()

	key, err := generateRSAKey(p.opts.bits)
	if err != nil {
		return nil, err
	}

	// NewEnclave wipes the DER buffer once sealed
	enclave := memguard.NewEnclave(x509.MarshalPKCS1PrivateKey(key))

	p.mu.Lock()
	p.keys[alias] = enclave
	p.mu.Unlock()

	return &key.PublicKey, nil
}

// PublicKey returns the public key stored under alias.
func (p *MemoryProvider) PublicKey(_ context.Context, alias string) (*rsa.PublicKey, error) {
	unlock := p.locks.Lock(alias)
	defer unlock()

	var pub *rsa.PublicKey
	err := p.withKey(alias, func(key *rsa.PrivateKey) error {
		pub = &key.PublicKey
		return nil
	})
	return pub, err
}

// Sign signs data with the key stored under alias.
func (p *MemoryProvider) Sign(_ context.Context, alias string, data []byte) ([]byte, error) {
	unlock := p.locks.Lock(alias)
	defer unlock()

	var sig []byte
	err := p.withKey(alias, func(key *rsa.PrivateKey) error {
		var signErr error
		sig, signErr = signRS256(key, data)
		return signErr
	})
	return sig, err
}

// Delete removes the key under alias.
func (p *MemoryProvider) Delete(_ context.Context, alias string) error {
	unlock := p.locks.Lock(alias)
	defer unlock()

	p.mu.Lock()
	delete(p.keys, alias)
	p.mu.Unlock()
	return nil
}

// Exists reports whether a key is stored under alias.
func (p *MemoryProvider) Exists(_ context.Context, alias string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.keys[alias]
	return ok, nil
}

// withKey opens the enclave for alias and passes the parsed key to fn.
// The decrypted buffer is destroyed when fn returns.
func (p *MemoryProvider) withKey(alias string, fn func(*rsa.PrivateKey) error) error {
	p.mu.RLock()
	enclave, ok := p.keys[alias]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	key, err := x509.ParsePKCS1PrivateKey(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to parse sealed key: %w", err)
	}
	return fn(key)
}

var _ SecureKeyProvider = (*MemoryProvider)(nil)
