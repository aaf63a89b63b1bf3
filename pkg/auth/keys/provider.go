// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys manages the device-bound RSA key pairs that authenticate a
// registered EasyAccess client. Private key material never leaves a provider:
// callers get the public key and signatures only.
package keys

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go SecureKeyProvider

// DefaultKeyBits is the RSA modulus size of generated keys.
const DefaultKeyBits = 4096

// MinKeyBits is the smallest accepted RSA modulus size.
const MinKeyBits = 2048

// ErrKeyNotFound is returned when no key exists under the requested alias.
var ErrKeyNotFound = errors.New("key not found")

// SecureKeyProvider creates, uses and deletes RSA key pairs identified by an alias.
// Operations on the same alias are serialised by the provider.
type SecureKeyProvider interface {
	// Generate creates a new key pair under alias, replacing any existing one,
	// and returns its public key.
	Generate(ctx context.Context, alias string) (*rsa.PublicKey, error)

	// PublicKey returns the public key stored under alias.
	// Returns ErrKeyNotFound if there is none.
	PublicKey(ctx context.Context, alias string) (*rsa.PublicKey, error)

	// Sign returns the RSASSA-PKCS1-v1_5 SHA-256 signature of data.
	// Returns ErrKeyNotFound if there is none.
	Sign(ctx context.Context, alias string, data []byte) ([]byte, error)

	// Delete removes the key pair under alias. Deleting a missing key is not an error.
	Delete(ctx context.Context, alias string) error

	// Exists reports whether a key pair is stored under alias.
	Exists(ctx context.Context, alias string) (bool, error)
}

// Option configures a provider.
type Option func(*options)

type options struct {
	bits int
}

// WithKeyBits sets the RSA modulus size. Values below MinKeyBits are raised to it.
func WithKeyBits(bits int) Option {
	return func(o *options) {
		o.bits = max(bits, MinKeyBits)
	}
}

func newOptions(opts []Option) options {
	o := options{bits: DefaultKeyBits}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AliasLocks hands out one mutex per alias. The zero value is ready to use.
type AliasLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock blocks until alias is free and returns the matching unlock function.
func (l *AliasLocks) Lock(alias string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[alias]
	if !ok {
		m = &sync.Mutex{}
		l.locks[alias] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func generateRSAKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return key, nil
}

func signRS256(key *rsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

func validateAlias(alias string) error {
	if alias == "" {
		return errors.New("key alias is required")
	}
	return nil
}
