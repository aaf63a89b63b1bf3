// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const testKeyBits = 2048

// providerFactories builds each implementation for the shared contract tests.
// The keyring provider runs against go-keyring's in-memory mock.
func providerFactories(t *testing.T) map[string]func() SecureKeyProvider {
	t.Helper()
	keyring.MockInit()
	return map[string]func() SecureKeyProvider{
		"memory": func() SecureKeyProvider {
			return NewMemoryProvider(WithKeyBits(testKeyBits))
		},
		"keyring": func() SecureKeyProvider {
			// unique service per provider keeps parallel subtests isolated
			return NewKeyringProvider(t.Name(), WithKeyBits(testKeyBits))
		},
	}
}

func TestSecureKeyProvider_Contract(t *testing.T) { //nolint:paralleltest // keyring.MockInit swaps a global
	for name, newProvider := range providerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := newProvider()

			pub, err := p.Generate(ctx, "device")
			require.NoError(t, err)
			assert.Equal(t, testKeyBits, pub.N.BitLen())

			exists, err := p.Exists(ctx, "device")
			require.NoError(t, err)
			assert.True(t, exists)

			got, err := p.PublicKey(ctx, "device")
			require.NoError(t, err)
			assert.True(t, pub.Equal(got))

			data := []byte("header.payload")
			sig, err := p.Sign(ctx, "device", data)
			require.NoError(t, err)
			digest := sha256.Sum256(data)
			assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig))

			// regenerate replaces the key
			pub2, err := p.Generate(ctx, "device")
			require.NoError(t, err)
			assert.False(t, pub.Equal(pub2))

			require.NoError(t, p.Delete(ctx, "device"))
			exists, err = p.Exists(ctx, "device")
			require.NoError(t, err)
			assert.False(t, exists)
			_, err = p.Sign(ctx, "device", data)
			assert.ErrorIs(t, err, ErrKeyNotFound)
			_, err = p.PublicKey(ctx, "device")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			// deleting again is a no-op
			assert.NoError(t, p.Delete(ctx, "device"))

			_, err = p.Generate(ctx, "")
			assert.Error(t, err)
		})
	}
}

func TestMemoryProvider_ConcurrentAliases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewMemoryProvider(WithKeyBits(testKeyBits))

	var wg sync.WaitGroup
	aliases := []string{"a", "b", "c", "a", "b", "c"}
	for _, alias := range aliases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Generate(ctx, alias)
			assert.NoError(t, err)
			_, err = p.Sign(ctx, alias, []byte("x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, alias := range []string{"a", "b", "c"} {
		_, err := p.PublicKey(ctx, alias)
		assert.NoError(t, err)
	}
}

func TestWithKeyBits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultKeyBits, newOptions(nil).bits)
	assert.Equal(t, 3072, newOptions([]Option{WithKeyBits(3072)}).bits)
	assert.Equal(t, MinKeyBits, newOptions([]Option{WithKeyBits(512)}).bits)
}

func TestPublicJWK(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, testKeyBits)
	require.NoError(t, err)

	raw, err := PublicJWKJSON(&priv.PublicKey)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "RSA", fields["kty"])
	assert.Equal(t, "sig", fields["use"])
	assert.NotEmpty(t, fields["n"])
	assert.Equal(t, "AQAB", fields["e"])
	for _, private := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		assert.NotContains(t, fields, private)
	}

	_, err = PublicJWK(nil)
	assert.Error(t, err)
}
