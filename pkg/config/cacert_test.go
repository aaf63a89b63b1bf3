// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCertificate(t *testing.T, isCA bool) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "easyaccess test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	return path
}

func TestValidateCACertificate(t *testing.T) {
	t.Parallel()

	ca, err := os.ReadFile(writeCertificate(t, true))
	require.NoError(t, err)
	leaf, err := os.ReadFile(writeCertificate(t, false))
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{"ca certificate", ca, ""},
		{"leaf certificate", leaf, "not a CA certificate"},
		{"no pem", []byte("hello"), "no PEM encoded certificate"},
		{"garbage certificate", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("nope")}), "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validateCACertificate(tt.data)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCACert_SetGetUnset(t *testing.T) {
	t.Parallel()

	provider := NewPathProvider(tempConfigPath(t))

	certPath, exists, accessible := provider.GetCACert()
	assert.Empty(t, certPath)
	assert.False(t, exists)
	assert.False(t, accessible)

	caPath := writeCertificate(t, true)
	require.NoError(t, provider.SetCACert(caPath))

	certPath, exists, accessible = provider.GetCACert()
	assert.Equal(t, caPath, certPath)
	assert.True(t, exists)
	assert.True(t, accessible)

	require.NoError(t, os.Remove(caPath))
	_, exists, accessible = provider.GetCACert()
	assert.True(t, exists)
	assert.False(t, accessible)

	require.NoError(t, provider.UnsetCACert())
	_, exists, _ = provider.GetCACert()
	assert.False(t, exists)
}

func TestCACert_SetRejectsInvalid(t *testing.T) {
	t.Parallel()

	provider := NewPathProvider(tempConfigPath(t))

	assert.Error(t, provider.SetCACert(filepath.Join(t.TempDir(), "missing.pem")))
	assert.Error(t, provider.SetCACert(writeCertificate(t, false)))
	assert.Error(t, SetConfigField(provider, "ca-cert", writeCertificate(t, false)))

	caPath := writeCertificate(t, true)
	require.NoError(t, SetConfigField(provider, "ca-cert", caPath))
	got, err := GetConfigField(provider, "ca-cert")
	require.NoError(t, err)
	assert.Equal(t, caPath, got)
}
