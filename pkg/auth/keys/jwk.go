// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// PublicJWK converts pub into a JWK carrying only the public parameters
// (kty, n, e) and use=sig.
func PublicJWK(pub *rsa.PublicKey) (jwk.Key, error) {
	if pub == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	key, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, fmt.Errorf("failed to set key usage: %w", err)
	}
	return key, nil
}

// PublicJWKJSON returns the JSON encoding of PublicJWK(pub).
func PublicJWKJSON(pub *rsa.PublicKey) (json.RawMessage, error) {
	key, err := PublicJWK(pub)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JWK: %w", err)
	}
	return b, nil
}
