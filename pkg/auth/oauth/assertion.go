// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stacklok/easyaccess/pkg/auth/keys"
)

// AssertionLifetime is how long a client assertion stays valid.
const AssertionLifetime = 10 * time.Minute

// AssertionSigner signs client assertions with a registered device key.
type AssertionSigner struct {
	keys keys.SecureKeyProvider
	now  func() time.Time
}

// NewAssertionSigner creates a signer. A nil now uses time.Now.
func NewAssertionSigner(provider keys.SecureKeyProvider, now func() time.Time) *AssertionSigner {
	if now == nil {
		now = time.Now
	}
	return &AssertionSigner{keys: provider, now: now}
}

// Sign returns a compact RS256 JWS asserting clientID to tokenEndpoint.
// The header kid is the client id and the claims carry no iat.
func (s *AssertionSigner) Sign(ctx context.Context, keyAlias, clientID, tokenEndpoint string) (string, error) {
	if clientID == "" || tokenEndpoint == "" {
		return "", fmt.Errorf("client ID and token endpoint are required")
	}

	claims := jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{tokenEndpoint},
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(s.now().Add(AssertionLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = clientID

	signingString, err := token.SigningString()
	if err != nil {
		return "", fmt.Errorf("failed to encode assertion: %w", err)
	}

	sig, err := s.keys.Sign(ctx, keyAlias, []byte(signingString))
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}

	return signingString + "." + token.EncodeSegment(sig), nil
}
