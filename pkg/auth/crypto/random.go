// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// RandomValueBytes is the entropy of a generated state or nonce.
const RandomValueBytes = 32

// GenerateNonce returns 32 random bytes encoded as base64url without padding.
func GenerateNonce() (string, error) {
	return generateRandomValue(rand.Reader)
}

// GenerateState returns a fresh OAuth state value. It has the same shape as a nonce.
func GenerateState() (string, error) {
	return generateRandomValue(rand.Reader)
}

func generateRandomValue(r io.Reader) (string, error) {
	b := make([]byte, RandomValueBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
