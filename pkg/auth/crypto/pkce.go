// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto generates the per-attempt secrets of an authorization
// request: the PKCE code verifier and the state and nonce values.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the PKCE challenge method using SHA-256 (RFC 7636).
const PKCEChallengeMethodS256 = "S256"

// PKCEVerifierLength is the length of generated code verifiers, the maximum RFC 7636 allows.
const PKCEVerifierLength = 128

// pkceAlphabet is the RFC 7636 unreserved character set.
const pkceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-._~"

// GeneratePKCEVerifier generates a cryptographically random code_verifier
// per RFC 7636 Section 4.1: 128 characters drawn uniformly from the
// unreserved alphabet.
func GeneratePKCEVerifier() (string, error) {
	return generatePKCEVerifier(rand.Reader)
}

func generatePKCEVerifier(r io.Reader) (string, error) {
	// Largest multiple of the alphabet size that fits in a byte; bytes at or
	// above it are rejected so every character is equally likely.
	limit := byte(256 - 256%len(pkceAlphabet))

	out := make([]byte, 0, PKCEVerifierLength)
	buf := make([]byte, PKCEVerifierLength)
	for len(out) < PKCEVerifierLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, pkceAlphabet[int(b)%len(pkceAlphabet)])
			if len(out) == PKCEVerifierLength {
				break
			}
		}
	}
	return string(out), nil
}

// ComputePKCEChallenge computes the code_challenge from a code_verifier
// using the S256 method per RFC 7636 Section 4.2.
// code_challenge = BASE64URL(SHA256(code_verifier))
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
