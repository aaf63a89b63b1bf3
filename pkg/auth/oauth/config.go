// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth builds the OAuth 2.0 requests of an EasyAccess login: the
// authorization request URL, the private_key_jwt client assertion and the
// authorization code exchange.
package oauth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/stacklok/easyaccess/pkg/auth/crypto"
)

// ScopeOpenID is the only scope requested.
const ScopeOpenID = "openid"

// ResponseTypeCode is the response type for code
const ResponseTypeCode = "code"

// ClientAssertionType is the RFC 7523 assertion type for private_key_jwt.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Config describes the client side of a login against one issuer.
type Config struct {
	ClientID    string
	RedirectURI string
	AuthURL     string
	TokenURL    string
	Audience    []string
}

// OAuth2Config returns the golang.org/x/oauth2 view of c. The client
// authenticates with an assertion, so credentials are sent in the body.
func (c *Config) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURI,
		Scopes:      []string{ScopeOpenID},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationRequest holds the per-attempt values of an authorization request.
type AuthorizationRequest struct {
	State        string
	Nonce        string
	CodeVerifier string
}

// AuthCodeURL builds the authorization endpoint URL carrying client_id,
// redirect_uri, state, nonce, the S256 code challenge, the space separated
// audience, scope=openid and response_type=code.
func (c *Config) AuthCodeURL(req AuthorizationRequest) (string, error) {
	if c.ClientID == "" {
		return "", fmt.Errorf("client ID is required")
	}
	if c.AuthURL == "" {
		return "", fmt.Errorf("authorization URL is required")
	}
	if req.State == "" || req.Nonce == "" || req.CodeVerifier == "" {
		return "", fmt.Errorf("state, nonce and code verifier are required")
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", req.Nonce),
		oauth2.SetAuthURLParam("code_challenge", crypto.ComputePKCEChallenge(req.CodeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", crypto.PKCEChallengeMethodS256),
		oauth2.SetAuthURLParam("audience", strings.Join(c.Audience, " ")),
	}
	return c.OAuth2Config().AuthCodeURL(req.State, opts...), nil
}
