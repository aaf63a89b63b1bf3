// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stacklok/easyaccess/pkg/auth/crypto"
)

func testConfig() *Config {
	return &Config{
		ClientID:    "client-123",
		RedirectURI: "com.megical.ea.example:/oauth-callback",
		AuthURL:     "https://auth.example/oauth2/auth",
		TokenURL:    "https://auth.example/oauth2/token",
		Audience:    []string{"api", "profile"},
	}
}

func TestConfig_AuthCodeURL(t *testing.T) {
	t.Parallel()

	verifier, err := crypto.GeneratePKCEVerifier()
	require.NoError(t, err)

	raw, err := testConfig().AuthCodeURL(AuthorizationRequest{
		State:        "state-1",
		Nonce:        "nonce-1",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "auth.example", u.Host)
	assert.Equal(t, "/oauth2/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "com.megical.ea.example:/oauth-callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "api profile", q.Get("audience"))
	assert.Equal(t, "openid", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Empty(t, q.Get("code_verifier"))
}

func TestConfig_AuthCodeURLRequiresValues(t *testing.T) {
	t.Parallel()

	full := AuthorizationRequest{State: "s", Nonce: "n", CodeVerifier: "v"}

	tests := []struct {
		name   string
		config func(*Config)
		req    func(*AuthorizationRequest)
	}{
		{"no client id", func(c *Config) { c.ClientID = "" }, func(*AuthorizationRequest) {}},
		{"no auth url", func(c *Config) { c.AuthURL = "" }, func(*AuthorizationRequest) {}},
		{"no state", func(*Config) {}, func(r *AuthorizationRequest) { r.State = "" }},
		{"no nonce", func(*Config) {}, func(r *AuthorizationRequest) { r.Nonce = "" }},
		{"no verifier", func(*Config) {}, func(r *AuthorizationRequest) { r.CodeVerifier = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tt.config(cfg)
			req := full
			tt.req(&req)

			_, err := cfg.AuthCodeURL(req)
			assert.Error(t, err)
		})
	}
}

func TestConfig_OAuth2Config(t *testing.T) {
	t.Parallel()

	oc := testConfig().OAuth2Config()
	assert.Equal(t, oauth2.AuthStyleInParams, oc.Endpoint.AuthStyle)
	assert.Equal(t, []string{ScopeOpenID}, oc.Scopes)
	assert.Empty(t, oc.ClientSecret)
}
