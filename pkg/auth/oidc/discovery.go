// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oidc provides issuer discovery for an EasyAccess authentication
// environment and validation of the ID tokens it issues.
package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/stacklok/easyaccess/pkg/errors"
	"github.com/stacklok/easyaccess/pkg/logger"
	"github.com/stacklok/easyaccess/pkg/networking"
)

// WellKnownPath is the discovery document location relative to the authentication environment URL.
const WellKnownPath = "/.well-known/openid-configuration"

// IssuerMetadata is the subset of the OIDC discovery document the engine uses.
type IssuerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// DiscoveryURL returns the discovery document URL for authEnvURL.
func DiscoveryURL(authEnvURL string) string {
	return strings.TrimRight(authEnvURL, "/") + WellKnownPath
}

// Discover fetches and validates the discovery document of the authentication
// environment at authEnvURL. The returned metadata is never partially filled:
// a missing required field fails the whole call.
func Discover(ctx context.Context, client networking.HTTPClient, authEnvURL string) (*IssuerMetadata, error) {
	if _, err := networking.ValidateHTTPSURL(strings.TrimRight(authEnvURL, "/")); err != nil {
		return nil, errors.NewInvalidResponseError("discover", "invalid authentication environment URL", err)
	}

	discoveryURL := DiscoveryURL(authEnvURL)
	result, err := networking.FetchJSON[IssuerMetadata](ctx, client, discoveryURL)
	if err != nil {
		return nil, errors.NewFetchError("discover", "failed to fetch discovery document", err)
	}

	doc := &result.Data
	if err := validateDocument(doc); err != nil {
		return nil, errors.NewInvalidResponseError("discover", "invalid discovery document", err)
	}

	// The authentication environment URL is not required to equal the issuer;
	// ID tokens are checked against the discovered issuer.
	if strings.TrimRight(doc.Issuer, "/") != strings.TrimRight(authEnvURL, "/") {
		logger.Warnf("discovered issuer %s differs from authentication environment URL %s",
			doc.Issuer, authEnvURL)
	}

	return doc, nil
}

// validateDocument validates the OIDC discovery document
func validateDocument(doc *IssuerMetadata) error {
	if doc.Issuer == "" {
		return fmt.Errorf("missing issuer")
	}
	if doc.AuthorizationEndpoint == "" {
		return fmt.Errorf("missing authorization_endpoint")
	}
	if doc.TokenEndpoint == "" {
		return fmt.Errorf("missing token_endpoint")
	}
	if doc.JWKSURI == "" {
		return fmt.Errorf("missing jwks_uri")
	}

	endpoints := map[string]string{
		"authorization_endpoint": doc.AuthorizationEndpoint,
		"token_endpoint":         doc.TokenEndpoint,
		"jwks_uri":               doc.JWKSURI,
		"userinfo_endpoint":      doc.UserinfoEndpoint,
		"revocation_endpoint":    doc.RevocationEndpoint,
		"end_session_endpoint":   doc.EndSessionEndpoint,
	}
	for name, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("invalid %s: must be an absolute https URL", name)
		}
	}
	return nil
}

// SupportsRS256 reports whether the provider advertises RS256 ID token
// signatures. An empty list is treated as RS256, the OIDC default.
func (m *IssuerMetadata) SupportsRS256() bool {
	if len(m.IDTokenSigningAlgValuesSupported) == 0 {
		return true
	}
	for _, alg := range m.IDTokenSigningAlgValuesSupported {
		if alg == "RS256" {
			return true
		}
	}
	return false
}
