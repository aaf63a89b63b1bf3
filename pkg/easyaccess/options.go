// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package easyaccess

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/easyaccess/pkg/auth/oidc"
	"github.com/stacklok/easyaccess/pkg/logger"
	"github.com/stacklok/easyaccess/pkg/networking"
	"github.com/stacklok/easyaccess/pkg/versions"
)

const (
	// DefaultRedirectURI is the OAuth redirect URI of the example EasyAccess client.
	DefaultRedirectURI = "com.megical.ea.example:/oauth-callback"

	// DefaultAppLinkScheme is the URI scheme of the EasyAccess approval app.
	DefaultAppLinkScheme = "com.megical.easyaccess"

	// DefaultPollInterval is the delay between remote state polls.
	DefaultPollInterval = 5 * time.Second
)

// Option configures a Registrar or a Session.
type Option func(*config)

type config struct {
	httpClient    *http.Client
	redirectURI   string
	appLinkScheme string
	pollInterval  time.Duration
	clockSkew     time.Duration
	azpPolicy     oidc.AzpPolicy
	metrics       *Metrics
	logger        *slog.Logger
	now           func() time.Time
	keySets       oidc.KeySetSource
}

// WithHTTPClient sets the base HTTP client. Sessions use a copy with their own
// cookie jar and redirect following disabled.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithRedirectURI sets the OAuth redirect URI registered for the client.
func WithRedirectURI(uri string) Option {
	return func(c *config) {
		c.redirectURI = uri
	}
}

// WithAppLinkScheme sets the scheme of the approval app deep link.
func WithAppLinkScheme(scheme string) Option {
	return func(c *config) {
		c.appLinkScheme = scheme
	}
}

// WithPollInterval sets the delay between remote state polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithClockSkew sets the ID token time claim tolerance.
func WithClockSkew(d time.Duration) Option {
	return func(c *config) {
		c.clockSkew = d
	}
}

// WithAzpPolicy selects how the ID token azp claim is checked.
func WithAzpPolicy(p oidc.AzpPolicy) Option {
	return func(c *config) {
		c.azpPolicy = p
	}
}

// WithMetrics records step outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used for assertions and token validation.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithKeySetSource sets where issuer signing keys are resolved, typically a
// shared oidc.KeySetCache. By default every session fetches the JWKS itself.
func WithKeySetSource(src oidc.KeySetSource) Option {
	return func(c *config) {
		c.keySets = src
	}
}

func newConfig(opts []Option) (*config, error) {
	c := &config{
		redirectURI:   DefaultRedirectURI,
		appLinkScheme: DefaultAppLinkScheme,
		pollInterval:  DefaultPollInterval,
		clockSkew:     oidc.DefaultClockSkew,
		azpPolicy:     oidc.AzpRejectEqual,
		logger:        logger.Get(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		client, err := networking.NewHttpClientBuilder().
			WithVersion(versions.UserAgentVersion()).
			WithoutRedirects().
			Build()
		if err != nil {
			return nil, err
		}
		c.httpClient = client
	}
	return c, nil
}
