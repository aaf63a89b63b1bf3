// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking provides the HTTP plumbing used by the EasyAccess engine:
// a hardened client builder, per-session client cloning and JSON fetch helpers.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/publicsuffix"
)

// HttpTimeout is the timeout for outgoing HTTP requests
const HttpTimeout = 30 * time.Second

// UserAgentPrefix is prepended to the version in the User-Agent header
const UserAgentPrefix = "EasyAccess-Go/"

// ModernCipherSuites lists the TLS 1.2 suites the client negotiates.
// Only ECDHE key exchange with AEAD ciphers is accepted; TLS 1.3 suites are
// not configurable and are always enabled.
var ModernCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// HTTPClient is the subset of *http.Client the fetch helpers need
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ValidatingTransport is for validating URLs prior to request
type ValidatingTransport struct {
	Transport http.RoundTripper
}

// RoundTrip validates the request URL prior to forwarding
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || req.URL.Scheme != "https" {
		return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL)
	}
	return t.Transport.RoundTrip(req)
}

// userAgentTransport sets the User-Agent header on every request
type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip adds the User-Agent header and forwards the request
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	newReq := req.Clone(req.Context())
	newReq.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(newReq)
}

// NewUserAgentTransport wraps base so that every request carries
// "EasyAccess-Go/<version>". A nil base uses http.DefaultTransport.
func NewUserAgentTransport(base http.RoundTripper, version string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &userAgentTransport{transport: base, userAgent: UserAgentPrefix + version}
}

// HttpClientBuilder provides a fluent interface for building HTTP clients
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	version               string
	cookieJar             bool
	followRedirects       bool
}

// NewHttpClientBuilder returns a new HttpClientBuilder
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
		version:               "dev",
		followRedirects:       true,
	}
}

// WithCABundle sets the CA certificate bundle path
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithTimeout sets the overall request timeout
func (b *HttpClientBuilder) WithTimeout(timeout time.Duration) *HttpClientBuilder {
	b.clientTimeout = timeout
	return b
}

// WithVersion sets the version reported in the User-Agent header
func (b *HttpClientBuilder) WithVersion(version string) *HttpClientBuilder {
	b.version = version
	return b
}

// WithCookieJar attaches a fresh public-suffix aware cookie jar
func (b *HttpClientBuilder) WithCookieJar() *HttpClientBuilder {
	b.cookieJar = true
	return b
}

// WithoutRedirects makes the client return redirect responses instead of following them
func (b *HttpClientBuilder) WithoutRedirects() *HttpClientBuilder {
	b.followRedirects = false
	return b
}

// Build creates the configured HTTP client
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: ModernCipherSuites,
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath) // #nosec G304 - path is provided by user via CLI flag
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}
		tlsConfig.RootCAs = caCertPool
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	client := &http.Client{
		Transport: NewUserAgentTransport(&ValidatingTransport{Transport: transport}, b.version),
		Timeout:   b.clientTimeout,
	}

	if b.cookieJar {
		jar, err := NewCookieJar()
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}
	if !b.followRedirects {
		client.CheckRedirect = NoRedirect
	}

	return client, nil
}

// NoRedirect is a CheckRedirect policy that hands the redirect response back to the caller
func NoRedirect(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}

// NewCookieJar returns an empty cookie jar using the public suffix list
func NewCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// CloneForSession returns a shallow copy of base with its own empty cookie
// jar and redirect following disabled. The transport is shared.
func CloneForSession(base *http.Client) (*http.Client, error) {
	if base == nil {
		base = &http.Client{Timeout: HttpTimeout}
	}
	jar, err := NewCookieJar()
	if err != nil {
		return nil, err
	}
	clone := *base
	clone.Jar = jar
	clone.CheckRedirect = NoRedirect
	return &clone, nil
}

// ValidateHTTPSURL parses raw and checks that it is an absolute https URL with
// a host and without query or fragment.
func ValidateHTTPSURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("URL %q must use https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", raw)
	}
	if u.RawQuery != "" || u.ForceQuery {
		return nil, fmt.Errorf("URL %q must not contain a query", raw)
	}
	if u.Fragment != "" {
		return nil, fmt.Errorf("URL %q must not contain a fragment", raw)
	}
	return u, nil
}
