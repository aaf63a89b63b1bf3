// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authtest provides an in-process EasyAccess authorization server for
// tests. It implements discovery, client registration, the authorize, verify
// and token endpoints, the JWKS endpoint and the remote approval endpoints.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Route paths served by the fake server.
const (
	DiscoveryPath = "/.well-known/openid-configuration"
	JWKSPath      = "/.well-known/jwks.json"
	AuthorizePath = "/oauth2/auth"
	TokenPath     = "/oauth2/token"
	ClientPath    = "/api/v1/client"
	VerifyPath    = "/api/v1/auth/verifyEasyaccess"
	StatePath     = "/api/v1/easyaccess/state"
	MetadataPath  = "/api/v1/easyaccess/metadata"
)

// DefaultSigningKeyID is the kid of the server's ID token signing key.
const DefaultSigningKeyID = "authtest-signing-key"

// ClaimsMutator may rewrite ID token claims and header before signing.
type ClaimsMutator func(claims jwt.MapClaims, header map[string]any)

// Option configures a Server.
type Option func(*Server)

// WithStateSequence sets the login states returned by successive state polls.
// The last state repeats once the sequence is exhausted.
func WithStateSequence(states ...string) Option {
	return func(s *Server) {
		s.stateSequence = states
	}
}

// WithIDTokenMutator installs a hook applied to every issued ID token.
func WithIDTokenMutator(m ClaimsMutator) Option {
	return func(s *Server) {
		s.mutator = m
	}
}

// WithVerifyLocation overrides the Location header of the verify redirect.
func WithVerifyLocation(f func(redirectURI, code, state string) string) Option {
	return func(s *Server) {
		s.verifyLocation = f
	}
}

// WithMetadata sets the raw JSON body served by the metadata endpoint.
func WithMetadata(body string) Option {
	return func(s *Server) {
		s.metadata = body
	}
}

// WithRouteStatus makes the route at path answer with status and an empty body.
func WithRouteStatus(path string, status int) Option {
	return func(s *Server) {
		s.routeStatus[path] = status
	}
}

// WithSubject sets the sub claim of issued ID tokens.
func WithSubject(sub string) Option {
	return func(s *Server) {
		s.subject = sub
	}
}

// WithLang sets the language hint returned by the authorize endpoint.
func WithLang(lang string) Option {
	return func(s *Server) {
		s.lang = lang
	}
}

// Server is a fake EasyAccess authorization server on an httptest TLS listener.
type Server struct {
	*httptest.Server

	signingKey *rsa.PrivateKey
	keyID      string

	stateSequence  []string
	mutator        ClaimsMutator
	verifyLocation func(redirectURI, code, state string) string
	metadata       string
	routeStatus    map[string]int
	subject        string
	lang           string

	mu         sync.Mutex
	clients    map[string]*rsa.PublicKey
	sessions   map[string]*authRequest
	loginCodes map[string]*authRequest
	codes      map[string]*authRequest
	calls      map[string]int
}

type authRequest struct {
	clientID      string
	redirectURI   string
	state         string
	nonce         string
	codeChallenge string
	audience      string
	sessionID     string
	loginCode     string
	code          string
	polls         int
	approved      bool
	redeemed      bool
}

// NewServer starts a TLS server and closes it when t finishes.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}

	s := &Server{
		signingKey:    key,
		keyID:         DefaultSigningKeyID,
		stateSequence: []string{"started", "updated"},
		routeStatus:   make(map[string]int),
		subject:       "user-1234",
		metadata:      defaultMetadata,
		clients:       make(map[string]*rsa.PublicKey),
		sessions:      make(map[string]*authRequest),
		loginCodes:    make(map[string]*authRequest),
		codes:         make(map[string]*authRequest),
		calls:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewTLSServer(s.Routes())
	t.Cleanup(s.Close)
	return s
}

// Routes returns a router with all endpoints registered.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countAndOverride)

	r.Get(DiscoveryPath, s.discoveryHandler)
	r.Get(JWKSPath, s.jwksHandler)
	r.Get(AuthorizePath, s.authorizeHandler)
	r.Post(TokenPath, s.tokenHandler)
	r.Post(ClientPath, s.registerHandler)
	r.Delete(ClientPath+"/{clientID}", s.deleteClientHandler)
	r.Post(VerifyPath, s.verifyHandler)
	r.Get(StatePath+"/{loginCode}", s.stateHandler)
	r.Get(MetadataPath+"/{loginCode}", s.metadataHandler)
	return r
}

// Issuer returns the issuer identifier advertised in discovery.
func (s *Server) Issuer() string {
	return s.URL
}

// SigningKey returns the ID token signing key.
func (s *Server) SigningKey() *rsa.PrivateKey {
	return s.signingKey
}

// RegisterClient makes clientID known with its assertion verification key.
func (s *Server) RegisterClient(clientID string, pub *rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = pub
}

// HasClient reports whether clientID is registered.
func (s *Server) HasClient(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[clientID]
	return ok
}

// Calls returns how many requests reached the route registered at path prefix.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Approve marks the login code as approved without polling.
func (s *Server) Approve(loginCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.loginCodes[loginCode]; ok {
		req.approved = true
	}
}

// IssueIDToken signs claims with the server key, applying the mutator.
func (s *Server) IssueIDToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	if s.mutator != nil {
		s.mutator(claims, token.Header)
	}
	return token.SignedString(s.signingKey)
}

// DefaultIDTokenClaims returns claims a validator configured for this server accepts.
func (s *Server) DefaultIDTokenClaims(clientID, nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   s.Issuer(),
		"sub":   s.subject,
		"aud":   []string{clientID},
		"nonce": nonce,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
	}
}

const defaultMetadata = `{
  "defaultLang": "en",
  "langs": ["en", "fi"],
  "values": [
    {"key": "title", "translations": [{"lang": "en", "value": "Sign in"}, {"lang": "fi", "value": "Kirjaudu"}]},
    {"key": "service", "translations": [{"lang": "en", "value": "Example service"}]}
  ]
}`
