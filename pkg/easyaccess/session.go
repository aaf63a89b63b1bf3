// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package easyaccess

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/stacklok/easyaccess/pkg/auth/crypto"
	"github.com/stacklok/easyaccess/pkg/auth/keys"
	"github.com/stacklok/easyaccess/pkg/auth/oauth"
	"github.com/stacklok/easyaccess/pkg/auth/oidc"
	"github.com/stacklok/easyaccess/pkg/errors"
	"github.com/stacklok/easyaccess/pkg/networking"
)

// VerifyPath is the verify resource relative to the authentication environment URL.
const VerifyPath = "/api/v1/auth/verifyEasyaccess"

// SessionState is the position of a Session in the login protocol. It names
// the last step the session entered.
type SessionState int

const (
	// StateCreated is a new session.
	StateCreated SessionState = iota
	// StateDiscovering means discovery ran or is running.
	StateDiscovering
	// StateAuthorized means a login code was issued.
	StateAuthorized
	// StateAwaitingApproval means the caller is waiting for the approval device.
	StateAwaitingApproval
	// StateVerifying means the verify redirect was requested.
	StateVerifying
	// StateExchanging means the code is being redeemed.
	StateExchanging
	// StateValidated is the terminal success state.
	StateValidated
	// StateFailed is the terminal failure state.
	StateFailed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDiscovering:
		return "discovering"
	case StateAuthorized:
		return "authorized"
	case StateAwaitingApproval:
		return "awaiting_approval"
	case StateVerifying:
		return "verifying"
	case StateExchanging:
		return "exchanging"
	case StateValidated:
		return "validated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Finished reports whether s is terminal.
func (s SessionState) Finished() bool {
	return s == StateValidated || s == StateFailed
}

// sessionSecrets is the per-attempt protocol state. It is wiped on failure
// and once a TokenSet has been produced.
type sessionSecrets struct {
	issuer       *oidc.IssuerMetadata
	codeVerifier string
	state        string
	nonce        string
	sessionID    string
	loginCode    string
	code         string
}

// Session drives one login attempt for a registered client. It is single
// use: once Validated or Failed, every operation returns a protocol_state
// error and a new Session is needed. Steps run one at a time; a step invoked
// while another is in flight is rejected without touching the session.
type Session struct {
	reg       ClientRegistration
	cfg       *config
	client    *http.Client
	signer    *oauth.AssertionSigner
	validator *oidc.Validator

	mu      sync.Mutex
	state   SessionState
	busy    bool
	secrets sessionSecrets
}

// NewSession creates a session for reg whose assertions are signed by provider.
func NewSession(reg ClientRegistration, provider keys.SecureKeyProvider, opts ...Option) (*Session, error) {
	if provider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	reg = reg.clone()
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client registration: %w", err)
	}
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	client, err := networking.CloneForSession(cfg.httpClient)
	if err != nil {
		return nil, err
	}

	keySets := cfg.keySets
	if keySets == nil {
		keySets = oidc.NewKeySetFetcher(client)
	}

	return &Session{
		reg:    reg,
		cfg:    cfg,
		client: client,
		signer: oauth.NewAssertionSigner(provider, cfg.now),
		validator: oidc.NewValidator(keySets,
			oidc.WithClockSkew(cfg.clockSkew),
			oidc.WithAzpPolicy(cfg.azpPolicy),
			oidc.WithTimeFunc(cfg.now),
		),
		state: StateCreated,
	}, nil
}

// Registration returns a copy of the registration the session acts for.
func (s *Session) Registration() ClientRegistration {
	return s.reg.clone()
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Abandon discards the session. In-flight steps complete without effect.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Finished() {
		return
	}
	s.cfg.logger.Debug("session abandoned", "state", s.state.String())
	s.state = StateFailed
	s.secrets = sessionSecrets{}
}

// Start runs Discover and Authorize.
func (s *Session) Start(ctx context.Context) (*LoginArtifact, error) {
	if _, err := s.Discover(ctx); err != nil {
		return nil, err
	}
	return s.Authorize(ctx)
}

// Complete runs Verify and Exchange.
func (s *Session) Complete(ctx context.Context) (*TokenSet, error) {
	code, err := s.Verify(ctx)
	if err != nil {
		return nil, err
	}
	return s.Exchange(ctx, code)
}

// Discover fetches the issuer metadata of the authentication environment.
func (s *Session) Discover(ctx context.Context) (md *oidc.IssuerMetadata, err error) {
	const step = "discover"
	defer func(start time.Time) { s.cfg.metrics.observe(step, start, err) }(time.Now())

	if _, err := s.begin(step, StateDiscovering, StateCreated); err != nil {
		return nil, err
	}

	md, err = oidc.Discover(ctx, s.client, s.reg.AuthEnvURL)
	if err == nil && !md.SupportsRS256() {
		err = errors.NewInvalidResponseError(step, "issuer does not support RS256 ID tokens", nil)
	}
	err = s.finish(step, err, func(sec *sessionSecrets) {
		sec.issuer = md
	})
	if err != nil {
		return nil, err
	}
	return md, nil
}

type authorizeResponse struct {
	LoginCode string `json:"loginCode"`
	SessionID string `json:"sessionId"`
	Lang      string `json:"lang,omitempty"`
}

// Authorize sends the authorization request with a fresh state, nonce and
// PKCE verifier and returns the login artifact to show the user.
func (s *Session) Authorize(ctx context.Context) (artifact *LoginArtifact, err error) {
	const step = "authorize"
	defer func(start time.Time) { s.cfg.metrics.observe(step, start, err) }(time.Now())

	sec, err := s.begin(step, StateAuthorized, StateDiscovering)
	if err != nil {
		return nil, err
	}

	next, artifact, err := s.authorize(ctx, sec)
	err = s.finish(step, err, func(sec *sessionSecrets) {
		*sec = next
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (s *Session) authorize(ctx context.Context, sec sessionSecrets) (sessionSecrets, *LoginArtifact, error) {
	const step = "authorize"

	if sec.issuer == nil {
		return sec, nil, errors.NewProtocolStateError(step, "discovery has not completed", ErrAuthStateMissing)
	}

	var err error
	if sec.state, err = crypto.GenerateState(); err != nil {
		return sec, nil, errors.NewUnknownError(step, "failed to generate state", err)
	}
	if sec.nonce, err = crypto.GenerateNonce(); err != nil {
		return sec, nil, errors.NewUnknownError(step, "failed to generate nonce", err)
	}
	if sec.codeVerifier, err = crypto.GeneratePKCEVerifier(); err != nil {
		return sec, nil, errors.NewUnknownError(step, "failed to generate PKCE verifier", err)
	}

	authURL, err := s.oauthConfig(sec.issuer).AuthCodeURL(oauth.AuthorizationRequest{
		State:        sec.state,
		Nonce:        sec.nonce,
		CodeVerifier: sec.codeVerifier,
	})
	if err != nil {
		return sec, nil, errors.NewUnknownError(step, "failed to build authorization request", err)
	}

	result, err := networking.FetchJSON[authorizeResponse](ctx, s.client, authURL)
	if err != nil {
		return sec, nil, errors.NewFetchError(step, "authorization request failed", err)
	}
	if result.Data.LoginCode == "" || result.Data.SessionID == "" {
		return sec, nil, errors.NewInvalidResponseError(step, "authorization response lacks loginCode or sessionId", nil)
	}
	sec.loginCode = result.Data.LoginCode
	sec.sessionID = result.Data.SessionID

	link, err := s.appLink(sec.loginCode)
	if err != nil {
		return sec, nil, errors.NewUnknownError(step, "failed to build app link", err)
	}

	return sec, &LoginArtifact{LoginCode: sec.loginCode, AppLink: link, Lang: result.Data.Lang}, nil
}

// appLink builds <scheme>:/auth?loginCode=<code>&authEnv=<env>.
func (s *Session) appLink(loginCode string) (*url.URL, error) {
	raw := fmt.Sprintf("%s:/auth?loginCode=%s&authEnv=%s",
		s.cfg.appLinkScheme, url.QueryEscape(loginCode), url.QueryEscape(s.reg.AuthEnv))
	return url.Parse(raw)
}

// ResolveDirect records the result the approval app reported for the deep link.
// A cancelled approval fails the session.
func (s *Session) ResolveDirect(outcome DirectOutcome) error {
	const step = "approval"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(step, StateAuthorized, StateAwaitingApproval); err != nil {
		return err
	}
	if outcome == DirectCancelled {
		err := errors.NewProtocolStateError(step, "login was cancelled in the approval app", ErrApprovalCancelled)
		s.failLocked(step, err)
		return err
	}
	s.state = StateAwaitingApproval
	return nil
}

type verifyRequest struct {
	SessionID string `json:"sessionId"`
	Redirect  bool   `json:"redirect"`
}

// Verify exchanges the approved login for the authorization code carried by
// the verify redirect. The redirect must target the redirect URI and carry
// this session's state.
func (s *Session) Verify(ctx context.Context) (code AuthorizationCode, err error) {
	const step = "verify"
	defer func(start time.Time) { s.cfg.metrics.observe(step, start, err) }(time.Now())

	sec, err := s.begin(step, StateVerifying, StateAuthorized, StateAwaitingApproval)
	if err != nil {
		return "", err
	}

	code, err = s.verify(ctx, sec)
	err = s.finish(step, err, func(sec *sessionSecrets) {
		sec.code = string(code)
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *Session) verify(ctx context.Context, sec sessionSecrets) (AuthorizationCode, error) {
	const step = "verify"

	if sec.sessionID == "" {
		return "", errors.NewProtocolStateError(step, "authorize has not completed", ErrAuthStateMissing)
	}

	body, err := json.Marshal(verifyRequest{SessionID: sec.sessionID, Redirect: true})
	if err != nil {
		return "", errors.NewUnknownError(step, "failed to encode verify request", err)
	}

	endpoint := s.reg.AuthEnvURL + VerifyPath
	resp, err := networking.Fetch(ctx, s.client, endpoint,
		networking.WithMethod(http.MethodPost),
		networking.WithJSONBody(body),
	)
	if err != nil {
		return "", errors.NewFetchError(step, "verify request failed", err)
	}
	if resp.StatusCode != http.StatusFound {
		return "", errors.NewInvalidResponseError(step, "verify did not redirect",
			networking.NewHTTPError(resp.StatusCode, endpoint, http.StatusText(resp.StatusCode)))
	}

	location := resp.Headers.Get("Location")
	if location == "" {
		return "", errors.NewInvalidResponseError(step, "verify redirect has no Location", nil)
	}
	return s.validateCallback(location, sec.state)
}

// validateCallback checks the redirect target, then the state, then the code.
func (s *Session) validateCallback(location, expectedState string) (AuthorizationCode, error) {
	const step = "verify"

	expected, err := url.Parse(s.cfg.redirectURI)
	if err != nil {
		return "", errors.NewUnknownError(step, "invalid redirect URI", err)
	}
	got, err := url.Parse(location)
	if err != nil {
		return "", errors.NewCallbackValidationError(step, "redirect Location is not a URL", ErrInvalidCallback)
	}

	switch {
	case !strings.EqualFold(got.Scheme, expected.Scheme):
		return "", errors.NewCallbackValidationError(step, "redirect scheme does not match", ErrInvalidCallback)
	case !sameAuthority(got, expected):
		return "", errors.NewCallbackValidationError(step, "redirect authority does not match", ErrInvalidCallback)
	case got.Path != expected.Path || got.Opaque != expected.Opaque:
		return "", errors.NewCallbackValidationError(step, "redirect path does not match", ErrInvalidCallback)
	}

	query := got.Query()
	if subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(expectedState)) != 1 {
		return "", errors.NewCallbackValidationError(step, "redirect state does not match", ErrInvalidState)
	}

	code := query.Get("code")
	if code == "" {
		msg := "redirect carries no code"
		if oauthErr := query.Get("error"); oauthErr != "" {
			msg = fmt.Sprintf("%s (error=%s)", msg, oauthErr)
		}
		return "", errors.NewCallbackValidationError(step, msg, ErrMissingCode)
	}
	return AuthorizationCode(code), nil
}

// sameAuthority compares the userinfo and host:port of two URLs. Hosts
// compare case-insensitively.
func sameAuthority(a, b *url.URL) bool {
	return a.User.String() == b.User.String() && strings.EqualFold(a.Host, b.Host)
}

// Exchange redeems code, validates the ID token and returns the token set.
// code must be the one returned by Verify on this session.
func (s *Session) Exchange(ctx context.Context, code AuthorizationCode) (tokens *TokenSet, err error) {
	const step = "exchange"
	defer func(start time.Time) { s.cfg.metrics.observe(step, start, err) }(time.Now())

	sec, err := s.beginExchange(code)
	if err != nil {
		return nil, err
	}

	tokens, err = s.exchange(ctx, sec)
	err = s.finish(step, err, func(sec *sessionSecrets) {
		s.state = StateValidated
		*sec = sessionSecrets{}
	})
	if err != nil {
		return nil, err
	}
	s.cfg.logger.Debug("login validated", "client_id", s.reg.ClientID)
	return tokens, nil
}

func (s *Session) beginExchange(code AuthorizationCode) (sessionSecrets, error) {
	const step = "exchange"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(step, StateVerifying); err != nil {
		return sessionSecrets{}, err
	}
	if s.secrets.code == "" {
		return sessionSecrets{}, errors.NewProtocolStateError(step, "verify has not completed", ErrAuthStateMissing)
	}
	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(s.secrets.code)) != 1 {
		return sessionSecrets{}, errors.NewProtocolStateError(step, "code was not issued to this session", nil)
	}
	s.busy = true
	s.state = StateExchanging
	return s.secrets, nil
}

func (s *Session) exchange(ctx context.Context, sec sessionSecrets) (*TokenSet, error) {
	const step = "exchange"

	assertion, err := s.signer.Sign(ctx, s.reg.KeyAlias, s.reg.ClientID, sec.issuer.TokenEndpoint)
	if err != nil {
		return nil, errors.NewKeyProvisioningError(step, "failed to sign client assertion", err)
	}

	resp, err := s.oauthConfig(sec.issuer).Exchange(ctx, s.client, oauth.ExchangeRequest{
		Code:         sec.code,
		CodeVerifier: sec.codeVerifier,
		Assertion:    assertion,
	})
	if err != nil {
		return nil, err
	}

	claims, err := s.validator.Validate(ctx, resp.IDToken, oidc.Expectations{
		Issuer:   sec.issuer.Issuer,
		JWKSURI:  sec.issuer.JWKSURI,
		ClientID: s.reg.ClientID,
		Nonce:    sec.nonce,
	})
	if err != nil {
		return nil, err
	}

	return &TokenSet{
		AccessToken: resp.AccessToken,
		IDToken:     resp.IDToken,
		Subject:     claims.Subject,
		TokenType:   resp.TokenType,
		Scope:       resp.Scope,
		ExpiresIn:   resp.ExpiresIn,
		Expiry:      resp.Expiry,
		Claims:      claims,
	}, nil
}

func (s *Session) oauthConfig(md *oidc.IssuerMetadata) *oauth.Config {
	return &oauth.Config{
		ClientID:    s.reg.ClientID,
		RedirectURI: s.cfg.redirectURI,
		AuthURL:     md.AuthorizationEndpoint,
		TokenURL:    md.TokenEndpoint,
		Audience:    slices.Clone(s.reg.Audience),
	}
}

// begin enters next when the session is idle in one of from and returns a
// copy of the secrets for the step to work on outside the lock.
func (s *Session) begin(step string, next SessionState, from ...SessionState) (sessionSecrets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(step, from...); err != nil {
		return sessionSecrets{}, err
	}
	s.cfg.logger.Debug("session step", "step", step, "from", s.state.String(), "to", next.String())
	s.busy = true
	s.state = next
	return s.secrets, nil
}

// finish ends the step started by begin. On success commit stores the step's
// results; on failure the session fails. A session abandoned while the step
// was in flight keeps nothing.
func (s *Session) finish(step string, err error, commit func(*sessionSecrets)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.busy = false
	if s.state == StateFailed {
		if err == nil {
			err = errors.NewProtocolStateError(step, "session was abandoned", ErrSessionFinished)
		}
		return err
	}
	if err != nil {
		s.failLocked(step, err)
		return err
	}
	if commit != nil {
		commit(&s.secrets)
	}
	return nil
}

// release ends a step without changing the session.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Session) checkLocked(step string, from ...SessionState) error {
	switch {
	case s.state.Finished():
		return errors.NewProtocolStateError(step, "session is "+s.state.String(), ErrSessionFinished)
	case s.busy:
		return errors.NewProtocolStateError(step, "another step is in progress", nil)
	case !slices.Contains(from, s.state):
		return errors.NewProtocolStateError(step,
			fmt.Sprintf("%s is not allowed in state %s", step, s.state), nil)
	}
	return nil
}

func (s *Session) failLocked(step string, err error) {
	s.cfg.logger.Debug("session failed", "step", step, "error_type", errors.TypeOf(err))
	s.state = StateFailed
	s.secrets = sessionSecrets{}
}
