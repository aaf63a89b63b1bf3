// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package easyaccess

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/easyaccess/pkg/auth/keys"
	"github.com/stacklok/easyaccess/pkg/auth/oidc"
	"github.com/stacklok/easyaccess/pkg/authtest"
	"github.com/stacklok/easyaccess/pkg/errors"
)

const (
	testAuthEnv  = "example-env"
	testKeyAlias = "device-key"
)

func testOptions(srv *authtest.Server, extra ...Option) []Option {
	return append([]Option{
		WithHTTPClient(srv.Client()),
		WithPollInterval(10 * time.Millisecond),
	}, extra...)
}

// registerTestClient registers a fresh device client with srv.
func registerTestClient(t *testing.T, srv *authtest.Server, provider keys.SecureKeyProvider) ClientRegistration {
	t.Helper()

	registrar, err := NewRegistrar(provider, testOptions(srv)...)
	require.NoError(t, err)

	reg, err := registrar.Register(t.Context(), RegisterRequest{
		AuthEnvURL:  srv.URL,
		AuthEnv:     testAuthEnv,
		ClientToken: "client-token",
		DeviceID:    "device-1",
		KeyAlias:    testKeyAlias,
		Audience:    []string{"api", "api", "profile"},
	})
	require.NoError(t, err)
	return *reg
}

func newTestSession(t *testing.T, srv *authtest.Server, extra ...Option) *Session {
	t.Helper()

	provider := keys.NewMemoryProvider(keys.WithKeyBits(keys.MinKeyBits))
	reg := registerTestClient(t, srv, provider)

	s, err := NewSession(reg, provider, testOptions(srv, extra...)...)
	require.NoError(t, err)
	return s
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithStateSequence("started", "started", "updated"))
	s := newTestSession(t, srv)
	ctx := t.Context()

	artifact, err := s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAuthorized, s.State())
	require.NotEmpty(t, artifact.LoginCode)
	assert.Equal(t,
		"com.megical.easyaccess:/auth?loginCode="+artifact.LoginCode+"&authEnv="+testAuthEnv,
		artifact.AppLink.String())

	state, err := s.Approval().AwaitApproval(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoginStateUpdated, state)
	assert.Equal(t, 3, srv.Calls(authtest.StatePath))
	assert.Equal(t, StateAwaitingApproval, s.State())

	tokens, err := s.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1234", tokens.Subject)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.IDToken)
	assert.Equal(t, "openid", tokens.Scope)
	assert.True(t, strings.EqualFold(tokens.TokenType, "bearer"))
	require.NotNil(t, tokens.Claims)
	assert.Equal(t, srv.Issuer(), tokens.Claims.Issuer)
	assert.Equal(t, StateValidated, s.State())

	// single use
	_, err = s.Verify(ctx)
	assert.True(t, errors.IsProtocolState(err))
	assert.ErrorIs(t, err, ErrSessionFinished)
	_, err = s.Authorize(ctx)
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestSession_AuthorizeRequestCarriesFreshValues(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithLang("fi"))
	provider := keys.NewMemoryProvider(keys.WithKeyBits(keys.MinKeyBits))
	reg := registerTestClient(t, srv, provider)

	first, err := NewSession(reg, provider, testOptions(srv)...)
	require.NoError(t, err)
	second, err := NewSession(reg, provider, testOptions(srv)...)
	require.NoError(t, err)

	a1, err := first.Start(t.Context())
	require.NoError(t, err)
	a2, err := second.Start(t.Context())
	require.NoError(t, err)

	assert.Equal(t, "fi", a1.Lang)
	assert.NotEqual(t, a1.LoginCode, a2.LoginCode)

	first.mu.Lock()
	s1 := first.secrets
	first.mu.Unlock()
	second.mu.Lock()
	s2 := second.secrets
	second.mu.Unlock()

	assert.NotEqual(t, s1.state, s2.state)
	assert.NotEqual(t, s1.nonce, s2.nonce)
	assert.NotEqual(t, s1.codeVerifier, s2.codeVerifier)
	assert.NotEmpty(t, s1.sessionID)
}

func TestSession_VerifyCallbackValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		location func(redirectURI, code, state string) string
		wantErr  error
		contains string
	}{
		{
			name: "state mismatch with valid code",
			location: func(redirectURI, code, _ string) string {
				return redirectURI + "?code=" + code + "&state=forged-state"
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "foreign scheme",
			location: func(_, code, state string) string {
				return "https://evil.example/oauth-callback?code=" + code + "&state=" + state
			},
			wantErr: ErrInvalidCallback,
		},
		{
			name: "foreign path",
			location: func(_, code, state string) string {
				return "com.megical.ea.example:/elsewhere?code=" + code + "&state=" + state
			},
			wantErr: ErrInvalidCallback,
		},
		{
			name: "missing code",
			location: func(redirectURI, _, state string) string {
				return redirectURI + "?state=" + state + "&error=access_denied"
			},
			wantErr:  ErrMissingCode,
			contains: "access_denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := authtest.NewServer(t, authtest.WithVerifyLocation(tt.location))
			s := newTestSession(t, srv)

			artifact, err := s.Start(t.Context())
			require.NoError(t, err)
			srv.Approve(artifact.LoginCode)

			code, err := s.Verify(t.Context())
			require.Error(t, err)
			assert.Empty(t, code)
			assert.True(t, errors.IsCallbackValidation(err))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, "verify", errors.StepOf(err))
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}

			assert.Equal(t, StateFailed, s.State())
			_, err = s.Exchange(t.Context(), "any")
			assert.ErrorIs(t, err, ErrSessionFinished)
		})
	}
}

func TestSession_VerifyCallbackAuthority(t *testing.T) {
	t.Parallel()

	const redirectURI = "app://cb.example/oauth-callback"

	tests := []struct {
		name     string
		location string
		wantErr  bool
	}{
		{name: "matching authority", location: redirectURI},
		{name: "host differs only in case", location: "app://CB.example/oauth-callback"},
		{name: "foreign host", location: "app://other.example/oauth-callback", wantErr: true},
		{name: "foreign userinfo", location: "app://evil@cb.example/oauth-callback", wantErr: true},
		{name: "foreign port", location: "app://cb.example:8443/oauth-callback", wantErr: true},
		{name: "missing authority", location: "app:/oauth-callback", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := authtest.NewServer(t, authtest.WithVerifyLocation(func(_, code, state string) string {
				return tt.location + "?code=" + code + "&state=" + state
			}))
			s := newTestSession(t, srv, WithRedirectURI(redirectURI))

			artifact, err := s.Start(t.Context())
			require.NoError(t, err)
			srv.Approve(artifact.LoginCode)

			code, err := s.Verify(t.Context())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.NotEmpty(t, code)
				assert.Equal(t, StateVerifying, s.State())
				return
			}
			require.Error(t, err)
			assert.Empty(t, code)
			assert.True(t, errors.IsCallbackValidation(err))
			assert.ErrorIs(t, err, ErrInvalidCallback)
			assert.Equal(t, StateFailed, s.State())
		})
	}
}

func TestSession_VerifyRequiresRedirect(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := newTestSession(t, srv)

	_, err := s.Start(t.Context())
	require.NoError(t, err)

	// not approved: the server answers 403
	_, err = s.Verify(t.Context())
	assert.True(t, errors.IsInvalidResponse(err))
	assert.Equal(t, StateFailed, s.State())
}

func TestSession_OutOfOrderCalls(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := newTestSession(t, srv)
	ctx := t.Context()

	_, err := s.Verify(ctx)
	assert.True(t, errors.IsProtocolState(err))
	_, err = s.Authorize(ctx)
	assert.True(t, errors.IsProtocolState(err))
	_, err = s.Exchange(ctx, "code")
	assert.True(t, errors.IsProtocolState(err))
	_, err = s.AwaitApproval(ctx)
	assert.True(t, errors.IsProtocolState(err))

	// misuse does not fail the session
	assert.Equal(t, StateCreated, s.State())
	_, err = s.Start(ctx)
	require.NoError(t, err)

	_, err = s.Discover(ctx)
	assert.True(t, errors.IsProtocolState(err))
	assert.Equal(t, StateAuthorized, s.State())
}

func TestApprovalChannel_AuthStateMissing(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := newTestSession(t, srv)

	_, err := s.Approval().FetchState(t.Context(), "ABC123")
	assert.True(t, errors.IsProtocolState(err))
	assert.ErrorIs(t, err, ErrAuthStateMissing)

	_, err = s.Approval().FetchMetadata(t.Context(), "ABC123")
	assert.ErrorIs(t, err, ErrAuthStateMissing)

	_, err = s.Discover(t.Context())
	require.NoError(t, err)
	_, err = s.Approval().FetchState(t.Context(), "ABC123")
	assert.ErrorIs(t, err, ErrAuthStateMissing)

	assert.Equal(t, 0, srv.Calls(authtest.StatePath))
	assert.Equal(t, 0, srv.Calls(authtest.MetadataPath))
}

func TestApprovalChannel_FetchState(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithStateSequence("init", "debug", "paused", "updated"))
	s := newTestSession(t, srv)

	artifact, err := s.Start(t.Context())
	require.NoError(t, err)

	for _, want := range []LoginState{LoginStateInit, LoginStateDebug, LoginStateUnknown, LoginStateUpdated} {
		got, err := s.Approval().FetchState(t.Context(), artifact.LoginCode)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = s.Approval().FetchState(t.Context(), "OTHER1")
	assert.True(t, errors.IsProtocolState(err))

	// reads never move the session
	assert.Equal(t, StateAuthorized, s.State())
}

func TestApprovalChannel_FetchMetadata(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := newTestSession(t, srv)

	artifact, err := s.Start(t.Context())
	require.NoError(t, err)

	md, err := s.Approval().FetchMetadata(t.Context(), artifact.LoginCode)
	require.NoError(t, err)
	assert.Equal(t, "en", md.DefaultLang)

	title, ok := md.Lookup("title", "fi")
	assert.True(t, ok)
	assert.Equal(t, "Kirjaudu", title)
	assert.Equal(t, StateAuthorized, s.State())
}

func TestApprovalChannel_FetchMetadataInvalidResponse(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithRouteStatus(authtest.MetadataPath, http.StatusInternalServerError))
	s := newTestSession(t, srv)

	artifact, err := s.Start(t.Context())
	require.NoError(t, err)

	_, err = s.Approval().FetchMetadata(t.Context(), artifact.LoginCode)
	assert.True(t, errors.IsInvalidResponse(err))
	assert.Equal(t, StateAuthorized, s.State())
}

func TestSession_AwaitApprovalMatchesStateExactly(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithStateSequence("UPDATED", " updated ", "updated"))
	s := newTestSession(t, srv)

	_, err := s.Start(t.Context())
	require.NoError(t, err)

	state, err := s.AwaitApproval(t.Context())
	require.NoError(t, err)
	assert.Equal(t, LoginStateUpdated, state)
	assert.Equal(t, 3, srv.Calls(authtest.StatePath))
}

func TestSession_AwaitApprovalCancel(t *testing.T) {
	t.Parallel()

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	srv := authtest.NewServer(t, authtest.WithStateSequence("started"))
	s := newTestSession(t, srv, WithMetrics(metrics))

	_, err = s.Start(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err = s.AwaitApproval(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsProtocolState(err))
	assert.False(t, errors.IsTransport(err))
	assert.InDelta(t, 1,
		testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("approval", errors.ErrProtocolState)), 0)
	assert.InDelta(t, 0,
		testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("approval", errors.ErrTransport)), 0)
	assert.Equal(t, StateAwaitingApproval, s.State())
	assert.GreaterOrEqual(t, srv.Calls(authtest.StatePath), 1)

	// the session is still usable after a cancelled poll
	s.mu.Lock()
	loginCode := s.secrets.loginCode
	s.mu.Unlock()
	srv.Approve(loginCode)
	_, err = s.Complete(t.Context())
	require.NoError(t, err)
}

func TestSession_AwaitApprovalInvalidResponseFails(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithRouteStatus(authtest.StatePath, http.StatusBadRequest))
	s := newTestSession(t, srv)

	_, err := s.Start(t.Context())
	require.NoError(t, err)

	_, err = s.AwaitApproval(t.Context())
	assert.True(t, errors.IsInvalidResponse(err))
	assert.Equal(t, 1, srv.Calls(authtest.StatePath))
	assert.Equal(t, StateFailed, s.State())
}

func TestSession_AbandonStopsPolling(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithStateSequence("started"))
	s := newTestSession(t, srv)

	_, err := s.Start(t.Context())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.AwaitApproval(t.Context())
		done <- err
	}()

	require.Eventually(t, func() bool { return srv.Calls(authtest.StatePath) >= 2 }, 5*time.Second, 5*time.Millisecond)
	s.Abandon()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionFinished)
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not stop after Abandon")
	}
	assert.Equal(t, StateFailed, s.State())
}

func TestSession_ResolveDirect(t *testing.T) {
	t.Parallel()

	t.Run("approved", func(t *testing.T) {
		t.Parallel()

		srv := authtest.NewServer(t)
		s := newTestSession(t, srv)

		artifact, err := s.Start(t.Context())
		require.NoError(t, err)

		srv.Approve(artifact.LoginCode)
		require.NoError(t, s.ResolveDirect(DirectApproved))
		assert.Equal(t, StateAwaitingApproval, s.State())

		tokens, err := s.Complete(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "user-1234", tokens.Subject)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		srv := authtest.NewServer(t)
		s := newTestSession(t, srv)

		_, err := s.Start(t.Context())
		require.NoError(t, err)

		err = s.ResolveDirect(DirectCancelled)
		assert.True(t, errors.IsProtocolState(err))
		assert.ErrorIs(t, err, ErrApprovalCancelled)
		assert.Equal(t, StateFailed, s.State())
	})
}

func TestSession_ExchangeRejectsForeignCode(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	s := newTestSession(t, srv)

	artifact, err := s.Start(t.Context())
	require.NoError(t, err)
	srv.Approve(artifact.LoginCode)

	code, err := s.Verify(t.Context())
	require.NoError(t, err)

	_, err = s.Exchange(t.Context(), "not-the-code")
	assert.True(t, errors.IsProtocolState(err))
	assert.Equal(t, StateVerifying, s.State())

	tokens, err := s.Exchange(t.Context(), code)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.Subject)
}

func TestSession_IDTokenRejection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutator authtest.ClaimsMutator
		opts    []Option
		wantErr error
	}{
		{
			name:    "nonce mismatch",
			mutator: func(c jwt.MapClaims, _ map[string]any) { c["nonce"] = "someone-elses-nonce" },
			wantErr: oidc.ErrIDTokenNonceMismatch,
		},
		{
			name:    "http issuer",
			mutator: func(c jwt.MapClaims, _ map[string]any) { c["iss"] = "http://issuer.example" },
			wantErr: oidc.ErrIDTokenInvalidIssuer,
		},
		{
			name: "two audiences",
			mutator: func(c jwt.MapClaims, _ map[string]any) {
				c["aud"] = append(c["aud"].([]string), "other-client")
			},
			wantErr: oidc.ErrIDTokenAudienceCount,
		},
		{
			name: "azp equal to client id",
			mutator: func(c jwt.MapClaims, _ map[string]any) {
				c["azp"] = c["aud"].([]string)[0]
			},
			wantErr: oidc.ErrIDTokenAzpRejected,
		},
		{
			name:    "azp foreign under require-equal",
			mutator: func(c jwt.MapClaims, _ map[string]any) { c["azp"] = "other-client" },
			opts:    []Option{WithAzpPolicy(oidc.AzpRequireEqual)},
			wantErr: oidc.ErrIDTokenAzpRejected,
		},
		{
			name:    "expired",
			mutator: func(c jwt.MapClaims, _ map[string]any) { c["exp"] = time.Now().Add(-time.Minute).Unix() },
			wantErr: oidc.ErrIDTokenSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := authtest.NewServer(t, authtest.WithIDTokenMutator(tt.mutator))
			s := newTestSession(t, srv, tt.opts...)

			artifact, err := s.Start(t.Context())
			require.NoError(t, err)
			srv.Approve(artifact.LoginCode)

			tokens, err := s.Complete(t.Context())
			require.Error(t, err)
			assert.Nil(t, tokens)
			assert.True(t, errors.IsIDTokenValidation(err))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateFailed, s.State())
		})
	}
}

func TestSession_AzpPolicies(t *testing.T) {
	t.Parallel()

	equalAzp := authtest.WithIDTokenMutator(func(c jwt.MapClaims, _ map[string]any) {
		c["azp"] = c["aud"].([]string)[0]
	})

	for _, policy := range []oidc.AzpPolicy{oidc.AzpRequireEqual, oidc.AzpIgnore} {
		t.Run(policy.String(), func(t *testing.T) {
			t.Parallel()

			srv := authtest.NewServer(t, equalAzp)
			s := newTestSession(t, srv, WithAzpPolicy(policy))

			artifact, err := s.Start(t.Context())
			require.NoError(t, err)
			srv.Approve(artifact.LoginCode)

			tokens, err := s.Complete(t.Context())
			require.NoError(t, err)
			assert.Equal(t, tokens.Claims.Audience[0], tokens.Claims.AuthorizedParty)
		})
	}
}

func TestSession_DiscoveryFailure(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t, authtest.WithRouteStatus(authtest.DiscoveryPath, http.StatusInternalServerError))
	provider := keys.NewMemoryProvider(keys.WithKeyBits(keys.MinKeyBits))
	reg := registerTestClient(t, srv, provider)

	s, err := NewSession(reg, provider, testOptions(srv)...)
	require.NoError(t, err)

	_, err = s.Start(t.Context())
	assert.True(t, errors.IsInvalidResponse(err))
	assert.Equal(t, "discover", errors.StepOf(err))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, srv.Calls(authtest.AuthorizePath))
}

func TestSession_TransportFailure(t *testing.T) {
	t.Parallel()

	provider := keys.NewMemoryProvider(keys.WithKeyBits(keys.MinKeyBits))
	reg := NewClientRegistration("client-1", testKeyAlias, "https://127.0.0.1:1", testAuthEnv, nil)

	s, err := NewSession(reg, provider, WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)

	_, err = s.Discover(t.Context())
	assert.True(t, errors.IsTransport(err))
	assert.Equal(t, StateFailed, s.State())
}

func TestSession_KeyMissingAtExchange(t *testing.T) {
	t.Parallel()

	srv := authtest.NewServer(t)
	provider := keys.NewMemoryProvider(keys.WithKeyBits(keys.MinKeyBits))
	reg := registerTestClient(t, srv, provider)

	s, err := NewSession(reg, provider, testOptions(srv)...)
	require.NoError(t, err)

	artifact, err := s.Start(t.Context())
	require.NoError(t, err)
	srv.Approve(artifact.LoginCode)
	require.NoError(t, provider.Delete(t.Context(), reg.KeyAlias))

	_, err = s.Complete(t.Context())
	assert.True(t, errors.IsKeyProvisioning(err))
	assert.ErrorIs(t, err, keys.ErrKeyNotFound)
	assert.Equal(t, 0, srv.Calls(authtest.TokenPath))
	assert.Equal(t, StateFailed, s.State())
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()

	provider := keys.NewMemoryProvider()

	_, err := NewSession(ClientRegistration{KeyAlias: "a", AuthEnvURL: "https://x"}, provider)
	assert.Error(t, err)

	_, err = NewSession(NewClientRegistration("c", "a", "https://x", "env", nil), nil)
	assert.Error(t, err)

	s, err := NewSession(NewClientRegistration("c", "a", "https://x/", "env", []string{"b", "b"}), provider)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, s.State())
	assert.Equal(t, "https://x", s.Registration().AuthEnvURL)
	assert.Equal(t, []string{"b"}, s.Registration().Audience)
}
