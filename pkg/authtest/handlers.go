// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authtest

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/oauth2"
)

var routePrefixes = []string{
	DiscoveryPath, JWKSPath, AuthorizePath, TokenPath, ClientPath, VerifyPath, StatePath, MetadataPath,
}

// countAndOverride records the call per route and applies WithRouteStatus.
func (s *Server) countAndOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := ""
		for _, prefix := range routePrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) && len(prefix) > len(route) {
				route = prefix
			}
		}

		s.mu.Lock()
		s.calls[route]++
		status, forced := s.routeStatus[route]
		s.mu.Unlock()

		if forced {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func (s *Server) discoveryHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.Issuer(),
		"authorization_endpoint":                s.URL + AuthorizePath,
		"token_endpoint":                        s.URL + TokenPath,
		"jwks_uri":                              s.URL + JWKSPath,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"private_key_jwt"},
	})
}

func (s *Server) jwksHandler(w http.ResponseWriter, _ *http.Request) {
	key, err := jwk.Import(&s.signingKey.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = key.Set(jwk.KeyIDKey, s.keyID)
	_ = key.Set(jwk.KeyUsageKey, jwk.ForSignature)

	set := jwk.NewSet()
	_ = set.AddKey(key)
	writeJSON(w, http.StatusOK, set)
}

type registerRequest struct {
	ClientToken string          `json:"clientToken"`
	DeviceID    string          `json:"deviceId"`
	Key         json.RawMessage `json:"key"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.ClientToken == "" || req.DeviceID == "" || len(req.Key) == 0 {
		http.Error(w, "clientToken, deviceId and key are required", http.StatusBadRequest)
		return
	}

	key, err := jwk.ParseKey(req.Key)
	if err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		http.Error(w, "key must be a public RSA key", http.StatusBadRequest)
		return
	}

	clientID := uuid.NewString()
	s.RegisterClient(clientID, pub)
	writeJSON(w, http.StatusCreated, map[string]string{
		"clientId": clientID,
		"secret":   uuid.NewString(),
	})
}

func (s *Server) deleteClientHandler(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	s.mu.Lock()
	_, ok := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown client", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, param := range []string{"client_id", "redirect_uri", "state", "nonce", "code_challenge"} {
		if q.Get(param) == "" {
			writeOAuthError(w, "invalid_request", "missing "+param)
			return
		}
	}
	if q.Get("response_type") != "code" || q.Get("scope") != "openid" || q.Get("code_challenge_method") != "S256" {
		writeOAuthError(w, "invalid_request", "unsupported response_type, scope or challenge method")
		return
	}
	if !s.HasClient(q.Get("client_id")) {
		writeOAuthError(w, "invalid_client", "unknown client")
		return
	}

	req := &authRequest{
		clientID:      q.Get("client_id"),
		redirectURI:   q.Get("redirect_uri"),
		state:         q.Get("state"),
		nonce:         q.Get("nonce"),
		codeChallenge: q.Get("code_challenge"),
		audience:      q.Get("audience"),
		sessionID:     uuid.NewString(),
		loginCode:     strings.ToUpper(uuid.NewString()[:6]),
	}

	s.mu.Lock()
	s.sessions[req.sessionID] = req
	s.loginCodes[req.loginCode] = req
	s.mu.Unlock()

	body := map[string]string{"loginCode": req.loginCode, "sessionId": req.sessionID}
	if s.lang != "" {
		body["lang"] = s.lang
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	loginCode := chi.URLParam(r, "loginCode")

	s.mu.Lock()
	req, ok := s.loginCodes[loginCode]
	var state string
	if ok {
		idx := min(req.polls, len(s.stateSequence)-1)
		state = s.stateSequence[idx]
		req.polls++
		if state == "updated" {
			req.approved = true
		}
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown login code", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

func (s *Server) metadataHandler(w http.ResponseWriter, r *http.Request) {
	loginCode := chi.URLParam(r, "loginCode")

	s.mu.Lock()
	_, ok := s.loginCodes[loginCode]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown login code", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s.metadata))
}

type verifyRequest struct {
	SessionID string `json:"sessionId"`
	Redirect  bool   `json:"redirect"`
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Redirect {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	req, ok := s.sessions[body.SessionID]
	if ok && req.approved && req.code == "" {
		req.code = uuid.NewString()
		s.codes[req.code] = req
	}
	s.mu.Unlock()

	switch {
	case !ok:
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	case !req.approved:
		http.Error(w, "login not approved", http.StatusForbidden)
		return
	}

	location := fmt.Sprintf("%s?code=%s&state=%s", req.redirectURI, url.QueryEscape(req.code), url.QueryEscape(req.state))
	if s.verifyLocation != nil {
		location = s.verifyLocation(req.redirectURI, req.code, req.state)
	}
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

func (s *Server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", "malformed form")
		return
	}
	form := r.PostForm
	if form.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, "unsupported_grant_type", form.Get("grant_type"))
		return
	}
	if form.Get("client_assertion_type") != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
		writeOAuthError(w, "invalid_client", "client assertion required")
		return
	}

	s.mu.Lock()
	req, ok := s.codes[form.Get("code")]
	var pub *rsa.PublicKey
	if ok {
		pub = s.clients[req.clientID]
	}
	s.mu.Unlock()

	switch {
	case !ok || req.redeemed:
		writeOAuthError(w, "invalid_grant", "unknown or redeemed code")
		return
	case pub == nil || form.Get("client_id") != req.clientID:
		writeOAuthError(w, "invalid_client", "unknown client")
		return
	case form.Get("redirect_uri") != req.redirectURI:
		writeOAuthError(w, "invalid_grant", "redirect_uri mismatch")
		return
	case oauth2.S256ChallengeFromVerifier(form.Get("code_verifier")) != req.codeChallenge:
		writeOAuthError(w, "invalid_grant", "PKCE verification failed")
		return
	}

	if err := s.verifyAssertion(form.Get("client_assertion"), req.clientID, pub); err != nil {
		writeOAuthError(w, "invalid_client", err.Error())
		return
	}

	s.mu.Lock()
	req.redeemed = true
	s.mu.Unlock()

	idToken, err := s.IssueIDToken(s.DefaultIDTokenClaims(req.clientID, req.nonce))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": uuid.NewString(),
		"token_type":   "bearer",
		"expires_in":   3600,
		"scope":        "openid",
		"id_token":     idToken,
	})
}

func (s *Server) verifyAssertion(assertion, clientID string, pub *rsa.PublicKey) error {
	token, err := jwt.Parse(assertion,
		func(token *jwt.Token) (any, error) {
			if kid, _ := token.Header["kid"].(string); kid != clientID {
				return nil, fmt.Errorf("assertion kid %q is not the client id", kid)
			}
			return pub, nil
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(clientID),
		jwt.WithSubject(clientID),
		jwt.WithAudience(s.URL+TokenPath),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("invalid client assertion: %w", err)
	}
	claims, _ := token.Claims.(jwt.MapClaims)
	if _, hasIat := claims["iat"]; hasIat {
		return fmt.Errorf("invalid client assertion: unexpected iat")
	}
	if jti, _ := claims["jti"].(string); jti == "" {
		return fmt.Errorf("invalid client assertion: missing jti")
	}
	if exp, err := claims.GetExpirationTime(); err != nil || exp.After(time.Now().Add(11*time.Minute)) {
		return fmt.Errorf("invalid client assertion: exp too far in the future")
	}
	return nil
}
