// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package easyaccess implements the EasyAccess login engine: device-bound
// client registration, the authorization session state machine and the remote
// approval channel that lets a second device approve a login.
package easyaccess

import (
	goerrors "errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/stacklok/easyaccess/pkg/auth/oidc"
)

// Sentinel errors wrapped by the typed errors of this package.
var (
	// ErrInvalidCallback means the verify redirect does not target the redirect URI.
	ErrInvalidCallback = goerrors.New("invalid callback")

	// ErrInvalidState means the verify redirect carries a foreign state.
	ErrInvalidState = goerrors.New("invalid state")

	// ErrMissingCode means the verify redirect carries no authorization code.
	ErrMissingCode = goerrors.New("missing authorization code")

	// ErrAuthStateMissing means Authorize has not completed on the session.
	ErrAuthStateMissing = goerrors.New("authorization state missing")

	// ErrSessionFinished means the session is Validated or Failed.
	ErrSessionFinished = goerrors.New("session finished")

	// ErrApprovalCancelled means the approval app reported a cancelled login.
	ErrApprovalCancelled = goerrors.New("approval cancelled")
)

// ClientRegistration is the durable identity of a registered device.
// Treat it as immutable; accessors return copies.
type ClientRegistration struct {
	ClientID   string   `json:"clientId" yaml:"client_id"`
	KeyAlias   string   `json:"keyAlias" yaml:"key_alias"`
	AuthEnvURL string   `json:"authEnvUrl" yaml:"auth_env_url"`
	AuthEnv    string   `json:"authEnv" yaml:"auth_env"`
	Audience   []string `json:"audience" yaml:"audience"`
}

// NewClientRegistration returns a registration with a deduplicated copy of audience.
func NewClientRegistration(clientID, keyAlias, authEnvURL, authEnv string, audience []string) ClientRegistration {
	return ClientRegistration{
		ClientID:   clientID,
		KeyAlias:   keyAlias,
		AuthEnvURL: strings.TrimRight(authEnvURL, "/"),
		AuthEnv:    authEnv,
		Audience:   dedupe(audience),
	}
}

// Validate checks that the registration can drive a session.
func (r ClientRegistration) Validate() error {
	switch {
	case r.ClientID == "":
		return fmt.Errorf("client ID is required")
	case r.KeyAlias == "":
		return fmt.Errorf("key alias is required")
	case r.AuthEnvURL == "":
		return fmt.Errorf("authentication environment URL is required")
	}
	return nil
}

// clone returns a copy that shares no slices with r.
func (r ClientRegistration) clone() ClientRegistration {
	r.Audience = dedupe(r.Audience)
	r.AuthEnvURL = strings.TrimRight(r.AuthEnvURL, "/")
	return r
}

// dedupe removes duplicate and empty entries keeping the first-seen order.
func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// LoginState is the server reported progress of a remote approval.
type LoginState int

const (
	// LoginStateUnknown is any state this client does not recognise.
	LoginStateUnknown LoginState = iota
	// LoginStateInit means the login code exists but nobody has opened it.
	LoginStateInit
	// LoginStateStarted means the approval app opened the login.
	LoginStateStarted
	// LoginStateUpdated means the login was approved and can be verified.
	LoginStateUpdated
	// LoginStateDebug is reported by test environments.
	LoginStateDebug
)

var loginStateNames = map[LoginState]string{
	LoginStateUnknown: "unknown",
	LoginStateInit:    "init",
	LoginStateStarted: "started",
	LoginStateUpdated: "updated",
	LoginStateDebug:   "debug",
}

// String returns the wire spelling of s.
func (s LoginState) String() string {
	if name, ok := loginStateNames[s]; ok {
		return name
	}
	return loginStateNames[LoginStateUnknown]
}

// ParseLoginState maps a wire value to a LoginState. Values match exactly;
// anything else is LoginStateUnknown, never an error.
func ParseLoginState(s string) LoginState {
	for state, name := range loginStateNames {
		if name == s {
			return state
		}
	}
	return LoginStateUnknown
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LoginState) UnmarshalText(text []byte) error {
	*s = ParseLoginState(string(text))
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s LoginState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Translation is one localized value.
type Translation struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// MetadataValue holds the translations of one label.
type MetadataValue struct {
	Key          string        `json:"key"`
	Translations []Translation `json:"translations"`
}

// Metadata is the display information of a pending approval.
type Metadata struct {
	DefaultLang string          `json:"defaultLang"`
	Langs       []string        `json:"langs"`
	Values      []MetadataValue `json:"values"`
}

// Lookup returns the translation of key best matching the preferred language
// tags, falling back to the default language and then to any translation.
func (m *Metadata) Lookup(key string, preferred ...string) (string, bool) {
	if m == nil {
		return "", false
	}
	idx := slices.IndexFunc(m.Values, func(v MetadataValue) bool { return v.Key == key })
	if idx < 0 || len(m.Values[idx].Translations) == 0 {
		return "", false
	}
	translations := m.Values[idx].Translations

	byLang := make(map[string]string, len(translations))
	// default language first so it wins when nothing matches
	var supported []language.Tag
	if v, ok := findTranslation(translations, m.DefaultLang); ok {
		supported = append(supported, language.Make(m.DefaultLang))
		byLang[language.Make(m.DefaultLang).String()] = v
	}
	for _, t := range translations {
		tag := language.Make(t.Lang)
		if _, seen := byLang[tag.String()]; seen {
			continue
		}
		supported = append(supported, tag)
		byLang[tag.String()] = t.Value
	}

	var desired []language.Tag
	for _, p := range preferred {
		if tags, _, err := language.ParseAcceptLanguage(p); err == nil {
			desired = append(desired, tags...)
		}
	}

	_, index, _ := language.NewMatcher(supported).Match(desired...)
	return byLang[supported[index].String()], true
}

func findTranslation(translations []Translation, lang string) (string, bool) {
	if lang == "" {
		return "", false
	}
	for _, t := range translations {
		if strings.EqualFold(t.Lang, lang) {
			return t.Value, true
		}
	}
	return "", false
}

// LoginArtifact is what the caller shows the user after Authorize.
type LoginArtifact struct {
	// LoginCode is the code the approval device enters or scans.
	LoginCode string

	// AppLink is the deep link opening the approval app.
	AppLink *url.URL

	// Lang is the language hint of the authorize response, if any.
	Lang string
}

// AuthorizationCode is the code returned by a successful Verify.
type AuthorizationCode string

// DirectOutcome is the result reported back by the approval app.
type DirectOutcome int

const (
	// DirectApproved means the user approved the login in the app.
	DirectApproved DirectOutcome = iota
	// DirectCancelled means the user cancelled the login in the app.
	DirectCancelled
)

// TokenSet is the result of a validated login.
type TokenSet struct {
	AccessToken string
	IDToken     string
	Subject     string
	TokenType   string
	Scope       string
	ExpiresIn   int64
	Expiry      time.Time

	// Claims are the validated ID token claims.
	Claims *oidc.IDTokenClaims
}
