// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"context"
	"crypto/rsa"
	goerrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/easyaccess/pkg/errors"
)

// DefaultClockSkew is the tolerance applied to exp, nbf and iat.
const DefaultClockSkew = 2 * time.Second

// SigningAlgorithm is the only accepted ID token signature algorithm.
const SigningAlgorithm = "RS256"

// ID Token validation errors.
var (
	ErrIDTokenMalformed         = goerrors.New("id token is malformed")
	ErrIDTokenInvalidIssuer     = goerrors.New("id token issuer is not a valid https URL")
	ErrIDTokenNonceMismatch     = goerrors.New("id token nonce mismatch")
	ErrIDTokenAudienceCount     = goerrors.New("id token must have exactly one audience")
	ErrIDTokenAzpRejected       = goerrors.New("id token azp rejected")
	ErrIDTokenKeyNotFound       = goerrors.New("id token signing key not found in JWKS")
	ErrIDTokenJWKSFetchFailed   = goerrors.New("failed to fetch JWKS")
	ErrIDTokenSignatureInvalid  = goerrors.New("id token failed verification")
	ErrIDTokenMissingSubject    = goerrors.New("id token missing sub claim")
	ErrIDTokenMissingValidation = goerrors.New("id token validation input missing")
)

// AzpPolicy selects how the azp claim is checked against the client id.
type AzpPolicy int

const (
	// AzpRejectEqual rejects a token whose azp equals the client id.
	// This reproduces the behaviour of the reference EasyAccess SDKs.
	AzpRejectEqual AzpPolicy = iota

	// AzpRequireEqual rejects a token whose azp is present and differs from
	// the client id, as described by OIDC Core 3.1.3.7 rule 5.
	AzpRequireEqual

	// AzpIgnore skips the azp check.
	AzpIgnore
)

// String returns the flag spelling of the policy.
func (p AzpPolicy) String() string {
	switch p {
	case AzpRejectEqual:
		return "reject-equal"
	case AzpRequireEqual:
		return "require-equal"
	case AzpIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("AzpPolicy(%d)", int(p))
	}
}

// ParseAzpPolicy parses the flag spelling produced by AzpPolicy.String.
func ParseAzpPolicy(s string) (AzpPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject-equal":
		return AzpRejectEqual, nil
	case "require-equal":
		return AzpRequireEqual, nil
	case "ignore":
		return AzpIgnore, nil
	default:
		return 0, fmt.Errorf("unknown azp policy %q (want reject-equal, require-equal or ignore)", s)
	}
}

// IDTokenClaims contains the ID token claims the engine reads.
type IDTokenClaims struct {
	jwt.RegisteredClaims

	// Nonce binds the token to the authorization request.
	Nonce string `json:"nonce,omitempty"`

	// AuthorizedParty is the party to which the ID Token was issued (azp claim).
	AuthorizedParty string `json:"azp,omitempty"`

	// AuthTime is the time when the end-user authentication occurred.
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`
}

// Expectations carries the session-bound values an ID token must match.
type Expectations struct {
	// Issuer is the discovered issuer identifier.
	Issuer string

	// JWKSURI is where the issuer publishes its signing keys.
	JWKSURI string

	// ClientID is the only accepted audience.
	ClientID string

	// Nonce is the value sent with the authorization request.
	Nonce string
}

// Validator validates ID tokens in two passes. The first pass reads the
// claims without verifying the signature and rejects tokens with an unsafe
// issuer, a foreign nonce, several audiences or a disallowed azp. The second
// pass verifies the RS256 signature and the issuer, audience, exp and sub claims.
//
// OIDC Core 3.1.3.7 rules 1 (encryption), 8 (MAC algorithms), 12 (acr) and
// 13 (auth_time with max_age) are not implemented.
type Validator struct {
	keys      KeySetSource
	clockSkew time.Duration
	azp       AzpPolicy
	now       func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClockSkew sets the tolerance for time based claims.
func WithClockSkew(skew time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.clockSkew = skew
	}
}

// WithAzpPolicy sets the azp interpretation.
func WithAzpPolicy(policy AzpPolicy) ValidatorOption {
	return func(v *Validator) {
		v.azp = policy
	}
}

// WithTimeFunc overrides the clock used for time based claims.
func WithTimeFunc(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a validator resolving signing keys through keys.
func NewValidator(keys KeySetSource, opts ...ValidatorOption) *Validator {
	v := &Validator{
		keys:      keys,
		clockSkew: DefaultClockSkew,
		azp:       AzpRejectEqual,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks rawIDToken against exp and returns its claims.
// Every failure is an id_token_validation error with a human readable reason.
func (v *Validator) Validate(ctx context.Context, rawIDToken string, exp Expectations) (*IDTokenClaims, error) {
	if rawIDToken == "" || exp.Issuer == "" || exp.ClientID == "" || exp.Nonce == "" || exp.JWKSURI == "" {
		return nil, errors.NewIDTokenValidationError("missing ID token or validation input", ErrIDTokenMissingValidation)
	}

	if err := v.preValidate(rawIDToken, exp); err != nil {
		return nil, err
	}

	set, err := v.keys.KeySet(ctx, exp.JWKSURI)
	if err != nil {
		return nil, errors.NewIDTokenValidationError("could not load issuer signing keys",
			fmt.Errorf("%w: %w", ErrIDTokenJWKSFetchFailed, err))
	}

	claims := &IDTokenClaims{}
	_, err = jwt.ParseWithClaims(rawIDToken, claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			return selectKey(set, kid)
		},
		jwt.WithValidMethods([]string{SigningAlgorithm}),
		jwt.WithIssuer(exp.Issuer),
		jwt.WithAudience(exp.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if goerrors.Is(err, ErrIDTokenKeyNotFound) {
			return nil, errors.NewIDTokenValidationError("no matching signing key", err)
		}
		return nil, errors.NewIDTokenValidationError(verificationReason(err),
			fmt.Errorf("%w: %w", ErrIDTokenSignatureInvalid, err))
	}

	if claims.Subject == "" {
		return nil, errors.NewIDTokenValidationError("subject claim is missing", ErrIDTokenMissingSubject)
	}

	return claims, nil
}

// preValidate is the unverified first pass.
func (v *Validator) preValidate(rawIDToken string, exp Expectations) error {
	claims := &IDTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawIDToken, claims); err != nil {
		return errors.NewIDTokenValidationError("token could not be parsed",
			fmt.Errorf("%w: %w", ErrIDTokenMalformed, err))
	}

	issuer, err := url.Parse(claims.Issuer)
	switch {
	case err != nil || issuer.Scheme != "https":
		return errors.NewIDTokenValidationError("issuer must be an https URL", ErrIDTokenInvalidIssuer)
	case issuer.Host == "":
		return errors.NewIDTokenValidationError("issuer host can not be empty", ErrIDTokenInvalidIssuer)
	case issuer.RawQuery != "" || issuer.ForceQuery || strings.Contains(claims.Issuer, "#"):
		return errors.NewIDTokenValidationError(
			"issuer URL must not contain query parameters or fragment components", ErrIDTokenInvalidIssuer)
	}

	if claims.Nonce != exp.Nonce {
		return errors.NewIDTokenValidationError("nonce does not match the sent nonce", ErrIDTokenNonceMismatch)
	}

	if len(claims.Audience) != 1 {
		return errors.NewIDTokenValidationError("token must have exactly one audience", ErrIDTokenAudienceCount)
	}

	switch v.azp {
	case AzpRejectEqual:
		if claims.AuthorizedParty == exp.ClientID {
			return errors.NewIDTokenValidationError("azp must not equal the client id", ErrIDTokenAzpRejected)
		}
	case AzpRequireEqual:
		if claims.AuthorizedParty != "" && claims.AuthorizedParty != exp.ClientID {
			return errors.NewIDTokenValidationError("azp does not match the client id", ErrIDTokenAzpRejected)
		}
	case AzpIgnore:
	}

	return nil
}

// selectKey returns the RSA key for kid, or the only RSA signing key in set
// when the token carries no kid.
func selectKey(set jwk.Set, kid string) (*rsa.PublicKey, error) {
	if kid != "" {
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("%w: kid %s", ErrIDTokenKeyNotFound, kid)
		}
		return exportRSA(key)
	}

	var found *rsa.PublicKey
	for i := range set.Len() {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		pub, err := exportRSA(key)
		if err != nil {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: token has no kid and JWKS holds several RSA keys", ErrIDTokenKeyNotFound)
		}
		found = pub
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no RSA signing key", ErrIDTokenKeyNotFound)
	}
	return found, nil
}

func exportRSA(key jwk.Key) (*rsa.PublicKey, error) {
	if use, ok := key.KeyUsage(); ok && use != jwk.ForSignature.String() {
		return nil, fmt.Errorf("%w: key is not a signing key", ErrIDTokenKeyNotFound)
	}
	if alg, ok := key.Algorithm(); ok && alg.String() != SigningAlgorithm {
		return nil, fmt.Errorf("%w: key algorithm %s", ErrIDTokenKeyNotFound, alg)
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is not an RSA public key", ErrIDTokenKeyNotFound)
	}
	return pub, nil
}

func verificationReason(err error) string {
	switch {
	case goerrors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case goerrors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "a required claim is missing"
	case goerrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer does not match the discovered issuer"
	case goerrors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience does not match the client id"
	case goerrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature is invalid"
	case goerrors.Is(err, jwt.ErrTokenNotValidYet), goerrors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token is not valid yet"
	default:
		return "token verification failed"
	}
}
