// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package easyaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/easyaccess/pkg/auth/keys"
	"github.com/stacklok/easyaccess/pkg/errors"
	"github.com/stacklok/easyaccess/pkg/networking"
)

// ClientPath is the client registration resource relative to the authentication environment URL.
const ClientPath = "/api/v1/client"

// registrationLocks serialises delete-then-generate per key alias across registrars.
var registrationLocks keys.AliasLocks

// RegisterRequest carries the inputs of a device registration.
type RegisterRequest struct {
	// AuthEnvURL is the base URL of the authentication environment.
	AuthEnvURL string

	// AuthEnv is the environment identifier placed in deep links.
	AuthEnv string

	// ClientToken is the one-time registration ticket.
	ClientToken string

	// DeviceID identifies this device to the server.
	DeviceID string

	// KeyAlias names the key pair bound to the registration.
	KeyAlias string

	// Audience is the set of audiences requested at login.
	Audience []string
}

type registerClientRequest struct {
	ClientToken string          `json:"clientToken"`
	DeviceID    string          `json:"deviceId"`
	Key         json.RawMessage `json:"key"`
}

type registerClientResponse struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret,omitempty"`
}

// Registrar registers and deregisters device clients.
type Registrar struct {
	keys keys.SecureKeyProvider
	cfg  *config
}

// NewRegistrar creates a registrar storing key pairs in provider.
func NewRegistrar(provider keys.SecureKeyProvider, opts ...Option) (*Registrar, error) {
	if provider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Registrar{keys: provider, cfg: cfg}, nil
}

// Register replaces any key under req.KeyAlias with a fresh key pair and
// registers its public key with the authentication environment. On failure
// the new key is removed again.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) (reg *ClientRegistration, err error) {
	const step = "register"
	defer func(start time.Time) { r.cfg.metrics.observe(step, start, err) }(time.Now())

	baseURL, err := validateRegisterRequest(req)
	if err != nil {
		return nil, err
	}

	unlock := registrationLocks.Lock(req.KeyAlias)
	defer unlock()

	if err := r.keys.Delete(ctx, req.KeyAlias); err != nil {
		return nil, errors.NewKeyProvisioningError(step, "failed to delete previous key", err)
	}
	pub, err := r.keys.Generate(ctx, req.KeyAlias)
	if err != nil {
		return nil, errors.NewKeyProvisioningError(step, "failed to generate key", err)
	}

	defer func() {
		if err == nil {
			return
		}
		if delErr := r.keys.Delete(context.WithoutCancel(ctx), req.KeyAlias); delErr != nil {
			r.cfg.logger.Warn("failed to remove key after unsuccessful registration",
				"key_alias", req.KeyAlias, "error", delErr)
		}
	}()

	jwkJSON, err := keys.PublicJWKJSON(pub)
	if err != nil {
		return nil, errors.NewKeyProvisioningError(step, "failed to encode public key", err)
	}
	body, err := json.Marshal(registerClientRequest{
		ClientToken: req.ClientToken,
		DeviceID:    req.DeviceID,
		Key:         jwkJSON,
	})
	if err != nil {
		return nil, errors.NewUnknownError(step, "failed to encode registration request", err)
	}

	result, err := networking.FetchJSON[registerClientResponse](ctx, r.cfg.httpClient, baseURL+ClientPath,
		networking.WithMethod(http.MethodPost),
		networking.WithJSONBody(body),
	)
	if err != nil {
		return nil, errors.NewFetchError(step, "client registration failed", err)
	}
	if result.Data.ClientID == "" {
		return nil, errors.NewInvalidResponseError(step, "registration response has no clientId", nil)
	}

	registration := NewClientRegistration(result.Data.ClientID, req.KeyAlias, baseURL, req.AuthEnv, req.Audience)
	r.cfg.logger.Info("registered EasyAccess client",
		slog.String("client_id", registration.ClientID),
		slog.String("auth_env", registration.AuthEnv))
	return &registration, nil
}

// Deregister deletes the local key under keyAlias and then the remote client.
// The key stays deleted when the remote call fails. A key deletion failure is
// reported in preference to a remote failure.
func (r *Registrar) Deregister(ctx context.Context, authEnvURL, clientID, keyAlias string) (err error) {
	const step = "deregister"
	defer func(start time.Time) { r.cfg.metrics.observe(step, start, err) }(time.Now())

	if clientID == "" || keyAlias == "" {
		return errors.NewProtocolStateError(step, "client ID and key alias are required", nil)
	}

	var keyErr error
	func() {
		unlock := registrationLocks.Lock(keyAlias)
		defer unlock()
		keyErr = r.keys.Delete(ctx, keyAlias)
	}()
	if keyErr != nil {
		r.cfg.logger.Warn("failed to delete client key", "key_alias", keyAlias, "error", keyErr)
	}

	remoteErr := r.deleteRemoteClient(ctx, authEnvURL, clientID)
	switch {
	case keyErr != nil:
		return errors.NewKeyProvisioningError(step, "failed to delete client key", keyErr)
	case remoteErr != nil:
		return remoteErr
	}

	r.cfg.logger.Info("deregistered EasyAccess client", slog.String("client_id", clientID))
	return nil
}

func (r *Registrar) deleteRemoteClient(ctx context.Context, authEnvURL, clientID string) error {
	const step = "deregister"

	base, err := networking.ValidateHTTPSURL(strings.TrimRight(authEnvURL, "/"))
	if err != nil {
		return errors.NewProtocolStateError(step, "invalid authentication environment URL", err)
	}
	endpoint := base.String() + ClientPath + "/" + url.PathEscape(clientID)
	resp, err := networking.Fetch(ctx, r.cfg.httpClient, endpoint, networking.WithMethod(http.MethodDelete))
	if err != nil {
		return errors.NewFetchError(step, "client deletion failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewInvalidResponseError(step, "client deletion failed",
			networking.NewHTTPError(resp.StatusCode, endpoint, http.StatusText(resp.StatusCode)))
	}
	return nil
}

func validateRegisterRequest(req RegisterRequest) (string, error) {
	const step = "register"
	switch {
	case req.ClientToken == "":
		return "", errors.NewProtocolStateError(step, "client token is required", nil)
	case req.DeviceID == "":
		return "", errors.NewProtocolStateError(step, "device ID is required", nil)
	case req.KeyAlias == "":
		return "", errors.NewProtocolStateError(step, "key alias is required", nil)
	}
	base, err := networking.ValidateHTTPSURL(strings.TrimRight(req.AuthEnvURL, "/"))
	if err != nil {
		return "", errors.NewProtocolStateError(step, "invalid authentication environment URL", err)
	}
	return base.String(), nil
}
