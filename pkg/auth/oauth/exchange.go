// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/easyaccess/pkg/errors"
)

// TokenResponse is the token endpoint response before ID token validation.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	IDToken     string
	Scope       string
	ExpiresIn   int64
	Expiry      time.Time
}

// ExchangeRequest carries the values of an authorization code grant.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string
	Assertion    string
}

// Exchange redeems an authorization code at the token endpoint, authenticating
// with the client assertion. The request is sent with client.
func (c *Config) Exchange(ctx context.Context, client *http.Client, req ExchangeRequest) (*TokenResponse, error) {
	if req.Code == "" || req.CodeVerifier == "" || req.Assertion == "" {
		return nil, errors.NewProtocolStateError("exchange", "code, verifier and assertion are required", nil)
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}

	token, err := c.OAuth2Config().Exchange(ctx, req.Code,
		oauth2.VerifierOption(req.CodeVerifier),
		oauth2.SetAuthURLParam("client_assertion_type", ClientAssertionType),
		oauth2.SetAuthURLParam("client_assertion", req.Assertion),
	)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, errors.NewInvalidResponseError("exchange", "token response has no id_token", nil)
	}
	scope, _ := token.Extra("scope").(string)

	return &TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		IDToken:     idToken,
		Scope:       scope,
		ExpiresIn:   token.ExpiresIn,
		Expiry:      token.Expiry,
	}, nil
}

func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if goerrors.As(err, &retrieveErr) {
		msg := fmt.Sprintf("token endpoint returned HTTP %d", retrieveErr.Response.StatusCode)
		if retrieveErr.ErrorCode != "" {
			msg = fmt.Sprintf("%s (%s)", msg, retrieveErr.ErrorCode)
		}
		return errors.NewInvalidResponseError("exchange", msg, err)
	}

	var urlErr *url.Error
	if goerrors.As(err, &urlErr) || goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTransportError("exchange", "token request failed", err)
	}
	return errors.NewInvalidResponseError("exchange", "invalid token response", err)
}
