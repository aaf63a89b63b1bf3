// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package easyaccess

import (
	"context"
	goerrors "errors"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/easyaccess/pkg/errors"
	"github.com/stacklok/easyaccess/pkg/networking"
)

// Remote approval resources relative to the authentication environment URL.
const (
	StatePath    = "/api/v1/easyaccess/state"
	MetadataPath = "/api/v1/easyaccess/metadata"
)

var errNotApproved = goerrors.New("login not approved yet")

// ApprovalChannel reads the remote approval resources of a session's login
// code. Its reads never change the session.
type ApprovalChannel struct {
	s *Session
}

// Approval returns the remote approval channel of s.
func (s *Session) Approval() *ApprovalChannel {
	return &ApprovalChannel{s: s}
}

type stateResponse struct {
	State LoginState `json:"state"`
}

// FetchState returns the server reported state of loginCode. Unrecognised
// states are LoginStateUnknown.
func (a *ApprovalChannel) FetchState(ctx context.Context, loginCode string) (LoginState, error) {
	const step = "fetch_state"
	if err := a.s.checkLoginCode(step, loginCode); err != nil {
		return LoginStateUnknown, err
	}
	return a.s.fetchState(ctx, loginCode)
}

// FetchMetadata returns the display metadata of loginCode.
func (a *ApprovalChannel) FetchMetadata(ctx context.Context, loginCode string) (md *Metadata, err error) {
	const step = "fetch_metadata"
	defer func(start time.Time) { a.s.cfg.metrics.observe(step, start, err) }(time.Now())

	if err := a.s.checkLoginCode(step, loginCode); err != nil {
		return nil, err
	}

	endpoint := a.s.reg.AuthEnvURL + MetadataPath + "/" + url.PathEscape(loginCode)
	result, err := networking.FetchJSON[Metadata](ctx, a.s.client, endpoint)
	if err != nil {
		return nil, errors.NewFetchError(step, "failed to fetch approval metadata", err)
	}
	return &result.Data, nil
}

// AwaitApproval polls the login state every poll interval until the login is
// approved. Transport failures are retried; any other failure fails the
// session. Cancelling ctx stops polling and leaves the session as it was.
func (a *ApprovalChannel) AwaitApproval(ctx context.Context) (LoginState, error) {
	return a.s.AwaitApproval(ctx)
}

// AwaitApproval polls the login state of the session. See ApprovalChannel.AwaitApproval.
func (s *Session) AwaitApproval(ctx context.Context) (state LoginState, err error) {
	const step = "approval"
	defer func(start time.Time) { s.cfg.metrics.observe(step, start, err) }(time.Now())

	sec, err := s.begin(step, StateAwaitingApproval, StateAuthorized, StateAwaitingApproval)
	if err != nil {
		return LoginStateUnknown, err
	}

	polls := 0
	state, err = backoff.Retry(ctx, func() (LoginState, error) {
		polls++
		if s.State().Finished() {
			return LoginStateUnknown, backoff.Permanent(
				errors.NewProtocolStateError(step, "session was abandoned", ErrSessionFinished))
		}
		st, err := s.fetchState(ctx, sec.loginCode)
		switch {
		case err != nil && errors.IsTransport(err):
			return st, err
		case err != nil:
			return st, backoff.Permanent(err)
		case st != LoginStateUpdated:
			return st, errNotApproved
		}
		return st, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.pollInterval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.cfg.logger.Debug("login not approved", "reason", err.Error(), "retry_in", next)
		}),
	)

	if ctx.Err() != nil {
		s.release()
		return LoginStateUnknown, errors.NewProtocolStateError(step, "approval polling stopped", context.Cause(ctx))
	}
	s.cfg.logger.Debug("approval polling finished", "polls", polls, "state", state.String())
	if err = s.finish(step, err, nil); err != nil {
		return LoginStateUnknown, err
	}
	return state, nil
}

func (s *Session) fetchState(ctx context.Context, loginCode string) (LoginState, error) {
	const step = "fetch_state"

	endpoint := s.reg.AuthEnvURL + StatePath + "/" + url.PathEscape(loginCode)
	result, err := networking.FetchJSON[stateResponse](ctx, s.client, endpoint)
	if err != nil {
		return LoginStateUnknown, errors.NewFetchError(step, "failed to fetch login state", err)
	}
	return result.Data.State, nil
}

// checkLoginCode verifies that loginCode was issued to the session by Authorize.
func (s *Session) checkLoginCode(step, loginCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state.Finished():
		return errors.NewProtocolStateError(step, "session is "+s.state.String(), ErrSessionFinished)
	case s.secrets.loginCode == "":
		return errors.NewProtocolStateError(step, "authorize has not completed", ErrAuthStateMissing)
	case s.secrets.loginCode != loginCode:
		return errors.NewProtocolStateError(step, "login code was not issued to this session", nil)
	}
	return nil
}
