// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/easyaccess/pkg/networking"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with step and cause",
			err: &Error{
				Type:    ErrTransport,
				Step:    "discover",
				Message: "request failed",
				Cause:   errors.New("connection reset"),
			},
			want: "transport [discover]: request failed: connection reset",
		},
		{
			name: "error without step",
			err: &Error{
				Type:    ErrInvalidResponse,
				Message: "unexpected status",
			},
			want: "invalid_response: unexpected status",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrProtocolState,
				Step:    "verify",
				Message: "authorize has not completed",
			},
			want: "protocol_state [verify]: authorize has not completed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := NewUnknownError("exchange", "unexpected failure", cause)
	assert.Same(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, NewUnknownError("exchange", "no cause", nil).Unwrap())
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
	}{
		{"key provisioning", NewKeyProvisioningError("register", "m", nil), IsKeyProvisioning},
		{"transport", NewTransportError("discover", "m", nil), IsTransport},
		{"invalid response", NewInvalidResponseError("authorize", "m", nil), IsInvalidResponse},
		{"protocol state", NewProtocolStateError("verify", "m", nil), IsProtocolState},
		{"callback validation", NewCallbackValidationError("verify", "m", nil), IsCallbackValidation},
		{"id token validation", NewIDTokenValidationError("m", nil), IsIDTokenValidation},
		{"unknown", NewUnknownError("exchange", "m", nil), IsUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.predicate(tt.err))

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.predicate(wrapped), "predicate should see through wrapping")

			for _, other := range tests {
				if other.name != tt.name {
					assert.False(t, other.predicate(tt.err), "%s matched %s", other.name, tt.name)
				}
			}
		})
	}
}

func TestTypeAndStepOf(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", NewCallbackValidationError("verify", "state mismatch", nil))
	assert.Equal(t, ErrCallbackValidation, TypeOf(err))
	assert.Equal(t, "verify", StepOf(err))

	plain := errors.New("plain")
	assert.Empty(t, TypeOf(plain))
	assert.Empty(t, StepOf(plain))
	assert.False(t, IsTransport(nil))
}

func TestNewFetchError(t *testing.T) {
	t.Parallel()

	transport := NewFetchError("discover", "request failed",
		fmt.Errorf("%w: %w", networking.ErrRequestFailed, errors.New("dial tcp: refused")))
	assert.True(t, IsTransport(transport))
	assert.Equal(t, "discover", transport.Step)

	status := NewFetchError("discover", "request failed", networking.NewHTTPError(500, "https://x", "500 Internal Server Error"))
	assert.True(t, IsInvalidResponse(status))
	assert.True(t, networking.IsHTTPError(status, 500))
}
