// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error taxonomy shared by the EasyAccess engine.
// Every failure surfaced to a caller is an *Error carrying its kind, the
// protocol step that produced it and the underlying cause.
package errors

import (
	"errors"
	"fmt"

	"github.com/stacklok/easyaccess/pkg/networking"
)

// Error types
const (
	// ErrKeyProvisioning is returned when secure key creation, loading or deletion fails
	ErrKeyProvisioning = "key_provisioning"

	// ErrTransport is returned on network level failures (timeout, DNS, connection reset)
	ErrTransport = "transport"

	// ErrInvalidResponse is returned on a non-success status or an unparsable body
	ErrInvalidResponse = "invalid_response"

	// ErrProtocolState is returned when an operation is invoked before its prerequisite state exists
	ErrProtocolState = "protocol_state"

	// ErrCallbackValidation is returned when the verify redirect does not match the expected shape
	ErrCallbackValidation = "callback_validation"

	// ErrIDTokenValidation is returned when any OIDC ID token validation rule fails
	ErrIDTokenValidation = "id_token_validation"

	// ErrUnknown wraps an unexpected failure
	ErrUnknown = "unknown"
)

// Error represents an error in the engine
type Error struct {
	// Type is the error type
	Type string

	// Step is the protocol step that failed (e.g. "discover", "verify")
	Step string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	prefix := e.Type
	if e.Step != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Type, e.Step)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, step, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Step:    step,
		Message: message,
		Cause:   cause,
	}
}

// NewKeyProvisioningError creates a new key provisioning error
func NewKeyProvisioningError(step, message string, cause error) *Error {
	return NewError(ErrKeyProvisioning, step, message, cause)
}

// NewTransportError creates a new transport error
func NewTransportError(step, message string, cause error) *Error {
	return NewError(ErrTransport, step, message, cause)
}

// NewInvalidResponseError creates a new invalid response error
func NewInvalidResponseError(step, message string, cause error) *Error {
	return NewError(ErrInvalidResponse, step, message, cause)
}

// NewProtocolStateError creates a new protocol state error
func NewProtocolStateError(step, message string, cause error) *Error {
	return NewError(ErrProtocolState, step, message, cause)
}

// NewCallbackValidationError creates a new callback validation error
func NewCallbackValidationError(step, message string, cause error) *Error {
	return NewError(ErrCallbackValidation, step, message, cause)
}

// NewIDTokenValidationError creates a new ID token validation error.
// The reason is meant to be shown to a human.
func NewIDTokenValidationError(reason string, cause error) *Error {
	return NewError(ErrIDTokenValidation, "validate", reason, cause)
}

// NewUnknownError creates a new unknown error preserving its cause
func NewUnknownError(step, message string, cause error) *Error {
	return NewError(ErrUnknown, step, message, cause)
}

// NewFetchError classifies a failure returned by the networking fetch helpers:
// failures before a response was received are transport errors, everything
// else (status, content type, body) is an invalid response.
func NewFetchError(step, message string, err error) *Error {
	if errors.Is(err, networking.ErrRequestFailed) {
		return NewTransportError(step, message, err)
	}
	return NewInvalidResponseError(step, message, err)
}

// TypeOf returns the type of the first *Error in err's chain, or "" if there is none.
func TypeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// StepOf returns the step of the first *Error in err's chain, or "" if there is none.
func StepOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}

func isType(err error, errorType string) bool {
	return err != nil && TypeOf(err) == errorType
}

// IsKeyProvisioning checks if the error is a key provisioning error
func IsKeyProvisioning(err error) bool {
	return isType(err, ErrKeyProvisioning)
}

// IsTransport checks if the error is a transport error
func IsTransport(err error) bool {
	return isType(err, ErrTransport)
}

// IsInvalidResponse checks if the error is an invalid response error
func IsInvalidResponse(err error) bool {
	return isType(err, ErrInvalidResponse)
}

// IsProtocolState checks if the error is a protocol state error
func IsProtocolState(err error) bool {
	return isType(err, ErrProtocolState)
}

// IsCallbackValidation checks if the error is a callback validation error
func IsCallbackValidation(err error) bool {
	return isType(err, ErrCallbackValidation)
}

// IsIDTokenValidation checks if the error is an ID token validation error
func IsIDTokenValidation(err error) bool {
	return isType(err, ErrIDTokenValidation)
}

// IsUnknown checks if the error is an unknown error
func IsUnknown(err error) bool {
	return isType(err, ErrUnknown)
}
