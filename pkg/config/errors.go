// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
)

var (
	// ErrNotRegistered is returned when no client registration is stored
	ErrNotRegistered = errors.New("no client registration stored; run `easyaccess register` first")

	// ErrUnknownField is returned for a config field name nobody registered
	ErrUnknownField = errors.New("unknown config field")
)
