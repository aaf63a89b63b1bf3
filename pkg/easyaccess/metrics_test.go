// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package easyaccess

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/easyaccess/pkg/auth/keys"
	"github.com/stacklok/easyaccess/pkg/authtest"
	"github.com/stacklok/easyaccess/pkg/errors"
)

func TestMetrics_RecordSteps(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	srv := authtest.NewServer(t)
	provider := keys.NewMemoryProvider(keys.WithKeyBits(keys.MinKeyBits))
	reg := registerTestClient(t, srv, provider)

	s, err := NewSession(reg, provider, testOptions(srv, WithMetrics(metrics))...)
	require.NoError(t, err)

	artifact, err := s.Start(t.Context())
	require.NoError(t, err)
	_, err = s.AwaitApproval(t.Context())
	require.NoError(t, err)
	_, err = s.Approval().FetchMetadata(t.Context(), artifact.LoginCode)
	require.NoError(t, err)
	_, err = s.Complete(t.Context())
	require.NoError(t, err)

	for _, step := range []string{"discover", "authorize", "approval", "fetch_metadata", "verify", "exchange"} {
		assert.InDelta(t, 1, testutil.ToFloat64(metrics.StepsTotal.WithLabelValues(step, ResultSuccess)), 0, step)
	}

	// misuse is counted with its error type
	_, err = s.Verify(t.Context())
	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("verify", errors.ErrProtocolState)), 0)

	assert.Equal(t, 6, testutil.CollectAndCount(metrics.StepDuration))
}

func TestMetrics_RecordFailures(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	srv := authtest.NewServer(t, authtest.WithRouteStatus(authtest.ClientPath, http.StatusForbidden))
	registrar, err := NewRegistrar(keys.NewMemoryProvider(keys.WithKeyBits(keys.MinKeyBits)),
		testOptions(srv, WithMetrics(metrics))...)
	require.NoError(t, err)

	_, err = registrar.Register(t.Context(), RegisterRequest{
		AuthEnvURL:  srv.URL,
		ClientToken: "client-token",
		DeviceID:    "device-1",
		KeyAlias:    "metrics-key",
	})
	require.Error(t, err)

	assert.InDelta(t, 1,
		testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("register", errors.ErrInvalidResponse)), 0)
	assert.InDelta(t, 0,
		testutil.ToFloat64(metrics.StepsTotal.WithLabelValues("register", ResultSuccess)), 0)
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewMetrics(registry)
	require.NoError(t, err)

	_, err = NewMetrics(registry)
	assert.Error(t, err)

	assert.Panics(t, func() { MustNewMetrics(registry) })
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() { m.observe("discover", time.Now(), nil) })
}
