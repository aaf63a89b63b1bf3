// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/stacklok/easyaccess/pkg/auth/keys"
	"github.com/stacklok/easyaccess/pkg/auth/oidc"
	"github.com/stacklok/easyaccess/pkg/config"
	"github.com/stacklok/easyaccess/pkg/easyaccess"
	"github.com/stacklok/easyaccess/pkg/logger"
	"github.com/stacklok/easyaccess/pkg/networking"
	"github.com/stacklok/easyaccess/pkg/versions"
)

// settings is the config file with command line overrides applied.
type settings struct {
	provider config.Provider
	cfg      *config.Config
}

func loadSettings() (*settings, error) {
	provider := config.NewPathProvider(viper.GetString("config"))
	cfg, err := provider.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if v := viper.GetString("key-store"); v != "" {
		cfg.KeyStore = v
	}
	if v := viper.GetString("azp-policy"); v != "" {
		cfg.AzpPolicy = v
	}
	if v := viper.GetString("ca-cert"); v != "" {
		cfg.CACertificatePath = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &settings{provider: provider, cfg: cfg}, nil
}

// newHTTPClient builds the base client of the engine. Replaced in tests.
var newHTTPClient = func(cfg *config.Config) (*http.Client, error) {
	builder := networking.NewHttpClientBuilder().
		WithVersion(versions.UserAgentVersion()).
		WithoutRedirects()
	if cfg.CACertificatePath != "" {
		builder = builder.WithCABundle(cfg.CACertificatePath)
	}
	client, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

// processKeys is shared by every command of one process so that a memory
// key store survives from register to login within the same run.
var processKeys = sync.OnceValue(func() keys.SecureKeyProvider {
	return keys.NewMemoryProvider()
})

func newKeyProvider(cfg *config.Config) (keys.SecureKeyProvider, error) {
	if strings.EqualFold(cfg.KeyStore, config.KeyStoreMemory) {
		logger.Warnf("the memory key store does not outlive this process")
		return processKeys(), nil
	}
	return cfg.NewKeyProvider()
}

// engine bundles what the commands need to drive the engine.
type engine struct {
	keys    keys.SecureKeyProvider
	metrics *prometheus.Registry
	options []easyaccess.Option
}

// newEngine resolves the key store, HTTP client and engine options. The JWKS
// cache lives until ctx is cancelled.
func newEngine(ctx context.Context, s *settings) (*engine, error) {
	keyProvider, err := newKeyProvider(s.cfg)
	if err != nil {
		return nil, err
	}
	client, err := newHTTPClient(s.cfg)
	if err != nil {
		return nil, err
	}
	opts, err := s.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}

	keySets, err := oidc.NewKeySetCache(ctx, client)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := easyaccess.NewMetrics(registry)
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		easyaccess.WithHTTPClient(client),
		easyaccess.WithKeySetSource(keySets),
		easyaccess.WithMetrics(metrics),
		easyaccess.WithLogger(logger.Get()),
	)
	return &engine{keys: keyProvider, metrics: registry, options: opts}, nil
}

// logStepDurations writes the recorded step timings at debug level.
func (e *engine) logStepDurations() {
	families, err := e.metrics.Gather()
	if err != nil {
		logger.Debugf("failed to gather step metrics: %v", err)
		return
	}
	for _, family := range families {
		if family.GetName() != "easyaccess_session_step_duration_seconds" {
			continue
		}
		for _, m := range family.GetMetric() {
			step := ""
			for _, label := range m.GetLabel() {
				if label.GetName() == "step" {
					step = label.GetValue()
				}
			}
			h := m.GetHistogram()
			logger.Get().Debug("step timing",
				"step", step,
				"count", h.GetSampleCount(),
				"seconds", h.GetSampleSum())
		}
	}
}
