// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package easyaccess

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stacklok/easyaccess/pkg/errors"
)

// ResultSuccess is the result label of a step that completed without error.
const ResultSuccess = "success"

// Metrics records the outcome and latency of registrar and session steps.
// A nil *Metrics records nothing.
type Metrics struct {
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := newMetrics(promauto.With(nil))
	for _, c := range []prometheus.Collector{m.StepsTotal, m.StepDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewMetrics is like NewMetrics but panics on a registration conflict.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "easyaccess_session_steps_total",
			Help: "Number of EasyAccess protocol steps by step and result",
		}, []string{"step", "result"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "easyaccess_session_step_duration_seconds",
			Help:    "Duration of EasyAccess protocol steps",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
	}
}

func (m *Metrics) observe(step string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = errors.TypeOf(err)
		if result == "" {
			result = errors.ErrUnknown
		}
	}
	m.StepsTotal.WithLabelValues(step, result).Inc()
	m.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}
