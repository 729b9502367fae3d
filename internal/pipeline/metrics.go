// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus collectors updated by a [Pipeline].
type Metrics struct {
	items         *prometheus.CounterVec
	notifications *prometheus.CounterVec
	phaseErrors   *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// NewMetrics creates the pipeline collectors and registers them with reg. If
// reg is nil, the collectors are not registered anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "items_total",
			Help:      "Processed items by source and result.",
		}, []string{"source", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "notifications_total",
			Help:      "Attempted notifications by kind and result.",
		}, []string{"kind", "result"}),
		phaseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "phase_errors_total",
			Help:      "Phases that ended with an error.",
		}, []string{"phase"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsdigest",
			Name:      "last_run_timestamp_seconds",
			Help:      "Time the last pipeline run finished.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.items, m.notifications, m.phaseErrors, m.lastRun)
	}
	return m
}

// Item results besides the oracle outcome kinds.
const (
	resultSkipped = "skipped"
	resultError   = "error"
)

// Sources.
const (
	sourceFeed  = "feed"
	sourceEmail = "email"
)
