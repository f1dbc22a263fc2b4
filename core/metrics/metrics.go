// SPDX-FileCopyrightText: © 2023 David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package metrics exports the deadline engine's counters and gauges to
// prometheus, the metrics client already present in this module's
// dependency graph.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every metric the deadline engine updates. One
// instance is shared across all connections in a process; per-
// connection/per-stream labels distinguish series.
type Metrics struct {
	BytesDropped       *prometheus.CounterVec
	DeadlinesMissed    *prometheus.CounterVec
	SchedulerSelections *prometheus.CounterVec
	UrgencyLevel       *prometheus.GaugeVec
	PacingGain         *prometheus.GaugeVec
	CwndBoostBytes     *prometheus.GaugeVec
	RetransmitsSkipped prometheus.Counter
}

// New registers and returns a fresh Metrics set against reg. Passing a
// nil registry uses prometheus's global DefaultRegisterer, matching
// promauto's own default-registerer convention.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BytesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deadlinequic",
			Name:      "bytes_dropped_total",
			Help:      "Bytes dropped from hard-deadline streams past their deadline.",
		}, []string{"stream"}),
		DeadlinesMissed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deadlinequic",
			Name:      "deadlines_missed_total",
			Help:      "Count of chunks observed past their deadline, by stream mode.",
		}, []string{"stream", "mode"}),
		SchedulerSelections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deadlinequic",
			Name:      "scheduler_selections_total",
			Help:      "Count of EDF scheduler selections, by selection reason.",
		}, []string{"reason"}),
		UrgencyLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deadlinequic",
			Name:      "urgency_level",
			Help:      "Current connection urgency level (0=None..4=Critical).",
		}, []string{"connection"}),
		PacingGain: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deadlinequic",
			Name:      "pacing_gain",
			Help:      "Current deadline-coupled pacing gain multiplier.",
		}, []string{"connection"}),
		CwndBoostBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deadlinequic",
			Name:      "cwnd_boost_bytes",
			Help:      "Current deadline-coupled cwnd boost, in bytes.",
		}, []string{"connection"}),
		RetransmitsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deadlinequic",
			Name:      "retransmits_skipped_total",
			Help:      "Lost packets whose retransmission was skipped because all tagged data expired.",
		}),
	}
}

// Handler returns the prometheus scrape handler for wiring into an
// http.ServeMux.
func Handler() http.Handler {
	return promhttp.Handler()
}
