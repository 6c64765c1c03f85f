// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

// Package metrics provides Prometheus instrumentation for the sync engine.
// Metrics are exposed on the daemon's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of full sync passes in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	SyncRecordsPulled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_pulled_total",
			Help: "Remote records applied to the local store per content type",
		},
		[]string{"content_type"},
	)

	SyncPullErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_pull_errors_total",
			Help: "Pull failures per content type",
		},
		[]string{"content_type"},
	)

	SyncSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_skipped_total",
			Help: "Sync passes skipped because connectivity was absent or unreliable",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last fully completed sync pass",
		},
	)

	// Mutation Queue Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mutation_queue_depth",
			Help: "Pending offline mutations awaiting remote confirmation",
		},
	)

	QueuePushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutation_queue_pushed_total",
			Help: "Mutations successfully replayed against the remote backend",
		},
	)

	QueueRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutation_queue_retries_total",
			Help: "Mutation replay attempts that failed and were requeued",
		},
	)

	QueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mutation_queue_dropped_total",
			Help: "Mutations dropped after exceeding the retry ceiling",
		},
	)

	// Local Store Metrics
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Local store failures per operation",
		},
		[]string{"operation"},
	)

	SnapshotFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshot_fallbacks_total",
			Help: "Read paths served from the offline snapshot after a store error",
		},
	)

	// Gateway Metrics
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests issued to the remote backend",
		},
		[]string{"endpoint", "status"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Remote gateway circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// Connectivity Metrics
	ConnectivityOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "connectivity_online",
			Help: "Whether the device currently has connectivity (1=online)",
		},
	)

	ConnectivityTransitions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "connectivity_transitions_total",
			Help: "Online/offline transitions observed by the monitor",
		},
	)
)
