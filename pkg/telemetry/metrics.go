// Package telemetry exposes the sync layer's health counters. They back the
// panel's debug view and make debounce/coalescing behavior observable.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	FetchesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "store",
			Name:      "fetches_total",
			Help:      "Total number of aggregate fetches issued",
		},
		[]string{"aggregate"},
	)

	EventsCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "store",
			Name:      "events_coalesced_total",
			Help:      "Push events absorbed into an already-pending debounce window",
		},
		[]string{"aggregate"},
	)

	StaleResultsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "store",
			Name:      "stale_results_dropped_total",
			Help:      "Fetch results discarded because the scope changed mid-flight",
		},
		[]string{"aggregate"},
	)

	// File list metrics
	IncrementalMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "filelist",
			Name:      "incremental_merges_total",
			Help:      "Incremental fetch-and-merge flushes applied to the file list",
		},
	)

	FullResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "filelist",
			Name:      "full_resyncs_total",
			Help:      "Full list refetches, including merge-failure demotions",
		},
	)

	// Session metrics
	StreamsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "session",
			Name:      "streams_started_total",
			Help:      "Chat streams opened",
		},
	)

	StreamsStopped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "session",
			Name:      "streams_stopped_total",
			Help:      "Chat streams cancelled by the user or view teardown",
		},
	)

	StreamsErrored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "session",
			Name:      "streams_errored_total",
			Help:      "Chat streams that failed with a non-cancellation error",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "prizm",
			Subsystem: "session",
			Name:      "streams_active",
			Help:      "Chat streams currently open (0 or 1 per engine)",
		},
	)

	// Push channel metrics
	PushEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "push",
			Name:      "events_received_total",
			Help:      "Server change events received over the push channel",
		},
		[]string{"type"},
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prizm",
			Subsystem: "push",
			Name:      "reconnects_total",
			Help:      "Push channel reconnect attempts",
		},
	)
)
