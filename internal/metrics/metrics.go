// Package metrics holds the Prometheus instrumentation of the detection
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Broadcast
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ids_events_published_total",
			Help: "Detection events handed to the broadcaster, by origin.",
		},
		[]string{"origin"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ids_delivery_failures_total",
			Help: "Subscriber deliveries that failed and caused unregistration.",
		},
		[]string{"reason"}, // "send_error", "outbox_full"
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ids_subscribers",
			Help: "Currently registered subscribers.",
		},
	)

	// Trace path
	PacketsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ids_trace_packets_total",
			Help: "Packets seen by flow tables, by outcome.",
		},
		[]string{"outcome"}, // "observed", "skipped", "rejected"
	)

	FlowsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ids_trace_flows_total",
			Help: "Flows finalized into feature vectors.",
		},
	)

	TracesAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ids_traces_total",
			Help: "Trace analysis requests, by result.",
		},
		[]string{"result"}, // "ok", "error"
	)

	TraceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ids_trace_analysis_duration_seconds",
			Help:    "Time spent analysing one trace.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scoring
	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ids_predictions_total",
			Help: "Scorer invocations, by mode.",
		},
		[]string{"mode"}, // "probabilistic", "hard_label", "degraded"
	)

	// Simulator
	SimulatorTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ids_simulator_ticks_total",
			Help: "Synthetic attacks produced by the simulator.",
		},
	)

	SimulatorRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ids_simulator_running",
			Help: "1 while the simulator is producing events.",
		},
	)
)
