package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCount counts chat requests by terminal outcome
	// (ok, provider_error, history_corrupt, canceled, error).
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mu_chat_requests_total",
			Help: "Total number of chat requests",
		},
		[]string{"outcome"},
	)

	// RequestDuration measures end-to-end chat request latency.
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mu_chat_request_duration_seconds",
			Help: "Chat request duration in seconds",
		},
	)

	// StreamChunks counts framed chunks delivered to clients.
	StreamChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mu_stream_chunks_total",
			Help: "Total number of framed stream chunks sent",
		},
	)

	// ActiveStreams tracks in-flight streaming responses.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mu_active_streams",
			Help: "Number of response streams currently open",
		},
	)

	// ProviderRetries counts provider calls that were retried after a
	// transient failure.
	ProviderRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mu_provider_retries_total",
			Help: "Total number of retried provider calls",
		},
	)

	// ToolExecutions counts tool invocations by tool name and status
	// (ok, error).
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mu_tool_executions_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	// PersistenceRetries counts message save attempts that had to be
	// repeated.
	PersistenceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mu_persistence_retries_total",
			Help: "Total number of retried message saves",
		},
	)

	// PersistenceFailures counts turns whose messages could not be saved
	// within the retry budget. The stream still terminates normally; this
	// counter is the signal that data was lost.
	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mu_persistence_failures_total",
			Help: "Total number of message saves abandoned after retries",
		},
	)
)
