// Package observe provides application-wide observability primitives for the
// puertocho-intent service: OpenTelemetry metrics and structured-logging
// helpers for the classification and orchestration pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/PuertOcho/puertocho-intent"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ClassificationDuration tracks end-to-end intent classification latency,
	// including retrieval, LLM inference, and any fallback levels traversed.
	ClassificationDuration metric.Float64Histogram

	// VoteDuration tracks a single expert vote's latency.
	VoteDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding computation latency.
	EmbeddingDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool action invocation latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Classifications counts classification outcomes. Use with attributes:
	//   attribute.String("intent", ...), attribute.Int("fallback_level", ...)
	Classifications metric.Int64Counter

	// Votes counts expert votes by status (success, failed, timeout, cancelled).
	Votes metric.Int64Counter

	// ConsensusRounds counts consensus computations by agreement level
	// (unanimous, majority, plurality, split, failed).
	ConsensusRounds metric.Int64Counter

	// Subtasks counts subtask completions by final status.
	Subtasks metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversational sessions.
	ActiveSessions metric.Int64UpDownCounter

	// RunningExecutions tracks the number of in-flight task-plan executions.
	RunningExecutions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for LLM-backed request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ClassificationDuration, err = m.Float64Histogram("intent.classification.duration",
		metric.WithDescription("End-to-end intent classification latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VoteDuration, err = m.Float64Histogram("intent.vote.duration",
		metric.WithDescription("Latency of a single expert vote."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("intent.embedding.duration",
		metric.WithDescription("Latency of embedding computation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("intent.tool_execution.duration",
		metric.WithDescription("Latency of tool action invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Classifications, err = m.Int64Counter("intent.classifications",
		metric.WithDescription("Total classifications by intent and fallback level."),
	); err != nil {
		return nil, err
	}
	if met.Votes, err = m.Int64Counter("intent.votes",
		metric.WithDescription("Total expert votes by participant and status."),
	); err != nil {
		return nil, err
	}
	if met.ConsensusRounds, err = m.Int64Counter("intent.consensus.rounds",
		metric.WithDescription("Total consensus computations by agreement level."),
	); err != nil {
		return nil, err
	}
	if met.Subtasks, err = m.Int64Counter("intent.subtasks",
		metric.WithDescription("Total subtask completions by action and final status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("intent.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("intent.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("intent.active_sessions",
		metric.WithDescription("Number of live conversational sessions."),
	); err != nil {
		return nil, err
	}
	if met.RunningExecutions, err = m.Int64UpDownCounter("intent.running_executions",
		metric.WithDescription("Number of in-flight task-plan executions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordClassification records a completed classification with its resolved
// intent and the fallback level that produced it (0 for the primary path).
func (m *Metrics) RecordClassification(ctx context.Context, intent string, fallbackLevel int) {
	m.Classifications.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("fallback_level", strconv.Itoa(fallbackLevel)),
		),
	)
}

// RecordVote records an expert vote outcome.
func (m *Metrics) RecordVote(ctx context.Context, participant, status string) {
	m.Votes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("participant", participant),
			attribute.String("status", status),
		),
	)
}

// RecordConsensus records a consensus computation by agreement level.
func (m *Metrics) RecordConsensus(ctx context.Context, agreement string) {
	m.ConsensusRounds.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agreement", agreement)),
	)
}

// RecordSubtask records a subtask's final status.
func (m *Metrics) RecordSubtask(ctx context.Context, action, status string) {
	m.Subtasks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
