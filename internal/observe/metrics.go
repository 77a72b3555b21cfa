// Package observe carries parley's telemetry: OpenTelemetry instruments for
// sessions, choices, speech and scene reloads, engine and HTTP spans, and
// loggers that carry the trace and session of the work they describe.
//
// [InitProvider] builds the process pipeline and exposes it for Prometheus
// scraping. Components default to [DefaultMetrics], which binds to the
// global meter provider on first use; tests pass their own [Metrics] from
// [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ActionDuration tracks how long the engine takes to apply one session
	// action. Use with attribute:
	//   attribute.String("action", ...)
	ActionDuration metric.Float64Histogram

	// --- Counters ---

	// Choices counts player choices. Use with attributes:
	//   attribute.String("quality", ...), attribute.Bool("graceful_exit", ...)
	Choices metric.Int64Counter

	// Endings counts sessions reaching an end node. Use with attribute:
	//   attribute.String("ending", ...)
	Endings metric.Int64Counter

	// Utterances counts lines handed to the speech port. Use with attributes:
	//   attribute.String("role", ...), attribute.String("backend", ...)
	Utterances metric.Int64Counter

	// TransferAnswers counts transfer-check answers. Use with attribute:
	//   attribute.Bool("correct", ...)
	TransferAnswers metric.Int64Counter

	// SceneReloads counts scene hot reloads. Use with attribute:
	//   attribute.String("status", ...)
	SceneReloads metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes of speech
	// providers. Use with attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ActionErrors counts rejected or failed actions. Use with attributes:
	//   attribute.String("action", ...), attribute.String("kind", ...)
	ActionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dialogue sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Engine
// actions are in-memory and usually finish well below a millisecond.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActionDuration, err = m.Float64Histogram("parley.engine.action.duration",
		metric.WithDescription("Latency of dialogue engine actions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Choices, err = m.Int64Counter("parley.choices",
		metric.WithDescription("Total player choices by quality and graceful exit."),
	); err != nil {
		return nil, err
	}
	if met.Endings, err = m.Int64Counter("parley.endings",
		metric.WithDescription("Total sessions reaching an ending, by ending tag."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("parley.speech.utterances",
		metric.WithDescription("Total utterances spoken by role and backend."),
	); err != nil {
		return nil, err
	}
	if met.TransferAnswers, err = m.Int64Counter("parley.transfer.answers",
		metric.WithDescription("Total transfer-check answers by correctness."),
	); err != nil {
		return nil, err
	}
	if met.SceneReloads, err = m.Int64Counter("parley.scene.reloads",
		metric.WithDescription("Total scene reload attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("parley.tts.breaker.transitions",
		metric.WithDescription("Total speech provider circuit breaker transitions by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActionErrors, err = m.Int64Counter("parley.engine.action.errors",
		metric.WithDescription("Total rejected or failed engine actions by action and error kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live dialogue sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and matched route."),
		metric.WithUnit("s"),
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

// RecordChoice records a player choice.
func (m *Metrics) RecordChoice(ctx context.Context, quality string, gracefulExit bool) {
	m.Choices.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("quality", quality),
			attribute.Bool("graceful_exit", gracefulExit),
		),
	)
}

// RecordEnding records a session reaching an ending.
func (m *Metrics) RecordEnding(ctx context.Context, ending string) {
	m.Endings.Add(ctx, 1, metric.WithAttributes(attribute.String("ending", ending)))
}

// RecordUtterance records one utterance handed to the speech port.
func (m *Metrics) RecordUtterance(ctx context.Context, role, backend string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("backend", backend),
		),
	)
}

// RecordActionError records a rejected or failed engine action.
func (m *Metrics) RecordActionError(ctx context.Context, action, kind string) {
	m.ActionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransferAnswer records a transfer-check answer.
func (m *Metrics) RecordTransferAnswer(ctx context.Context, correct bool) {
	m.TransferAnswers.Add(ctx, 1, metric.WithAttributes(attribute.Bool("correct", correct)))
}

// RecordBreakerTransition records a breaker entering state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to),
	))
}

// RecordSceneReload records a scene reload attempt.
func (m *Metrics) RecordSceneReload(ctx context.Context, status string) {
	m.SceneReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
