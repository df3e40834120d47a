// Package observe provides application-wide observability primitives for
// Playcall: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Playcall metrics.
const meterName = "github.com/MrWong99/playcall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio feed counters ---

	// ChunksEmitted counts audio chunks delivered to the realtime session.
	ChunksEmitted metric.Int64Counter

	// ChunkBytes counts PCM payload bytes delivered to the realtime session.
	ChunkBytes metric.Int64Counter

	// ChunksDropped counts chunks discarded because the session was
	// unreachable or rejected the write.
	ChunksDropped metric.Int64Counter

	// FeedRestarts counts media-loop restarts. Use with attribute:
	//   attribute.String("reason", "loop"|"fault")
	FeedRestarts metric.Int64Counter

	// --- Commentary counters ---

	// Prompts counts delivered commentary prompts. Use with attributes:
	//   attribute.String("strategy", ...), attribute.String("kind", ...)
	Prompts metric.Int64Counter

	// PromptFaults counts failed prompt deliveries. Use with attribute:
	//   attribute.String("strategy", ...)
	PromptFaults metric.Int64Counter

	// DebounceDenials counts qualifying detections suppressed by the
	// debounce gate.
	DebounceDenials metric.Int64Counter

	// --- Latency histograms ---

	// PromptSendDuration tracks the latency of a single prompt delivery call
	// to the realtime session.
	PromptSendDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live commentary sessions.
	ActiveSessions metric.Int64UpDownCounter

	// BridgeConnections tracks the number of open event-bridge WebSocket
	// connections.
	BridgeConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime-delivery latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Audio feed counters.
	if met.ChunksEmitted, err = m.Int64Counter("playcall.feed.chunks",
		metric.WithDescription("Total audio chunks delivered to the realtime session."),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Counter("playcall.feed.chunk_bytes",
		metric.WithDescription("Total PCM bytes delivered to the realtime session."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("playcall.feed.chunks_dropped",
		metric.WithDescription("Total audio chunks dropped because the session was unreachable."),
	); err != nil {
		return nil, err
	}
	if met.FeedRestarts, err = m.Int64Counter("playcall.feed.restarts",
		metric.WithDescription("Total media-loop restarts by reason (loop or fault)."),
	); err != nil {
		return nil, err
	}

	// Commentary counters.
	if met.Prompts, err = m.Int64Counter("playcall.commentary.prompts",
		metric.WithDescription("Total delivered commentary prompts by strategy and kind."),
	); err != nil {
		return nil, err
	}
	if met.PromptFaults, err = m.Int64Counter("playcall.commentary.prompt_faults",
		metric.WithDescription("Total failed prompt deliveries by strategy."),
	); err != nil {
		return nil, err
	}
	if met.DebounceDenials, err = m.Int64Counter("playcall.commentary.debounce_denials",
		metric.WithDescription("Total qualifying detections suppressed by the debounce gate."),
	); err != nil {
		return nil, err
	}

	// Latency histograms.
	if met.PromptSendDuration, err = m.Float64Histogram("playcall.commentary.send.duration",
		metric.WithDescription("Latency of a single prompt delivery to the realtime session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("playcall.active_sessions",
		metric.WithDescription("Number of live commentary sessions."),
	); err != nil {
		return nil, err
	}
	if met.BridgeConnections, err = m.Int64UpDownCounter("playcall.bridge.connections",
		metric.WithDescription("Number of open event-bridge WebSocket connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("playcall.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordChunkEmitted records one delivered audio chunk and its payload size.
func (m *Metrics) RecordChunkEmitted(ctx context.Context, bytes int) {
	m.ChunksEmitted.Add(ctx, 1)
	m.ChunkBytes.Add(ctx, int64(bytes))
}

// RecordChunkDropped records one chunk discarded before delivery.
func (m *Metrics) RecordChunkDropped(ctx context.Context) {
	m.ChunksDropped.Add(ctx, 1)
}

// RecordFeedRestart records one media-loop restart with the given reason
// ("loop" for end-of-stream rewinds, "fault" for decode-fault recoveries).
func (m *Metrics) RecordFeedRestart(ctx context.Context, reason string) {
	m.FeedRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordPrompt records one delivered commentary prompt with the standard
// attribute set.
func (m *Metrics) RecordPrompt(ctx context.Context, strategy, kind string) {
	m.Prompts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("kind", kind),
		),
	)
}

// RecordPromptFault records one failed prompt delivery.
func (m *Metrics) RecordPromptFault(ctx context.Context, strategy string) {
	m.PromptFaults.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
}

// RecordDebounceDenial records one qualifying detection suppressed by the
// debounce gate.
func (m *Metrics) RecordDebounceDenial(ctx context.Context) {
	m.DebounceDenials.Add(ctx, 1)
}
