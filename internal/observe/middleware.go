package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps an [http.Handler] so every request runs inside a server
// span and leaves a duration sample in [Metrics.HTTPRequestDuration].
// Incoming W3C Trace Context headers join the caller's trace; the trace ID
// is echoed back as X-Correlation-ID.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &tracedHandler{next: next, metrics: m, prop: propagation.TraceContext{}}
	}
}

type tracedHandler struct {
	next    http.Handler
	metrics *Metrics
	prop    propagation.TraceContext
}

func (h *tracedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := h.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	if cid := CorrelationID(ctx); cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	h.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(sw, r.WithContext(ctx))

	elapsed := time.Since(start)
	h.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("path", r.URL.Path),
	))
	span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))

	Logger(ctx).Info("request completed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", sw.status,
		"duration", elapsed,
	)
}

// statusWriter records the status code the wrapped handler writes.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
