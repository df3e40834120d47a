package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordChunkEmitted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChunkEmitted(ctx, 640)
	m.RecordChunkEmitted(ctx, 640)

	rm := collect(t, reader)

	chunks := findMetric(rm, "playcall.feed.chunks")
	if chunks == nil {
		t.Fatal("metric playcall.feed.chunks not found")
	}
	sum, ok := chunks.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("playcall.feed.chunks is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("chunk count = %d, want 2", got)
	}

	bytes := findMetric(rm, "playcall.feed.chunk_bytes")
	if bytes == nil {
		t.Fatal("metric playcall.feed.chunk_bytes not found")
	}
	bsum := bytes.Data.(metricdata.Sum[int64])
	if got := bsum.DataPoints[0].Value; got != 1280 {
		t.Errorf("chunk bytes = %d, want 1280", got)
	}
}

func TestRecordFeedRestart_ReasonAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFeedRestart(ctx, "loop")
	m.RecordFeedRestart(ctx, "loop")
	m.RecordFeedRestart(ctx, "fault")

	rm := collect(t, reader)
	met := findMetric(rm, "playcall.feed.restarts")
	if met == nil {
		t.Fatal("metric playcall.feed.restarts not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (one per reason)", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		reason, _ := dp.Attributes.Value(attribute.Key("reason"))
		switch reason.AsString() {
		case "loop":
			if dp.Value != 2 {
				t.Errorf("loop restarts = %d, want 2", dp.Value)
			}
		case "fault":
			if dp.Value != 1 {
				t.Errorf("fault restarts = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected reason attribute %q", reason.AsString())
		}
	}
}

func TestRecordPrompt_Attributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPrompt(ctx, "periodic", "opening")
	m.RecordPrompt(ctx, "periodic", "periodic")
	m.RecordPrompt(ctx, "periodic", "periodic")

	rm := collect(t, reader)
	met := findMetric(rm, "playcall.commentary.prompts")
	if met == nil {
		t.Fatal("metric playcall.commentary.prompts not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (one per kind)", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		kind, _ := dp.Attributes.Value(attribute.Key("kind"))
		strategy, _ := dp.Attributes.Value(attribute.Key("strategy"))
		if strategy.AsString() != "periodic" {
			t.Errorf("strategy attribute = %q, want periodic", strategy.AsString())
		}
		if kind.AsString() == "periodic" && dp.Value != 2 {
			t.Errorf("periodic prompts = %d, want 2", dp.Value)
		}
	}
}

func TestRecordPromptFaultAndDebounceDenial(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPromptFault(ctx, "event")
	m.RecordDebounceDenial(ctx)
	m.RecordDebounceDenial(ctx)

	rm := collect(t, reader)

	faults := findMetric(rm, "playcall.commentary.prompt_faults")
	if faults == nil {
		t.Fatal("metric playcall.commentary.prompt_faults not found")
	}
	if got := faults.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("prompt faults = %d, want 1", got)
	}

	denials := findMetric(rm, "playcall.commentary.debounce_denials")
	if denials == nil {
		t.Fatal("metric playcall.commentary.debounce_denials not found")
	}
	if got := denials.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 2 {
		t.Errorf("debounce denials = %d, want 2", got)
	}
}

func TestPromptSendDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PromptSendDuration.Record(ctx, 0.042)
	m.PromptSendDuration.Record(ctx, 0.137)

	rm := collect(t, reader)
	met := findMetric(rm, "playcall.commentary.send.duration")
	if met == nil {
		t.Fatal("metric playcall.commentary.send.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("playcall.commentary.send.duration is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.BridgeConnections.Add(ctx, 3)
	m.BridgeConnections.Add(ctx, -1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"playcall.active_sessions", 1},
		{"playcall.bridge.connections", 2},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same instance")
	}
}
