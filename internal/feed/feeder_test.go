package feed_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/playcall/internal/feed"
	"github.com/MrWong99/playcall/internal/observe"
	"github.com/MrWong99/playcall/pkg/audio"
	"github.com/MrWong99/playcall/pkg/realtime/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeDecoder replays a fixed set of packets, returning io.EOF at the end
// and rewinding on demand. A single fault can be injected at a packet index.
type fakeDecoder struct {
	mu      sync.Mutex
	packets []audio.Chunk
	pos     int
	failAt  int // packet index at which to fault once; -1 disables
	faulted bool
	rewinds int
	closes  int
}

func (d *fakeDecoder) ReadPacket() (audio.Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAt >= 0 && !d.faulted && d.pos == d.failAt {
		d.faulted = true
		return audio.Chunk{}, errors.New("bitstream corrupt")
	}
	if d.pos >= len(d.packets) {
		return audio.Chunk{}, io.EOF
	}
	p := d.packets[d.pos]
	d.pos++
	return p, nil
}

func (d *fakeDecoder) Rewind() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rewinds++
	d.pos = 0
	return nil
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDecoder) stats() (rewinds, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rewinds, d.closes
}

// fakeSource hands out a prepared decoder or a fixed open error.
type fakeSource struct {
	mu      sync.Mutex
	dec     *fakeDecoder
	openErr error
	opens   int
}

func (s *fakeSource) Open(_ context.Context) (feed.Decoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.dec, nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// canonicalPackets splits content into n-byte packets already in the
// canonical format, so each packet covers len/2/16000 seconds of playback.
func canonicalPackets(content []byte, packetBytes int) []audio.Chunk {
	var packets []audio.Chunk
	for off := 0; off < len(content); off += packetBytes {
		end := min(off+packetBytes, len(content))
		packets = append(packets, audio.Chunk{
			Data:       content[off:end],
			SampleRate: 16000,
			Channels:   1,
		})
	}
	return packets
}

// sourceContent builds deterministic int16 PCM covering the given number of
// 10 ms packets.
func sourceContent(packets int) []byte {
	const packetBytes = 320 // 160 samples, 10ms at 16kHz mono
	content := make([]byte, packets*packetBytes)
	for i := range content {
		content[i] = byte(i % 251)
	}
	return content
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStart_ReproducesSourceAndLoops(t *testing.T) {
	content := sourceContent(4)
	dec := &fakeDecoder{packets: canonicalPackets(content, 320), failAt: -1}
	src := &fakeSource{dec: dec}
	sink := &mock.Session{}

	f := feed.New(src)
	if err := f.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	// Wait for at least two full passes over the source.
	waitUntil(t, 3*time.Second, func() bool {
		return len(sink.AudioBytes()) >= 2*len(content)
	}, "feed never completed two passes over the source")

	f.Stop()

	got := sink.AudioBytes()
	if !bytes.Equal(got[:len(content)], content) {
		t.Error("first pass does not reproduce the source content")
	}
	if !bytes.Equal(got[len(content):2*len(content)], content) {
		t.Error("second pass does not reproduce the source content after loop")
	}
	if rewinds, _ := dec.stats(); rewinds == 0 {
		t.Error("decoder was never rewound despite reaching end of stream")
	}
}

func TestStart_NoAudioTrack_EmitsNothing(t *testing.T) {
	src := &fakeSource{openErr: fmt.Errorf("probing source: %w", feed.ErrNoAudio)}
	sink := &mock.Session{}

	f := feed.New(src)
	start := time.Now()
	if err := f.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start should treat a missing audio track as a valid empty feed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Start took %v; want prompt return for a source without audio", elapsed)
	}
	if f.IsRunning() {
		t.Error("feeder should not be running for a source without audio")
	}

	time.Sleep(30 * time.Millisecond)
	if calls := sink.SendAudioCallCount(); calls != 0 {
		t.Errorf("sink received %d chunks; want 0", calls)
	}
}

func TestStart_OpenFailure_SurfacesError(t *testing.T) {
	src := &fakeSource{openErr: errors.New("no such file")}

	f := feed.New(src)
	if err := f.Start(context.Background(), &mock.Session{}); err == nil {
		t.Fatal("Start should surface a hard open failure")
	}
	if f.IsRunning() {
		t.Error("feeder should not be running after a failed open")
	}
}

func TestStart_Idempotent(t *testing.T) {
	dec := &fakeDecoder{packets: canonicalPackets(sourceContent(2), 320), failAt: -1}
	src := &fakeSource{dec: dec}

	f := feed.New(src)
	if err := f.Start(context.Background(), &mock.Session{}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer f.Stop()

	if err := f.Start(context.Background(), &mock.Session{}); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	if got := src.openCount(); got != 1 {
		t.Errorf("source opened %d times; want 1", got)
	}
}

func TestRun_DecodeFault_BacksOffOnceAndResumes(t *testing.T) {
	const backoff = 25 * time.Millisecond
	content := sourceContent(4)
	dec := &fakeDecoder{packets: canonicalPackets(content, 320), failAt: 2}
	src := &fakeSource{dec: dec}
	sink := &mock.Session{}

	f := feed.New(src, feed.WithFaultBackoff(backoff))
	start := time.Now()
	if err := f.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	// The fault hits after two packets; emission must resume and complete a
	// full pass afterwards.
	waitUntil(t, 3*time.Second, func() bool {
		return len(sink.AudioBytes()) >= 2*320+len(content)
	}, "emission never resumed after the decode fault")

	if elapsed := time.Since(start); elapsed < backoff {
		t.Errorf("resumed after %v; want at least the %v backoff", elapsed, backoff)
	}
	if !f.IsRunning() {
		t.Error("a single decode fault must not terminate the feeder")
	}
	if rewinds, _ := dec.stats(); rewinds == 0 {
		t.Error("decoder was not restarted after the fault")
	}
}

func TestRun_SinkUnreachable_DropsChunks(t *testing.T) {
	dec := &fakeDecoder{packets: canonicalPackets(sourceContent(4), 320), failAt: -1}
	src := &fakeSource{dec: dec}
	sink := &mock.Session{Disconnected: true}

	f := feed.New(src)
	if err := f.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	time.Sleep(60 * time.Millisecond)
	if calls := sink.SendAudioCallCount(); calls != 0 {
		t.Errorf("sink received %d chunks while unreachable; want 0", calls)
	}

	// Reconnecting resumes delivery without restarting the feeder.
	sink.SetDisconnected(false)
	waitUntil(t, 3*time.Second, func() bool {
		return len(sink.AudioBytes()) > 0
	}, "delivery never resumed after the sink became reachable")
}

func TestStop_TakesEffectWithinOneTick(t *testing.T) {
	// One packet covers a full second, so a stop that waited out the pacing
	// sleep would blow the deadline.
	longPacket := audio.Chunk{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	dec := &fakeDecoder{packets: []audio.Chunk{longPacket, longPacket}, failAt: -1}
	src := &fakeSource{dec: dec}
	sink := &mock.Session{}

	f := feed.New(src)
	if err := f.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool {
		return sink.SendAudioCallCount() > 0
	}, "feed never emitted the first chunk")

	start := time.Now()
	f.Stop()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v; want well under one pacing tick", elapsed)
	}
	if f.IsRunning() {
		t.Error("feeder still running after Stop")
	}

	if _, closes := dec.stats(); closes != 1 {
		t.Errorf("decoder closed %d times; want exactly 1", closes)
	}

	// A second Stop is a no-op and must not double-release.
	f.Stop()
	if _, closes := dec.stats(); closes != 1 {
		t.Errorf("decoder closed %d times after second Stop; want 1", closes)
	}
}

func TestStop_DuringFaultBackoff_AbandonsBackoff(t *testing.T) {
	dec := &fakeDecoder{packets: canonicalPackets(sourceContent(4), 320), failAt: 1}
	src := &fakeSource{dec: dec}
	sink := &mock.Session{}

	f := feed.New(src, feed.WithFaultBackoff(5*time.Second))
	if err := f.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait until the fault occurred (one packet emitted, then the fault).
	waitUntil(t, 3*time.Second, func() bool {
		return sink.SendAudioCallCount() >= 1
	}, "feed never emitted the pre-fault chunk")
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	f.Stop()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Stop took %v; want the fault backoff abandoned on cancellation", elapsed)
	}
}

func TestWithMetrics_InjectedInstanceSeesEmissions(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	dec := &fakeDecoder{packets: canonicalPackets(sourceContent(4), 320), failAt: -1}
	src := &fakeSource{dec: dec}
	sink := &mock.Session{}

	f := feed.New(src, feed.WithMetrics(m))
	if err := f.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, 3*time.Second, func() bool {
		return sink.SendAudioCallCount() > 0
	}, "feed never emitted a chunk")
	f.Stop()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "playcall.feed.chunks" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatal("playcall.feed.chunks has no data points")
			}
			if sum.DataPoints[0].Value < 1 {
				t.Errorf("chunk count = %d, want at least 1", sum.DataPoints[0].Value)
			}
			return
		}
	}
	t.Error("injected metrics instance never saw a chunk emission")
}
