// Package feed streams the audio track of a media source into a realtime
// voice session.
//
// The Feeder owns the media loop of a commentary session: it opens the
// source, normalises decoded packets to the canonical session format, and
// emits them at the source's natural playback cadence. The feed never ends
// on its own — when the source is exhausted it rewinds to the start, and
// when a decode fault occurs it backs off briefly and resumes. Only Stop or
// context cancellation terminate it.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/playcall/internal/observe"
	"github.com/MrWong99/playcall/pkg/audio"
)

// ErrNoAudio is returned by Source.Open when the media source exists but
// carries no audio track. The Feeder treats it as a valid empty feed, not a
// failure: video-only sources still get event-driven commentary.
var ErrNoAudio = errors.New("feed: source has no audio track")

// defaultFaultBackoff is observed once after a decode fault before the media
// loop resumes.
const defaultFaultBackoff = time.Second

// Decoder yields the audio of one opened media source as raw PCM packets.
//
// ReadPacket returns io.EOF when the source is exhausted; Rewind restarts it
// from the beginning so the feed can loop. After ReadPacket returns a
// non-EOF error the decoder is in an undefined position and must be Rewind-ed
// before further reads. Implementations are used from a single goroutine.
type Decoder interface {
	// ReadPacket returns the next run of PCM samples in playback order.
	// It returns io.EOF at end of stream and a non-EOF error on decode
	// faults.
	ReadPacket() (audio.Chunk, error)

	// Rewind seeks the source back to its start.
	Rewind() error

	// Close releases the source. Safe to call more than once.
	Close() error
}

// Source is anything that can open its audio track for decoding.
type Source interface {
	// Open prepares the source for decoding and returns a Decoder positioned
	// at the start. It returns ErrNoAudio (possibly wrapped) when the source
	// has no audio track, and any other error when the source itself cannot
	// be opened. The Decoder is bound to ctx: cancelling it aborts blocked
	// reads.
	Open(ctx context.Context) (Decoder, error)
}

// Sink receives the canonical audio chunks. A realtime voice session
// satisfies this; writes are fire-and-forget and chunks produced while the
// sink is unreachable are dropped rather than buffered, since stale audio is
// worthless to a live commentary.
type Sink interface {
	SendAudio(chunk audio.Chunk) error
	Connected() bool
}

// Option is a functional option for configuring a Feeder.
type Option func(*Feeder)

// WithFaultBackoff overrides the fixed delay observed after a decode fault.
func WithFaultBackoff(d time.Duration) Option {
	return func(f *Feeder) {
		if d > 0 {
			f.backoff = d
		}
	}
}

// WithLogger sets the logger used by the media loop.
func WithLogger(log *slog.Logger) Option {
	return func(f *Feeder) {
		if log != nil {
			f.log = log
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Feeder) {
		if m != nil {
			f.metrics = m
		}
	}
}

// Feeder drives the media loop for one source. Create one per session with
// New and control it with Start/Stop.
type Feeder struct {
	source  Source
	backoff time.Duration
	log     *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Feeder over the given source.
func New(source Source, opts ...Option) *Feeder {
	f := &Feeder{
		source:  source,
		backoff: defaultFaultBackoff,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Start opens the source and launches the media loop.
//
// Opening happens synchronously so that a source that cannot be opened at
// all surfaces as a hard error to the caller. A source without an audio
// track is not an error: Start logs the condition and returns nil without
// launching the loop, so zero chunks are ever emitted.
//
// Start on an already-running Feeder is a no-op.
func (f *Feeder) Start(ctx context.Context, sink Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	dec, err := f.source.Open(runCtx)
	if err != nil {
		cancel()
		if errors.Is(err, ErrNoAudio) {
			f.log.Info("media source has no audio track, skipping audio feed")
			return nil
		}
		return fmt.Errorf("open media source: %w", err)
	}

	f.running = true
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.run(runCtx, dec, sink, f.done)
	return nil
}

// Stop requests cooperative shutdown and waits for the media loop to exit.
// The loop observes the request within roughly one packet's processing time.
// Stop on a Feeder that is not running is a no-op.
func (f *Feeder) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the media loop is currently active.
func (f *Feeder) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// run is the media loop. It owns the decoder and releases it on every exit
// path.
func (f *Feeder) run(ctx context.Context, dec Decoder, sink Sink, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := dec.Close(); err != nil {
			f.log.Warn("closing media decoder", "error", err)
		}
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	conv := audio.Converter{Target: audio.Canonical}

	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := dec.ReadPacket()
		switch {
		case err == nil:
			f.emit(ctx, sink, conv.Convert(chunk))
			// Pacing to the source's playback cadence doubles as the
			// per-packet yield.
			pace := chunk.Duration()
			if pace <= 0 {
				pace = time.Millisecond
			}
			select {
			case <-time.After(pace):
			case <-ctx.Done():
				return
			}

		case errors.Is(err, io.EOF):
			// Source exhausted: rewind and keep feeding. The restart is a
			// hard discontinuity, not a reordering.
			if rerr := dec.Rewind(); rerr != nil {
				f.fault(ctx, dec, "rewind media source", rerr)
				continue
			}
			f.metrics.RecordFeedRestart(ctx, "loop")
			f.log.Debug("media source looped back to start")

		default:
			f.fault(ctx, dec, "decode media packet", err)
		}
	}
}

// emit delivers one converted chunk, dropping it when the sink is
// unreachable or the converter rejected the data.
func (f *Feeder) emit(ctx context.Context, sink Sink, chunk audio.Chunk) {
	if len(chunk.Data) == 0 {
		return
	}
	if !sink.Connected() {
		f.metrics.RecordChunkDropped(ctx)
		return
	}
	if err := sink.SendAudio(chunk); err != nil {
		f.metrics.RecordChunkDropped(ctx)
		f.log.Debug("audio chunk dropped", "error", err)
		return
	}
	f.metrics.RecordChunkEmitted(ctx, len(chunk.Data))
}

// fault logs a recoverable media error, observes the fixed backoff once, and
// restarts the source so the loop can resume. Cancellation abandons the
// backoff immediately.
func (f *Feeder) fault(ctx context.Context, dec Decoder, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	f.metrics.RecordFeedRestart(ctx, "fault")
	f.log.Warn("media loop fault, backing off", "op", op, "error", err, "backoff", f.backoff)
	select {
	case <-time.After(f.backoff):
	case <-ctx.Done():
		return
	}
	if rerr := dec.Rewind(); rerr != nil {
		f.log.Warn("media source restart failed", "error", rerr)
	}
}
