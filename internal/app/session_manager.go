package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/playcall/internal/commentary"
	"github.com/MrWong99/playcall/internal/feed"
	"github.com/MrWong99/playcall/internal/observe"
	"github.com/MrWong99/playcall/pkg/engine"
)

// SessionInfo holds metadata about the running commentary session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// StartedAt is when the first video track arrived.
	StartedAt time.Time

	// TrackID is the video track that started the session.
	TrackID string
}

// SessionManager is the orchestrator of one commentary session. It implements
// [engine.Handler]: the first video track announcement starts the audio
// feeder and the commentary scheduler exactly once, and subsequent detection
// batches are forwarded to the event strategy.
//
// The dispatcher guarantees sequential event delivery, but Stop may race with
// a dispatch, so state is still guarded by a mutex.
type SessionManager struct {
	sessionID string
	feeder    *feed.Feeder
	sink      feed.Sink
	scheduler commentary.Scheduler
	triggered *commentary.Triggered
	log       *slog.Logger
	metrics   *observe.Metrics

	mu      sync.Mutex
	started bool
	stopped bool
	info    SessionInfo
	cancel  context.CancelFunc
}

// SessionManagerConfig holds the dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// SessionID identifies the session in logs and archive entries.
	SessionID string

	// Feeder streams the media source's audio into the session. Nil when no
	// media source is configured.
	Feeder *feed.Feeder

	// Sink is the realtime session receiving the audio feed.
	Sink feed.Sink

	// Scheduler is the commentary strategy started with the session.
	Scheduler commentary.Scheduler

	// Triggered receives detection batches. Nil in periodic mode.
	Triggered *commentary.Triggered

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		sessionID: cfg.SessionID,
		feeder:    cfg.Feeder,
		sink:      cfg.Sink,
		scheduler: cfg.Scheduler,
		triggered: cfg.Triggered,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	return sm
}

var _ engine.Handler = (*SessionManager)(nil)

// HandleEvent processes one platform or detection event.
//
// A video TrackAdded starts the session; audio tracks are acknowledged and
// ignored (the platform's own audio is not re-ingested). Detections are
// forwarded to the event strategy, which discards them in periodic mode or
// when the session has not started.
func (sm *SessionManager) HandleEvent(ctx context.Context, ev engine.Event) error {
	switch e := ev.(type) {
	case engine.TrackAdded:
		return sm.handleTrackAdded(e)
	case engine.Detections:
		sm.handleDetections(ctx, e)
		return nil
	default:
		return fmt.Errorf("session: unknown event type %T", ev)
	}
}

// handleTrackAdded starts the session on the first video track. Repeat video
// tracks and all audio tracks are no-ops.
func (sm *SessionManager) handleTrackAdded(ev engine.TrackAdded) error {
	if ev.Track.Kind != engine.TrackVideo {
		sm.log.Debug("ignoring non-video track", "track_id", ev.Track.ID, "kind", ev.Track.Kind.String())
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.stopped {
		return fmt.Errorf("session: already stopped")
	}
	if sm.started {
		sm.log.Debug("session already started, ignoring video track", "track_id", ev.Track.ID)
		return nil
	}

	// The dispatch context dies with its connection; session work needs a
	// lifetime of its own.
	runCtx, cancel := context.WithCancel(context.Background())

	if sm.feeder != nil {
		if err := sm.feeder.Start(runCtx, sm.sink); err != nil {
			cancel()
			return fmt.Errorf("session: start audio feed: %w", err)
		}
	}
	if err := sm.scheduler.Start(runCtx); err != nil {
		if sm.feeder != nil {
			sm.feeder.Stop()
		}
		cancel()
		return fmt.Errorf("session: start scheduler: %w", err)
	}

	sm.started = true
	sm.cancel = cancel
	sm.info = SessionInfo{
		SessionID: sm.sessionID,
		StartedAt: time.Now().UTC(),
		TrackID:   ev.Track.ID,
	}
	sm.metrics.ActiveSessions.Add(runCtx, 1)

	sm.log.Info("commentary session started",
		"session_id", sm.sessionID,
		"track_id", ev.Track.ID,
		"audio_feed", sm.feeder != nil,
	)
	return nil
}

// handleDetections forwards one detection batch to the event strategy.
func (sm *SessionManager) handleDetections(ctx context.Context, ev engine.Detections) {
	sm.mu.Lock()
	started := sm.started
	sm.mu.Unlock()

	if !started || sm.triggered == nil {
		return
	}
	sm.triggered.HandleDetections(ctx, ev.Objects)
}

// Stop tears the session down: scheduler first so no prompt is in flight,
// then the audio feed, then the session context. Stop is idempotent; only
// the first call releases anything.
func (sm *SessionManager) Stop() {
	sm.mu.Lock()
	if sm.stopped {
		sm.mu.Unlock()
		return
	}
	sm.stopped = true
	started := sm.started
	cancel := sm.cancel
	sm.mu.Unlock()

	if !started {
		return
	}

	sm.scheduler.Stop()
	if sm.feeder != nil {
		sm.feeder.Stop()
	}
	if cancel != nil {
		cancel()
	}
	sm.metrics.ActiveSessions.Add(context.Background(), -1)

	sm.log.Info("commentary session stopped", "session_id", sm.sessionID)
}

// IsActive reports whether the session has started and not been stopped.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.started && !sm.stopped
}

// Info returns metadata about the session. Zero value before the first video
// track arrives.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}
