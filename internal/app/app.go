// Package app wires all Playcall subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the realtime voice
// session, builds the media feeder and the commentary scheduler, and mounts
// the event bridge; Run drives them until the context ends; Shutdown tears
// everything down in reverse order.
//
// For testing, inject mock implementations via functional options
// (WithProvider, WithArchive, WithSource). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/playcall/internal/archive"
	"github.com/MrWong99/playcall/internal/archive/postgres"
	"github.com/MrWong99/playcall/internal/bridge"
	"github.com/MrWong99/playcall/internal/commentary"
	"github.com/MrWong99/playcall/internal/config"
	"github.com/MrWong99/playcall/internal/feed"
	"github.com/MrWong99/playcall/internal/health"
	"github.com/MrWong99/playcall/internal/instructions"
	"github.com/MrWong99/playcall/internal/media"
	"github.com/MrWong99/playcall/internal/observe"
	"github.com/MrWong99/playcall/pkg/audio"
	"github.com/MrWong99/playcall/pkg/realtime"
	"github.com/MrWong99/playcall/pkg/realtime/gemini"
)

// App owns all subsystem lifetimes of one Playcall commentary server.
type App struct {
	cfg       *config.Config
	log       *slog.Logger
	metrics   *observe.Metrics
	sessionID string

	// Injectable via options; created from config when nil.
	provider realtime.Provider
	archive  archive.Log
	source   feed.Source

	// Built in New.
	session   realtime.Session
	feeder    *feed.Feeder
	scheduler commentary.Scheduler
	triggered *commentary.Triggered
	manager   *SessionManager
	bridge    *bridge.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// errSessionEnded signals that the realtime session finished without error;
// it unwinds the run group and is swallowed before Run returns.
var errSessionEnded = errors.New("app: session ended")

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects a realtime provider instead of building one from
// config.
func WithProvider(p realtime.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithArchive injects a commentary log instead of connecting to Postgres.
func WithArchive(l archive.Log) Option {
	return func(a *App) { a.archive = l }
}

// WithSource injects a media source instead of opening the configured file.
func WithSource(s feed.Source) Option {
	return func(a *App) { a.source = s }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: the realtime session
// is connected with the templated persona, the archive and media source are
// opened per config, the configured commentary strategy is built over the
// session, and the bridge is assembled around the session orchestrator.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.sessionID = fmt.Sprintf("session-%s-%s",
		time.Now().UTC().Format("20060102T1504Z"),
		uuid.NewString()[:8],
	)

	if err := a.initSession(ctx); err != nil {
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		_ = a.session.Close()
		return nil, err
	}
	a.initFeeder()
	a.initScheduler()
	a.initBridge()

	return a, nil
}

// initSession connects the realtime voice session with the rendered persona.
func (a *App) initSession(ctx context.Context) error {
	cc := a.cfg.Commentary
	persona, err := instructions.Load(a.cfg.Instructions.Path, instructions.Params{
		FavoriteTeam: cc.FavoriteTeam,
		Level:        cc.Level,
		Style:        cc.Style,
		Team1:        cc.Team1.Name,
		Team2:        cc.Team2.Name,
		Team1Color:   cc.Team1.Color,
		Team2Color:   cc.Team2.Color,
	})
	if err != nil {
		return fmt.Errorf("app: load instructions: %w", err)
	}

	if a.provider == nil {
		gopts := []gemini.Option{}
		if a.cfg.Realtime.Model != "" {
			gopts = append(gopts, gemini.WithModel(a.cfg.Realtime.Model))
		}
		if a.cfg.Realtime.BaseURL != "" {
			gopts = append(gopts, gemini.WithBaseURL(a.cfg.Realtime.BaseURL))
		}
		a.provider = gemini.New(a.cfg.Realtime.APIKey, gopts...)
	}

	session, err := a.provider.Connect(ctx, realtime.SessionConfig{
		Instructions: persona,
		Voice:        a.cfg.Realtime.Voice,
	})
	if err != nil {
		return fmt.Errorf("app: connect realtime session: %w", err)
	}
	a.session = session
	a.closers = append(a.closers, session.Close)

	a.log.Info("realtime session connected",
		"provider", a.cfg.Realtime.Provider,
		"model", a.cfg.Realtime.Model,
		"voice", a.cfg.Realtime.Voice,
	)
	return nil
}

// initArchive opens the commentary log: injected, Postgres-backed, or a nop
// when no DSN is configured.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		a.closers = append(a.closers, a.archive.Close)
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		a.archive = archive.NopLog{}
		return nil
	}
	store, err := postgres.NewLog(ctx, dsn)
	if err != nil {
		return fmt.Errorf("app: open archive: %w", err)
	}
	a.archive = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initFeeder builds the audio feeder when a media source is available.
func (a *App) initFeeder() {
	if a.source == nil {
		if a.cfg.Media.Source == "" {
			a.log.Info("no media source configured, running commentary only")
			return
		}
		sopts := []media.SourceOption{media.WithSourceLogger(a.log)}
		if a.cfg.Media.FFmpeg != "" {
			sopts = append(sopts, media.WithFFmpeg(a.cfg.Media.FFmpeg))
		}
		if a.cfg.Media.FFprobe != "" {
			sopts = append(sopts, media.WithFFprobe(a.cfg.Media.FFprobe))
		}
		if a.cfg.Media.ChunkMS > 0 {
			sopts = append(sopts, media.WithChunkDuration(time.Duration(a.cfg.Media.ChunkMS)*time.Millisecond))
		}
		a.source = media.NewFileSource(a.cfg.Media.Source, sopts...)
	}
	a.feeder = feed.New(a.source, feed.WithLogger(a.log), feed.WithMetrics(a.metrics))
}

// initScheduler builds the configured commentary strategy over the session.
func (a *App) initScheduler() {
	cc := a.cfg.Commentary
	prompter := commentary.NewPrompter(cc.Style, cc.Level)
	opening := commentary.OpeningPrompt(cc.Team1.Name, cc.Team2.Name)

	// Every delivered prompt lands in the archive; a failed write never
	// blocks the commentary.
	delivered := func(ctx context.Context, kind, prompt string) {
		err := a.archive.Write(ctx, archive.Entry{
			SessionID: a.sessionID,
			Kind:      archive.Kind(kind),
			Style:     cc.Style,
			Level:     cc.Level,
			Prompt:    prompt,
		})
		if err != nil {
			a.log.Warn("archiving prompt failed", "kind", kind, "error", err)
		}
	}

	if cc.Mode == commentary.ModeEvent {
		lopts := []commentary.LabelOption{commentary.WithFuzzy(cc.FuzzyLabels)}
		if cc.FuzzyThreshold > 0 {
			lopts = append(lopts, commentary.WithFuzzyThreshold(cc.FuzzyThreshold))
		}
		matcher := commentary.NewLabelMatcher(cc.TriggerLabel, lopts...)
		debounce := commentary.NewDebouncer(cc.DebounceWindow.Duration)
		a.triggered = commentary.NewTriggered(a.session, prompter, opening,
			cc.Cooldown.Duration, debounce, matcher,
			commentary.WithTriggeredLogger(a.log),
			commentary.WithTriggeredDelivered(delivered),
			commentary.WithTriggeredMetrics(a.metrics),
		)
		a.scheduler = a.triggered
		return
	}

	a.scheduler = commentary.NewPeriodic(a.session, prompter, opening,
		commentary.PeriodicConfig{
			StartupDelay: cc.StartupDelay.Duration,
			SettleDelay:  cc.SettleDelay.Duration,
			Interval:     cc.Interval.Duration,
			RetryBackoff: cc.RetryBackoff.Duration,
		},
		commentary.WithPeriodicLogger(a.log),
		commentary.WithPeriodicDelivered(delivered),
		commentary.WithPeriodicMetrics(a.metrics),
	)
}

// initBridge assembles the session orchestrator and the HTTP front.
func (a *App) initBridge() {
	a.manager = NewSessionManager(SessionManagerConfig{
		SessionID: a.sessionID,
		Feeder:    a.feeder,
		Sink:      a.session,
		Scheduler: a.scheduler,
		Triggered: a.triggered,
		Logger:    a.log,
		Metrics:   a.metrics,
	})

	probes := health.New(
		health.SessionChecker(a.session.Connected),
		health.ArchiveChecker(a.archive.Ping),
		health.MediaChecker(a.cfg.Media.Source),
	)

	a.bridge = bridge.New(a.manager,
		bridge.WithLogger(a.log),
		bridge.WithMetrics(a.metrics),
		bridge.WithArchive(a.archive, a.sessionID),
		bridge.WithHealth(probes),
	)
}

// SessionID returns the identifier of this server's commentary session.
func (a *App) SessionID() string {
	return a.sessionID
}

// Bridge returns the HTTP/WebSocket front. Exposed for tests that mount it
// on an httptest server.
func (a *App) Bridge() *bridge.Server {
	return a.bridge
}

// Manager returns the session orchestrator.
func (a *App) Manager() *SessionManager {
	return a.manager
}

// Run serves the bridge and pumps synthesised speech to its clients until
// ctx is cancelled or the realtime session dies.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bridge.Serve(gctx, a.cfg.Server.ListenAddr)
	})

	// Speech pump: every PCM frame the model speaks is fanned out to the
	// connected clients. A dead session ends the whole group, cleanly or
	// not.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case pcm, ok := <-a.session.Audio():
				if !ok {
					if err := a.session.Err(); err != nil && gctx.Err() == nil {
						return fmt.Errorf("app: realtime session lost: %w", err)
					}
					return errSessionEnded
				}
				a.bridge.BroadcastSpeech(gctx, pcm)
			}
		}
	})

	a.log.Info("playcall running",
		"session_id", a.sessionID,
		"listen_addr", a.cfg.Server.ListenAddr,
		"mode", string(a.cfg.Commentary.Mode),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionEnded) {
		return err
	}
	return nil
}

// Shutdown stops the session orchestrator and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.manager != nil {
			a.manager.Stop()
		}

		// Nothing reads the speech stream once Run has returned; keep the
		// session's receive loop from blocking while closers run.
		go audio.Drain(a.session.Audio())

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
