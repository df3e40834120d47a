package commentary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/playcall/internal/observe"
)

// Default cadence for the periodic strategy.
const (
	defaultStartupDelay = 3 * time.Second
	defaultSettleDelay  = 5 * time.Second
	defaultInterval     = 4 * time.Second
	defaultRetryBackoff = 2 * time.Second
)

// PeriodicConfig holds the timing knobs for a [Periodic] scheduler.
// Non-positive values are replaced with package defaults.
type PeriodicConfig struct {
	// StartupDelay is observed once before the opening prompt.
	StartupDelay time.Duration

	// SettleDelay is observed once between the opening prompt and the
	// regular loop, giving the model time to finish the intro.
	SettleDelay time.Duration

	// Interval is the fixed wait between regular prompts.
	Interval time.Duration

	// RetryBackoff is observed after a failed delivery before the loop
	// continues.
	RetryBackoff time.Duration
}

// PeriodicOption is a functional option for configuring a Periodic.
type PeriodicOption func(*Periodic)

// WithPeriodicLogger sets the logger used by the commentary loop.
func WithPeriodicLogger(log *slog.Logger) PeriodicOption {
	return func(p *Periodic) {
		if log != nil {
			p.log = log
		}
	}
}

// WithPeriodicDelivered registers a callback invoked after every successful
// prompt delivery. Used to append delivered prompts to the archive.
func WithPeriodicDelivered(fn func(ctx context.Context, kind, prompt string)) PeriodicOption {
	return func(p *Periodic) { p.delivered = fn }
}

// WithPeriodicMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithPeriodicMetrics(m *observe.Metrics) PeriodicOption {
	return func(p *Periodic) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Periodic is the fixed-cadence commentary strategy: one background loop
// that delivers the opening prompt after a startup delay, settles, then
// prompts forever at a fixed interval. It needs no external events.
//
// Prompts are strictly wall-clock ordered. A stuck delivery call delays the
// subsequent wait; it never causes a prompt to be skipped.
type Periodic struct {
	sink     Sink
	prompter *Prompter
	opening  string
	cfg      PeriodicConfig

	log       *slog.Logger
	metrics   *observe.Metrics
	delivered func(ctx context.Context, kind, prompt string)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ Scheduler = (*Periodic)(nil)

// NewPeriodic creates a periodic scheduler delivering prompts from prompter
// to sink, preceded by the one-time opening prompt.
func NewPeriodic(sink Sink, prompter *Prompter, opening string, cfg PeriodicConfig, opts ...PeriodicOption) *Periodic {
	if cfg.StartupDelay <= 0 {
		cfg.StartupDelay = defaultStartupDelay
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	p := &Periodic{
		sink:     sink,
		prompter: prompter,
		opening:  opening,
		cfg:      cfg,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the commentary loop. Start on an already-running Periodic
// is a no-op.
func (p *Periodic) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(runCtx, p.done)
	return nil
}

// Stop cancels the commentary loop and waits for it to exit. The loop
// observes the request at its next wait boundary. Stop on a Periodic that is
// not running is a no-op.
func (p *Periodic) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the commentary loop is currently active.
func (p *Periodic) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// run is the commentary loop: startup delay, opening, settle delay, then the
// regular cadence until cancellation.
func (p *Periodic) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if !sleep(ctx, p.cfg.StartupDelay) {
		return
	}

	if err := p.deliver(ctx, "opening", p.opening); err != nil {
		p.log.Warn("opening prompt failed", "error", err)
	}

	if !sleep(ctx, p.cfg.SettleDelay) {
		return
	}

	for {
		wait := p.cfg.Interval
		if err := p.deliver(ctx, "periodic", p.prompter.Pick()); err != nil {
			p.log.Warn("commentary prompt failed, backing off", "error", err)
			wait = p.cfg.RetryBackoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// deliver sends one prompt, dropping it silently when the sink is
// unreachable. Delivery errors are returned so the loop can back off.
func (p *Periodic) deliver(ctx context.Context, kind, prompt string) error {
	if !p.sink.Connected() {
		p.log.Debug("prompt dropped, session unreachable", "kind", kind)
		return nil
	}

	start := time.Now()
	if err := p.sink.SendText(prompt); err != nil {
		p.metrics.RecordPromptFault(ctx, "periodic")
		return err
	}
	p.metrics.PromptSendDuration.Record(ctx, time.Since(start).Seconds())
	p.metrics.RecordPrompt(ctx, "periodic", kind)
	p.log.Debug("prompt delivered", "kind", kind, "prompt", prompt)

	if p.delivered != nil {
		p.delivered(ctx, kind, prompt)
	}
	return nil
}

// sleep waits for d or until ctx is cancelled. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
