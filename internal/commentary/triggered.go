package commentary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/playcall/internal/observe"
	"github.com/MrWong99/playcall/pkg/engine"
)

// defaultCooldown is the grace period after the opening prompt during which
// detection events are ignored.
const defaultCooldown = 20 * time.Second

// State is the phase of the event-triggered strategy's state machine.
type State int

const (
	// StateAwaitingOpening is the initial state: the first event of any
	// content delivers the opening prompt.
	StateAwaitingOpening State = iota

	// StateCoolingDown ignores events until the cooldown since the opening
	// has elapsed.
	StateCoolingDown

	// StateActive is the terminal state: qualifying events gated by the
	// debouncer deliver prompts. Active never reverts.
	StateActive
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingOpening:
		return "awaiting-opening"
	case StateCoolingDown:
		return "cooling-down"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// TriggeredOption is a functional option for configuring a Triggered.
type TriggeredOption func(*Triggered)

// WithTriggeredLogger sets the logger used by the event handler.
func WithTriggeredLogger(log *slog.Logger) TriggeredOption {
	return func(t *Triggered) {
		if log != nil {
			t.log = log
		}
	}
}

// WithTriggeredDelivered registers a callback invoked after every successful
// prompt delivery. Used to append delivered prompts to the archive.
func WithTriggeredDelivered(fn func(ctx context.Context, kind, prompt string)) TriggeredOption {
	return func(t *Triggered) { t.delivered = fn }
}

// WithTriggeredMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithTriggeredMetrics(m *observe.Metrics) TriggeredOption {
	return func(t *Triggered) {
		if m != nil {
			t.metrics = m
		}
	}
}

// Triggered is the event-driven commentary strategy. It runs no background
// loop: all activity happens inside [Triggered.HandleDetections], which the
// event dispatcher must invoke sequentially (see [engine.Handler]). The
// state transitions rely on that sequential delivery and are not otherwise
// locked.
//
// Lifecycle: the first event delivers the opening prompt and starts the
// cooldown. During the cooldown events are ignored entirely — they never
// reach the debouncer, so a burst during cooldown cannot suppress the first
// real prompt. Once the cooldown elapses the scheduler turns active and the
// same event falls through to active handling: a detection batch containing
// the trigger object, when the debouncer grants, delivers one random prompt.
type Triggered struct {
	sink     Sink
	prompter *Prompter
	opening  string
	cooldown time.Duration
	debounce *Debouncer
	matcher  *LabelMatcher

	log       *slog.Logger
	metrics   *observe.Metrics
	delivered func(ctx context.Context, kind, prompt string)
	now       func() time.Time

	mu        sync.Mutex
	accepting bool

	// State machine fields, mutated only from the sequential event path.
	state    State
	openedAt time.Time
}

var _ Scheduler = (*Triggered)(nil)

// NewTriggered creates an event-triggered scheduler. A non-positive cooldown
// falls back to the package default; a nil debouncer gets the default
// window; a nil matcher qualifies every non-empty detection batch.
func NewTriggered(sink Sink, prompter *Prompter, opening string, cooldown time.Duration, debounce *Debouncer, matcher *LabelMatcher, opts ...TriggeredOption) *Triggered {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if debounce == nil {
		debounce = NewDebouncer(0)
	}
	if matcher == nil {
		matcher = NewLabelMatcher("")
	}

	t := &Triggered{
		sink:     sink,
		prompter: prompter,
		opening:  opening,
		cooldown: cooldown,
		debounce: debounce,
		matcher:  matcher,
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		now:      time.Now,
		state:    StateAwaitingOpening,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start marks the scheduler as accepting events. There is no background work
// to launch; Start on an accepting scheduler is a no-op.
func (t *Triggered) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accepting = true
	return nil
}

// Stop makes further events no-ops. The state machine is left in place so a
// restart resumes where it left off.
func (t *Triggered) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accepting = false
}

// IsRunning reports whether the scheduler currently accepts events.
func (t *Triggered) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepting
}

// State returns the current state-machine phase.
func (t *Triggered) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// HandleDetections processes one detection batch.
//
// Callers must invoke it sequentially: no two invocations may overlap. The
// dispatcher contract on [engine.Handler] guarantees this for events arriving
// through the bridge.
func (t *Triggered) HandleDetections(ctx context.Context, objects []engine.Object) {
	if !t.IsRunning() {
		return
	}

	switch t.state {
	case StateAwaitingOpening:
		if err := t.deliver(ctx, "opening", t.opening); err != nil {
			t.log.Warn("opening prompt failed", "error", err)
		}
		t.setState(StateCoolingDown)
		t.openedAt = t.now()
		return

	case StateCoolingDown:
		// Events inside the cooldown are fully ignored; no debouncer
		// interaction.
		if t.now().Sub(t.openedAt) < t.cooldown {
			return
		}
		t.setState(StateActive)
		// Fall through: the same event receives active handling.
		fallthrough

	case StateActive:
		if !t.matcher.Matches(objects) {
			return
		}
		if !t.debounce.TryAcquire() {
			t.metrics.RecordDebounceDenial(ctx)
			return
		}
		if err := t.deliver(ctx, "event", t.prompter.Pick()); err != nil {
			// Swallowed for this event; the next qualifying event retries.
			t.log.Warn("event prompt failed", "error", err)
		}
	}
}

// setState records a state transition with logging.
func (t *Triggered) setState(next State) {
	t.mu.Lock()
	prev := t.state
	t.state = next
	t.mu.Unlock()
	t.log.Info("commentary state change", "from", prev.String(), "to", next.String())
}

// deliver sends one prompt, dropping it silently when the sink is
// unreachable.
func (t *Triggered) deliver(ctx context.Context, kind, prompt string) error {
	if !t.sink.Connected() {
		t.log.Debug("prompt dropped, session unreachable", "kind", kind)
		return nil
	}

	start := time.Now()
	if err := t.sink.SendText(prompt); err != nil {
		t.metrics.RecordPromptFault(ctx, "event")
		return err
	}
	t.metrics.PromptSendDuration.Record(ctx, time.Since(start).Seconds())
	t.metrics.RecordPrompt(ctx, "event", kind)
	t.log.Debug("prompt delivered", "kind", kind, "prompt", prompt)

	if t.delivered != nil {
		t.delivered(ctx, kind, prompt)
	}
	return nil
}
