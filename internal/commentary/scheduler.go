// Package commentary decides when the voice session is prompted to speak.
//
// Two interchangeable strategies are provided: [Periodic] emits prompts on a
// fixed cadence from its own background loop, and [Triggered] reacts to
// detection events gated by an opening sequence, a cooldown window, and a
// [Debouncer]. Exactly one strategy runs per session; both deliver short
// natural-language prompts to the realtime session and never inspect the
// spoken response.
package commentary

import "context"

// Mode selects which scheduling strategy drives the commentary.
type Mode string

const (
	// ModePeriodic prompts on a fixed cadence with no external trigger.
	ModePeriodic Mode = "periodic"

	// ModeEvent prompts in reaction to detection events.
	ModeEvent Mode = "event"
)

// IsValid reports whether m is a recognised scheduling mode.
func (m Mode) IsValid() bool {
	return m == ModePeriodic || m == ModeEvent
}

// Sink receives the scheduler's prompts. A realtime voice session satisfies
// this. Prompts are fire-and-forget: the scheduler checks reachability before
// each send and drops the prompt when the sink reports false, since a stale
// prompt is worthless to a live commentary.
type Sink interface {
	SendText(prompt string) error
	Connected() bool
}

// Scheduler is the lifecycle surface shared by both strategies. Start is
// idempotent; a second call while the scheduler is active is a no-op. Stop
// takes effect within one tick and may be called regardless of state.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}
