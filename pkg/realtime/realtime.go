// Package realtime defines the Provider interface for realtime voice backends.
//
// A realtime provider wraps a live voice-generation service that accepts raw
// audio and short text prompts over a single, stateful session and streams
// back synthesised speech — the model hears the game audio and speaks when
// prompted, with no separate transcription or synthesis stages.
//
// Sessions are designed to be long-lived (minutes) and are the sole speech
// output path of a commentary session. All implementations must be safe for
// concurrent use: the audio feed and the commentary scheduler write to the
// same session from independent goroutines.
package realtime

import (
	"context"

	"github.com/MrWong99/playcall/pkg/audio"
)

// SessionConfig is the initial configuration for a new realtime session.
type SessionConfig struct {
	// Instructions is the system-level prompt that defines the commentator's
	// persona, the match context, and behavioural constraints. Sent once when
	// the session is established.
	Instructions string

	// Voice selects the provider voice for synthesised speech. Empty means
	// the provider's default voice.
	Voice string
}

// Session represents an open realtime voice session. It is an interface so
// that test code can supply mock implementations without a live provider
// connection.
//
// The session is the hot path of the commentary pipeline — every method must
// return quickly. Speech output is channel-based to avoid blocking the
// provider's receive loop. Callers must call Close when the session is no
// longer needed.
type Session interface {
	// SendAudio delivers one PCM chunk to the model. The chunk carries its
	// own format tag (sample rate and channel count); callers normally send
	// canonical 16 kHz mono. Returns an error if the session is closed or
	// the transport write fails.
	SendAudio(chunk audio.Chunk) error

	// SendText delivers one natural-language prompt the model should answer
	// with speech. The call returns once the prompt is handed to the
	// transport; it does not wait for the spoken response.
	SendText(prompt string) error

	// Connected reports whether the session can currently accept input.
	// Writers check this before each send and drop the item when it reports
	// false — stale audio or prompts are worthless to a live commentary.
	Connected() bool

	// Audio returns a read-only channel that emits raw PCM byte slices as
	// the model synthesises speech. The channel is closed when the session
	// ends or a mid-stream error occurs. After the channel closes, call
	// [Session.Err] to check whether the session ended cleanly. Consumers
	// must drain this channel promptly to prevent backpressure from
	// stalling the provider's receive loop.
	Audio() <-chan []byte

	// Err returns the error that caused the Audio channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session, releases all resources, and closes the
	// Audio channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime voice backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new session with the given configuration.
	// The returned Session is ready to accept audio immediately.
	//
	// Returns an error if the session cannot be established (e.g.,
	// authentication failure or ctx already cancelled). The caller owns the
	// Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
