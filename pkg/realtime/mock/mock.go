// Package mock provides test doubles for the realtime package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions.
// Use Session to drive the speech output stream and inspect which audio
// chunks and prompts the orchestration layers delivered.
//
// Example:
//
//	sess := &mock.Session{AudioCh: make(chan []byte, 8)}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/playcall/pkg/audio"
	"github.com/MrWong99/playcall/pkg/realtime"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the Session returned by Connect. If nil, Connect returns a
	// new default Session with a buffered audio channel.
	Session realtime.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{AudioCh: make(chan []byte, 64)}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements realtime.Provider at compile time.
var _ realtime.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk holds a deep copy of the chunk passed to SendAudio.
	Chunk audio.Chunk
}

// SendTextCall records a single invocation of Session.SendText.
type SendTextCall struct {
	// Prompt is the string passed to SendText.
	Prompt string
}

// Session is a mock implementation of realtime.Session.
// Callers should pre-populate AudioCh, then close it to signal
// end-of-session.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan []byte

	// Disconnected makes Connected report false, simulating a session that
	// is not reachable at send time.
	Disconnected bool

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// ErrVal is returned by Err.
	ErrVal error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// SendTextCalls records every call to SendText in order.
	SendTextCalls []SendTextCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := chunk
	cp.Data = make([]byte, len(chunk.Data))
	copy(cp.Data, chunk.Data)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// SendText records the call and returns SendTextErr.
func (s *Session) SendText(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendTextCalls = append(s.SendTextCalls, SendTextCall{Prompt: prompt})
	return s.SendTextErr
}

// Connected reports the inverse of Disconnected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Disconnected
}

// SetDisconnected toggles the Connected result. Thread-safe.
func (s *Session) SetDisconnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Disconnected = v
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// SendAudioCallCount returns the number of SendAudio calls so far.
// Thread-safe; safe to poll while a feed goroutine is still delivering.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// SendTextCallCount returns the number of SendText calls so far. Thread-safe.
func (s *Session) SendTextCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendTextCalls)
}

// Prompts returns the prompts delivered via SendText so far, in order.
// Thread-safe; useful for asserting scheduler behaviour.
func (s *Session) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.SendTextCalls))
	for i, c := range s.SendTextCalls {
		out[i] = c.Prompt
	}
	return out
}

// AudioBytes returns the concatenation of all audio chunk payloads delivered
// via SendAudio so far, in order. Thread-safe; useful for asserting that a
// feed reproduced its source.
func (s *Session) AudioBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.SendAudioCalls {
		out = append(out, c.Chunk.Data...)
	}
	return out
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.SendTextCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements realtime.Session at compile time.
var _ realtime.Session = (*Session)(nil)
