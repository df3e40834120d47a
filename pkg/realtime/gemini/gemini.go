// Package gemini connects playcall to Google's Gemini Live API over a
// bidirectional WebSocket speaking the BidiGenerateContent protocol.
//
// Commentary prompts go out as completed user turns, game audio as
// base64-encoded PCM media chunks. The model's synthesised speech comes back
// on the session's Audio channel.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/playcall/pkg/audio"
	"github.com/MrWong99/playcall/pkg/realtime"
	"github.com/coder/websocket"
)

var _ realtime.Provider = (*Provider)(nil)
var _ realtime.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	bidiPath = "google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	pingEvery   = 20 * time.Second
	pingTimeout = 5 * time.Second

	// speechBuffer absorbs bursts of model speech between bridge reads.
	speechBuffer = 64
)

var errClosed = errors.New("gemini: session closed")

// Provider dials Gemini Live sessions. The zero value is not usable; create
// one with [New].
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Gemini model for new sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the provider at a different WebSocket endpoint, which
// tests use to substitute a local server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// New creates a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Live endpoint, performs the setup handshake, and returns
// a session that accepts audio and prompts immediately.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	endpoint := fmt.Sprintf("%s/%s?key=%s", p.baseURL, bidiPath, p.apiKey)

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	s := newSession(conn)
	if err := s.handshake(p.model, cfg); err != nil {
		s.cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

type session struct {
	conn   *websocket.Conn
	speech chan []byte

	// ctx spans the session's lifetime; cancel ends both loops.
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	lastErr error
	closed  bool
}

func newSession(conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		conn:   conn,
		speech: make(chan []byte, speechBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// handshake sends the setup frame that fixes model, voice and persona for
// the whole session. Gemini Live accepts no mid-session changes to any of
// these.
func (s *session) handshake(model string, cfg realtime.SessionConfig) error {
	frame := setupFrame{Setup: sessionSetup{
		Model:            "models/" + model,
		GenerationConfig: generation{ResponseModalities: []string{"audio"}},
	}}
	if cfg.Instructions != "" {
		frame.Setup.SystemInstruction = &instruction{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		frame.Setup.GenerationConfig.SpeechConfig = &speechSetup{
			VoiceConfig: voiceSetup{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.Voice}},
		}
	}
	return s.send(frame)
}

func (s *session) send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// guard reports whether the session still accepts outbound frames.
func (s *session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// readLoop drains server frames until the connection dies or the session is
// closed. It owns the speech channel and closes it on exit.
func (s *session) readLoop() {
	defer s.once.Do(func() { close(s.speech) })

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.fail(err)
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			text := frame.Error.Message
			if text == "" {
				text = "unknown error"
			}
			slog.Warn("gemini live reported an error", "code", frame.Error.Code, "error", text)
		}
		if frame.ServerContent != nil && !s.emitSpeech(frame.ServerContent) {
			return
		}
	}
}

// emitSpeech decodes inline audio parts onto the speech channel. It returns
// false when the session ended mid-delivery.
func (s *session) emitSpeech(sc *serverContent) bool {
	if sc.ModelTurn == nil {
		return true
	}
	for _, p := range sc.ModelTurn.Parts {
		if p.InlineData == nil {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil || len(pcm) == 0 {
			continue
		}
		select {
		case s.speech <- pcm:
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

// pingLoop keeps the WebSocket alive; Gemini Live drops idle connections.
func (s *session) pingLoop() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			_ = s.conn.Ping(ctx)
			cancel()
		}
	}
}

func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		s.lastErr = err
	}
}

// SendAudio streams one PCM chunk to the model. The MIME tag carries the
// chunk's own sample rate.
func (s *session) SendAudio(chunk audio.Chunk) error {
	if err := s.guard(); err != nil {
		return err
	}
	var frame inputFrame
	frame.RealtimeInput.MediaChunks = []blob{{
		MIMEType: fmt.Sprintf("audio/pcm;rate=%d", chunk.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(chunk.Data),
	}}
	return s.send(frame)
}

// SendText submits prompt as a completed user turn, which triggers a spoken
// response from the model.
func (s *session) SendText(prompt string) error {
	if err := s.guard(); err != nil {
		return err
	}
	var frame contentFrame
	frame.ClientContent.Turns = []turn{{Role: "user", Parts: []part{{Text: prompt}}}}
	frame.ClientContent.TurnComplete = true
	return s.send(frame)
}

// Connected reports whether the session still accepts input. It turns false
// after Close or a transport error in the read loop.
func (s *session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.lastErr == nil
}

// Audio returns the stream of synthesised speech. The channel closes when
// the session ends.
func (s *session) Audio() <-chan []byte { return s.speech }

// Err returns the error that terminated the session, or nil.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close tears the session down. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
