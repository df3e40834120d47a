package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/playcall/pkg/audio"
	"github.com/MrWong99/playcall/pkg/realtime"
	"github.com/MrWong99/playcall/pkg/realtime/gemini"
	"github.com/coder/websocket"
)

const waitFor = 3 * time.Second

// fakeLive is a WebSocket server standing in for the Gemini Live endpoint.
// Every accepted connection is handed to the configured handler.
type fakeLive struct {
	srv     *httptest.Server
	handler func(conn *websocket.Conn, r *http.Request)
}

func newFakeLive(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *fakeLive {
	t.Helper()
	f := &fakeLive{handler: handler}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		f.handler(conn, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLive) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// recvFrame reads one text frame into v.
func recvFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
}

// sendFrame marshals v and sends it as a text frame. Write errors are logged
// only, since the client may already be gone when a test winds down.
func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("send frame: %v", err)
	}
}

// ackSetup consumes the client's setup frame and acknowledges it.
func ackSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var setup map[string]any
	recvFrame(t, conn, &setup)
	sendFrame(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// park blocks until the peer closes the connection.
func park(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

// dial connects a session to a fakeLive running handler, registering Close
// as cleanup. Tests that need Close's direct effects call it themselves;
// the cleanup call is a no-op then.
func dial(t *testing.T, handler func(conn *websocket.Conn, r *http.Request), opts ...gemini.Option) realtime.Session {
	t.Helper()
	f := newFakeLive(t, handler)
	p := gemini.New("test-api-key", append([]gemini.Option{gemini.WithBaseURL(f.url())}, opts...)...)
	sess, err := p.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// ackAndPark is the handler most tests need: acknowledge setup, then idle.
func ackAndPark(t *testing.T) func(conn *websocket.Conn, r *http.Request) {
	return func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		park(conn)
	}
}

func pcmChunk(data []byte) audio.Chunk {
	return audio.Chunk{Data: data, SampleRate: 16000, Channels: 1}
}

func TestConnect_SetupFrame(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model             string `json:"model"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	f := newFakeLive(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		recvFrame(t, conn, &msg)
		received <- msg
		sendFrame(t, conn, map[string]any{"setupComplete": map[string]any{}})
		park(conn)
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(f.url()))
	sess, err := p.Connect(context.Background(), realtime.SessionConfig{
		Instructions: "You are an excitable sports commentator.",
		Voice:        "Puck",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	var msg setupMsg
	select {
	case msg = <-received:
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for setup frame")
	}

	if want := "models/custom-model"; msg.Setup.Model != want {
		t.Errorf("model = %q; want %q", msg.Setup.Model, want)
	}
	si := msg.Setup.SystemInstruction
	if si == nil || len(si.Parts) == 0 || si.Parts[0].Text != "You are an excitable sports commentator." {
		t.Errorf("unexpected system instruction: %+v", si)
	}
	if mods := msg.Setup.GenerationConfig.ResponseModalities; len(mods) != 1 || mods[0] != "audio" {
		t.Errorf("responseModalities = %v; want [audio]", mods)
	}
	sc := msg.Setup.GenerationConfig.SpeechConfig
	if sc == nil {
		t.Fatal("speechConfig missing")
	}
	if got := sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
		t.Errorf("voiceName = %q; want Puck", got)
	}
}

func TestConnect_APIKeyInQuery(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)
	dial(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		ackSetup(t, conn)
		park(conn)
	})

	select {
	case q := <-query:
		if !strings.Contains(q, "key=test-api-key") {
			t.Errorf("query %q lacks the API key", q)
		}
	case <-time.After(waitFor):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	t.Parallel()

	f := newFakeLive(t, func(conn *websocket.Conn, _ *http.Request) { park(conn) })
	p := gemini.New("key", gemini.WithBaseURL(f.url()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Connect(ctx, realtime.SessionConfig{}); err == nil {
		t.Fatal("Connect with cancelled context should fail")
	}
}

func TestSendAudio(t *testing.T) {
	t.Parallel()

	type inputMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	frames := make(chan inputMsg, 2)
	sess := dial(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		for range 2 {
			var msg inputMsg
			recvFrame(t, conn, &msg)
			frames <- msg
		}
		park(conn)
	})

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := sess.SendAudio(pcmChunk(wantPCM)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	// A chunk at a different rate must be tagged with that rate.
	if err := sess.SendAudio(audio.Chunk{Data: []byte{1, 2}, SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	read := func() inputMsg {
		select {
		case msg := <-frames:
			return msg
		case <-time.After(waitFor):
			t.Fatal("timeout waiting for media chunk")
			return inputMsg{}
		}
	}

	first := read()
	if n := len(first.RealtimeInput.MediaChunks); n != 1 {
		t.Fatalf("media chunks = %d; want 1", n)
	}
	chunk := first.RealtimeInput.MediaChunks[0]
	if chunk.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunk.MIMEType)
	}
	got, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	if string(got) != string(wantPCM) {
		t.Errorf("decoded audio = %v; want %v", got, wantPCM)
	}

	second := read()
	if mime := second.RealtimeInput.MediaChunks[0].MIMEType; mime != "audio/pcm;rate=24000" {
		t.Errorf("mimeType = %q; want audio/pcm;rate=24000", mime)
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	type contentMsg struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}

	frames := make(chan contentMsg, 1)
	sess := dial(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		var msg contentMsg
		recvFrame(t, conn, &msg)
		frames <- msg
		park(conn)
	})

	const prompt = "What's happening? 1-2 sentences."
	if err := sess.SendText(prompt); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	var msg contentMsg
	select {
	case msg = <-frames:
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for clientContent frame")
	}

	turns := msg.ClientContent.Turns
	if len(turns) != 1 {
		t.Fatalf("turns = %d; want 1", len(turns))
	}
	if turns[0].Role != "user" {
		t.Errorf("role = %q; want user", turns[0].Role)
	}
	if len(turns[0].Parts) == 0 || turns[0].Parts[0].Text != prompt {
		t.Errorf("unexpected parts: %+v", turns[0].Parts)
	}
	if !msg.ClientContent.TurnComplete {
		t.Error("turnComplete should be true")
	}
}

func TestSend_AfterClose(t *testing.T) {
	t.Parallel()

	sess := dial(t, ackAndPark(t))
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := sess.SendAudio(pcmChunk([]byte{1, 2, 3, 4})); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if err := sess.SendText("anything"); err == nil {
		t.Error("SendText after Close should fail")
	}
}

func TestAudio_DeliversModelSpeech(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	sess := dial(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		sendFrame(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{{
						"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(wantPCM),
						},
					}},
				},
			},
		})
		park(conn)
	})

	select {
	case speech, ok := <-sess.Audio():
		if !ok {
			t.Fatal("Audio channel closed unexpectedly")
		}
		if string(speech) != string(wantPCM) {
			t.Errorf("speech = %v; want %v", speech, wantPCM)
		}
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for speech")
	}
}

func TestConnected(t *testing.T) {
	t.Parallel()

	sess := dial(t, ackAndPark(t))
	if !sess.Connected() {
		t.Error("Connected() = false for an open session")
	}
	if got := sess.Err(); got != nil {
		t.Errorf("Err() = %v; want nil", got)
	}

	_ = sess.Close()
	if sess.Connected() {
		t.Error("Connected() = true after Close")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	sess := dial(t, ackAndPark(t))

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, open := <-sess.Audio():
		if open {
			t.Error("Audio channel should be closed after Close")
		}
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for Audio channel to close")
	}
}

func TestConcurrentSend(t *testing.T) {
	t.Parallel()

	sess := dial(t, func(conn *websocket.Conn, _ *http.Request) {
		ackSetup(t, conn)
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 16 {
				_ = sess.SendAudio(pcmChunk([]byte{0x01, 0x02, 0x03, 0x04}))
			}
		})
		wg.Go(func() {
			for range 16 {
				_ = sess.SendText("Comment on that play.")
			}
		})
	}
	wg.Wait()
}
