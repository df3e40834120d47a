// Package bridge exposes the commentary session over HTTP: a WebSocket
// endpoint that ingests call-platform and detection events, a broadcast path
// that fans synthesised speech out to every connected client, and the REST
// and operational endpoints (recent commentary, health probes, metrics).
//
// All inbound events from all connections are funnelled through a single
// dispatch mutex before reaching the registered [engine.Handler], preserving
// the handler's sequential-delivery contract even with many clients.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/playcall/internal/archive"
	"github.com/MrWong99/playcall/internal/health"
	"github.com/MrWong99/playcall/internal/observe"
	"github.com/MrWong99/playcall/pkg/engine"
)

// writeTimeout bounds a single broadcast write to one client.
const writeTimeout = 5 * time.Second

// defaultRecentLimit caps /api/commentary results when no limit is given.
const defaultRecentLimit = 20

// Server is the HTTP/WebSocket front of a commentary session.
type Server struct {
	handler engine.Handler
	log     *slog.Logger
	metrics *observe.Metrics
	archive archive.Log
	health  *health.Handler

	// sessionID scopes /api/commentary queries to the live session.
	sessionID string

	// dispatchMu serialises event dispatch across all connections.
	dispatchMu sync.Mutex

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client is one connected WebSocket peer.
type client struct {
	conn *websocket.Conn
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithArchive sets the commentary log backing /api/commentary.
// Defaults to [archive.NopLog].
func WithArchive(log archive.Log, sessionID string) Option {
	return func(s *Server) {
		if log != nil {
			s.archive = log
			s.sessionID = sessionID
		}
	}
}

// WithHealth sets the health handler whose probes are mounted on the mux.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.health = h
		}
	}
}

// New creates a bridge server dispatching inbound events to handler.
func New(handler engine.Handler, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		log:     slog.Default(),
		archive: archive.NopLog{},
		health:  health.New(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the http.Handler serving all bridge endpoints:
//
//	GET /ws              — event ingest and speech broadcast (WebSocket)
//	GET /api/commentary  — recent archived prompts for the live session
//	GET /healthz         — liveness probe
//	GET /readyz          — readiness probe
//	GET /metrics         — Prometheus scrape endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/commentary", s.handleCommentary)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.log.Info("bridge listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("bridge: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge: serve: %w", err)
		}
		return nil
	}
}

// handleWS upgrades the connection and runs the inbound read loop. Each
// decoded message becomes one engine event, dispatched under the shared
// dispatch mutex.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{conn: conn}
	s.addClient(c)
	s.metrics.BridgeConnections.Add(r.Context(), 1)
	defer func() {
		s.removeClient(c)
		s.metrics.BridgeConnections.Add(context.Background(), -1)
		conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.log.Debug("websocket read ended", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.rejectMessage(ctx, conn, fmt.Errorf("bridge: decode message: %w", err))
			continue
		}
		ev, err := msg.toEvent()
		if err != nil {
			s.rejectMessage(ctx, conn, err)
			continue
		}

		s.dispatchMu.Lock()
		err = s.handler.HandleEvent(ctx, ev)
		s.dispatchMu.Unlock()
		if err != nil {
			s.log.Error("event handler failed", "type", msg.Type, "error", err)
		}
	}
}

// rejectMessage reports a malformed inbound message back to its sender.
func (s *Server) rejectMessage(ctx context.Context, conn *websocket.Conn, cause error) {
	s.log.Warn("rejecting inbound message", "error", cause)
	payload, err := json.Marshal(errorOut{Type: msgError, Error: cause.Error()})
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

// BroadcastSpeech sends one synthesised speech frame to every connected
// client. Clients whose write fails are dropped from the broadcast set.
func (s *Server) BroadcastSpeech(ctx context.Context, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	payload, err := json.Marshal(speechOut{
		Type:  msgSpeech,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return
	}

	for _, c := range s.snapshotClients() {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.conn.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			s.log.Debug("dropping client after failed broadcast", "error", err)
			s.removeClient(c)
			c.conn.Close(websocket.StatusPolicyViolation, "write failed")
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) snapshotClients() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

// handleCommentary serves GET /api/commentary: the most recent archived
// prompts for the live session, newest first. Query parameters:
//
//	limit — maximum entries to return (default 20)
//	q     — full-text search over prompt text instead of a plain listing
func (s *Server) handleCommentary(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		entries []archive.Entry
		err     error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		entries, err = s.archive.Search(r.Context(), q, archive.SearchOpts{
			SessionID: s.sessionID,
			Limit:     limit,
		})
	} else {
		entries, err = s.archive.Recent(r.Context(), s.sessionID, limit)
	}
	if err != nil {
		s.log.Error("commentary query failed", "error", err)
		http.Error(w, "archive unavailable", http.StatusInternalServerError)
		return
	}

	type entryOut struct {
		ID        string    `json:"id"`
		SessionID string    `json:"session_id"`
		Kind      string    `json:"kind"`
		Style     string    `json:"style"`
		Level     string    `json:"level"`
		Prompt    string    `json:"prompt"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]entryOut, len(entries))
	for i, e := range entries {
		out[i] = entryOut{
			ID:        e.ID,
			SessionID: e.SessionID,
			Kind:      string(e.Kind),
			Style:     string(e.Style),
			Level:     string(e.Level),
			Prompt:    e.Prompt,
			CreatedAt: e.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Error("encode commentary response", "error", err)
	}
}
