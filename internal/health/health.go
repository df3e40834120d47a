// Package health serves the liveness and readiness probes mounted on the
// bridge mux.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] and answers 200 only when all pass; the JSON
// body carries a per-check verdict so a failing probe names its cause.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency is
// usable and must respect context cancellation.
type Checker struct {
	// Name keys the check's verdict in the /readyz response.
	Name string

	Check func(ctx context.Context) error
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	h := &Handler{checkers: make([]Checker, len(checkers))}
	copy(h.checkers, checkers)
	return h
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// result is the probe response body.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under its own [checkTimeout]
// deadline derived from the request context, and reports 503 when any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)

	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
				return
			}
			checks[c.Name] = "ok"
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// SessionChecker reports readiness of the realtime voice session.
// connected is polled on each probe; a false result fails the check.
func SessionChecker(connected func() bool) Checker {
	return Checker{
		Name: "session",
		Check: func(_ context.Context) error {
			if !connected() {
				return errors.New("realtime session not connected")
			}
			return nil
		},
	}
}

// ArchiveChecker reports readiness of the commentary archive by pinging it.
func ArchiveChecker(ping func(ctx context.Context) error) Checker {
	return Checker{
		Name: "archive",
		Check: func(ctx context.Context) error {
			if err := ping(ctx); err != nil {
				return fmt.Errorf("archive unreachable: %w", err)
			}
			return nil
		},
	}
}

// MediaChecker reports readiness of the media source file. An empty path
// means no media feed is configured and the check always passes.
func MediaChecker(path string) Checker {
	return Checker{
		Name: "media",
		Check: func(_ context.Context) error {
			if path == "" {
				return nil
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("media source: %w", err)
			}
			return nil
		},
	}
}
