// Package health serves liveness and readiness endpoints for voxscribe's
// telemetry server.
//
//   - /healthz always answers 200 while the process serves HTTP.
//   - /readyz answers 200 only when every [Checker] passes.
//
// Bodies are JSON: {"status":"ok"|"fail","checks":{name:result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/pkg/stream"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by storage backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker pings a storage backend.
func StoreChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrSessionFailed is reported by [SessionChecker] once the current streaming
// session has failed.
var ErrSessionFailed = errors.New("streaming session failed")

// SessionChecker reports the state of the current streaming session. A nil
// state func, or one returning [stream.StateFailed], fails the check.
func SessionChecker(state func() stream.State) Checker {
	return Checker{Name: "session", Check: func(context.Context) error {
		if state == nil {
			return errors.New("no session")
		}
		if s := state(); s == stream.StateFailed {
			return fmt.Errorf("%w (state %s)", ErrSessionFailed, s)
		}
		return nil
	}}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers concurrently on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz answers liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers, each under a [checkTimeout] deadline derived from
// the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
