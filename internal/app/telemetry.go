package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/voxscribe/internal/health"
	"github.com/MrWong99/voxscribe/internal/observe"
)

// TelemetryHandler serves /metrics from reg and the /healthz and /readyz
// endpoints. Readiness covers the archive backend, when it can be pinged, and
// the state of the current session.
func (a *App) TelemetryHandler(reg *prometheus.Registry) http.Handler {
	checkers := []health.Checker{health.SessionChecker(a.SessionState)}
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.StoreChecker("storage", p))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(reg))
	return observe.Middleware(a.metrics)(mux)
}
