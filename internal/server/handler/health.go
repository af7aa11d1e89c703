package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
)

// HealthCheckFunc checks one backing dependency.
type HealthCheckFunc func(ctx context.Context) error

// HealthHandler reports liveness and the state of registered dependencies.
type HealthHandler struct {
	mode    string
	started time.Time
	clock   clockwork.Clock
	checks  map[string]HealthCheckFunc
	timeout time.Duration
}

func NewHealthHandler(mode string, clock clockwork.Clock) *HealthHandler {
	return &HealthHandler{
		mode:    mode,
		started: clock.Now(),
		clock:   clock,
		checks:  make(map[string]HealthCheckFunc),
		timeout: 2 * time.Second,
	}
}

// WithCheck registers a dependency check under name.
func (h *HealthHandler) WithCheck(name string, check HealthCheckFunc) *HealthHandler {
	h.checks[name] = check
	return h
}

// HealthCheck handles GET /api/health. Any failing check turns the status
// to "degraded" with a 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(h.clock.Since(h.started).Seconds()),
		"timestamp":      h.clock.Now().UTC().Format(time.RFC3339),
	}

	if len(h.checks) > 0 {
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		deps := make(map[string]string, len(names))
		for _, name := range names {
			if err := h.checks[name](ctx); err != nil {
				deps[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		body["dependencies"] = deps
	}

	body["status"] = status
	writeJSON(w, code, body)
}
