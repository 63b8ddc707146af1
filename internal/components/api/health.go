package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the body of the health check endpoint.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Pinger is a dependency probed by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler returns a handler for GET /healthz. Each check runs with
// timeout; any failure reports 503 with status "degraded".
func HealthHandler(checks map[string]Pinger, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := c.Ping(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = "fail"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		WriteJSON(w, status, resp)
	}
}
