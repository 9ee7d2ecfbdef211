package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health answers GET /healthz: 200 while the store answers, 503 otherwise.
func Health(db Pinger, logger *slog.Logger) http.HandlerFunc {
	respond := newResponder(defaultLogger(logger))
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				respond.loggerFor(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
				respond.writeJSON(r.Context(), w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		respond.writeJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
