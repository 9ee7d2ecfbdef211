package http

import (
	"log/slog"
	"net/http"
)

// RouterConfig wires handlers into the API. Nil handlers leave their routes
// unregistered.
type RouterConfig struct {
	Polls    *PollHandler
	Lobby    *LobbyHandler
	Sessions *SessionHandler
	Feed     *FeedHandler
	Health   http.Handler
	Metrics  http.Handler
	// Authenticate guards every API route. /healthz and /metrics stay open.
	Authenticate func(http.Handler) http.Handler
	// JoinLimiter and SlotLimiter throttle lobby joins and slot writes per
	// principal.
	JoinLimiter *UserRateLimiter
	SlotLimiter *UserRateLimiter
	Logger      *slog.Logger
	// Middleware wraps the whole mux, outermost first.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	logger := defaultLogger(cfg.Logger)

	api := func(pattern string, h http.HandlerFunc) {
		var handler http.Handler = h
		if cfg.Authenticate != nil {
			handler = cfg.Authenticate(handler)
		}
		mux.Handle(pattern, handler)
	}

	if cfg.Health != nil {
		mux.Handle("GET /healthz", cfg.Health)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	if cfg.Polls != nil {
		api("POST /polls", cfg.Polls.Create)
		api("GET /polls/{id}", cfg.Polls.Get)
		api("DELETE /polls/{id}", cfg.Polls.Delete)
		api("PUT /polls/{id}/slots", limited(cfg.SlotLimiter, cfg.Polls.PutSlot, logger))
		api("GET /polls/{id}/grid", cfg.Polls.Grid)
		api("GET /polls/{id}/best", cfg.Polls.Best)
	}

	if cfg.Lobby != nil {
		api("POST /lobby", limited(cfg.JoinLimiter, cfg.Lobby.Join, logger))
		api("GET /lobby/{id}", cfg.Lobby.Get)
		api("POST /lobby/{id}/heartbeat", cfg.Lobby.Heartbeat)
		api("DELETE /lobby/{id}", cfg.Lobby.Cancel)
	}

	if cfg.Sessions != nil {
		api("GET /sessions/{id}", cfg.Sessions.Get)
		api("POST /sessions/{id}/cards/{index}/answer", cfg.Sessions.Answer)
		api("POST /sessions/{id}/chat", cfg.Sessions.Chat)
		api("POST /sessions/{id}/end", cfg.Sessions.End)
	}

	if cfg.Feed != nil {
		api("GET /feed", cfg.Feed.Serve)
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}

func limited(l *UserRateLimiter, next http.HandlerFunc, logger *slog.Logger) http.HandlerFunc {
	if l == nil {
		return next
	}
	return l.Limit(next, logger)
}
