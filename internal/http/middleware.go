package http

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/logging"
	"github.com/example/peer-scheduler/internal/metrics"
	"github.com/example/peer-scheduler/internal/persistence"
)

const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"
)

// IdentityRecorder remembers the display name asserted for a principal.
type IdentityRecorder interface {
	Remember(ctx context.Context, principal application.Principal) error
}

// RequireIdentity trusts the identity headers set by the upstream gateway.
// Requests without X-User-ID are rejected; the reserved simulated partner
// identity may not be asserted.
func RequireIdentity(recorder IdentityRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(headerUserID))
			if userID == "" {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingIdentity)
				return
			}
			if userID == persistence.SimulatedPartnerID {
				responder.handleServiceError(r.Context(), w, application.ErrUnauthorized)
				return
			}

			principal := application.Principal{
				UserID:      userID,
				DisplayName: strings.TrimSpace(r.Header.Get(headerUserName)),
			}
			if recorder != nil && principal.DisplayName != "" {
				if err := recorder.Remember(r.Context(), principal); err != nil {
					responder.loggerFor(r.Context()).WarnContext(r.Context(), "failed to remember display name", "user_id", userID, "error", err)
				}
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Hijack hands the connection to the websocket upgrader.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// RequestLogger attaches a request scoped logger and records request
// metrics by route pattern. m may be nil.
func RequestLogger(base *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, logger := logging.WithAttrs(r.Context(), base,
				"request_id", counter.Add(1),
				"method", r.Method,
				"path", r.URL.Path,
			)
			req := r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			logger.DebugContext(ctx, "request started")
			next.ServeHTTP(rec, req)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			route := req.Pattern
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			m.ObserveRequest(r.Method, route, status, elapsed)
			logger.InfoContext(ctx, "request completed", "status", status, "route", route, "duration", elapsed)
		})
	}
}

// UserRateLimiter applies a token bucket per principal.
type UserRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*userLimiter
	sweptAt  time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter allows perSecond requests per principal with the given burst.
func NewUserRateLimiter(perSecond float64, burst int) *UserRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &UserRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
		limiters: make(map[string]*userLimiter),
	}
}

// Allow reports whether userID may make another request now.
func (l *UserRateLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweptAt) > l.idleTTL {
		for id, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > l.idleTTL {
				delete(l.limiters, id)
			}
		}
		l.sweptAt = now
	}

	entry, ok := l.limiters[userID]
	if !ok {
		entry = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Limit wraps next so callers over budget get 429.
func (l *UserRateLimiter) Limit(next http.HandlerFunc, logger *slog.Logger) http.HandlerFunc {
	responder := newResponder(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		if !l.Allow(principal.UserID) {
			w.Header().Set("Retry-After", "1")
			responder.handleServiceError(r.Context(), w, application.ErrRateLimited)
			return
		}
		next(w, r)
	}
}
