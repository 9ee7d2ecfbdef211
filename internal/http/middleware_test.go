package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/persistence"
)

type recordingIdentity struct {
	mu         sync.Mutex
	principals []application.Principal
	err        error
}

func (r *recordingIdentity) Remember(_ context.Context, principal application.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.principals = append(r.principals, principal)
	return r.err
}

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		userID     string
		userName   string
		recordErr  error
		wantStatus int
		wantCalled bool
		remembered int
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "reserved identity", userID: persistence.SimulatedPartnerID, wantStatus: http.StatusForbidden},
		{name: "id only", userID: "alice", wantStatus: http.StatusOK, wantCalled: true},
		{name: "id and name", userID: "alice", userName: " Alice ", wantStatus: http.StatusOK, wantCalled: true, remembered: 1},
		{name: "remember failure is not fatal", userID: "bob", userName: "Bob", recordErr: errors.New("disk full"), wantStatus: http.StatusOK, wantCalled: true, remembered: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			recorder := &recordingIdentity{err: tc.recordErr}
			var got application.Principal
			called := false
			handler := RequireIdentity(recorder, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				got, _ = PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/polls/p1", nil)
			if tc.userID != "" {
				req.Header.Set(headerUserID, tc.userID)
			}
			if tc.userName != "" {
				req.Header.Set(headerUserName, tc.userName)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if called != tc.wantCalled {
				t.Fatalf("next called = %v, want %v", called, tc.wantCalled)
			}
			if tc.wantCalled && got.UserID != tc.userID {
				t.Fatalf("principal = %+v, want user %q", got, tc.userID)
			}
			if len(recorder.principals) != tc.remembered {
				t.Fatalf("remembered %d principals, want %d", len(recorder.principals), tc.remembered)
			}
			if tc.remembered > 0 && recorder.principals[0].DisplayName != strings.TrimSpace(tc.userName) {
				t.Fatalf("remembered name %q", recorder.principals[0].DisplayName)
			}
		})
	}
}

func TestUserRateLimiter(t *testing.T) {
	t.Parallel()

	limiter := NewUserRateLimiter(1, 2)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("alice") || !limiter.Allow("alice") {
		t.Fatal("expected burst of two to be allowed")
	}
	if limiter.Allow("alice") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.Allow("bob") {
		t.Fatal("expected other principal to have its own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("alice") {
		t.Fatal("expected token to refill after one second")
	}

	now = now.Add(time.Hour)
	limiter.Allow("carol")
	limiter.mu.Lock()
	_, kept := limiter.limiters["alice"]
	limiter.mu.Unlock()
	if kept {
		t.Fatal("expected idle limiter to be swept")
	}
}

func TestUserRateLimiterLimit(t *testing.T) {
	t.Parallel()

	limiter := NewUserRateLimiter(0.001, 1)
	handler := limiter.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}, discardLogger())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/lobby", nil)
		req = req.WithContext(ContextWithPrincipal(req.Context(), application.Principal{UserID: "alice"}))
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if !strings.Contains(rec.Body.String(), "RATE_LIMITED") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /polls/{id}", func(w http.ResponseWriter, r *http.Request) {
		if LoggerFromContext(r.Context()) == nil {
			t.Error("expected request logger in context")
		}
		w.WriteHeader(http.StatusTeapot)
	})
	handler := RequestLogger(logger, nil)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/polls/p1", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	out := buf.String()
	if !strings.Contains(out, `route="GET /polls/{id}"`) {
		t.Fatalf("expected route pattern in log, got %s", out)
	}
	if !strings.Contains(out, "status=418") {
		t.Fatalf("expected recorded status in log, got %s", out)
	}
	if !strings.Contains(out, "route=unmatched") {
		t.Fatalf("expected unmatched route in log, got %s", out)
	}
}
