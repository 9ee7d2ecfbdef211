package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/logging"
	"github.com/example/peer-scheduler/internal/metrics"
	"github.com/example/peer-scheduler/internal/persistence"
	"github.com/example/peer-scheduler/internal/testfixtures"
)

type fixedGenerator struct{}

func (fixedGenerator) GeneratePrompts(context.Context, string, int) ([]persistence.Prompt, error) {
	return testfixtures.DefaultPrompts(), nil
}

func (fixedGenerator) GenerateSpark(_ context.Context, _ string, answerA, answerB string) (string, error) {
	return answerA + " and " + answerB, nil
}

type testServer struct {
	*httptest.Server
	broker   *feed.Broker
	sessions *application.SessionService
}

func discardLogger() *slog.Logger {
	return logging.Discard()
}

// newTestServer wires every handler against a migrated SQLite file.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := testfixtures.NewSQLiteHarness(t)
	logger := discardLogger()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	broker := feed.NewBroker(feed.WithLogger(logger))
	t.Cleanup(broker.Close)

	opts := []application.Option{
		application.WithLogger(logger),
		application.WithMetrics(m),
		application.WithPublisher(broker),
	}
	identity := application.NewIdentityService(store, opts...)
	polls := application.NewPollService(store, opts...)
	availability := application.NewAvailabilityService(store, store, identity, opts...)
	matches := application.NewMatchService(store, store, fixedGenerator{}, application.DefaultMatchConfig(), opts...)
	sessions := application.NewSessionService(store, fixedGenerator{}, application.NoPartner{}, nil, opts...)
	t.Cleanup(sessions.Close)

	router := NewRouter(RouterConfig{
		Polls:        NewPollHandler(polls, availability, logger),
		Lobby:        NewLobbyHandler(matches, logger),
		Sessions:     NewSessionHandler(sessions, logger),
		Feed:         NewFeedHandler(broker, polls, matches, sessions, m, logger),
		Health:       Health(store, logger),
		Metrics:      m.Handler(),
		Authenticate: RequireIdentity(identity, logger),
		Logger:       logger,
		Middleware:   []func(http.Handler) http.Handler{RequestLogger(logger, m)},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, broker: broker, sessions: sessions}
}

// do sends a JSON request as user and decodes the response into out when
// out is non-nil.
func (s *testServer) do(t *testing.T, method, path, user string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) createPoll(t *testing.T, owner string) pollDTO {
	t.Helper()
	var poll pollDTO
	status := s.do(t, http.MethodPost, "/polls", owner, map[string]any{
		"title":      "Study group",
		"date_start": "2025-03-10",
		"date_end":   "2025-03-12",
		"hour_start": 9,
		"hour_end":   12,
	}, &poll)
	if status != http.StatusCreated {
		t.Fatalf("create poll status = %d", status)
	}
	return poll
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
