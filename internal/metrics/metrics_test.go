package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.SlotWrite("selected")
	m.SlotWrite("selected")
	m.LobbyJoin("waiting")
	m.LobbyReaped(3, 7)
	m.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.slotWrites.WithLabelValues("selected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.lobbyExpired))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.lobbyWaiting))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "peer_lobby_joins_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SlotWrite("noop")
	m.LobbyJoin("demo")
	m.ClaimConflict()
	m.CardAnswer("accepted")
	m.FeedConnected(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
