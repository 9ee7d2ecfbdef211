// Package metrics holds the Prometheus collectors of the scheduling and
// matchmaking core. Every method is safe on a nil *Metrics so callers can
// run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peer"

// Metrics bundles the collectors registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	slotWrites       *prometheus.CounterVec
	lobbyJoins       *prometheus.CounterVec
	claimConflicts   prometheus.Counter
	lobbyExpired     prometheus.Counter
	lobbyWaiting     prometheus.Gauge
	cardAnswers      *prometheus.CounterVec
	sessionsEnded    prometheus.Counter
	promptCache      *prometheus.CounterVec
	sparkFailures    prometheus.Counter
	feedDropped      *prometheus.CounterVec
	feedSubscribers  prometheus.Gauge
	requestDurations *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		slotWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "writes_total",
			Help:      "Slot ledger writes by result (selected, cleared, noop).",
		}, []string{"result"}),
		lobbyJoins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lobby",
			Name:      "joins_total",
			Help:      "Lobby joins by outcome (matched, waiting, demo).",
		}, []string{"outcome"}),
		claimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lobby",
			Name:      "claim_conflicts_total",
			Help:      "Claims of a waiting entry lost to another joiner or an expired lease.",
		}),
		lobbyExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lobby",
			Name:      "expired_total",
			Help:      "Waiting entries removed by the reaper.",
		}),
		lobbyWaiting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lobby",
			Name:      "waiting_entries",
			Help:      "Live waiting entries at the last reaper pass.",
		}),
		cardAnswers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "card_answers_total",
			Help:      "Card answers by outcome (accepted, duplicate, revealed).",
		}, []string{"outcome"}),
		sessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Sessions moved to completed.",
		}),
		promptCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "prompt_requests_total",
			Help:      "Prompt set lookups by result (hit, miss, fallback).",
		}, []string{"result"}),
		sparkFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "spark_failures_total",
			Help:      "Spark generations that failed and were skipped.",
		}),
		feedDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_events_total",
			Help:      "Events dropped for slow subscribers by key kind.",
		}, []string{"kind"}),
		feedSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "websocket_subscribers",
			Help:      "Open WebSocket feed connections.",
		}),
		requestDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SlotWrite records a ledger write result.
func (m *Metrics) SlotWrite(result string) {
	if m == nil {
		return
	}
	m.slotWrites.WithLabelValues(result).Inc()
}

// LobbyJoin records a join outcome.
func (m *Metrics) LobbyJoin(outcome string) {
	if m == nil {
		return
	}
	m.lobbyJoins.WithLabelValues(outcome).Inc()
}

// ClaimConflict records a lost claim.
func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

// LobbyReaped records a reaper pass. A negative waiting count leaves the
// gauge unchanged.
func (m *Metrics) LobbyReaped(expired, waiting int) {
	if m == nil {
		return
	}
	m.lobbyExpired.Add(float64(expired))
	if waiting >= 0 {
		m.lobbyWaiting.Set(float64(waiting))
	}
}

// CardAnswer records an answer outcome.
func (m *Metrics) CardAnswer(outcome string) {
	if m == nil {
		return
	}
	m.cardAnswers.WithLabelValues(outcome).Inc()
}

// SessionCompleted records a completed session.
func (m *Metrics) SessionCompleted() {
	if m == nil {
		return
	}
	m.sessionsEnded.Inc()
}

// PromptLookup records a prompt cache result.
func (m *Metrics) PromptLookup(result string) {
	if m == nil {
		return
	}
	m.promptCache.WithLabelValues(result).Inc()
}

// SparkFailed records a skipped spark.
func (m *Metrics) SparkFailed() {
	if m == nil {
		return
	}
	m.sparkFailures.Inc()
}

// FeedDropped records an event dropped for a slow subscriber.
func (m *Metrics) FeedDropped(kind string) {
	if m == nil {
		return
	}
	m.feedDropped.WithLabelValues(kind).Inc()
}

// FeedConnected adjusts the open feed connection gauge by delta.
func (m *Metrics) FeedConnected(delta int) {
	if m == nil {
		return
	}
	m.feedSubscribers.Add(float64(delta))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDurations.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
