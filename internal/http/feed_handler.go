package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/metrics"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

// Subscriber hands out change-feed subscriptions.
type Subscriber interface {
	Subscribe(key string) *feed.Subscription
}

// FeedHandler streams change-feed events over a WebSocket.
type FeedHandler struct {
	broker   Subscriber
	polls    pollService
	matches  matchService
	sessions sessionService
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	logger   *slog.Logger
	respond  responder
}

// NewFeedHandler constructs a feed handler. Keys are authorized against the
// owning service before the connection is upgraded.
func NewFeedHandler(broker Subscriber, polls pollService, matches matchService, sessions sessionService, m *metrics.Metrics, logger *slog.Logger) *FeedHandler {
	base := defaultLogger(logger)
	return &FeedHandler{
		broker:   broker,
		polls:    polls,
		matches:  matches,
		sessions: sessions,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Identity comes from the gateway headers, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  base,
		respond: newResponder(base),
	}
}

// Serve handles GET /feed?key=<kind>:<id>.
func (h *FeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	key := r.URL.Query().Get("key")
	logger := handlerLogger(r.Context(), h.logger, "FeedHandler", "Serve", "user_id", principal.UserID, "key", key)

	kind, id, err := feed.ParseKey(key)
	if err != nil {
		h.respond.writeError(r.Context(), w, http.StatusBadRequest, errInvalidFeedKey)
		return
	}

	if err := h.authorize(r, kind, id); err != nil {
		h.respond.handleServiceError(r.Context(), w, err)
		return
	}

	// Subscribe before the upgrade so nothing published during the
	// handshake is missed.
	sub := h.broker.Subscribe(key)
	defer sub.Unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.metrics.FeedConnected(1)
	defer h.metrics.FeedConnected(-1)
	logger.InfoContext(r.Context(), "feed connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(conn, cancel)

	err = h.writeLoop(ctx, conn, sub)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.InfoContext(r.Context(), "feed disconnected")
	default:
		logger.WarnContext(r.Context(), "feed write failed", "error", err)
	}
}

func (h *FeedHandler) authorize(r *http.Request, kind, id string) error {
	principal, _ := PrincipalFromContext(r.Context())
	switch kind {
	case feed.KindPoll:
		_, err := h.polls.GetPoll(r.Context(), id)
		return err
	case feed.KindLobby:
		_, err := h.matches.GetEntry(r.Context(), principal, id)
		return err
	case feed.KindSession:
		return h.sessions.Authorize(r.Context(), principal, id)
	default:
		return errInvalidFeedKey
	}
}

// readLoop drains client frames so pongs and close frames are processed.
// Clients never send data on the feed.
func (h *FeedHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *FeedHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *feed.Subscription) error {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(feedWriteWait))
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), time.Now().Add(feedWriteWait))
				return nil
			}
			if err := writeEvent(conn, ev); err != nil {
				return err
			}
			if sub.Lagged() {
				sub.ResetLagged()
				lagged := feed.Event{Key: sub.Key(), Type: feed.FeedLagged, At: time.Now().UTC()}
				if err := writeEvent(conn, lagged); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return err
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev feed.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(feedWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
