package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/persistence"
)

type matchService interface {
	Join(ctx context.Context, principal application.Principal, topic string, demo bool) (application.JoinResult, error)
	GetEntry(ctx context.Context, principal application.Principal, id string) (persistence.LobbyEntry, error)
	Heartbeat(ctx context.Context, principal application.Principal, id string) (persistence.LobbyEntry, error)
	Cancel(ctx context.Context, principal application.Principal, id string) error
}

// LobbyHandler serves the lobby queue.
type LobbyHandler struct {
	matches   matchService
	responder responder
	logger    *slog.Logger
}

// NewLobbyHandler constructs a lobby handler.
func NewLobbyHandler(matches matchService, logger *slog.Logger) *LobbyHandler {
	base := defaultLogger(logger)
	return &LobbyHandler{matches: matches, responder: newResponder(base), logger: base}
}

type joinRequest struct {
	Topic string `json:"topic" validate:"required,max=64"`
	Demo  bool   `json:"demo"`
}

type lobbyEntryDTO struct {
	ID          string                  `json:"lobby_id"`
	Topic       string                  `json:"topic"`
	Status      persistence.LobbyStatus `json:"status"`
	MatchedWith string                  `json:"matched_with,omitempty"`
	SessionID   string                  `json:"session_id,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
}

func toLobbyEntryDTO(entry persistence.LobbyEntry) lobbyEntryDTO {
	dto := lobbyEntryDTO{
		ID:        entry.ID,
		Topic:     entry.Topic,
		Status:    entry.Status,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt,
	}
	if entry.MatchedWith != nil {
		dto.MatchedWith = *entry.MatchedWith
	}
	if entry.SessionID != nil {
		dto.SessionID = *entry.SessionID
	}
	return dto
}

// Join handles POST /lobby. A match answers 201 with the session; a
// waiting entry answers 202 and the caller follows lobby:<id> on the feed.
func (h *LobbyHandler) Join(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	logger := handlerLogger(r.Context(), h.logger, "LobbyHandler", "Join", "user_id", principal.UserID)

	var req joinRequest
	if err := decodeRequest(r, &req); err != nil {
		if errors.Is(err, errBadRequestBody) {
			logger.WarnContext(r.Context(), "failed to decode request", "error", err, "error_kind", "bad_request")
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	result, err := h.matches.Join(r.Context(), principal, req.Topic, req.Demo)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusAccepted
	if result.Matched {
		status = http.StatusCreated
	}
	h.responder.writeJSON(r.Context(), w, status, result)
}

// Get handles GET /lobby/{id}.
func (h *LobbyHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	entry, err := h.matches.GetEntry(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toLobbyEntryDTO(entry))
}

// Heartbeat handles POST /lobby/{id}/heartbeat.
func (h *LobbyHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	entry, err := h.matches.Heartbeat(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toLobbyEntryDTO(entry))
}

// Cancel handles DELETE /lobby/{id}.
func (h *LobbyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.matches.Cancel(r.Context(), principal, r.PathValue("id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}
