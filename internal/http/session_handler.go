package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/persistence"
)

type sessionService interface {
	Authorize(ctx context.Context, principal application.Principal, id string) error
	GetSessionView(ctx context.Context, principal application.Principal, id string) (application.SessionView, error)
	SubmitAnswer(ctx context.Context, principal application.Principal, id string, card int, option string) (application.AnswerResult, error)
	SendChat(ctx context.Context, principal application.Principal, id, text string) (application.ChatPayload, error)
	EndSession(ctx context.Context, principal application.Principal, id string) (persistence.Session, error)
}

// SessionHandler serves the card flow of a matched session.
type SessionHandler struct {
	sessions  sessionService
	responder responder
	logger    *slog.Logger
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions sessionService, logger *slog.Logger) *SessionHandler {
	base := defaultLogger(logger)
	return &SessionHandler{sessions: sessions, responder: newResponder(base), logger: base}
}

type answerRequest struct {
	Option string `json:"option" validate:"required"`
}

type chatRequest struct {
	Text string `json:"text" validate:"required,max=1000"`
}

// Get handles GET /sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	view, err := h.sessions.GetSessionView(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, view)
}

// Answer handles POST /sessions/{id}/cards/{index}/answer.
func (h *SessionHandler) Answer(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	sessionID := r.PathValue("id")
	logger := handlerLogger(r.Context(), h.logger, "SessionHandler", "Answer", "user_id", principal.UserID, "session_id", sessionID)

	card, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || card < 0 {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidCard)
		return
	}

	var req answerRequest
	if err := h.decode(r, w, logger, &req); err != nil {
		return
	}

	result, err := h.sessions.SubmitAnswer(r.Context(), principal, sessionID, card, req.Option)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, result)
}

// Chat handles POST /sessions/{id}/chat.
func (h *SessionHandler) Chat(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	sessionID := r.PathValue("id")
	logger := handlerLogger(r.Context(), h.logger, "SessionHandler", "Chat", "user_id", principal.UserID, "session_id", sessionID)

	var req chatRequest
	if err := h.decode(r, w, logger, &req); err != nil {
		return
	}

	msg, err := h.sessions.SendChat(r.Context(), principal, sessionID, req.Text)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusAccepted, msg)
}

// End handles POST /sessions/{id}/end.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	sessionID := r.PathValue("id")

	if _, err := h.sessions.EndSession(r.Context(), principal, sessionID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	view, err := h.sessions.GetSessionView(r.Context(), principal, sessionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, view)
}

// decode writes the error response itself and returns a non-nil error when
// the handler must stop.
func (h *SessionHandler) decode(r *http.Request, w http.ResponseWriter, logger *slog.Logger, dst any) error {
	err := decodeRequest(r, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, errBadRequestBody) {
		logger.WarnContext(r.Context(), "failed to decode request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return err
	}
	h.responder.handleServiceError(r.Context(), w, err)
	return err
}
