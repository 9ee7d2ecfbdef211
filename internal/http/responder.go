package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/peer-scheduler/internal/application"
)

var (
	errBadRequestBody  = errors.New("request body is not valid JSON")
	errMissingIdentity = errors.New("X-User-ID header is required")
	errInvalidCard     = errors.New("card index must be a non-negative integer")
	errInvalidFeedKey  = errors.New("key must be poll:<id>, lobby:<id> or session:<id>")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps application errors to status codes. Unexpected
// errors never leak their message.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	switch {
	case errors.Is(err, application.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{ErrorCode: "FORBIDDEN", Message: "you may not access this resource"})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "resource not found"})
	case errors.Is(err, application.ErrAlreadyExists):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "ALREADY_EXISTS", Message: "resource already exists"})
	case errors.Is(err, application.ErrConflict):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "CONFLICT", Message: "resource changed state, refetch and retry"})
	case errors.Is(err, application.ErrAlreadyAnswered):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "ALREADY_ANSWERED", Message: "card already answered with another option"})
	case errors.Is(err, application.ErrEntryExpired):
		r.writeJSON(ctx, w, http.StatusGone, errorResponse{ErrorCode: "ENTRY_EXPIRED", Message: "lobby entry expired, join again"})
	case errors.Is(err, application.ErrSessionClosed):
		r.writeJSON(ctx, w, http.StatusGone, errorResponse{ErrorCode: "SESSION_CLOSED", Message: "session is completed"})
	case errors.Is(err, application.ErrRateLimited):
		r.writeJSON(ctx, w, http.StatusTooManyRequests, errorResponse{ErrorCode: "RATE_LIMITED", Message: "too many requests, slow down"})
	default:
		var vErr *application.ValidationError
		if errors.As(err, &vErr) {
			r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
				ErrorCode: "VALIDATION",
				Message:   "request has invalid fields",
				Errors:    vErr.FieldErrors,
			})
			return
		}

		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
