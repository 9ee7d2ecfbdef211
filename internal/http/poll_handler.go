package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/example/peer-scheduler/internal/application"
	"github.com/example/peer-scheduler/internal/availability"
	"github.com/example/peer-scheduler/internal/persistence"
)

type pollService interface {
	CreatePoll(ctx context.Context, principal application.Principal, input application.CreatePollInput) (persistence.Poll, error)
	GetPoll(ctx context.Context, id string) (persistence.Poll, error)
	DeletePoll(ctx context.Context, principal application.Principal, id string) error
}

type availabilityService interface {
	ToggleSlot(ctx context.Context, principal application.Principal, pollID, date string, hour int) (application.SlotResult, error)
	SetSlot(ctx context.Context, principal application.Principal, pollID, date string, hour int, selected bool) (application.SlotResult, error)
	GetAggregatedGrid(ctx context.Context, principal application.Principal, pollID string) (availability.Grid, error)
	BestSlots(ctx context.Context, principal application.Principal, pollID string, limit int) ([]availability.CellSummary, error)
}

const defaultBestSlots = 5

// PollHandler serves polls, the slot ledger and the aggregated grid.
type PollHandler struct {
	polls        pollService
	availability availabilityService
	responder    responder
	logger       *slog.Logger
}

// NewPollHandler constructs a poll handler.
func NewPollHandler(polls pollService, availability availabilityService, logger *slog.Logger) *PollHandler {
	base := defaultLogger(logger)
	return &PollHandler{polls: polls, availability: availability, responder: newResponder(base), logger: base}
}

func (h *PollHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "PollHandler", operation, attrs...)
}

type createPollRequest struct {
	Title     string   `json:"title" validate:"required,max=120"`
	Dates     []string `json:"dates" validate:"omitempty,max=62,dive,datetime=2006-01-02"`
	DateStart string   `json:"date_start" validate:"omitempty,datetime=2006-01-02"`
	DateEnd   string   `json:"date_end" validate:"omitempty,datetime=2006-01-02"`
	Weekdays  []string `json:"weekdays" validate:"omitempty,max=7"`
	HourStart *int     `json:"hour_start" validate:"required,min=0,max=23"`
	HourEnd   *int     `json:"hour_end" validate:"required,min=1,max=24"`
}

func (req createPollRequest) toInput() application.CreatePollInput {
	return application.CreatePollInput{
		Title:     req.Title,
		Dates:     req.Dates,
		DateStart: req.DateStart,
		DateEnd:   req.DateEnd,
		Weekdays:  req.Weekdays,
		HourStart: *req.HourStart,
		HourEnd:   *req.HourEnd,
	}
}

type pollDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"owner_id"`
	Dates     []string  `json:"dates"`
	HourStart int       `json:"hour_start"`
	HourEnd   int       `json:"hour_end"`
	CreatedAt time.Time `json:"created_at"`
}

func toPollDTO(poll persistence.Poll) pollDTO {
	return pollDTO{
		ID:        poll.ID,
		Title:     poll.Title,
		OwnerID:   poll.OwnerID,
		Dates:     poll.Dates,
		HourStart: poll.HourStart,
		HourEnd:   poll.HourEnd,
		CreatedAt: poll.CreatedAt,
	}
}

type slotRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Hour     *int   `json:"hour" validate:"required,min=0,max=23"`
	Selected *bool  `json:"selected"`
}

// Create handles POST /polls.
func (h *PollHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Create", "user_id", principal.UserID)

	var req createPollRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDecodeError(r.Context(), w, logger, err)
		return
	}

	poll, err := h.polls.CreatePoll(r.Context(), principal, req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("poll_id", poll.ID).InfoContext(r.Context(), "poll created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toPollDTO(poll))
}

// Get handles GET /polls/{id}.
func (h *PollHandler) Get(w http.ResponseWriter, r *http.Request) {
	poll, err := h.polls.GetPoll(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toPollDTO(poll))
}

// Delete handles DELETE /polls/{id}.
func (h *PollHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.polls.DeletePoll(r.Context(), principal, r.PathValue("id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// PutSlot handles PUT /polls/{id}/slots. Without "selected" the cell is
// toggled; with it the cell is set, which is safe to retry.
func (h *PollHandler) PutSlot(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	pollID := r.PathValue("id")
	logger := h.log(r.Context(), "PutSlot", "user_id", principal.UserID, "poll_id", pollID)

	var req slotRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDecodeError(r.Context(), w, logger, err)
		return
	}

	var (
		result application.SlotResult
		err    error
	)
	if req.Selected == nil {
		result, err = h.availability.ToggleSlot(r.Context(), principal, pollID, req.Date, *req.Hour)
	} else {
		result, err = h.availability.SetSlot(r.Context(), principal, pollID, req.Date, *req.Hour, *req.Selected)
	}
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, result)
}

// Grid handles GET /polls/{id}/grid.
func (h *PollHandler) Grid(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	grid, err := h.availability.GetAggregatedGrid(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, grid)
}

// Best handles GET /polls/{id}/best?limit=n.
func (h *PollHandler) Best(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	limit := defaultBestSlots
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"limit": "limit must be a positive integer"},
			})
			return
		}
		limit = n
	}

	best, err := h.availability.BestSlots(r.Context(), principal, r.PathValue("id"), limit)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bestSlotsResponse{Slots: best})
}

type bestSlotsResponse struct {
	Slots []availability.CellSummary `json:"slots"`
}

func (h *PollHandler) writeDecodeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, errBadRequestBody) {
		logger.WarnContext(ctx, "failed to decode request", "error", err, "error_kind", "bad_request")
		h.responder.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	h.responder.handleServiceError(ctx, w, err)
}
