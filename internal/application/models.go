package application

import (
	"time"

	"github.com/example/peer-scheduler/internal/cardflow"
	"github.com/example/peer-scheduler/internal/persistence"
)

// Principal is the identity invoking a service method, as asserted by the
// upstream gateway.
type Principal struct {
	UserID      string
	DisplayName string
}

// CreatePollInput captures caller provided poll fields. Either Dates or the
// inclusive DateStart..DateEnd range must be given; Weekdays narrows the
// range.
type CreatePollInput struct {
	Title     string
	Dates     []string
	DateStart string
	DateEnd   string
	Weekdays  []string
	HourStart int
	HourEnd   int
}

// SlotResult reports the ledger state of one cell after a write.
type SlotResult struct {
	PollID   string `json:"poll_id"`
	Date     string `json:"date"`
	Hour     int    `json:"hour"`
	Selected bool   `json:"selected"`
	Changed  bool   `json:"changed"`
}

// JoinResult is the outcome of joining the lobby. A waiting caller holds
// EntryID and listens for lobby.matched on it.
type JoinResult struct {
	Matched   bool                 `json:"matched"`
	EntryID   string               `json:"lobby_id,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
	PartnerID string               `json:"partner_id,omitempty"`
	Prompts   []persistence.Prompt `json:"prompts,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
}

// AnswerResult is the outcome of submitting a card answer. Accepted is false
// when the participant had already answered the card.
type AnswerResult struct {
	Accepted bool `json:"accepted"`
	Revealed bool `json:"revealed"`
}

// SessionView is a participant's snapshot of a session.
type SessionView struct {
	SessionID   string                    `json:"session_id"`
	Topic       string                    `json:"topic"`
	Status      persistence.SessionStatus `json:"status"`
	Simulated   bool                      `json:"simulated"`
	CreatedAt   time.Time                 `json:"created_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	cardflow.View
}

// Feed payloads.

// SlotPayload is carried by slot.added and slot.removed.
type SlotPayload struct {
	PollID  string `json:"poll_id"`
	OwnerID string `json:"owner_id"`
	Date    string `json:"date"`
	Hour    int    `json:"hour"`
}

// MatchPayload is carried by lobby.matched. Both participants receive the
// same session and prompts.
type MatchPayload struct {
	EntryID   string               `json:"lobby_id"`
	SessionID string               `json:"session_id"`
	PartnerID string               `json:"partner_id"`
	Prompts   []persistence.Prompt `json:"prompts"`
}

// LobbyPayload is carried by lobby.expired and lobby.cancelled.
type LobbyPayload struct {
	EntryID string `json:"lobby_id"`
	UserID  string `json:"user_id"`
	Topic   string `json:"topic"`
}

// AnswerPayload is carried by card.answered. It never includes the option.
type AnswerPayload struct {
	CardIndex int    `json:"card_index"`
	UserID    string `json:"user_id"`
}

// RevealPayload is carried by card.revealed, keyed by participant.
type RevealPayload struct {
	CardIndex int               `json:"card_index"`
	Answers   map[string]string `json:"answers"`
}

// SparkPayload is carried by card.spark.
type SparkPayload struct {
	CardIndex int    `json:"card_index"`
	Text      string `json:"text"`
}

// ChatPayload is carried by chat.message.
type ChatPayload struct {
	ID       string    `json:"id"`
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// CompletionPayload is carried by session.completed.
type CompletionPayload struct {
	SessionID   string    `json:"session_id"`
	CompletedBy string    `json:"completed_by"`
	CompletedAt time.Time `json:"completed_at"`
}
