package persistence

import (
	"context"
	"time"
)

// ProfileRepository stores display names for display-name resolution.
type ProfileRepository interface {
	UpsertProfile(ctx context.Context, profile Profile) error
	ListProfiles(ctx context.Context, ids []string) ([]Profile, error)
}

// PollRepository stores poll metadata and membership.
type PollRepository interface {
	CreatePoll(ctx context.Context, poll Poll) error
	GetPoll(ctx context.Context, id string) (Poll, error)
	DeletePoll(ctx context.Context, id string) error
	ListParticipants(ctx context.Context, pollID string) ([]string, error)
}

// SlotRepository is the slot ledger.
type SlotRepository interface {
	// ToggleSlot flips the fact and reports whether it is selected afterwards.
	ToggleSlot(ctx context.Context, fact SlotFact) (bool, error)
	// SetSlot makes the fact match selected and reports whether a row changed.
	SetSlot(ctx context.Context, fact SlotFact, selected bool) (bool, error)
	ListSlots(ctx context.Context, pollID string) ([]SlotFact, error)
}

// LobbyRepository stores lobby entries and performs the atomic match claim.
type LobbyRepository interface {
	// EnqueueEntry replaces any waiting entry of the same user and topic.
	EnqueueEntry(ctx context.Context, entry LobbyEntry) error
	GetEntry(ctx context.Context, id string) (LobbyEntry, error)
	// ListWaitingCandidates returns unexpired waiting entries oldest first.
	ListWaitingCandidates(ctx context.Context, topic, excludeUserID string, now time.Time, limit int) ([]LobbyEntry, error)
	// CompleteMatch returns ErrConflict when the claimed entry is no longer
	// waiting or has expired.
	CompleteMatch(ctx context.Context, match Match, now time.Time) error
	RefreshEntry(ctx context.Context, id string, expiresAt, now time.Time) error
	DeleteWaitingEntry(ctx context.Context, id, userID string) error
	DeleteExpiredEntries(ctx context.Context, now time.Time) ([]LobbyEntry, error)
	CountWaiting(ctx context.Context, now time.Time) (int, error)
}

// SessionRepository stores sessions and card responses.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// CompleteSession reports true only for the call that moved the session
	// out of active.
	CompleteSession(ctx context.Context, id string, completedAt time.Time) (Session, bool, error)
	// InsertResponse reports false when the participant already answered the card.
	InsertResponse(ctx context.Context, response CardResponse) (bool, error)
	ListResponses(ctx context.Context, sessionID string) ([]CardResponse, error)
}
