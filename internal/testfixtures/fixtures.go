package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/peer-scheduler/internal/persistence"
)

var (
	pollCounter    uint64
	lobbyCounter   uint64
	sessionCounter uint64
)

var referenceTime = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Poll fixtures -----------------------------

// PollOption configures the generated poll.
type PollOption func(*persistence.Poll)

// NewPoll returns a three-day poll covering 09:00-18:00 with optional overrides.
func NewPoll(opts ...PollOption) persistence.Poll {
	idx := atomic.AddUint64(&pollCounter, 1)
	poll := persistence.Poll{
		ID:        fmt.Sprintf("poll-%03d", idx),
		Title:     fmt.Sprintf("Study group %03d", idx),
		OwnerID:   "owner",
		Dates:     []string{"2024-06-01", "2024-06-02", "2024-06-03"},
		HourStart: 9,
		HourEnd:   18,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&poll)
	}
	return poll
}

// WithPollID overrides the generated poll ID.
func WithPollID(id string) PollOption {
	return func(p *persistence.Poll) { p.ID = id }
}

// WithPollOwner overrides the poll owner.
func WithPollOwner(ownerID string) PollOption {
	return func(p *persistence.Poll) { p.OwnerID = ownerID }
}

// WithPollDates overrides the poll's date list.
func WithPollDates(dates ...string) PollOption {
	return func(p *persistence.Poll) { p.Dates = append([]string(nil), dates...) }
}

// WithPollHours overrides the hour window [start, end).
func WithPollHours(start, end int) PollOption {
	return func(p *persistence.Poll) {
		p.HourStart = start
		p.HourEnd = end
	}
}

// Fact builds a slot fact for the poll.
func Fact(pollID, ownerID, date string, hour int) persistence.SlotFact {
	return persistence.SlotFact{PollID: pollID, OwnerID: ownerID, Date: date, Hour: hour, CreatedAt: referenceTime}
}

// ----------------------------- Lobby fixtures -----------------------------

// LobbyEntryOption configures the generated lobby entry.
type LobbyEntryOption func(*persistence.LobbyEntry)

// NewLobbyEntry returns a waiting entry on topic "friendship" with a
// two minute lease.
func NewLobbyEntry(opts ...LobbyEntryOption) persistence.LobbyEntry {
	idx := atomic.AddUint64(&lobbyCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Second)
	entry := persistence.LobbyEntry{
		ID:        fmt.Sprintf("entry-%03d", idx),
		UserID:    fmt.Sprintf("user-%03d", idx),
		Topic:     "friendship",
		Status:    persistence.LobbyWaiting,
		CreatedAt: created,
		ExpiresAt: created.Add(2 * time.Minute),
	}
	for _, opt := range opts {
		opt(&entry)
	}
	return entry
}

// WithEntryID overrides the entry ID.
func WithEntryID(id string) LobbyEntryOption {
	return func(e *persistence.LobbyEntry) { e.ID = id }
}

// WithEntryUser overrides the entry owner.
func WithEntryUser(userID string) LobbyEntryOption {
	return func(e *persistence.LobbyEntry) { e.UserID = userID }
}

// WithEntryTopic overrides the topic.
func WithEntryTopic(topic string) LobbyEntryOption {
	return func(e *persistence.LobbyEntry) { e.Topic = topic }
}

// WithEntryCreatedAt sets the creation time and a lease of ttl from it.
func WithEntryCreatedAt(created time.Time, ttl time.Duration) LobbyEntryOption {
	return func(e *persistence.LobbyEntry) {
		e.CreatedAt = created
		e.ExpiresAt = created.Add(ttl)
	}
}

// ----------------------------- Session fixtures -----------------------------

// DefaultPrompts returns a deterministic two-card prompt list.
func DefaultPrompts() []persistence.Prompt {
	return []persistence.Prompt{
		{Question: "Best time to study?", Options: []string{"Morning", "Night"}},
		{Question: "Coffee or tea?", Options: []string{"Coffee", "Tea", "Neither"}},
	}
}

// SessionOption configures the generated session.
type SessionOption func(*persistence.Session)

// NewSession returns an active session between "alice" and "bob".
func NewSession(opts ...SessionOption) persistence.Session {
	idx := atomic.AddUint64(&sessionCounter, 1)
	session := persistence.Session{
		ID:           fmt.Sprintf("session-%03d", idx),
		ParticipantA: "alice",
		ParticipantB: "bob",
		Topic:        "friendship",
		Prompts:      DefaultPrompts(),
		Status:       persistence.SessionActive,
		CreatedAt:    referenceTime,
	}
	for _, opt := range opts {
		opt(&session)
	}
	return session
}

// WithSessionID overrides the session ID.
func WithSessionID(id string) SessionOption {
	return func(s *persistence.Session) { s.ID = id }
}

// WithParticipants overrides both participants.
func WithParticipants(a, b string) SessionOption {
	return func(s *persistence.Session) {
		s.ParticipantA = a
		s.ParticipantB = b
	}
}

// WithPrompts overrides the prompt list.
func WithPrompts(prompts []persistence.Prompt) SessionOption {
	return func(s *persistence.Session) { s.Prompts = prompts }
}
