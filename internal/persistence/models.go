package persistence

import "time"

// SimulatedPartnerID is the reserved identity that answers on behalf of a
// missing human in demo sessions.
const SimulatedPartnerID = "simulated-partner"

// Profile caches the display name an upstream gateway reported for a user.
type Profile struct {
	ID          string
	DisplayName string
	UpdatedAt   time.Time
}

// Poll is a schedulable subject owning a date and hour domain.
type Poll struct {
	ID        string
	Title     string
	OwnerID   string
	Dates     []string
	HourStart int
	HourEnd   int
	CreatedAt time.Time
}

// SlotFact records that an owner is available at one hour on one date.
type SlotFact struct {
	PollID    string
	OwnerID   string
	Date      string
	Hour      int
	CreatedAt time.Time
}

// LobbyStatus is the state of a lobby entry.
type LobbyStatus string

const (
	LobbyWaiting LobbyStatus = "waiting"
	LobbyMatched LobbyStatus = "matched"
)

// LobbyEntry is a single user's standing request to be matched on a topic.
type LobbyEntry struct {
	ID          string
	UserID      string
	Topic       string
	Status      LobbyStatus
	MatchedWith *string
	SessionID   *string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Prompt is one card of a session.
type Prompt struct {
	Question string   `json:"question" yaml:"question"`
	Options  []string `json:"options" yaml:"options"`
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session pairs two participants around an ordered prompt list.
type Session struct {
	ID           string
	ParticipantA string
	ParticipantB string
	Topic        string
	Prompts      []Prompt
	Status       SessionStatus
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// CardResponse is one participant's answer to one card.
type CardResponse struct {
	SessionID      string
	UserID         string
	CardIndex      int
	SelectedOption string
	CreatedAt      time.Time
}

// Match describes the writes that pair a caller with a waiting entry.
type Match struct {
	// ClaimedEntryID is the waiting entry being claimed.
	ClaimedEntryID string
	// CallerEntry is the mirror entry recorded for the joining user.
	CallerEntry LobbyEntry
	Session     Session
}
