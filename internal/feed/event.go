// Package feed is the change-feed bridge: a keyed publish/subscribe broker for
// ledger, lobby and session mutations, plus a reconciler that folds events
// into local state by primary key.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Key kinds.
const (
	KindPoll    = "poll"
	KindLobby   = "lobby"
	KindSession = "session"
)

// Event types.
const (
	SlotAdded        = "slot.added"
	SlotRemoved      = "slot.removed"
	PollDeleted      = "poll.deleted"
	LobbyMatched     = "lobby.matched"
	LobbyExpired     = "lobby.expired"
	LobbyCancelled   = "lobby.cancelled"
	CardAnswered     = "card.answered"
	CardRevealed     = "card.revealed"
	CardSpark        = "card.spark"
	ChatMessage      = "chat.message"
	SessionCompleted = "session.completed"
	// FeedLagged tells a subscriber it missed events and must refetch.
	FeedLagged = "feed.lagged"
)

// ErrInvalidKey is returned for keys that are not "<kind>:<id>".
var ErrInvalidKey = errors.New("feed: invalid key")

// Event is one mutation delivered on a key. ID is the primary key of the
// affected row within the key's scope; Deleted marks a removal.
type Event struct {
	Seq     uint64          `json:"seq"`
	Key     string          `json:"key"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent builds an event with payload encoded as JSON.
func NewEvent(key, eventType, id string, payload any) (Event, error) {
	ev := Event{Key: key, Type: eventType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// Decode unmarshals the payload of ev into T.
func Decode[T any](ev Event) (T, error) {
	var out T
	if len(ev.Payload) == 0 {
		return out, fmt.Errorf("decode %s: empty payload", ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	return out, nil
}

// PollKey returns the key of a poll's slot ledger.
func PollKey(pollID string) string { return KindPoll + ":" + pollID }

// LobbyKey returns the key of one lobby entry.
func LobbyKey(entryID string) string { return KindLobby + ":" + entryID }

// SessionKey returns the key of a session.
func SessionKey(sessionID string) string { return KindSession + ":" + sessionID }

// ParseKey splits key into its kind and ID.
func ParseKey(key string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	switch kind {
	case KindPoll, KindLobby, KindSession:
		return kind, id, nil
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, kind)
	}
}
