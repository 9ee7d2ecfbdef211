// Package cardflow models the card round of a session: each participant
// answers a card once, the card is revealed when both answers exist, and the
// flow advances card by card into free chat.
//
// The same Flow backs the server's session view and any Go client, so the
// reveal gate is implemented once.
package cardflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/example/peer-scheduler/internal/persistence"
)

// Phase is the stage of a session from one participant's point of view.
type Phase string

const (
	PhaseCards     Phase = "cards"
	PhaseChat      Phase = "chat"
	PhaseCompleted Phase = "completed"
)

// CardState is the viewer's state on one card.
type CardState string

const (
	// CardAnswering means the viewer has not answered yet.
	CardAnswering CardState = "answering"
	// CardWaiting means the viewer answered and the partner has not.
	CardWaiting CardState = "waiting"
	// CardRevealed means both participants answered.
	CardRevealed CardState = "revealed"
)

var (
	ErrNotParticipant  = errors.New("cardflow: viewer is not a participant")
	ErrCardOutOfRange  = errors.New("cardflow: card index out of range")
	ErrInvalidOption   = errors.New("cardflow: option is not offered by the card")
	ErrAlreadyAnswered = errors.New("cardflow: card already answered")
	ErrNotRevealed     = errors.New("cardflow: card not revealed yet")
	ErrWrongPhase      = errors.New("cardflow: action not allowed in this phase")
)

type responseKey struct {
	userID string
	card   int
}

// Flow tracks one viewer's progress through a session.
type Flow struct {
	viewer    string
	partner   string
	prompts   []persistence.Prompt
	responses map[responseKey]persistence.CardResponse
	current   int
	phase     Phase
}

// New builds the flow of session as seen by viewer. The current card starts
// at the first card that is not yet revealed.
func New(session persistence.Session, viewer string, responses []persistence.CardResponse) (*Flow, error) {
	var partner string
	switch viewer {
	case session.ParticipantA:
		partner = session.ParticipantB
	case session.ParticipantB:
		partner = session.ParticipantA
	default:
		return nil, ErrNotParticipant
	}

	f := &Flow{
		viewer:    viewer,
		partner:   partner,
		prompts:   session.Prompts,
		responses: make(map[responseKey]persistence.CardResponse),
		phase:     PhaseCards,
	}
	for _, r := range responses {
		f.Apply(r)
	}

	f.current = f.firstUnrevealed()
	switch {
	case session.Status == persistence.SessionCompleted:
		f.phase = PhaseCompleted
	case f.current >= len(f.prompts):
		f.phase = PhaseChat
		f.current = len(f.prompts) - 1
	}
	return f, nil
}

// Viewer returns the viewer's identity.
func (f *Flow) Viewer() string { return f.viewer }

// Partner returns the other participant.
func (f *Flow) Partner() string { return f.partner }

// Phase returns the current phase.
func (f *Flow) Phase() Phase { return f.phase }

// Current returns the index of the card on screen.
func (f *Flow) Current() int { return f.current }

// Len returns the number of cards.
func (f *Flow) Len() int { return len(f.prompts) }

// Apply records a response keyed by participant and card. The first response
// for a key wins and later ones are ignored. It reports whether the response
// was new. Responses from outsiders are ignored.
func (f *Flow) Apply(r persistence.CardResponse) bool {
	if r.UserID != f.viewer && r.UserID != f.partner {
		return false
	}
	if r.CardIndex < 0 || r.CardIndex >= len(f.prompts) {
		return false
	}
	key := responseKey{userID: r.UserID, card: r.CardIndex}
	if _, ok := f.responses[key]; ok {
		return false
	}
	f.responses[key] = r
	return true
}

// Validate checks that the viewer may answer card with option.
func (f *Flow) Validate(card int, option string) error {
	if f.phase == PhaseCompleted {
		return ErrWrongPhase
	}
	if card < 0 || card >= len(f.prompts) {
		return ErrCardOutOfRange
	}
	if !slices.Contains(f.prompts[card].Options, option) {
		return fmt.Errorf("%w: %q", ErrInvalidOption, option)
	}
	if _, answered := f.MyAnswer(card); answered {
		return ErrAlreadyAnswered
	}
	return nil
}

// State returns the viewer's state on card.
func (f *Flow) State(card int) CardState {
	_, mine := f.responses[responseKey{userID: f.viewer, card: card}]
	_, theirs := f.responses[responseKey{userID: f.partner, card: card}]
	switch {
	case mine && theirs:
		return CardRevealed
	case mine:
		return CardWaiting
	default:
		return CardAnswering
	}
}

// Revealed reports whether both participants answered card.
func (f *Flow) Revealed(card int) bool {
	return f.State(card) == CardRevealed
}

// MyAnswer returns the viewer's answer on card.
func (f *Flow) MyAnswer(card int) (string, bool) {
	r, ok := f.responses[responseKey{userID: f.viewer, card: card}]
	return r.SelectedOption, ok
}

// PartnerAnswered reports whether the partner answered card, without
// exposing the answer.
func (f *Flow) PartnerAnswered(card int) bool {
	_, ok := f.responses[responseKey{userID: f.partner, card: card}]
	return ok
}

// PartnerAnswer returns the partner's answer only once the card is revealed.
func (f *Flow) PartnerAnswer(card int) (string, bool) {
	if !f.Revealed(card) {
		return "", false
	}
	r := f.responses[responseKey{userID: f.partner, card: card}]
	return r.SelectedOption, true
}

// Advance moves to the next card, or into chat after the last card. The
// current card must be revealed.
func (f *Flow) Advance() error {
	if f.phase != PhaseCards {
		return ErrWrongPhase
	}
	if !f.Revealed(f.current) {
		return ErrNotRevealed
	}
	if f.current == len(f.prompts)-1 {
		f.phase = PhaseChat
		return nil
	}
	f.current++
	return nil
}

// Complete ends the flow.
func (f *Flow) Complete() {
	f.phase = PhaseCompleted
}

func (f *Flow) firstUnrevealed() int {
	for i := range f.prompts {
		if !f.Revealed(i) {
			return i
		}
	}
	return len(f.prompts)
}
