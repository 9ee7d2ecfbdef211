package cardflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/peer-scheduler/internal/persistence"
)

func session() persistence.Session {
	return persistence.Session{
		ID:           "s1",
		ParticipantA: "alice",
		ParticipantB: "bob",
		Status:       persistence.SessionActive,
		Prompts: []persistence.Prompt{
			{Question: "Morning or night?", Options: []string{"Morning", "Night"}},
			{Question: "Cats or dogs?", Options: []string{"Cats", "Dogs"}},
		},
	}
}

func answer(user string, card int, option string) persistence.CardResponse {
	return persistence.CardResponse{SessionID: "s1", UserID: user, CardIndex: card, SelectedOption: option}
}

func TestNewRejectsOutsiders(t *testing.T) {
	_, err := New(session(), "mallory", nil)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestRevealGating(t *testing.T) {
	flow, err := New(session(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "bob", flow.Partner())
	assert.Equal(t, CardAnswering, flow.State(0))

	require.True(t, flow.Apply(answer("bob", 0, "Night")))
	assert.True(t, flow.PartnerAnswered(0))
	_, visible := flow.PartnerAnswer(0)
	assert.False(t, visible, "partner answer must stay hidden before the viewer answers")
	assert.Empty(t, flow.View().Cards[0].PartnerAnswer)

	require.True(t, flow.Apply(answer("alice", 0, "Morning")))
	assert.Equal(t, CardRevealed, flow.State(0))
	got, visible := flow.PartnerAnswer(0)
	assert.True(t, visible)
	assert.Equal(t, "Night", got)
}

func TestWaitingStateBlocksResubmission(t *testing.T) {
	flow, err := New(session(), "alice", nil)
	require.NoError(t, err)

	require.NoError(t, flow.Validate(0, "Morning"))
	flow.Apply(answer("alice", 0, "Morning"))
	assert.Equal(t, CardWaiting, flow.State(0))
	assert.ErrorIs(t, flow.Validate(0, "Night"), ErrAlreadyAnswered)

	assert.False(t, flow.Apply(answer("alice", 0, "Night")), "duplicate responses are ignored")
	mine, _ := flow.MyAnswer(0)
	assert.Equal(t, "Morning", mine)
}

func TestValidate(t *testing.T) {
	flow, err := New(session(), "bob", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, flow.Validate(2, "Cats"), ErrCardOutOfRange)
	assert.ErrorIs(t, flow.Validate(-1, "Cats"), ErrCardOutOfRange)
	assert.ErrorIs(t, flow.Validate(1, "Birds"), ErrInvalidOption)
	assert.NoError(t, flow.Validate(1, "Dogs"))
}

func TestAdvanceRequiresReveal(t *testing.T) {
	flow, err := New(session(), "alice", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, flow.Advance(), ErrNotRevealed)

	flow.Apply(answer("alice", 0, "Morning"))
	flow.Apply(answer("bob", 0, "Morning"))
	require.NoError(t, flow.Advance())
	assert.Equal(t, 1, flow.Current())

	flow.Apply(answer("alice", 1, "Cats"))
	assert.ErrorIs(t, flow.Advance(), ErrNotRevealed)
	flow.Apply(answer("bob", 1, "Dogs"))
	require.NoError(t, flow.Advance())
	assert.Equal(t, PhaseChat, flow.Phase())
	assert.ErrorIs(t, flow.Advance(), ErrWrongPhase)

	flow.Complete()
	assert.Equal(t, PhaseCompleted, flow.Phase())
	assert.ErrorIs(t, flow.Validate(0, "Morning"), ErrWrongPhase)
}

func TestNewResumesFromResponses(t *testing.T) {
	responses := []persistence.CardResponse{
		answer("alice", 0, "Night"),
		answer("bob", 0, "Morning"),
		answer("bob", 1, "Cats"),
	}
	flow, err := New(session(), "alice", responses)
	require.NoError(t, err)
	assert.Equal(t, PhaseCards, flow.Phase())
	assert.Equal(t, 1, flow.Current())

	view := flow.View()
	assert.Equal(t, CardRevealed, view.Cards[0].State)
	assert.Equal(t, "Morning", view.Cards[0].PartnerAnswer)
	assert.Equal(t, CardAnswering, view.Cards[1].State)
	assert.True(t, view.Cards[1].PartnerAnswered)
	assert.Empty(t, view.Cards[1].PartnerAnswer)

	responses = append(responses, answer("alice", 1, "Dogs"))
	flow, err = New(session(), "bob", responses)
	require.NoError(t, err)
	assert.Equal(t, PhaseChat, flow.Phase())

	completed := session()
	completed.Status = persistence.SessionCompleted
	flow, err = New(completed, "bob", responses)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, flow.Phase())
}

func TestApplyIgnoresOutsidersAndBadIndexes(t *testing.T) {
	flow, err := New(session(), "alice", nil)
	require.NoError(t, err)
	assert.False(t, flow.Apply(answer("mallory", 0, "Morning")))
	assert.False(t, flow.Apply(answer("bob", 5, "Morning")))
}
