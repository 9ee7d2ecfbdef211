package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slot struct {
	Owner string `json:"owner"`
	Hour  int    `json:"hour"`
}

func TestReconcilerUpsertsAndDeletesByID(t *testing.T) {
	r := NewReconciler[slot](nil)

	add := mustEvent(t, PollKey("p"), SlotAdded, "alice|14", slot{Owner: "alice", Hour: 14})
	add.Seq = 1
	applied, err := r.Apply(add)
	require.NoError(t, err)
	assert.True(t, applied)

	replay := add
	applied, err = r.Apply(replay)
	require.NoError(t, err)
	assert.False(t, applied, "replayed events are ignored")
	assert.Equal(t, 1, r.Len())

	dup := mustEvent(t, PollKey("p"), SlotAdded, "alice|14", slot{Owner: "alice", Hour: 14})
	dup.Seq = 2
	_, err = r.Apply(dup)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len(), "same primary key never appends")

	remove := Event{Seq: 3, Key: PollKey("p"), Type: SlotRemoved, ID: "alice|14", Deleted: true}
	_, err = r.Apply(remove)
	require.NoError(t, err)
	_, ok := r.Get("alice|14")
	assert.False(t, ok)
}

func TestReconcilerResetAndDecodeErrors(t *testing.T) {
	r := NewReconciler[slot](nil)
	r.Reset(map[string]slot{"bob|9": {Owner: "bob", Hour: 9}, "amy|9": {Owner: "amy", Hour: 9}})
	assert.Equal(t, []string{"amy|9", "bob|9"}, r.IDs())

	_, err := r.Apply(Event{Seq: 1, Type: SlotAdded, ID: "x", Payload: []byte("{")})
	assert.Error(t, err)
	assert.Equal(t, 2, r.Len())
}
