package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/types"
)

func TestAssign_ProducesDistinctValidIDs(t *testing.T) {
	a := NewAssigner(nil)
	seen := make(map[types.ClientID]struct{}, 1000)

	for i := 0; i < 1000; i++ {
		id, err := a.Assign()
		require.NoError(t, err)
		assert.True(t, Valid(string(id)), "id %q", id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q", id)
		seen[id] = struct{}{}
	}
}

func TestAssign_SkipsIDsInUse(t *testing.T) {
	calls := 0
	a := NewAssigner(func(types.ClientID) bool {
		calls++
		return calls < 3
	})

	id, err := a.Assign()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, calls)
}

func TestAssign_GivesUpWhenEverythingIsTaken(t *testing.T) {
	a := NewAssigner(func(types.ClientID) bool { return true })
	_, err := a.Assign()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("abcdefghij_-0123"))
	assert.False(t, Valid("short"))
	assert.False(t, Valid("abcdefghij_-012!"))
}
