package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/types"
)

func TestMachine_FullLifecycle(t *testing.T) {
	m := NewMachine(0)
	var seen []string
	m.OnTransition(func(from, to types.SessionState) {
		seen = append(seen, fmt.Sprintf("%s->%s", from, to))
	})

	require.NoError(t, m.Start("Fractions"))
	assert.Equal(t, types.StatePreviewing, m.State())
	assert.False(t, m.IsLive())

	changed, err := m.GoLive("")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, types.StateLive, m.State())
	assert.Equal(t, "Fractions", m.Topic())

	added, err := m.Join("v1")
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, m.End())
	assert.Equal(t, types.StateIdle, m.State())
	assert.Equal(t, 0, m.ViewerCount())
	assert.Empty(t, m.Topic())

	assert.Equal(t, []string{
		"IDLE->PREVIEWING",
		"PREVIEWING->LIVE",
		"LIVE->ENDED",
		"ENDED->IDLE",
	}, seen)
}

func TestMachine_StartWhileActive(t *testing.T) {
	m := NewMachine(0)
	require.NoError(t, m.Start("a"))
	assert.ErrorIs(t, m.Start("b"), types.ErrAlreadyActive)

	_, err := m.GoLive("")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Start("c"), types.ErrAlreadyActive)
	assert.Equal(t, "a", m.Topic())
}

func TestMachine_GoLiveFromIdle(t *testing.T) {
	m := NewMachine(0)
	_, err := m.GoLive("x")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, types.StateIdle, m.State())
}

func TestMachine_GoLiveTwiceIsNoop(t *testing.T) {
	m := NewMachine(0)
	require.NoError(t, m.Start(""))
	changed, err := m.GoLive("Algebra")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.GoLive("")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Algebra", m.Topic())

	changed, err = m.GoLive("Geometry")
	require.NoError(t, err)
	assert.True(t, changed, "a new topic counts as a change")
	assert.Equal(t, "Geometry", m.Topic())
}

func TestMachine_EndWhenIdle(t *testing.T) {
	m := NewMachine(0)
	assert.ErrorIs(t, m.End(), types.ErrSessionNotActive)
}

func TestMachine_EndFromPreview(t *testing.T) {
	m := NewMachine(0)
	require.NoError(t, m.Start(""))
	require.NoError(t, m.End())
	assert.Equal(t, types.StateIdle, m.State())
}

func TestMachine_JoinRequiresActiveSession(t *testing.T) {
	m := NewMachine(0)
	_, err := m.Join("v1")
	assert.ErrorIs(t, err, types.ErrSessionNotActive)
}

func TestMachine_JoinIsIdempotent(t *testing.T) {
	m := NewMachine(0)
	require.NoError(t, m.Start(""))

	added, err := m.Join("v1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.Join("v1")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, m.ViewerCount())
}

func TestMachine_Leave(t *testing.T) {
	m := NewMachine(0)
	require.NoError(t, m.Start(""))
	_, _ = m.Join("v1")
	_, _ = m.Join("v2")

	assert.True(t, m.Leave("v1"))
	assert.False(t, m.Leave("v1"))
	assert.Equal(t, []types.ClientID{"v2"}, m.Viewers())
}

func TestMachine_ChatLogIsBounded(t *testing.T) {
	m := NewMachine(3)
	assert.False(t, m.AppendChat(&types.Envelope{ID: "before"}), "no history without a session")

	require.NoError(t, m.Start(""))
	for i := 0; i < 5; i++ {
		assert.True(t, m.AppendChat(&types.Envelope{ID: fmt.Sprintf("m%d", i)}))
	}

	log := m.ChatLog()
	require.Len(t, log, 3)
	assert.Equal(t, "m2", log[0].ID)
	assert.Equal(t, "m4", log[2].ID)

	require.NoError(t, m.End())
	assert.Empty(t, m.ChatLog())
}

func TestMachine_Status(t *testing.T) {
	m := NewMachine(0)
	s := m.Status(types.ActionSync)
	assert.Equal(t, types.StateIdle, s.State)
	assert.Nil(t, s.StartedAt)

	require.NoError(t, m.Start("Topic"))
	_, _ = m.GoLive("")
	_, _ = m.Join("v1")

	s = m.Status(types.ActionJoin)
	assert.Equal(t, types.ActionJoin, s.Action)
	assert.Equal(t, types.StateLive, s.State)
	assert.True(t, s.IsLive)
	assert.Equal(t, 1, s.ViewerCount)
	assert.Equal(t, "Topic", s.Topic)
	assert.NotNil(t, s.StartedAt)
}
