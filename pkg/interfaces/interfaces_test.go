package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

type mockConnection struct {
	id   types.ClientID
	sent []*types.Envelope
}

func (m *mockConnection) ID() types.ClientID { return m.id }
func (m *mockConnection) Send(env *types.Envelope) error {
	m.sent = append(m.sent, env)
	return nil
}
func (m *mockConnection) Close() error { return nil }

type mockRoom struct{ members map[types.ClientID]interfaces.Connection }

func (m *mockRoom) Name() string { return "room" }
func (m *mockRoom) Member(id types.ClientID) (interfaces.Connection, bool) {
	c, ok := m.members[id]
	return c, ok
}
func (m *mockRoom) Members() []interfaces.Connection {
	out := make([]interfaces.Connection, 0, len(m.members))
	for _, c := range m.members {
		out = append(out, c)
	}
	return out
}
func (m *mockRoom) Intercept(ctx context.Context, env *types.Envelope) (bool, error) {
	return true, nil
}

type mockPublisher struct{ published int }

func (m *mockPublisher) PublishStatus(ctx context.Context, room string, status *types.SessionStatusPayload) error {
	m.published++
	return nil
}
func (m *mockPublisher) Close() error { return nil }

func TestInterfaces_Compliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.Room = &mockRoom{}
	var _ interfaces.StatusPublisher = &mockPublisher{}
}

func TestConnection_Contract(t *testing.T) {
	conn := &mockConnection{id: "abc"}
	var c interfaces.Connection = conn

	assert.Equal(t, types.ClientID("abc"), c.ID())
	assert.NoError(t, c.Send(types.NewEnvelope(&types.GetStatusPayload{})))
	assert.Len(t, conn.sent, 1)
	assert.NoError(t, c.Close())
}

func TestRoom_MemberLookup(t *testing.T) {
	a := &mockConnection{id: "a"}
	room := &mockRoom{members: map[types.ClientID]interfaces.Connection{"a": a}}

	got, ok := room.Member("a")
	assert.True(t, ok)
	assert.Equal(t, a, got)

	_, ok = room.Member("missing")
	assert.False(t, ok)
	assert.Len(t, room.Members(), 1)
}

func TestTransportErrors(t *testing.T) {
	assert.True(t, interfaces.IsTransportError(interfaces.ErrConnectionClosed))
	assert.True(t, interfaces.IsTransportError(interfaces.ErrSendQueueFull))
	assert.True(t, errors.Is(interfaces.ErrSendQueueFull, types.ErrTransportFailure))
	assert.False(t, interfaces.IsTransportError(types.ErrRecipientNotFound))
	assert.Equal(t, types.CodeTransportFailure, types.ErrorCode(interfaces.ErrConnectionClosed))
}
