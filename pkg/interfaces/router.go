package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// Room is the part of a room the router works against. Implementations are
// only called from the goroutine that owns the room's state.
type Room interface {
	Name() string
	Member(id types.ClientID) (Connection, bool)
	Members() []Connection

	// Intercept applies envelopes that change room state (login, join,
	// leave, session control, status queries, chat history). It reports
	// whether the envelope should still be forwarded to peers.
	Intercept(ctx context.Context, env *types.Envelope) (forward bool, err error)
}

// EnvelopeRouter moves envelopes between members of one room.
type EnvelopeRouter interface {
	// Route validates, stamps and delivers an envelope from a member.
	Route(ctx context.Context, env *types.Envelope, room Room) error

	// GetRecipients resolves who an envelope goes to without delivering it.
	GetRecipients(env *types.Envelope, room Room) ([]Connection, error)

	// Broadcast delivers a relay-originated envelope to every member and
	// returns how many accepted it.
	Broadcast(env *types.Envelope, room Room) int

	// Deliver sends to a single connection, logging failures.
	Deliver(conn Connection, env *types.Envelope) bool
}
