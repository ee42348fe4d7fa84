package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liveclass/internal/metrics"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

// intercepted types change room state, so the room sees them before peers do
var intercepted = map[types.Type]bool{
	types.TypeLogin:         true,
	types.TypeJoin:          true,
	types.TypeLeave:         true,
	types.TypeSessionStatus: true,
	types.TypeGetStatus:     true,
	types.TypeChat:          true,
}

// Router moves envelopes between the members of a room.
// ARCHITECTURAL DISCOVERY: the router holds no room state of its own; it is
// always handed the room it works on and is only called from that room's
// goroutine, so one Router serves every room
type Router struct {
	limiter *RateLimiter
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ interfaces.EnvelopeRouter = (*Router)(nil)

// NewRouter creates a router. Both arguments may be nil.
func NewRouter(limiter *RateLimiter, m *metrics.Metrics) *Router {
	return &Router{
		limiter: limiter,
		metrics: m,
		now:     time.Now,
	}
}

// Route validates an envelope from a room member, lets the room apply it if
// it changes room state, then delivers it. Unicast goes to env.To only;
// broadcast goes to every member except the sender.
func (r *Router) Route(ctx context.Context, env *types.Envelope, room interfaces.Room) error {
	if env == nil {
		return ErrNilEnvelope
	}
	r.stamp(env, room)

	if _, ok := room.Member(env.From); !ok {
		return ErrSenderNotConnected
	}
	if err := env.Validate(); err != nil {
		return err
	}
	if !r.limiter.Allow(string(env.From)) {
		return types.ErrRateLimited
	}

	if intercepted[env.Type] {
		forward, err := room.Intercept(ctx, env)
		if err != nil {
			return err
		}
		if !forward {
			return nil
		}
	}

	recipients, err := r.GetRecipients(env, room)
	if err != nil {
		return err
	}
	r.metrics.EnvelopeRouted(env.Type)

	if !env.IsBroadcast() {
		// a dead recipient is logged like any other; only a missing one is the sender's error
		r.Deliver(recipients[0], env)
		return nil
	}

	// FUNCTIONAL DISCOVERY: one slow or dead viewer must not cost the rest
	// of the room the envelope, so failures are logged and skipped
	for _, conn := range recipients {
		r.Deliver(conn, env)
	}
	return nil
}

// GetRecipients resolves the delivery set for env without sending anything.
func (r *Router) GetRecipients(env *types.Envelope, room interfaces.Room) ([]interfaces.Connection, error) {
	if !env.IsBroadcast() {
		conn, ok := room.Member(env.To)
		if !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrRecipientNotFound, env.To)
		}
		return []interfaces.Connection{conn}, nil
	}

	members := room.Members()
	recipients := make([]interfaces.Connection, 0, len(members))
	for _, conn := range members {
		if conn.ID() == env.From {
			continue
		}
		recipients = append(recipients, conn)
	}
	return recipients, nil
}

// Broadcast delivers a relay-originated envelope to every member, including
// whoever triggered it. It returns how many members accepted it.
func (r *Router) Broadcast(env *types.Envelope, room interfaces.Room) int {
	r.stamp(env, room)
	delivered := 0
	for _, conn := range room.Members() {
		if r.Deliver(conn, env) {
			delivered++
		}
	}
	return delivered
}

// Deliver queues env on conn. Failures are logged and counted, never returned.
func (r *Router) Deliver(conn interfaces.Connection, env *types.Envelope) bool {
	if err := conn.Send(env); err != nil {
		r.deliveryFailed(conn, env, err)
		return false
	}
	return true
}

func (r *Router) deliveryFailed(conn interfaces.Connection, env *types.Envelope, err error) {
	r.metrics.DeliveryFailed(env.Type)
	logger.Warn("delivery failed",
		zap.String("room", env.Room),
		zap.String("to", string(conn.ID())),
		zap.String("type", string(env.Type)),
		zap.String("id", env.ID),
		zap.Error(err))
}

// stamp fills in what the relay owns. A client-chosen id is kept so replies
// can be correlated with it through ref.
func (r *Router) stamp(env *types.Envelope, room interfaces.Room) {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	env.Room = room.Name()
	env.Timestamp = r.now().UTC()
}
