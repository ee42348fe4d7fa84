package room

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liveclass/internal/dispatch"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

// Intercept applies state-changing envelopes. It runs on the room goroutine,
// called by the router before any forwarding.
func (r *Room) Intercept(ctx context.Context, env *types.Envelope) (bool, error) {
	switch p := env.Payload.(type) {
	case *types.LoginPayload:
		return false, r.login(ctx, env, p)
	case *types.JoinPayload:
		return false, r.join(ctx, env, p)
	case *types.LeavePayload:
		r.leave(ctx, env)
		return false, nil
	case *types.SessionStatusPayload:
		return false, r.control(ctx, env, p)
	case *types.GetStatusPayload:
		r.reply(env.From, r.status(types.ActionSync), env.ID)
		return false, nil
	case *types.ChatPayload:
		return true, r.chat(ctx, env, p)
	}
	return true, nil
}

func (r *Room) login(ctx context.Context, env *types.Envelope, p *types.LoginPayload) error {
	m := r.members[env.From]
	role := p.Role
	if role == "" {
		role = m.role
	}

	switch role {
	case types.RoleBroadcaster:
		if r.broadcaster != "" && r.broadcaster != env.From {
			return fmt.Errorf("%w: room already has a broadcaster", types.ErrAlreadyActive)
		}
		// a viewer promoted to broadcaster stops being counted as audience
		if r.session.Leave(env.From) {
			r.broadcastStatus(ctx, types.ActionLeave, "")
		}
		resumed := r.broadcaster == "" && r.session.Active()
		r.broadcaster = env.From
		m.role = types.RoleBroadcaster
		if resumed {
			r.stopGrace()
			r.broadcastStatus(ctx, types.ActionResume, "")
			logger.Info("broadcaster resumed session", zap.String("room", r.name), zap.String("client_id", string(env.From)))
		}
	case types.RoleViewer:
		if r.broadcaster == env.From {
			if r.session.Active() {
				return fmt.Errorf("%w: end the session before giving up the broadcaster role", types.ErrInvalidTransition)
			}
			r.broadcaster = ""
		}
		m.role = types.RoleViewer
	}
	if p.Name != "" {
		m.name = p.Name
	}

	r.reply(env.From, &types.LoginPayload{
		Role:     m.role,
		Name:     m.name,
		ClientID: env.From,
		Room:     r.name,
	}, env.ID)
	r.events.Emit(ctx, dispatch.Event{Type: types.TypeLogin, Room: r.name, From: env.From, Payload: p})
	return nil
}

func (r *Room) join(ctx context.Context, env *types.Envelope, p *types.JoinPayload) error {
	m := r.members[env.From]
	if m.role == types.RoleBroadcaster {
		return fmt.Errorf("%w: the broadcaster cannot join as a viewer", types.ErrInvalidTransition)
	}

	added, err := r.session.Join(env.From)
	if err != nil {
		return err
	}
	if p.Name != "" {
		m.name = p.Name
	}
	if !added {
		r.reply(env.From, r.status(types.ActionSync), env.ID)
		return nil
	}

	// late joiners catch up on the conversation before the status arrives
	for _, past := range r.session.ChatLog() {
		r.router.Deliver(m.conn, past)
	}
	r.broadcastStatus(ctx, types.ActionJoin, env.ID)
	r.events.Emit(ctx, dispatch.Event{Type: types.TypeJoin, Room: r.name, From: env.From, Payload: p})
	return nil
}

func (r *Room) leave(ctx context.Context, env *types.Envelope) {
	if !r.session.Leave(env.From) {
		r.reply(env.From, r.status(types.ActionSync), env.ID)
		return
	}
	r.broadcastStatus(ctx, types.ActionLeave, env.ID)
	r.events.Emit(ctx, dispatch.Event{Type: types.TypeLeave, Room: r.name, From: env.From, Payload: env.Payload})
}

func (r *Room) control(ctx context.Context, env *types.Envelope, p *types.SessionStatusPayload) error {
	if r.broadcaster == "" || env.From != r.broadcaster {
		return types.ErrNotBroadcaster
	}

	switch p.Action {
	case types.ActionStart:
		if err := r.session.Start(p.Topic); err != nil {
			return err
		}
	case types.ActionGoLive:
		changed, err := r.session.GoLive(p.Topic)
		if err != nil {
			return err
		}
		if !changed {
			r.reply(env.From, r.status(types.ActionGoLive), env.ID)
			return nil
		}
	case types.ActionEnd:
		if err := r.session.End(); err != nil {
			return err
		}
		r.stopGrace()
	default:
		return fmt.Errorf("%w: unsupported session action %q", types.ErrInvalidEnvelope, p.Action)
	}

	r.broadcastStatus(ctx, p.Action, env.ID)
	return nil
}

func (r *Room) chat(ctx context.Context, env *types.Envelope, p *types.ChatPayload) error {
	if p.SentAt.IsZero() {
		p.SentAt = env.Timestamp
	}
	if p.User == "" {
		if m := r.members[env.From]; m.name != "" {
			p.User = m.name
		}
	}
	r.session.AppendChat(env)
	r.events.Emit(ctx, dispatch.Event{Type: types.TypeChat, Room: r.name, From: env.From, Payload: p})
	return nil
}

// broadcasterLost keeps an active session alive for the grace period so a
// reconnecting broadcaster can take over without viewers noticing.
func (r *Room) broadcasterLost(ctx context.Context) {
	grace := r.cfg.BroadcasterGrace
	if grace <= 0 {
		r.expire(ctx)
		return
	}

	r.stopGrace()
	gen := r.graceGen
	r.grace = time.AfterFunc(grace, func() {
		_ = r.do(func() error {
			if gen == r.graceGen {
				r.grace = nil
				r.expire(context.Background())
			}
			return nil
		})
	})
	r.broadcastStatus(ctx, types.ActionPause, "")
	logger.Info("broadcaster lost, waiting for takeover",
		zap.String("room", r.name),
		zap.Duration("grace", grace))
}

func (r *Room) expire(ctx context.Context) {
	if r.broadcaster != "" || !r.session.Active() {
		return
	}
	if err := r.session.End(); err != nil {
		logger.Warn("ending abandoned session", zap.String("room", r.name), zap.Error(err))
		return
	}
	r.broadcastStatus(ctx, types.ActionEnd, "")
	logger.Info("session ended after broadcaster left", zap.String("room", r.name))
}
