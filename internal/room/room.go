package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liveclass/internal/dispatch"
	"liveclass/internal/metrics"
	"liveclass/internal/session"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

const (
	DefaultBroadcasterGrace = 30 * time.Second
	DefaultQueueSize        = 256
)

// Config tunes every room created by a Manager.
type Config struct {
	MaxChatLog       int
	BroadcasterGrace time.Duration
	QueueSize        int
}

// DefaultConfig returns the values used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxChatLog:       session.DefaultMaxChatLog,
		BroadcasterGrace: DefaultBroadcasterGrace,
		QueueSize:        DefaultQueueSize,
	}
}

type member struct {
	conn     interfaces.Connection
	role     types.Role
	name     string
	joinedAt time.Time
}

type operation struct {
	fn     func() error
	result chan error
}

// Room is one classroom. All of its state is owned by a single goroutine
// that drains an operation queue; the exported methods submit operations
// and wait for their result.
// ARCHITECTURAL DISCOVERY: one goroutine per room serializes roster, state
// and chat changes without a lock, and rooms never share anything, so
// distinct rooms run fully in parallel
type Room struct {
	name      string
	cfg       Config
	router    interfaces.EnvelopeRouter
	events    *dispatch.Dispatcher
	metrics   *metrics.Metrics
	createdAt time.Time
	onVacant  func(*Room)

	ops  chan *operation
	done chan struct{}

	mu      sync.RWMutex
	running bool
	stopped bool

	// owned by the run goroutine
	members        map[types.ClientID]*member
	order          []types.ClientID
	session        *session.Machine
	broadcaster    types.ClientID
	grace          *time.Timer
	graceGen       uint64
	vacantReported bool
}

// New creates a stopped room. Call Start before submitting operations.
func New(name string, cfg Config, router interfaces.EnvelopeRouter, m *metrics.Metrics) (*Room, error) {
	if !types.IsValidRoomName(name) {
		return nil, ErrInvalidRoomName
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	r := &Room{
		name:      name,
		cfg:       cfg,
		router:    router,
		events:    dispatch.New(name),
		metrics:   m,
		createdAt: time.Now().UTC(),
		ops:       make(chan *operation, cfg.QueueSize),
		done:      make(chan struct{}),
		members:   make(map[types.ClientID]*member),
		session:   session.NewMachine(cfg.MaxChatLog),
	}
	r.session.OnTransition(r.transitioned)
	return r, nil
}

// Events is the room's own dispatcher. It is discarded with the room.
func (r *Room) Events() *dispatch.Dispatcher { return r.events }

// Start launches the room goroutine.
func (r *Room) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRoomClosed
	}
	if r.running {
		return ErrRoomAlreadyRunning
	}
	r.running = true

	go r.run()
	logger.Debug("room started", zap.String("room", r.name))
	return nil
}

// Stop ends the room goroutine. Pending operations fail with ErrRoomClosed.
func (r *Room) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrRoomNotRunning
	}
	r.running = false
	r.stopped = true
	close(r.done)
	return nil
}

// Retire ends an active session as if its broadcaster had ended it, so
// status subscribers see the room settle in IDLE before it goes away. A
// pending broadcaster grace period is cancelled.
func (r *Room) Retire(ctx context.Context) error {
	return r.do(func() error {
		r.stopGrace()
		if !r.session.Active() {
			return nil
		}
		if err := r.session.End(); err != nil {
			return err
		}
		r.broadcastStatus(ctx, types.ActionEnd, "")
		logger.Info("session ended on shutdown", zap.String("room", r.name))
		return nil
	})
}

func (r *Room) run() {
	defer logger.Debug("room stopped", zap.String("room", r.name))

	for {
		select {
		case op := <-r.ops:
			op.result <- r.exec(op.fn)
			r.checkVacant()
		case <-r.done:
			r.stopGrace()
			r.events.Clear()
			return
		}
	}
}

func (r *Room) exec(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("room operation panicked", zap.String("room", r.name), zap.Any("panic", rec))
			err = fmt.Errorf("%w: %v", ErrOperationPanicked, rec)
		}
	}()
	return fn()
}

// do runs fn on the room goroutine and waits for it.
func (r *Room) do(fn func() error) error {
	r.mu.RLock()
	running, stopped := r.running, r.stopped
	r.mu.RUnlock()
	if stopped {
		return ErrRoomClosed
	}
	if !running {
		return ErrRoomNotRunning
	}

	op := &operation{fn: fn, result: make(chan error, 1)}
	select {
	case r.ops <- op:
	case <-r.done:
		return ErrRoomClosed
	}

	select {
	case err := <-op.result:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// checkVacant reports the room to its owner once it is empty and idle.
func (r *Room) checkVacant() {
	if !r.vacant() {
		r.vacantReported = false
		return
	}
	if r.vacantReported || r.onVacant == nil {
		return
	}
	r.vacantReported = true
	go r.onVacant(r)
}

func (r *Room) vacant() bool {
	return len(r.members) == 0 && r.session.State() == types.StateIdle
}

// Attach adds a connection to the room and greets it with its client id and
// the current session status.
func (r *Room) Attach(conn interfaces.Connection) error {
	return r.do(func() error {
		id := conn.ID()
		if existing, ok := r.members[id]; ok {
			if existing.conn == conn {
				return nil
			}
			return fmt.Errorf("%w: %s", ErrDuplicateMember, id)
		}

		r.members[id] = &member{conn: conn, role: types.RoleViewer, joinedAt: time.Now().UTC()}
		r.order = append(r.order, id)

		r.router.Deliver(conn, r.envelope(&types.LoginPayload{
			ClientID: id,
			Room:     r.name,
			Role:     types.RoleViewer,
		}, ""))
		r.router.Deliver(conn, r.envelope(r.status(types.ActionSync), ""))

		logger.Info("client attached", zap.String("room", r.name), zap.String("client_id", string(id)), zap.Int("members", len(r.members)))
		return nil
	})
}

// Detach removes a connection. It is the implicit leave on disconnect and
// may be called any number of times for the same id.
func (r *Room) Detach(id types.ClientID) error {
	return r.do(func() error {
		r.detach(context.Background(), id)
		return nil
	})
}

func (r *Room) detach(ctx context.Context, id types.ClientID) {
	if _, ok := r.members[id]; !ok {
		return
	}
	delete(r.members, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logger.Info("client detached", zap.String("room", r.name), zap.String("client_id", string(id)), zap.Int("members", len(r.members)))

	if r.session.Leave(id) {
		r.broadcastStatus(ctx, types.ActionLeave, "")
	}
	if id == r.broadcaster {
		r.broadcaster = ""
		if r.session.Active() {
			r.broadcasterLost(ctx)
		}
	}
	r.events.Emit(ctx, dispatch.Event{Type: types.TypeLeave, Room: r.name, From: id, Payload: &types.LeavePayload{}})
}

// Handle routes an envelope sent by a member. Failures are also answered
// to the sender as an error envelope referencing the request.
func (r *Room) Handle(ctx context.Context, env *types.Envelope) error {
	return r.do(func() error {
		err := r.router.Route(ctx, env, r)
		if err != nil {
			r.reject(env, err)
		}
		return err
	})
}

func (r *Room) reject(env *types.Envelope, err error) {
	code := types.ErrorCode(err)
	r.metrics.EnvelopeRejected(code)
	logger.Debug("envelope rejected",
		zap.String("room", r.name),
		zap.String("client_id", string(env.From)),
		zap.String("type", string(env.Type)),
		zap.String("code", code),
		zap.Error(err))

	if m, ok := r.members[env.From]; ok {
		r.router.Deliver(m.conn, r.envelope(&types.ErrorPayload{Code: code, Message: err.Error()}, env.ID))
	}
}

// Status returns the current session status.
func (r *Room) Status() (*types.SessionStatusPayload, error) {
	var status *types.SessionStatusPayload
	err := r.do(func() error {
		status = r.status(types.ActionSync)
		return nil
	})
	return status, err
}

// Info returns a snapshot for the admin API.
func (r *Room) Info() (types.RoomInfo, error) {
	var info types.RoomInfo
	err := r.do(func() error {
		info = types.RoomInfo{
			Name:        r.name,
			State:       r.session.State(),
			Topic:       r.session.Topic(),
			Broadcaster: r.broadcaster,
			ViewerCount: r.session.ViewerCount(),
			Members:     len(r.members),
			ChatLength:  len(r.session.ChatLog()),
			CreatedAt:   r.createdAt,
		}
		return nil
	})
	return info, err
}

// Vacant reports whether the room is empty and idle.
func (r *Room) Vacant() (bool, error) {
	var vacant bool
	err := r.do(func() error {
		vacant = r.vacant()
		return nil
	})
	return vacant, err
}

// Name, Member and Members satisfy interfaces.Room and are only valid on
// the room goroutine.

func (r *Room) Name() string { return r.name }

func (r *Room) Member(id types.ClientID) (interfaces.Connection, bool) {
	m, ok := r.members[id]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

func (r *Room) Members() []interfaces.Connection {
	out := make([]interfaces.Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].conn)
	}
	return out
}

func (r *Room) status(action types.Action) *types.SessionStatusPayload {
	status := r.session.Status(action)
	status.Broadcaster = r.broadcaster
	return status
}

// envelope builds a relay-originated envelope.
func (r *Room) envelope(p types.Payload, ref string) *types.Envelope {
	env := types.NewEnvelope(p)
	env.ID = uuid.New().String()
	env.Room = r.name
	env.Ref = ref
	env.Timestamp = time.Now().UTC()
	return env
}

func (r *Room) broadcastStatus(ctx context.Context, action types.Action, ref string) {
	status := r.status(action)
	r.router.Broadcast(r.envelope(status, ref), r)
	r.events.Emit(ctx, dispatch.Event{Type: types.TypeSessionStatus, Room: r.name, Payload: status})
}

func (r *Room) reply(to types.ClientID, p types.Payload, ref string) {
	if m, ok := r.members[to]; ok {
		r.router.Deliver(m.conn, r.envelope(p, ref))
	}
}

func (r *Room) transitioned(from, to types.SessionState) {
	r.metrics.SessionTransition(from, to)
	logger.Info("session transition",
		zap.String("room", r.name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (r *Room) stopGrace() {
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
	r.graceGen++
}
