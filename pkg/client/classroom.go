// Package client is the Go SDK for the liveclass relay. A Classroom is one
// participant's connection to one room: it keeps the latest session status
// and chat history up to date and turns request envelopes into blocking
// calls by matching replies on their ref.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liveclass/internal/dispatch"
	"liveclass/pkg/logger"
	"liveclass/pkg/types"
)

var (
	ErrClosed       = errors.New("classroom connection closed")
	ErrNoWelcome    = errors.New("relay did not assign a client id")
	ErrNotSignaling = errors.New("only offer, answer and candidate payloads can be signaled")
)

// Classroom is safe for concurrent use.
type Classroom struct {
	conn  *websocket.Conn
	codec types.Codec
	opts  Options
	room  string

	writeMu sync.Mutex

	mu      sync.RWMutex
	id      types.ClientID
	role    types.Role
	status  types.SessionStatusPayload
	chat    []types.ChatPayload
	chatIDs []string
	seen    map[string]struct{}
	mic     bool
	camera  bool
	pending map[string]chan *types.Envelope
	err     error

	events  *dispatch.Dispatcher
	queueMu sync.Mutex
	queue   []dispatch.Event
	wake    chan struct{}

	welcome   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay's websocket endpoint (for example
// "ws://localhost:8080/ws") and joins room as a viewer-role connection. It
// returns once the relay has assigned the client id.
func Dial(ctx context.Context, endpoint, room string, opts Options) (*Classroom, error) {
	opts = opts.withDefaults()
	codec, err := types.CodecByName(opts.Codec)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("room", room)
	if opts.Codec != "" {
		q.Set("codec", codec.Name())
	}
	u.RawQuery = q.Encode()

	ws, resp, err := opts.Dialer.DialContext(ctx, u.String(), opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &Classroom{
		conn:    ws,
		codec:   codec,
		opts:    opts,
		room:    room,
		role:    types.RoleViewer,
		status:  types.SessionStatusPayload{State: types.StateIdle},
		pending: make(map[string]chan *types.Envelope),
		events:  dispatch.New("client:" + room),
		wake:    make(chan struct{}, 1),
		welcome: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.eventLoop()

	select {
	case <-c.welcome:
		return c, nil
	case <-c.done:
		return nil, c.closeErr(ErrNoWelcome)
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

// ID is the relay-assigned client id.
func (c *Classroom) ID() types.ClientID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Classroom) Room() string { return c.room }

func (c *Classroom) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Done is closed when the connection is gone.
func (c *Classroom) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed, nil while it is open or after a
// local Close.
func (c *Classroom) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close disconnects. The relay treats it as an implicit leave.
func (c *Classroom) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

func (c *Classroom) closeErr(fallback error) error {
	if err := c.Err(); err != nil {
		return err
	}
	return fallback
}

// On subscribes h to envelopes of type t received from the relay. Handlers
// run on a dedicated goroutine in arrival order and may call back into the
// Classroom.
func (c *Classroom) On(t types.Type, h dispatch.Handler) dispatch.Subscription {
	return c.events.On(t, h)
}

func (c *Classroom) Off(t types.Type, sub dispatch.Subscription) bool {
	return c.events.Off(t, sub)
}

// Login claims a role and display name. Claiming the broadcaster role fails
// with types.ErrAlreadyActive while another client holds it.
func (c *Classroom) Login(ctx context.Context, role types.Role, name string) error {
	reply, err := c.request(ctx, &types.LoginPayload{Role: role, Name: name})
	if err != nil {
		return err
	}
	if p, ok := reply.Payload.(*types.LoginPayload); ok {
		c.mu.Lock()
		c.role = p.Role
		c.mu.Unlock()
	}
	return nil
}

// Join enters the viewer roster. It fails with types.ErrSessionNotActive
// while the room is idle.
func (c *Classroom) Join(ctx context.Context, name string) error {
	_, err := c.request(ctx, &types.JoinPayload{Name: name})
	return err
}

// Leave exits the roster. Leaving twice is not an error.
func (c *Classroom) Leave(ctx context.Context) error {
	_, err := c.request(ctx, &types.LeavePayload{})
	return err
}

// GetStatus asks the relay for a fresh status snapshot.
func (c *Classroom) GetStatus(ctx context.Context) (*types.SessionStatusPayload, error) {
	reply, err := c.request(ctx, &types.GetStatusPayload{})
	if err != nil {
		return nil, err
	}
	status, ok := reply.Payload.(*types.SessionStatusPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected %s reply to get_status", reply.Type)
	}
	return status, nil
}

// EnablePreview opens a session without going live, so the broadcaster can
// check camera and audio while viewers gather.
func (c *Classroom) EnablePreview(ctx context.Context) error {
	return c.control(ctx, types.ActionStart, "")
}

// StartSession takes the room live with topic, opening a preview first when
// the room is idle. Calling it on a live room only updates the topic.
func (c *Classroom) StartSession(ctx context.Context, topic string) error {
	if c.State() == types.StateIdle {
		if err := c.control(ctx, types.ActionStart, topic); err != nil {
			return err
		}
	}
	return c.control(ctx, types.ActionGoLive, topic)
}

// EndSession ends the session for everyone in the room.
func (c *Classroom) EndSession(ctx context.Context) error {
	return c.control(ctx, types.ActionEnd, "")
}

func (c *Classroom) control(ctx context.Context, action types.Action, topic string) error {
	_, err := c.request(ctx, &types.SessionStatusPayload{Action: action, Topic: topic})
	return err
}

// ToggleMic announces the local microphone state to the room.
func (c *Classroom) ToggleMic(enabled bool) error {
	c.mu.Lock()
	c.mic = enabled
	state := &types.MediaStatePayload{Mic: c.mic, Camera: c.camera}
	c.mu.Unlock()
	return c.send(types.NewEnvelope(state))
}

// ToggleCamera announces the local camera state to the room.
func (c *Classroom) ToggleCamera(enabled bool) error {
	c.mu.Lock()
	c.camera = enabled
	state := &types.MediaStatePayload{Mic: c.mic, Camera: c.camera}
	c.mu.Unlock()
	return c.send(types.NewEnvelope(state))
}

// SendMessage posts a chat message. The relay does not echo it back, so it
// is added to the local history here.
func (c *Classroom) SendMessage(user, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty chat message", types.ErrInvalidEnvelope)
	}
	msg := types.ChatPayload{User: user, Text: text, SentAt: time.Now().UTC()}
	env := types.NewEnvelope(&msg)
	env.ID = uuid.New().String()
	if err := c.send(env); err != nil {
		return err
	}
	c.mu.Lock()
	c.appendChat(env.ID, msg)
	c.mu.Unlock()
	return nil
}

// Signal sends an offer, answer or candidate to one peer. Delivery failures
// arrive asynchronously as error envelopes.
func (c *Classroom) Signal(to types.ClientID, p types.Payload) error {
	switch p.(type) {
	case *types.OfferPayload, *types.AnswerPayload, *types.CandidatePayload:
	default:
		return ErrNotSignaling
	}
	env := types.NewEnvelope(p)
	env.To = to
	return c.send(env)
}

func (c *Classroom) State() types.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State
}

func (c *Classroom) IsLive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.IsLive
}

func (c *Classroom) Topic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Topic
}

func (c *Classroom) ViewerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.ViewerCount
}

// Status returns a copy of the last status seen.
func (c *Classroom) Status() types.SessionStatusPayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.status
	s.Viewers = append([]types.ClientID(nil), c.status.Viewers...)
	return s
}

// ChatMessages returns the chat history of the current session, oldest first.
func (c *Classroom) ChatMessages() []types.ChatPayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.ChatPayload(nil), c.chat...)
}

func (c *Classroom) MediaState() types.MediaStatePayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.MediaStatePayload{Mic: c.mic, Camera: c.camera}
}

// request sends p and waits for the envelope that references it. An error
// envelope is returned as the matching types sentinel.
func (c *Classroom) request(ctx context.Context, p types.Payload) (*types.Envelope, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	env := types.NewEnvelope(p)
	env.ID = uuid.New().String()
	wait := make(chan *types.Envelope, 1)

	c.mu.Lock()
	c.pending[env.ID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if err := c.send(env); err != nil {
		return nil, err
	}

	select {
	case reply := <-wait:
		if e, ok := reply.Payload.(*types.ErrorPayload); ok {
			return nil, types.ErrorForCode(e.Code, e.Message)
		}
		return reply, nil
	case <-c.done:
		return nil, c.closeErr(ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Classroom) send(env *types.Envelope) error {
	select {
	case <-c.done:
		return c.closeErr(ErrClosed)
	default:
	}

	data, err := c.codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportFailure, err)
	}
	if err := c.conn.WriteMessage(frame, data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportFailure, err)
	}
	return nil
}

func (c *Classroom) readLoop() {
	defer func() { _ = c.Close() }()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.mu.Lock()
				c.err = fmt.Errorf("%w: %v", ErrClosed, err)
				c.mu.Unlock()
			}
			return
		}

		env, err := c.codec.Decode(data)
		if err != nil {
			logger.Warn("undecodable envelope from relay", zap.String("room", c.room), zap.Error(err))
			continue
		}
		c.apply(env)
	}
}

// apply folds env into the local view, wakes a waiting request and queues
// the event for subscribers.
func (c *Classroom) apply(env *types.Envelope) {
	c.mu.Lock()
	switch p := env.Payload.(type) {
	case *types.LoginPayload:
		if c.id == "" && p.ClientID != "" {
			c.id = p.ClientID
			close(c.welcome)
		}
	case *types.SessionStatusPayload:
		c.status = *p
		if p.Action == types.ActionEnd || p.State == types.StateIdle {
			c.clearChat()
		}
	case *types.ChatPayload:
		c.appendChat(env.ID, *p)
	}
	wait := c.pending[env.Ref]
	c.mu.Unlock()

	if wait != nil && env.Ref != "" {
		select {
		case wait <- env:
		default:
		}
	}

	c.enqueue(dispatch.Event{Type: env.Type, Room: env.Room, From: env.From, Payload: env.Payload})
}

// appendChat records msg once per envelope id. Joining a session replays
// its log, which may repeat messages this client already saw live.
func (c *Classroom) appendChat(id string, msg types.ChatPayload) {
	if id != "" {
		if _, dup := c.seen[id]; dup {
			return
		}
		if c.seen == nil {
			c.seen = make(map[string]struct{})
		}
		c.seen[id] = struct{}{}
	}
	c.chat = append(c.chat, msg)
	c.chatIDs = append(c.chatIDs, id)
	if over := len(c.chat) - c.opts.MaxChatMessages; over > 0 {
		for _, old := range c.chatIDs[:over] {
			delete(c.seen, old)
		}
		c.chat = append([]types.ChatPayload(nil), c.chat[over:]...)
		c.chatIDs = append([]string(nil), c.chatIDs[over:]...)
	}
}

func (c *Classroom) clearChat() {
	c.chat = nil
	c.chatIDs = nil
	c.seen = nil
}

func (c *Classroom) enqueue(ev dispatch.Event) {
	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// eventLoop runs subscribers off the read goroutine so a handler can issue
// requests whose replies the read loop still has to receive.
func (c *Classroom) eventLoop() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
		for {
			c.queueMu.Lock()
			if len(c.queue) == 0 {
				c.queueMu.Unlock()
				break
			}
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.queueMu.Unlock()

			c.events.Emit(context.Background(), ev)
		}
	}
}
