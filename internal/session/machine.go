// Package session holds the per-room teaching session lifecycle:
// IDLE -> PREVIEWING -> LIVE -> ENDED -> IDLE, plus the viewer roster and
// chat history that belong to the active session.
//
// A Machine is not safe for concurrent use. Each room owns one and only
// touches it from the room's goroutine.
package session

import (
	"fmt"
	"sort"
	"time"

	"liveclass/pkg/types"
)

// DefaultMaxChatLog bounds the chat history kept for late joiners.
const DefaultMaxChatLog = 500

// TransitionFunc observes state changes.
type TransitionFunc func(from, to types.SessionState)

type Machine struct {
	state     types.SessionState
	topic     string
	startedAt time.Time

	viewers map[types.ClientID]struct{}
	chat    []*types.Envelope
	maxChat int

	onTransition TransitionFunc
	now          func() time.Time
}

// NewMachine creates an IDLE session. maxChat <= 0 uses DefaultMaxChatLog.
func NewMachine(maxChat int) *Machine {
	if maxChat <= 0 {
		maxChat = DefaultMaxChatLog
	}
	return &Machine{
		state:   types.StateIdle,
		viewers: make(map[types.ClientID]struct{}),
		maxChat: maxChat,
		now:     time.Now,
	}
}

// OnTransition installs fn to be called after every state change,
// including the pass through ENDED.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.onTransition = fn
}

func (m *Machine) State() types.SessionState { return m.state }
func (m *Machine) Topic() string             { return m.topic }
func (m *Machine) ViewerCount() int          { return len(m.viewers) }

// Active reports whether a session is running, previewing or live.
func (m *Machine) Active() bool {
	return m.state == types.StatePreviewing || m.state == types.StateLive
}

func (m *Machine) IsLive() bool {
	return m.state == types.StateLive
}

func (m *Machine) HasViewer(id types.ClientID) bool {
	_, ok := m.viewers[id]
	return ok
}

// Viewers returns the roster sorted for stable output.
func (m *Machine) Viewers() []types.ClientID {
	out := make([]types.ClientID, 0, len(m.viewers))
	for id := range m.viewers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Start opens a session in PREVIEWING.
func (m *Machine) Start(topic string) error {
	if m.state != types.StateIdle {
		return fmt.Errorf("%w: session is %s", types.ErrAlreadyActive, m.state)
	}
	m.topic = topic
	m.startedAt = m.now()
	m.transition(types.StatePreviewing)
	return nil
}

// GoLive moves PREVIEWING to LIVE. Calling it while already LIVE is a no-op
// and reports changed=false; a non-empty topic still replaces the old one.
func (m *Machine) GoLive(topic string) (changed bool, err error) {
	switch m.state {
	case types.StateLive:
		if topic != "" && topic != m.topic {
			m.topic = topic
			return true, nil
		}
		return false, nil
	case types.StatePreviewing:
		if topic != "" {
			m.topic = topic
		}
		m.transition(types.StateLive)
		return true, nil
	default:
		return false, fmt.Errorf("%w: cannot go live from %s", types.ErrInvalidTransition, m.state)
	}
}

// End closes the session. It passes through ENDED and settles back in IDLE
// with the roster, topic and chat history cleared.
func (m *Machine) End() error {
	if !m.Active() {
		return fmt.Errorf("%w: nothing to end", types.ErrSessionNotActive)
	}
	m.transition(types.StateEnded)
	m.reset()
	m.transition(types.StateIdle)
	return nil
}

func (m *Machine) reset() {
	m.topic = ""
	m.startedAt = time.Time{}
	m.viewers = make(map[types.ClientID]struct{})
	m.chat = nil
}

// Join adds a viewer to the roster. Joining twice is not an error and
// reports added=false.
func (m *Machine) Join(id types.ClientID) (added bool, err error) {
	if !m.Active() {
		return false, fmt.Errorf("%w: no session to join", types.ErrSessionNotActive)
	}
	if _, ok := m.viewers[id]; ok {
		return false, nil
	}
	m.viewers[id] = struct{}{}
	return true, nil
}

// Leave removes a viewer. It reports whether the roster changed.
func (m *Machine) Leave(id types.ClientID) bool {
	if _, ok := m.viewers[id]; !ok {
		return false
	}
	delete(m.viewers, id)
	return true
}

// AppendChat records a chat envelope while a session is active. The oldest
// entries are dropped once the log is full.
func (m *Machine) AppendChat(env *types.Envelope) bool {
	if !m.Active() {
		return false
	}
	m.chat = append(m.chat, env)
	if over := len(m.chat) - m.maxChat; over > 0 {
		m.chat = append(m.chat[:0:0], m.chat[over:]...)
	}
	return true
}

// ChatLog returns a copy of the retained chat history, oldest first.
func (m *Machine) ChatLog() []*types.Envelope {
	return append([]*types.Envelope(nil), m.chat...)
}

// Status reports the session as a status payload. The caller fills in
// Broadcaster since the machine does not know about connections.
func (m *Machine) Status(action types.Action) *types.SessionStatusPayload {
	status := &types.SessionStatusPayload{
		Action:      action,
		State:       m.state,
		Topic:       m.topic,
		IsLive:      m.IsLive(),
		ViewerCount: len(m.viewers),
		Viewers:     m.Viewers(),
	}
	if !m.startedAt.IsZero() {
		started := m.startedAt
		status.StartedAt = &started
	}
	return status
}

func (m *Machine) transition(to types.SessionState) {
	from := m.state
	m.state = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}
