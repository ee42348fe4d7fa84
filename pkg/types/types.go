package types

import (
	"time"
)

// ClientID identifies a single connection. The relay assigns it on connect
// and it is never reused while the connection is alive.
type ClientID string

// Type tags the variant of payload an Envelope carries.
type Type string

// ARCHITECTURAL DISCOVERY: every routable envelope carries one of these tags;
// anything else is rejected before it reaches a room
const (
	TypeLogin         Type = "login"
	TypeJoin          Type = "join"
	TypeLeave         Type = "leave"
	TypeOffer         Type = "offer"
	TypeAnswer        Type = "answer"
	TypeCandidate     Type = "candidate"
	TypeChat          Type = "chat"
	TypeSessionStatus Type = "session_status"
	TypeGetStatus     Type = "get_status"
	TypeMediaState    Type = "media_state"
	TypeError         Type = "error"
)

// Role is what a participant does in a room.
type Role string

const (
	RoleViewer      Role = "viewer"
	RoleBroadcaster Role = "broadcaster"
)

// SessionState is the lifecycle state of a room's teaching session.
type SessionState string

const (
	StateIdle       SessionState = "IDLE"
	StatePreviewing SessionState = "PREVIEWING"
	StateLive       SessionState = "LIVE"
	StateEnded      SessionState = "ENDED"
)

// Action names what caused a session_status envelope. The first three are
// the commands a broadcaster may send; the rest only appear in replies.
type Action string

const (
	ActionStart  Action = "start"
	ActionGoLive Action = "go_live"
	ActionEnd    Action = "end"
	ActionJoin   Action = "join"
	ActionLeave  Action = "leave"
	ActionSync   Action = "sync"
	ActionResume Action = "resume"
	ActionPause  Action = "pause"
)

// Envelope is the unit of routing. From is always stamped by the relay from
// the connection that sent it; an empty To means broadcast.
type Envelope struct {
	ID        string
	Type      Type
	Payload   Payload
	From      ClientID
	To        ClientID
	Room      string
	Ref       string
	Timestamp time.Time
}

// NewEnvelope wraps a payload with its matching type tag.
func NewEnvelope(p Payload) *Envelope {
	return &Envelope{Type: p.Type(), Payload: p}
}

// IsBroadcast reports whether the envelope has no explicit recipient.
func (e *Envelope) IsBroadcast() bool {
	return e.To == ""
}

// Payload is implemented by the payload structs in this package only.
type Payload interface {
	Type() Type
	isPayload()
}

// LoginPayload is sent by a client to claim a role and display name. The
// relay answers with the same type, filling in ClientID and Room.
type LoginPayload struct {
	Role     Role     `json:"role,omitempty"`
	Name     string   `json:"name,omitempty"`
	ClientID ClientID `json:"clientId,omitempty"`
	Room     string   `json:"room,omitempty"`
}

type JoinPayload struct {
	Name string `json:"name,omitempty"`
}

type LeavePayload struct{}

// OfferPayload mirrors an RTCSessionDescriptionInit of type offer.
type OfferPayload struct {
	SDPType SDPType `json:"type"`
	SDP     string  `json:"sdp"`
}

// AnswerPayload mirrors an RTCSessionDescriptionInit of type answer or pranswer.
type AnswerPayload struct {
	SDPType SDPType `json:"type"`
	SDP     string  `json:"sdp"`
}

// CandidatePayload mirrors an RTCIceCandidateInit. An empty Candidate marks
// end-of-candidates and is relayed like any other.
type CandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type ChatPayload struct {
	User   string    `json:"user"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt,omitempty"`
}

// SessionStatusPayload is both the broadcaster's control command and the
// relay's status report. Commands only need Action and, optionally, Topic.
type SessionStatusPayload struct {
	Action      Action       `json:"action,omitempty"`
	State       SessionState `json:"state,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	IsLive      bool         `json:"isLive"`
	ViewerCount int          `json:"viewerCount"`
	Viewers     []ClientID   `json:"viewers,omitempty"`
	Broadcaster ClientID     `json:"broadcaster,omitempty"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
}

type GetStatusPayload struct{}

// MediaStatePayload announces the broadcaster's local device toggles.
type MediaStatePayload struct {
	Mic    bool `json:"mic"`
	Camera bool `json:"camera"`
}

// ErrorPayload is only ever produced by the relay.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (*LoginPayload) Type() Type         { return TypeLogin }
func (*JoinPayload) Type() Type          { return TypeJoin }
func (*LeavePayload) Type() Type         { return TypeLeave }
func (*OfferPayload) Type() Type         { return TypeOffer }
func (*AnswerPayload) Type() Type        { return TypeAnswer }
func (*CandidatePayload) Type() Type     { return TypeCandidate }
func (*ChatPayload) Type() Type          { return TypeChat }
func (*SessionStatusPayload) Type() Type { return TypeSessionStatus }
func (*GetStatusPayload) Type() Type     { return TypeGetStatus }
func (*MediaStatePayload) Type() Type    { return TypeMediaState }
func (*ErrorPayload) Type() Type         { return TypeError }

func (*LoginPayload) isPayload()         {}
func (*JoinPayload) isPayload()          {}
func (*LeavePayload) isPayload()         {}
func (*OfferPayload) isPayload()         {}
func (*AnswerPayload) isPayload()        {}
func (*CandidatePayload) isPayload()     {}
func (*ChatPayload) isPayload()          {}
func (*SessionStatusPayload) isPayload() {}
func (*GetStatusPayload) isPayload()     {}
func (*MediaStatePayload) isPayload()    {}
func (*ErrorPayload) isPayload()         {}

// NewPayload returns an empty payload for the given tag, ready to be decoded into.
func NewPayload(t Type) (Payload, error) {
	switch t {
	case TypeLogin:
		return &LoginPayload{}, nil
	case TypeJoin:
		return &JoinPayload{}, nil
	case TypeLeave:
		return &LeavePayload{}, nil
	case TypeOffer:
		return &OfferPayload{}, nil
	case TypeAnswer:
		return &AnswerPayload{}, nil
	case TypeCandidate:
		return &CandidatePayload{}, nil
	case TypeChat:
		return &ChatPayload{}, nil
	case TypeSessionStatus:
		return &SessionStatusPayload{}, nil
	case TypeGetStatus:
		return &GetStatusPayload{}, nil
	case TypeMediaState:
		return &MediaStatePayload{}, nil
	case TypeError:
		return &ErrorPayload{}, nil
	default:
		return nil, ErrUnknownType
	}
}

// RoomInfo is a point-in-time view of one room, used by the admin API and CLI.
type RoomInfo struct {
	Name        string       `json:"name"`
	State       SessionState `json:"state"`
	Topic       string       `json:"topic,omitempty"`
	Broadcaster ClientID     `json:"broadcaster,omitempty"`
	ViewerCount int          `json:"viewerCount"`
	Members     int          `json:"members"`
	ChatLength  int          `json:"chatLength"`
	CreatedAt   time.Time    `json:"createdAt"`
}
