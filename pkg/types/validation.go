package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pion/webrtc/v4"
)

const (
	MaxRoomNameLength = 100
	MaxNameLength     = 100
	MaxChatLength     = 4000
	MaxTopicLength    = 200
	MaxSDPBytes       = 64 * 1024
	MaxCandidateBytes = 1024
)

var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// IsValidRoomName checks the room query parameter.
func IsValidRoomName(name string) bool {
	if len(name) < 1 || len(name) > MaxRoomNameLength {
		return false
	}
	return roomNameRegex.MatchString(name)
}

// IsClientType reports whether clients are allowed to send envelopes of this
// type. error is produced by the relay only.
func IsClientType(t Type) bool {
	switch t {
	case TypeLogin, TypeJoin, TypeLeave,
		TypeOffer, TypeAnswer, TypeCandidate,
		TypeChat, TypeSessionStatus, TypeGetStatus, TypeMediaState:
		return true
	default:
		return false
	}
}

// Validate checks an inbound envelope. It may normalize the payload, for
// example by filling in an omitted SDP type.
func (e *Envelope) Validate() error {
	if !IsClientType(e.Type) {
		return fmt.Errorf("%w: type %q cannot be sent by clients", ErrInvalidEnvelope, e.Type)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidEnvelope)
	}
	if e.Payload.Type() != e.Type {
		return fmt.Errorf("%w: payload %q does not match type %q", ErrInvalidEnvelope, e.Payload.Type(), e.Type)
	}

	switch p := e.Payload.(type) {
	case *LoginPayload:
		switch p.Role {
		case "", RoleViewer, RoleBroadcaster:
		default:
			return fmt.Errorf("%w: unknown role %q", ErrInvalidEnvelope, p.Role)
		}
		return checkLength("name", p.Name, MaxNameLength)
	case *JoinPayload:
		return checkLength("name", p.Name, MaxNameLength)
	case *OfferPayload:
		if p.SDPType == webrtc.SDPType(0) {
			p.SDPType = webrtc.SDPTypeOffer
		}
		if p.SDPType != webrtc.SDPTypeOffer {
			return fmt.Errorf("%w: offer carries sdp type %s", ErrInvalidEnvelope, p.SDPType)
		}
		return validateDescription(p.Description())
	case *AnswerPayload:
		if p.SDPType == webrtc.SDPType(0) {
			p.SDPType = webrtc.SDPTypeAnswer
		}
		if p.SDPType != webrtc.SDPTypeAnswer && p.SDPType != webrtc.SDPTypePranswer {
			return fmt.Errorf("%w: answer carries sdp type %s", ErrInvalidEnvelope, p.SDPType)
		}
		return validateDescription(p.Description())
	case *CandidatePayload:
		if p.Candidate == "" {
			return nil
		}
		if len(p.Candidate) > MaxCandidateBytes {
			return fmt.Errorf("%w: candidate too long", ErrInvalidEnvelope)
		}
		if !strings.HasPrefix(p.Candidate, "candidate:") {
			return fmt.Errorf("%w: candidate must start with \"candidate:\"", ErrInvalidEnvelope)
		}
		return nil
	case *ChatPayload:
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("%w: empty chat message", ErrInvalidEnvelope)
		}
		if err := checkLength("text", p.Text, MaxChatLength); err != nil {
			return err
		}
		return checkLength("user", p.User, MaxNameLength)
	case *SessionStatusPayload:
		switch p.Action {
		case ActionStart, ActionGoLive, ActionEnd:
		default:
			return fmt.Errorf("%w: unsupported session action %q", ErrInvalidEnvelope, p.Action)
		}
		return checkLength("topic", p.Topic, MaxTopicLength)
	}
	return nil
}

func checkLength(field, value string, max int) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s is not valid utf-8", ErrInvalidEnvelope, field)
	}
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidEnvelope, field, max)
	}
	return nil
}
