package types

import (
	"errors"
	"fmt"
)

// Error kinds that cross the wire. Everything else is internal and is
// reported to clients as "internal".
var (
	ErrRecipientNotFound = errors.New("recipient not found in room")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrAlreadyActive     = errors.New("session already active")
	ErrTransportFailure  = errors.New("transport failure")
	ErrNotBroadcaster    = errors.New("only the broadcaster can do that")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrInvalidEnvelope   = errors.New("invalid envelope")
	ErrRateLimited       = errors.New("rate limit exceeded")

	ErrUnknownType = fmt.Errorf("%w: unknown type", ErrInvalidEnvelope)
)

const (
	CodeRecipientNotFound = "recipient_not_found"
	CodeSessionNotActive  = "session_not_active"
	CodeAlreadyActive     = "already_active"
	CodeTransportFailure  = "transport_failure"
	CodeNotBroadcaster    = "not_broadcaster"
	CodeInvalidTransition = "invalid_transition"
	CodeInvalidEnvelope   = "invalid_envelope"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrRecipientNotFound, CodeRecipientNotFound},
	{ErrSessionNotActive, CodeSessionNotActive},
	{ErrAlreadyActive, CodeAlreadyActive},
	{ErrTransportFailure, CodeTransportFailure},
	{ErrNotBroadcaster, CodeNotBroadcaster},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrInvalidEnvelope, CodeInvalidEnvelope},
	{ErrRateLimited, CodeRateLimited},
}

// ErrorCode maps an error to its wire code.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode turns a wire code back into an error that matches the
// sentinel with errors.Is. Unknown codes yield a plain error.
func ErrorForCode(code, message string) error {
	for _, c := range errorCodes {
		if c.code != code {
			continue
		}
		if message == "" || message == c.err.Error() {
			return c.err
		}
		return &RemoteError{Code: code, Message: message, kind: c.err}
	}
	return &RemoteError{Code: code, Message: message}
}

// RemoteError is an error reported by the relay.
type RemoteError struct {
	Code    string
	Message string
	kind    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.kind
}

// NewErrorEnvelope builds the reply sent to a client whose request failed.
func NewErrorEnvelope(err error, ref string) *Envelope {
	env := NewEnvelope(&ErrorPayload{Code: ErrorCode(err), Message: err.Error()})
	env.Ref = ref
	return env
}
