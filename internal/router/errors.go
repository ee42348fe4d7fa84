package router

import "errors"

var (
	ErrSenderNotConnected = errors.New("sender is not a member of this room")
	ErrNilEnvelope        = errors.New("nil envelope")
)
