package websocket

import "errors"

// Connection-related errors
var (
	ErrEncodeFailed = errors.New("failed to encode envelope")
)

// Registry-related errors
var (
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrDuplicateClientID = errors.New("client id already registered")
)

// Handler-related errors
var (
	ErrInvalidParameters = errors.New("invalid connection parameters")
	ErrConnectionSetup   = errors.New("connection setup failed")
)
