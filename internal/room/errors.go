package room

import "errors"

var (
	ErrRoomAlreadyRunning = errors.New("room is already running")
	ErrRoomNotRunning     = errors.New("room is not running")
	ErrRoomClosed         = errors.New("room is closed")
	ErrInvalidRoomName    = errors.New("room name must be 1-100 characters of letters, digits, '.', '_' or '-'")
	ErrDuplicateMember    = errors.New("client id already attached to this room")
	ErrOperationPanicked  = errors.New("room operation panicked")
	ErrManagerClosed      = errors.New("room manager is closed")
)
