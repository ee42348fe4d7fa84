package interfaces

import (
	"errors"
	"fmt"

	"liveclass/pkg/types"
)

// Errors returned by Connection.Send. Both match types.ErrTransportFailure.
var (
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", types.ErrTransportFailure)
	ErrSendQueueFull    = fmt.Errorf("%w: send queue full", types.ErrTransportFailure)
)

// IsTransportError reports whether err came from the transport rather than
// from routing or session rules.
func IsTransportError(err error) bool {
	return errors.Is(err, types.ErrTransportFailure)
}
