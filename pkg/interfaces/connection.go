package interfaces

import "liveclass/pkg/types"

// Connection is one attached client as seen by rooms and the router.
// ARCHITECTURAL DISCOVERY: Send never blocks the caller; implementations
// queue the envelope and report a full or closed queue as an error so a
// slow peer cannot stall the room that is delivering to it
type Connection interface {
	// ID returns the relay-assigned client id.
	ID() types.ClientID

	// Send queues an envelope for delivery.
	Send(env *types.Envelope) error

	// Close releases the transport. Safe to call more than once.
	Close() error
}
