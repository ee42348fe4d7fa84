package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// StatusPublisher mirrors session status changes to systems outside the relay.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, room string, status *types.SessionStatusPayload) error
	Close() error
}
