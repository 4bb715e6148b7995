package delivery

import "context"

// DestinationLimiter caps how many notifications one destination receives.
// Implementations live in infra/ratelimit/.
type DestinationLimiter interface {
	// Allow reports whether another notification may go to destination now.
	Allow(ctx context.Context, destination string) (bool, error)
}

// Redeliverer hands a failed message to the background redelivery queue.
type Redeliverer interface {
	EnqueueRedelivery(msg *Message) error
}
