package delivery

import (
	"context"
	"time"
)

// Session logs in to a chat platform and yields a live connection.
// Implementations live in infra/session.
type Session interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one authenticated chat connection.
type Conn interface {
	// Join enters a channel through an invite link.
	Join(ctx context.Context, link string) error

	// Channels lists the channels this account can post to.
	Channels(ctx context.Context) ([]ChannelHandle, error)

	// Send posts text to the channel with the given ID.
	Send(ctx context.Context, channelID, text string) error

	// Done is closed when the connection drops.
	Done() <-chan struct{}

	Close() error
}

// Timers schedules deferred callbacks. The returned stop function cancels the
// callback if it has not fired yet.
type Timers interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realTimers struct{}

func (realTimers) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
