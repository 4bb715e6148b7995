package delivery

import "context"

var (
	_ Backend   = (*SessionBackend)(nil)
	_ Lifecycle = (*SessionBackend)(nil)
)

// SessionBackend delivers through the connection manager's live session.
type SessionBackend struct {
	manager *ConnectionManager
}

// NewSessionBackend creates a backend bound to manager.
func NewSessionBackend(manager *ConnectionManager) *SessionBackend {
	return &SessionBackend{manager: manager}
}

func (b *SessionBackend) Method() Method { return MethodSession }

func (b *SessionBackend) Send(ctx context.Context, msg *Message) error {
	return b.manager.Send(ctx, msg)
}

// Activate kicks off the first login; it does not wait for it.
func (b *SessionBackend) Activate(ctx context.Context) error {
	b.manager.Start()
	return nil
}

func (b *SessionBackend) Deactivate() {
	b.manager.Stop()
}
