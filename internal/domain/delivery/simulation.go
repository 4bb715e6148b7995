package delivery

import (
	"context"
	"log/slog"
	"sync/atomic"
)

var (
	_ Backend   = (*SimulationBackend)(nil)
	_ Lifecycle = (*SimulationBackend)(nil)
)

// SimulationBackend pretends to deliver. It performs no I/O and always
// succeeds, so the relay works with zero credentials.
type SimulationBackend struct {
	directory    *Directory
	destinations []string
	sent         atomic.Int64
}

// NewSimulationBackend creates a simulation backend that registers one
// simulated channel per destination on activation.
func NewSimulationBackend(directory *Directory, destinations []string) *SimulationBackend {
	return &SimulationBackend{directory: directory, destinations: destinations}
}

func (b *SimulationBackend) Method() Method { return MethodSimulation }

func (b *SimulationBackend) Send(ctx context.Context, msg *Message) error {
	n := b.sent.Add(1)
	slog.Info("simulated delivery",
		"destination", msg.Destination,
		"seq", n,
		"text", msg.Text,
	)
	return nil
}

// Sent returns how many messages were simulated.
func (b *SimulationBackend) Sent() int64 {
	return b.sent.Load()
}

// Activate bootstraps the directory with simulated handles.
func (b *SimulationBackend) Activate(ctx context.Context) error {
	b.directory.ReplaceAll(StaticHandles(b.destinations, func(d string) string { return "sim-" + d }, true))
	return nil
}

func (b *SimulationBackend) Deactivate() {}

// StaticHandles builds one handle per destination for backends whose channels
// come from configuration rather than a live listing.
func StaticHandles(destinations []string, idFor func(destination string) string, simulated bool) []ChannelHandle {
	handles := make([]ChannelHandle, 0, len(destinations))
	for _, d := range destinations {
		handles = append(handles, ChannelHandle{
			ID:          idFor(d),
			Destination: d,
			MemberCount: 1,
			Simulated:   simulated,
		})
	}
	return handles
}
