// Package breaker guards HTTP delivery backends with a circuit breaker so an
// unreachable provider fails fast instead of holding every request for the
// full send timeout.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/delivery"

	"github.com/sony/gobreaker"
)

var (
	_ delivery.Backend   = (*Backend)(nil)
	_ delivery.Lifecycle = (*Backend)(nil)
)

// Config holds the configuration for a circuit breaker.
type Config struct {
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state to clear counts.
	Interval time.Duration

	// Timeout is how long the circuit stays open before a trial request.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the circuit.
	FailureThreshold float64

	// MinRequests is the minimum number of requests before the ratio counts.
	MinRequests uint32
}

// DefaultConfig returns settings suited to chat provider APIs.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Backend wraps a delivery backend. Only transport failures count against the
// circuit; a missing channel or configuration says nothing about the
// provider's health.
type Backend struct {
	inner   delivery.Backend
	breaker *gobreaker.CircuitBreaker
}

// Wrap returns inner guarded by a circuit breaker named after its method.
func Wrap(inner delivery.Backend, cfg Config) *Backend {
	settings := gobreaker.Settings{
		Name:        string(inner.Method()),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || common.KindOf(err) != common.KindTransportFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("method", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &Backend{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *Backend) Method() delivery.Method { return b.inner.Method() }

// Send forwards to the wrapped backend unless the circuit is open.
func (b *Backend) Send(ctx context.Context, msg *delivery.Message) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return common.NewDeliveryError(common.KindTransportFailure, string(b.inner.Method()),
			fmt.Sprintf("%s provider unavailable: %v", b.inner.Method(), err))
	}
	return err
}

// State returns the circuit state.
func (b *Backend) State() gobreaker.State {
	return b.breaker.State()
}

func (b *Backend) Activate(ctx context.Context) error {
	if lc, ok := b.inner.(delivery.Lifecycle); ok {
		return lc.Activate(ctx)
	}
	return nil
}

func (b *Backend) Deactivate() {
	if lc, ok := b.inner.(delivery.Lifecycle); ok {
		lc.Deactivate()
	}
}
