package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"orderrelay/internal/common"
)

type activeBackend struct {
	backend Backend
}

// Selector holds the one active backend and switches between registered
// backends. The active backend is published only after it has been activated.
type Selector struct {
	backends map[Method]Backend
	avail    Availability

	active   atomic.Pointer[activeBackend]
	switchMu sync.Mutex
}

// NewSelector registers backends keyed by their method. Only methods marked
// available in avail can be activated; simulation always can.
func NewSelector(avail Availability, backends ...Backend) *Selector {
	bm := make(map[Method]Backend, len(backends))
	for _, b := range backends {
		bm[b.Method()] = b
	}
	return &Selector{backends: bm, avail: avail}
}

// Availability reports which methods have credentials.
func (s *Selector) Availability() Availability {
	return s.avail
}

// Active returns the active backend, or nil before Start.
func (s *Selector) Active() Backend {
	if a := s.active.Load(); a != nil {
		return a.backend
	}
	return nil
}

// ActiveMethod returns the active method, or "" before Start.
func (s *Selector) ActiveMethod() Method {
	if b := s.Active(); b != nil {
		return b.Method()
	}
	return ""
}

// Start activates preferred, or the selected method when preferred is auto or
// unavailable. If that activation fails the simulation backend is used.
func (s *Selector) Start(ctx context.Context, preferred Method) Method {
	target := preferred
	if target == MethodAuto || !s.avail.Has(target) {
		if target != MethodAuto {
			slog.Warn("preferred delivery method unavailable, selecting automatically", "method", preferred)
		}
		target = Select(s.avail)
	}

	m, err := s.Switch(ctx, target)
	if err == nil {
		return m
	}

	slog.Error("activating delivery method failed, falling back to simulation", "method", target, "error", err)
	m, err = s.Switch(ctx, MethodSimulation)
	if err != nil {
		// Simulation activation has no failure path; keep the process up regardless.
		slog.Error("activating simulation failed", "error", err)
	}
	return m
}

// Switch makes m the active method. MethodAuto re-runs Select. Switching to
// the method that is already active re-initializes it.
func (s *Selector) Switch(ctx context.Context, m Method) (Method, error) {
	if m == MethodAuto {
		m = Select(s.avail)
	}

	backend, ok := s.backends[m]
	if !ok || !s.avail.Has(m) {
		return s.ActiveMethod(), common.NewDeliveryError(common.KindConfigMissing, string(m),
			fmt.Sprintf("credentials for %s are not configured", m))
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	prev := s.Active()
	if prev != nil && prev.Method() == m {
		deactivate(prev)
	}

	if lc, ok := backend.(Lifecycle); ok {
		if err := lc.Activate(ctx); err != nil {
			return s.ActiveMethod(), common.WrapDeliveryError(common.KindTransportFailure, string(m),
				fmt.Errorf("activating backend: %w", err))
		}
	}

	s.active.Store(&activeBackend{backend: backend})
	if prev != nil && prev.Method() != m {
		deactivate(prev)
	}

	observeActiveMethod(m)
	slog.Info("delivery method activated", "method", m)
	return m, nil
}

func deactivate(b Backend) {
	if lc, ok := b.(Lifecycle); ok {
		lc.Deactivate()
	}
}
