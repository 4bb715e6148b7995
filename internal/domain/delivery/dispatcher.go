package delivery

import (
	"context"
	"log/slog"
	"time"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/order"
)

// DispatcherConfig holds dispatcher settings.
type DispatcherConfig struct {
	// Destination receives every order notification.
	Destination string

	// SendTimeout bounds each backend call.
	SendTimeout time.Duration
}

// Dispatcher is the entry point for the HTTP layer: it formats orders, sends
// them through the active backend and turns every failure into an Outcome.
type Dispatcher struct {
	selector    *Selector
	manager     *ConnectionManager
	directory   *Directory
	status      *StatusRecorder
	limiter     DestinationLimiter
	redeliverer Redeliverer
	cfg         DispatcherConfig
}

// NewDispatcher creates a dispatcher. manager is nil when the session method
// is not configured; limiter and redeliverer are optional.
func NewDispatcher(
	selector *Selector,
	manager *ConnectionManager,
	directory *Directory,
	status *StatusRecorder,
	limiter DestinationLimiter,
	redeliverer Redeliverer,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		selector:    selector,
		manager:     manager,
		directory:   directory,
		status:      status,
		limiter:     limiter,
		redeliverer: redeliverer,
		cfg:         cfg,
	}
}

// SubmitOrder renders an order and delivers it to the configured destination.
func (d *Dispatcher) SubmitOrder(ctx context.Context, p order.Payload) *SubmitResult {
	msg := &Message{
		Destination: d.cfg.Destination,
		Text:        order.Format(p),
		Orderer:     p.Orderer,
	}

	outcome := d.deliver(ctx, msg, true)
	result := &SubmitResult{
		Accepted:     outcome.Success,
		Outcome:      outcome,
		RenderedText: msg.Text,
	}

	if !outcome.Success && d.redeliverer != nil && isRedeliverable(common.DeliveryKind(outcome.Error)) {
		if err := d.redeliverer.EnqueueRedelivery(msg); err != nil {
			slog.Error("enqueue redelivery failed",
				"request_id", common.RequestID(ctx),
				"destination", msg.Destination,
				"error", err,
			)
		} else {
			redeliveriesEnqueued.Inc()
			result.Queued = true
			result.Accepted = true
		}
	}

	return result
}

// Redeliver retries a message from the redelivery queue. A non-nil error tells
// the queue to schedule another try.
func (d *Dispatcher) Redeliver(ctx context.Context, msg *Message) error {
	outcome := d.deliver(ctx, msg, false)
	if outcome.Success {
		return nil
	}
	return common.NewDeliveryError(common.DeliveryKind(outcome.Error), string(outcome.Method), outcome.Reason)
}

func (d *Dispatcher) deliver(ctx context.Context, msg *Message, limited bool) Outcome {
	start := time.Now()
	requestID := common.RequestID(ctx)

	backend := d.selector.Active()
	if backend == nil {
		outcome := OutcomeFor("", common.NewDeliveryError(common.KindConfigMissing, "", "no delivery method active"))
		d.status.Record(outcome)
		return outcome
	}

	if limited && d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, msg.Destination)
		if err != nil {
			// Fail open when the limiter store is unavailable.
			slog.Error("destination rate limit check failed, proceeding", "destination", msg.Destination, "error", err)
		} else if !allowed {
			outcome := OutcomeFor(backend.Method(), common.NewDeliveryError(common.KindRateLimited,
				string(backend.Method()), "rate limit exceeded for destination: "+msg.Destination))
			d.record(outcome, start)
			return outcome
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	err := backend.Send(sendCtx, msg)
	outcome := OutcomeFor(backend.Method(), err)
	d.record(outcome, start)

	if err != nil {
		slog.Error("notification delivery failed",
			"request_id", requestID,
			"method", backend.Method(),
			"destination", msg.Destination,
			"kind", outcome.Error,
			"error", err,
			"duration", time.Since(start),
		)
	} else {
		slog.Info("notification delivered",
			"request_id", requestID,
			"method", backend.Method(),
			"destination", msg.Destination,
			"duration", time.Since(start),
		)
	}
	return outcome
}

func (d *Dispatcher) record(o Outcome, start time.Time) {
	d.status.Record(o)
	observeDelivery(o, time.Since(start))
}

// isRedeliverable reports whether retrying later can change the result.
func isRedeliverable(kind common.DeliveryKind) bool {
	return kind == common.KindTransportFailure || kind == common.KindNotConnected
}

// Status reports the active method, the connection state and delivery stats.
func (d *Dispatcher) Status() StatusResponse {
	resp := StatusResponse{
		Method:          d.selector.ActiveMethod(),
		ConnectionState: StateUninitialized,
		ChannelCount:    d.directory.Len(),
		Destination:     d.cfg.Destination,
		DeliveryStats:   d.status.Stats(),
	}

	avail := d.selector.Availability()
	for _, m := range precedence {
		if avail.Has(m) {
			resp.Available = append(resp.Available, m)
		}
	}

	if d.manager != nil {
		snap := d.manager.Snapshot()
		resp.ConnectionState = snap.State
		resp.Attempts = snap.Attempts
		resp.MaxAttempts = snap.MaxAttempts
		resp.LastError = snap.LastError
	}
	return resp
}

// Channels returns a snapshot of the channel directory.
func (d *Dispatcher) Channels() ChannelsResponse {
	state := StateUninitialized
	if d.manager != nil {
		state = d.manager.Snapshot().State
	}
	return ChannelsResponse{
		State:   state,
		Method:  d.selector.ActiveMethod(),
		Handles: d.directory.Snapshot(),
	}
}

// Reconnect restarts the session login when the session method is active.
func (d *Dispatcher) Reconnect() ActionResponse {
	var outcome Outcome
	switch {
	case d.manager == nil:
		outcome = OutcomeFor(MethodSession, common.NewDeliveryError(common.KindConfigMissing,
			string(MethodSession), "session credentials are not configured"))
	case d.selector.ActiveMethod() != MethodSession:
		outcome = OutcomeFor(MethodSession, common.NewDeliveryError(common.KindNotConnected,
			string(MethodSession), "session method is not active; switch to it first"))
	default:
		snap := d.manager.Reconnect()
		outcome = connectionOutcome(snap)
	}
	return ActionResponse{Outcome: outcome, Status: d.Status()}
}

// SwitchMethod changes the active delivery method. Unknown names are a
// validation error; methods without credentials produce a failed outcome.
func (d *Dispatcher) SwitchMethod(ctx context.Context, name string) (ActionResponse, error) {
	m, err := ParseMethod(name)
	if err != nil {
		return ActionResponse{}, err
	}

	active, err := d.selector.Switch(ctx, m)
	outcome := OutcomeFor(active, err)
	if err != nil {
		slog.Warn("delivery method switch rejected", "requested", name, "error", err)
	}
	return ActionResponse{Outcome: outcome, Status: d.Status()}, nil
}

func connectionOutcome(snap ConnectionSnapshot) Outcome {
	switch snap.State {
	case StateConnected:
		return Outcome{Success: true, Method: MethodSession}
	case StateExhaustedRetries:
		return Outcome{Method: MethodSession, Error: string(common.KindRetriesExhausted), Reason: snap.LastError}
	default:
		return Outcome{Method: MethodSession, Error: string(common.KindNotConnected), Reason: snap.LastError}
	}
}
