package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Heartbeat periodically logs that the relay is alive together with its
// delivery state, so a silent session drop shows up in the logs.
type Heartbeat struct {
	dispatcher *Dispatcher
	cron       *cron.Cron
	schedule   string
}

// NewHeartbeat creates a heartbeat on a cron schedule such as "@every 5m".
func NewHeartbeat(dispatcher *Dispatcher, schedule string) (*Heartbeat, error) {
	if schedule == "" {
		schedule = "@every 5m"
	}
	h := &Heartbeat{
		dispatcher: dispatcher,
		cron:       cron.New(),
		schedule:   schedule,
	}
	if _, err := h.cron.AddFunc(schedule, h.beat); err != nil {
		return nil, fmt.Errorf("parsing heartbeat schedule %q: %w", schedule, err)
	}
	return h, nil
}

// Run starts the schedule and blocks until ctx is cancelled.
// Should be called in a goroutine.
func (h *Heartbeat) Run(ctx context.Context) {
	slog.Info("heartbeat started", "schedule", h.schedule)
	h.cron.Start()

	<-ctx.Done()
	<-h.cron.Stop().Done()
	slog.Info("heartbeat stopped")
}

// beat logs one liveness line.
func (h *Heartbeat) beat() {
	s := h.dispatcher.Status()

	if s.Method == MethodSession && s.ConnectionState != StateConnected {
		slog.Warn("heartbeat: session not connected",
			"state", s.ConnectionState,
			"attempts", s.Attempts,
			"last_error", s.LastError,
		)
		return
	}

	slog.Info("heartbeat: relay alive",
		"method", s.Method,
		"state", s.ConnectionState,
		"channels", s.ChannelCount,
		"sent", s.Sent,
		"failed", s.Failed,
		"uptime", s.Uptime,
	)
}
