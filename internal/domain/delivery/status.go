package delivery

import (
	"sync"
	"time"
)

// StatusRecorder keeps the process-wide record of delivery outcomes.
type StatusRecorder struct {
	mu          sync.RWMutex
	startedAt   time.Time
	lastOutcome *Outcome
	lastAt      time.Time
	sent        int64
	failed      int64
}

// NewStatusRecorder creates an empty recorder.
func NewStatusRecorder() *StatusRecorder {
	return &StatusRecorder{startedAt: time.Now()}
}

// Record merges an outcome into the status.
func (r *StatusRecorder) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastOutcome = &o
	r.lastAt = time.Now()
	if o.Success {
		r.sent++
	} else {
		r.failed++
	}
}

// DeliveryStats is the recorder's view for status responses.
type DeliveryStats struct {
	LastOutcome *Outcome   `json:"last_outcome,omitempty"`
	LastAt      *time.Time `json:"last_at,omitempty"`
	Sent        int64      `json:"sent"`
	Failed      int64      `json:"failed"`
	Uptime      string     `json:"uptime"`
}

// Stats returns a copy of the recorded state.
func (r *StatusRecorder) Stats() DeliveryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := DeliveryStats{
		Sent:   r.sent,
		Failed: r.failed,
		Uptime: time.Since(r.startedAt).Round(time.Second).String(),
	}
	if r.lastOutcome != nil {
		o := *r.lastOutcome
		at := r.lastAt
		s.LastOutcome = &o
		s.LastAt = &at
	}
	return s
}
