package delivery

import (
	"context"

	"orderrelay/internal/common"
)

// Message is a rendered notification addressed to a destination.
type Message struct {
	Destination string `json:"destination"`
	Text        string `json:"text"`
	// Orderer is carried alongside the text so backends that need structured
	// arguments do not have to re-parse the rendered message.
	Orderer string `json:"orderer,omitempty"`
}

// Backend delivers a message through one method.
// Failures are returned as *common.DeliveryError values.
type Backend interface {
	Method() Method
	Send(ctx context.Context, msg *Message) error
}

// Lifecycle is implemented by backends that need set-up when they become the
// active method and tear-down when they are replaced.
type Lifecycle interface {
	Activate(ctx context.Context) error
	Deactivate()
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Success bool   `json:"success"`
	Method  Method `json:"method"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// OutcomeFor converts a backend result into an Outcome.
func OutcomeFor(method Method, err error) Outcome {
	if err == nil {
		return Outcome{Success: true, Method: method}
	}
	return Outcome{
		Success: false,
		Method:  method,
		Error:   string(common.KindOf(err)),
		Reason:  common.Reason(err),
	}
}
