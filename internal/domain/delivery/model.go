package delivery

// SubmitResult is returned for every submitted order.
type SubmitResult struct {
	// Accepted is true when the notification was delivered or handed to the
	// redelivery queue.
	Accepted     bool    `json:"accepted"`
	Queued       bool    `json:"queued"`
	Outcome      Outcome `json:"outcome"`
	RenderedText string  `json:"rendered_text"`
}

// StatusResponse is the relay status view.
type StatusResponse struct {
	Method          Method          `json:"method"`
	Available       []Method        `json:"available_methods"`
	ConnectionState ConnectionState `json:"connection_state"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	ChannelCount    int             `json:"channel_count"`
	Destination     string          `json:"destination"`
	DeliveryStats
}

// ChannelsResponse is a read-only snapshot of the channel directory.
type ChannelsResponse struct {
	State   ConnectionState `json:"state"`
	Method  Method          `json:"method"`
	Handles []ChannelHandle `json:"handles"`
}

// ActionResponse is returned by reconnect and method switch.
type ActionResponse struct {
	Outcome Outcome        `json:"outcome"`
	Status  StatusResponse `json:"status"`
}

// SwitchRequest is the body of a method switch.
type SwitchRequest struct {
	Method string `json:"method" binding:"required"`
}
