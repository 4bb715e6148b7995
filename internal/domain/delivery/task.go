package delivery

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeRedeliver is the asynq task type for retrying a failed delivery.
const TaskTypeRedeliver = "delivery:redeliver"

// RedeliverPayload is the serialized payload of a redelivery task.
type RedeliverPayload struct {
	Message Message `json:"message"`
}

// NewRedeliverTask creates an asynq task carrying msg.
func NewRedeliverTask(msg *Message) (*asynq.Task, error) {
	payload, err := json.Marshal(RedeliverPayload{Message: *msg})
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeRedeliver, payload), nil
}

// ParseRedeliverPayload deserializes the task payload.
func ParseRedeliverPayload(data []byte) (*RedeliverPayload, error) {
	var p RedeliverPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling task payload: %w", err)
	}
	if p.Message.Destination == "" || p.Message.Text == "" {
		return nil, fmt.Errorf("redelivery payload missing destination or text")
	}
	return &p, nil
}
