package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventTaskSubmitted = "task.submitted"
	PayloadV1          = "v1"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope wraps every event written to a stream.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// TaskSubmitted is the payload of a task.submitted event.
type TaskSubmitted struct {
	TaskID string `json:"task_id"`
	Topic  string `json:"topic"`
}

// NewTaskEnvelope wraps a submitted task in a fresh v1 envelope.
func NewTaskEnvelope(taskID, topic string) (Envelope, error) {
	data, err := json.Marshal(TaskSubmitted{TaskID: taskID, Topic: topic})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Envelope{
		EventID:        uuid.NewString(),
		EventType:      EventTaskSubmitted,
		OccurredAt:     time.Now().UTC(),
		PayloadVersion: PayloadV1,
		Data:           data,
	}, nil
}

func (e Envelope) check() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: event_id is required", ErrInvalidEnvelope)
	case e.EventType == "":
		return fmt.Errorf("%w: event_type is required", ErrInvalidEnvelope)
	case e.PayloadVersion == "":
		return fmt.Errorf("%w: payload_version is required", ErrInvalidEnvelope)
	case e.Attempt < 0:
		return fmt.Errorf("%w: attempt must be >= 0", ErrInvalidEnvelope)
	case len(e.Data) == 0:
		return fmt.Errorf("%w: data is required", ErrInvalidEnvelope)
	}
	return nil
}

// Task decodes the payload of a task.submitted envelope.
func (e Envelope) Task() (TaskSubmitted, error) {
	var t TaskSubmitted
	if e.EventType != EventTaskSubmitted {
		return t, fmt.Errorf("%w: unexpected event type %q", ErrInvalidEnvelope, e.EventType)
	}
	if err := json.Unmarshal(e.Data, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return t, nil
}

func decodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, env.check()
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}
