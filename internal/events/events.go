package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
)

// Job lifecycle event types.
const (
	JobSubmitted = "job.submitted"
	JobCancelled = "job.cancelled"
	JobFinished  = "job.finished"
)

// JobEvent records a change in a job's lifecycle.
type JobEvent struct {
	ID     uuid.UUID        `json:"id"`
	Type   string           `json:"type"`
	JobID  uuid.UUID        `json:"job_id"`
	Status domain.JobStatus `json:"status"`

	// Payload carries event-specific details serialized as JSON. It may be
	// empty.
	Payload json.RawMessage `json:"payload,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// UnmarshalPayload decodes the event payload into v.
func (e *JobEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewJobEvent creates an event of eventType for the given job. payload may
// be nil.
func NewJobEvent(eventType string, jobID uuid.UUID, status domain.JobStatus, payload interface{}) (*JobEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &JobEvent{
		ID:         uuid.New(),
		Type:       eventType,
		JobID:      jobID,
		Status:     status,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// EventHandler processes emitted events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventEmitter publishes events to whoever is listening.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *JobEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}
