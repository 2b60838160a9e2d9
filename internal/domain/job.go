package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Choice count bounds accepted by the provider.
const (
	MinChoiceCount = 1
	MaxChoiceCount = 3
)

// GenerationRequest is what a caller asks the provider to generate.
type GenerationRequest struct {
	Prompt       string `json:"prompt" validate:"max=3000"`
	Style        string `json:"style" validate:"max=1000"`
	Title        string `json:"title" validate:"max=200"`
	Model        string `json:"model" validate:"required,max=100"`
	Instrumental bool   `json:"instrumental"`
	ChoiceCount  int    `json:"choice_count"`
}

// Validate checks the fields that the struct tags cannot express.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" && strings.TrimSpace(r.Style) == "" {
		return ErrEmptyPrompt
	}
	if strings.TrimSpace(r.Model) == "" {
		return ErrEmptyModel
	}
	return nil
}

// ClampChoiceCount forces n into [min, max]. Zero means "not specified" and
// maps to min.
func ClampChoiceCount(n, min, max int) int {
	if min < MinChoiceCount {
		min = MinChoiceCount
	}
	if max > MaxChoiceCount || max < min {
		max = MaxChoiceCount
	}
	switch {
	case n < min:
		return min
	case n > max:
		return max
	default:
		return n
	}
}

// Job is one generation request tracked through its lifecycle.
// It becomes immutable once Status is terminal.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	ExternalTaskID string     `json:"external_task_id"`
	Status         JobStatus  `json:"status"`
	ChoiceCount    int        `json:"choice_count"`
	Model          string     `json:"model"`
	Prompt         string     `json:"prompt"`
	Style          string     `json:"style"`
	Title          string     `json:"title"`
	Instrumental   bool       `json:"instrumental"`
	ProgressInfo   *string    `json:"progress_info,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	PollAttempts   int        `json:"poll_attempts"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a PENDING job for a request the provider has accepted under
// externalTaskID. The choice count must already be clamped.
func NewJob(req GenerationRequest, externalTaskID string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:             uuid.New(),
		ExternalTaskID: externalTaskID,
		Status:         JobStatusPending,
		ChoiceCount:    req.ChoiceCount,
		Model:          req.Model,
		Prompt:         req.Prompt,
		Style:          req.Style,
		Title:          req.Title,
		Instrumental:   req.Instrumental,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("%w: job id cannot be empty", ErrValidation)
	}
	if j.ExternalTaskID == "" {
		return ErrEmptyExternalTaskID
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobStatus, j.Status)
	}
	if j.ChoiceCount < MinChoiceCount || j.ChoiceCount > MaxChoiceCount {
		return fmt.Errorf("%w: choice count %d outside [%d, %d]",
			ErrValidation, j.ChoiceCount, MinChoiceCount, MaxChoiceCount)
	}
	if j.PollAttempts < 0 {
		return fmt.Errorf("%w: poll attempts cannot be negative", ErrValidation)
	}
	return nil
}

// AssignExternalTaskID sets the provider task id. It can only be set once.
func (j *Job) AssignExternalTaskID(id string) error {
	if id == "" {
		return ErrEmptyExternalTaskID
	}
	if j.ExternalTaskID != "" && j.ExternalTaskID != id {
		return ErrExternalTaskIDSet
	}
	j.ExternalTaskID = id
	return nil
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	c.ProgressInfo = cloneString(j.ProgressInfo)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Apply returns a copy of j moved to next with the given progress and error
// details. Timestamps are stamped here and CompletedAt is set on entry into a
// terminal state. A terminal job is returned unchanged. j itself is never
// modified so the caller can discard the copy if persisting it fails.
func (j *Job) Apply(next JobStatus, progress, errMsg *string) (*Job, bool, error) {
	if j.Status.IsTerminal() {
		return j, false, nil
	}
	status, changed, err := Transition(j.Status, next)
	if err != nil {
		return j, false, err
	}

	c := j.Clone()
	now := time.Now().UTC()
	if changed {
		c.Status = status
		if status.IsTerminal() {
			c.CompletedAt = &now
		}
		if status == JobStatusFailure {
			c.ErrorMessage = cloneString(errMsg)
		}
	}
	if progress != nil {
		c.ProgressInfo = cloneString(progress)
	}
	c.UpdatedAt = now
	return c, changed, nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
