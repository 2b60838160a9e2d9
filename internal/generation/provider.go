package generation

import (
	"context"
	"encoding/json"
)

// Provider is the contract of the external long-running generation service.
// Implementations return *ProviderError for failed calls.
type Provider interface {
	// Start submits a generation request and returns the provider's task id.
	Start(ctx context.Context, req StartRequest) (string, error)

	// Poll fetches the current state of a previously started task.
	Poll(ctx context.Context, externalTaskID string) (*TaskStatusPayload, error)
}

// StartRequest is the body sent to the provider to begin a generation.
type StartRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	Model        string `json:"model"`
	Instrumental bool   `json:"instrumental"`
	ChoiceCount  int    `json:"choice_count"`
}

// TaskStatusPayload is the provider's view of a task. Everything but Status
// may be absent, and clips are kept raw so one malformed clip cannot spoil
// the rest.
type TaskStatusPayload struct {
	TaskID   string      `json:"task_id,omitempty"`
	Status   string      `json:"status"`
	Progress *string     `json:"progress,omitempty"`
	Error    *string     `json:"error,omitempty"`
	Result   *TaskResult `json:"result,omitempty"`
}

// TaskResult holds the clips produced so far.
type TaskResult struct {
	Clips []json.RawMessage `json:"clips"`
}

// Clip is the provider's description of one generated track. Loosely typed
// fields are decoded by Parse.
type Clip struct {
	Index          *int            `json:"index"`
	AudioURL       string          `json:"audio_url"`
	StreamAudioURL string          `json:"stream_audio_url"`
	VideoURL       string          `json:"video_url"`
	ImageURL       string          `json:"image_url"`
	Title          string          `json:"title"`
	Duration       json.RawMessage `json:"duration"`
	Tags           json.RawMessage `json:"tags"`
}
