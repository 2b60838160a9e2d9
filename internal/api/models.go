package api

import (
	"time"

	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/service"
)

// SubmitJobRequest defines the payload for the job submission endpoint.
// ChoiceCount may be omitted; out-of-range values are clamped.
type SubmitJobRequest struct {
	Prompt       string `json:"prompt"        validate:"max=3000"`
	Style        string `json:"style"         validate:"max=1000"`
	Title        string `json:"title"         validate:"max=200"`
	Model        string `json:"model"         validate:"required,max=100"`
	Instrumental bool   `json:"instrumental"`
	ChoiceCount  int    `json:"choice_count"`
}

// toDomain converts the payload to a generation request.
func (r SubmitJobRequest) toDomain() domain.GenerationRequest {
	return domain.GenerationRequest{
		Prompt:       r.Prompt,
		Style:        r.Style,
		Title:        r.Title,
		Model:        r.Model,
		Instrumental: r.Instrumental,
		ChoiceCount:  r.ChoiceCount,
	}
}

// SubmitJobResponse is returned with 202 Accepted.
type SubmitJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ChoiceResponse is one generated candidate.
type ChoiceResponse struct {
	Index          int      `json:"index"`
	AudioURL       string   `json:"audio_url"`
	StreamAudioURL *string  `json:"stream_audio_url,omitempty"`
	VideoURL       *string  `json:"video_url,omitempty"`
	ImageURL       *string  `json:"image_url,omitempty"`
	Duration       *float64 `json:"duration"`
	Title          string   `json:"title"`
	Tags           *string  `json:"tags"`
}

// JobResponse is the status view of a job.
type JobResponse struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	ChoiceCount  int              `json:"choice_count"`
	Model        string           `json:"model"`
	ProgressInfo *string          `json:"progress_info,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	PollAttempts int              `json:"poll_attempts"`
	Choices      []ChoiceResponse `json:"choices"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

func jobToResponse(view *service.JobView) JobResponse {
	job := view.Job
	resp := JobResponse{
		ID:           job.ID.String(),
		Status:       string(job.Status),
		ChoiceCount:  job.ChoiceCount,
		Model:        job.Model,
		ProgressInfo: job.ProgressInfo,
		ErrorMessage: job.ErrorMessage,
		PollAttempts: job.PollAttempts,
		Choices:      make([]ChoiceResponse, 0, len(view.Choices)),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}
	for _, c := range view.Choices {
		resp.Choices = append(resp.Choices, ChoiceResponse{
			Index:          c.Index,
			AudioURL:       c.AudioURL,
			StreamAudioURL: c.StreamAudioURL,
			VideoURL:       c.VideoURL,
			ImageURL:       c.ImageURL,
			Duration:       c.Duration,
			Title:          c.Title,
			Tags:           c.Tags,
		})
	}
	return resp
}
