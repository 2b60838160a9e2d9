package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Choice is one candidate result produced by the provider for a job.
// Choices are written once, together with the job's move into SUCCESS.
type Choice struct {
	JobID          uuid.UUID `json:"job_id"`
	Index          int       `json:"index"`
	AudioURL       string    `json:"audio_url"`
	StreamAudioURL *string   `json:"stream_audio_url,omitempty"`
	VideoURL       *string   `json:"video_url,omitempty"`
	ImageURL       *string   `json:"image_url,omitempty"`
	// Duration is in seconds; nil when the provider value was missing or
	// could not be read as a number.
	Duration *float64 `json:"duration"`
	Title    string   `json:"title"`
	// Tags is a comma-delimited list; nil means the provider sent none.
	Tags *string `json:"tags"`
	// Rating is assigned by users elsewhere and never written here.
	Rating    *int      `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateChoices checks the per-job invariants of a choice set: no more
// than limit entries, non-negative unique indices, and a primary URL on each.
func ValidateChoices(choices []Choice, limit int) error {
	if len(choices) > limit {
		return fmt.Errorf("%w: %d choices exceed requested count %d", ErrValidation, len(choices), limit)
	}

	seen := make(map[int]struct{}, len(choices))
	for _, c := range choices {
		if c.Index < 0 {
			return fmt.Errorf("%w: negative choice index %d", ErrValidation, c.Index)
		}
		if _, dup := seen[c.Index]; dup {
			return fmt.Errorf("%w: duplicate choice index %d", ErrValidation, c.Index)
		}
		seen[c.Index] = struct{}{}
		if c.AudioURL == "" {
			return fmt.Errorf("%w: choice %d has no audio url", ErrValidation, c.Index)
		}
	}
	return nil
}
