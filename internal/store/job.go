package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
)

// CommitResult reports what Commit did.
type CommitResult struct {
	// Status is the status stored after the commit. When the stored job was
	// already terminal it is that stored status, not the one requested.
	Status domain.JobStatus
	// Changed is true when the commit moved the job to a new status.
	Changed bool
}

// JobStore defines the interface for generation job persistence.
type JobStore interface {
	// CreateJob inserts a new PENDING job.
	// Returns ErrExternalTaskExists if a job with the same external task id exists,
	// or ErrInvalidEntity if the job fails validation.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by its id.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// GetJobStatus returns the stored status of the job with the given
	// external task id. It is what pollers check before each network call.
	// Returns ErrJobNotFound if the job does not exist.
	GetJobStatus(ctx context.Context, externalTaskID string) (domain.JobStatus, error)

	// GetChoices returns the choices of a job ordered by index.
	GetChoices(ctx context.Context, jobID uuid.UUID) ([]domain.Choice, error)

	// Commit atomically applies job's status, progress, error message and
	// poll attempt count to the stored row identified by job.ExternalTaskID.
	// Choices are inserted when, and only when, the job enters SUCCESS.
	//
	// If the stored status is terminal the stored status wins and nothing is
	// written. Repeating a commit never duplicates choices and the stored
	// attempt count never decreases.
	// Returns ErrJobNotFound if no row matches, or a wrapped
	// *domain.IllegalTransitionError for an illegal move.
	Commit(ctx context.Context, job *domain.Job, choices []domain.Choice) (CommitResult, error)

	// RecordPollAttempt raises the stored poll attempt count of the job with
	// the given external task id to attempts. The count never decreases and
	// terminal jobs are left untouched. Nothing else on the row changes.
	// Returns ErrJobNotFound if the job does not exist.
	RecordPollAttempt(ctx context.Context, externalTaskID string, attempts int) error

	// CancelJob moves a non-terminal job to CANCELLED. It reports the
	// resulting status and whether it changed; a terminal job is left as is.
	// Returns ErrJobNotFound if the job does not exist.
	CancelJob(ctx context.Context, id uuid.UUID) (CommitResult, error)

	// ListActiveJobs returns PENDING and PROGRESS jobs last updated before
	// the given time, oldest first.
	ListActiveJobs(ctx context.Context, updatedBefore time.Time) ([]*domain.Job, error)
}
