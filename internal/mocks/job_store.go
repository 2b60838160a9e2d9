package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/store"
)

// MemoryJobStore is an in-memory store.JobStore. Commit and CancelJob follow
// the same rules as the PostgreSQL store: a terminal stored status wins,
// attempts never decrease and choices are written once on entry into SUCCESS.
type MemoryJobStore struct {
	// Optional hooks run before the real operation. A non-nil error is
	// returned without touching the store.
	CreateJobFn    func(ctx context.Context, job *domain.Job) error
	GetJobStatusFn func(ctx context.Context, externalTaskID string) error
	CommitFn       func(ctx context.Context, job *domain.Job, choices []domain.Choice) error

	mu      sync.Mutex
	jobs    map[uuid.UUID]*domain.Job
	byTask  map[string]uuid.UUID
	choices map[uuid.UUID][]domain.Choice
	commits int
}

var _ store.JobStore = (*MemoryJobStore)(nil)

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[uuid.UUID]*domain.Job),
		byTask:  make(map[string]uuid.UUID),
		choices: make(map[uuid.UUID][]domain.Choice),
	}
}

// CreateJob implements store.JobStore.
func (s *MemoryJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if s.CreateJobFn != nil {
		if err := s.CreateJobFn(ctx, job); err != nil {
			return err
		}
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTask[job.ExternalTaskID]; exists {
		return store.ErrExternalTaskExists
	}
	s.jobs[job.ID] = job.Clone()
	s.byTask[job.ExternalTaskID] = job.ID
	return nil
}

// Put stores job as is, bypassing validation. It is meant for seeding.
func (s *MemoryJobStore) Put(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	s.byTask[job.ExternalTaskID] = job.ID
}

// GetJob implements store.JobStore.
func (s *MemoryJobStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return job.Clone(), nil
}

// GetJobStatus implements store.JobStore.
func (s *MemoryJobStore) GetJobStatus(ctx context.Context, externalTaskID string) (domain.JobStatus, error) {
	if s.GetJobStatusFn != nil {
		if err := s.GetJobStatusFn(ctx, externalTaskID); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTask[externalTaskID]
	if !ok {
		return "", store.ErrJobNotFound
	}
	return s.jobs[id].Status, nil
}

// GetChoices implements store.JobStore.
func (s *MemoryJobStore) GetChoices(_ context.Context, jobID uuid.UUID) ([]domain.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.Choice{}, s.choices[jobID]...)
	return out, nil
}

// Commit implements store.JobStore.
func (s *MemoryJobStore) Commit(
	ctx context.Context,
	job *domain.Job,
	choices []domain.Choice,
) (store.CommitResult, error) {
	if s.CommitFn != nil {
		if err := s.CommitFn(ctx, job, choices); err != nil {
			return store.CommitResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++

	id, ok := s.byTask[job.ExternalTaskID]
	if !ok {
		return store.CommitResult{}, store.ErrJobNotFound
	}
	stored := s.jobs[id]
	if stored.Status.IsTerminal() {
		return store.CommitResult{Status: stored.Status}, nil
	}

	next, changed, err := domain.Transition(stored.Status, job.Status)
	if err != nil {
		return store.CommitResult{}, fmt.Errorf("commit job %s: %w", id, err)
	}

	now := time.Now().UTC()
	if changed && next == domain.JobStatusSuccess {
		if err := domain.ValidateChoices(choices, stored.ChoiceCount); err != nil {
			return store.CommitResult{}, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}
		if len(s.choices[id]) == 0 {
			saved := make([]domain.Choice, len(choices))
			for i, c := range choices {
				c.JobID = id
				c.CreatedAt = now
				saved[i] = c
			}
			sort.Slice(saved, func(i, j int) bool { return saved[i].Index < saved[j].Index })
			s.choices[id] = saved
		}
	}

	updated := stored.Clone()
	updated.Status = next
	if job.ProgressInfo != nil {
		updated.ProgressInfo = job.ProgressInfo
	}
	if next == domain.JobStatusFailure && job.ErrorMessage != nil {
		updated.ErrorMessage = job.ErrorMessage
	}
	updated.PollAttempts = max(updated.PollAttempts, job.PollAttempts)
	updated.UpdatedAt = now
	if next.IsTerminal() && updated.CompletedAt == nil {
		updated.CompletedAt = &now
	}
	s.jobs[id] = updated.Clone()

	return store.CommitResult{Status: next, Changed: changed}, nil
}

// RecordPollAttempt implements store.JobStore.
func (s *MemoryJobStore) RecordPollAttempt(_ context.Context, externalTaskID string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTask[externalTaskID]
	if !ok {
		return store.ErrJobNotFound
	}
	if job := s.jobs[id]; !job.Status.IsTerminal() {
		job.PollAttempts = max(job.PollAttempts, attempts)
	}
	return nil
}

// CancelJob implements store.JobStore.
func (s *MemoryJobStore) CancelJob(_ context.Context, id uuid.UUID) (store.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.CommitResult{}, store.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return store.CommitResult{Status: job.Status}, nil
	}

	now := time.Now().UTC()
	job.Status = domain.JobStatusCancelled
	job.UpdatedAt = now
	job.CompletedAt = &now
	return store.CommitResult{Status: domain.JobStatusCancelled, Changed: true}, nil
}

// ListActiveJobs implements store.JobStore.
func (s *MemoryJobStore) ListActiveJobs(_ context.Context, updatedBefore time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Job
	for _, job := range s.jobs {
		if job.Status.IsTerminal() || !job.UpdatedAt.Before(updatedBefore) {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Commits returns the number of Commit calls that reached the store.
func (s *MemoryJobStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Len returns the number of stored jobs.
func (s *MemoryJobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
