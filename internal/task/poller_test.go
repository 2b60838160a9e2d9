package task_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/generation"
	"github.com/phrazzld/tunesmith-api/internal/mocks"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
	"github.com/phrazzld/tunesmith-api/internal/platform/metrics"
	"github.com/phrazzld/tunesmith-api/internal/store"
	"github.com/phrazzld/tunesmith-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPollerConfig() task.PollerConfig {
	return task.PollerConfig{
		ShortInterval:        time.Millisecond,
		MediumInterval:       time.Millisecond,
		LongInterval:         time.Millisecond,
		ShortPhase:           time.Minute,
		MediumPhase:          2 * time.Minute,
		MaxAttempts:          20,
		MaxConsecutiveErrors: 3,
		FinalizeRetries:      2,
		FinalizeBackoff:      time.Millisecond,
	}
}

func seedJob(t *testing.T, jobs *mocks.MemoryJobStore, choices int) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(domain.GenerationRequest{
		Prompt:      "a song about the sea",
		Model:       "v4",
		ChoiceCount: choices,
	}, "ext-"+t.Name())
	require.NoError(t, err)
	require.NoError(t, jobs.CreateJob(context.Background(), job))
	return job
}

func successPayload(clips ...string) *generation.TaskStatusPayload {
	res := &generation.TaskResult{}
	for _, c := range clips {
		res.Clips = append(res.Clips, json.RawMessage(c))
	}
	return &generation.TaskStatusPayload{Status: "SUCCESS", Result: res}
}

func newPoller(provider generation.Provider, jobs store.JobStore, cfg task.PollerConfig) *task.Poller {
	return task.NewPoller(provider, jobs, cfg, metrics.New(), logger.DiscardLogger())
}

func TestPollerConfig_IntervalFor(t *testing.T) {
	cfg := task.PollerConfig{
		ShortInterval:  5 * time.Second,
		MediumInterval: 10 * time.Second,
		LongInterval:   20 * time.Second,
		ShortPhase:     time.Minute,
		MediumPhase:    3 * time.Minute,
	}

	assert.Equal(t, 5*time.Second, cfg.IntervalFor(0))
	assert.Equal(t, 5*time.Second, cfg.IntervalFor(59*time.Second))
	assert.Equal(t, 10*time.Second, cfg.IntervalFor(time.Minute))
	assert.Equal(t, 10*time.Second, cfg.IntervalFor(2*time.Minute))
	assert.Equal(t, 20*time.Second, cfg.IntervalFor(3*time.Minute))
	assert.Equal(t, 20*time.Second, cfg.IntervalFor(time.Hour))
}

func TestPoller_RunToSuccess(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 2)

	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Status("queued"),
		mocks.Payload(&generation.TaskStatusPayload{Status: "running", Progress: domain.StringPtr("40%")}),
		mocks.Payload(successPayload(
			`{"index":1,"audio_url":"https://cdn/b.mp3","duration":"61.5","tags":["pop","sea"]}`,
			`{"index":0,"audio_url":"https://cdn/a.mp3","duration":120}`,
		)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, status)
	assert.Equal(t, 3, provider.PollCount(job.ExternalTaskID))

	stored, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, stored.Status)
	assert.Equal(t, 3, stored.PollAttempts)
	assert.Equal(t, "40%", domain.StringValue(stored.ProgressInfo))
	assert.NotNil(t, stored.CompletedAt)

	choices, err := jobs.GetChoices(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, choices, 2)
	assert.Equal(t, 0, choices[0].Index)
	assert.Equal(t, "https://cdn/a.mp3", choices[0].AudioURL)
	assert.Equal(t, "pop, sea", domain.StringValue(choices[1].Tags))
}

func TestPoller_PermanentErrorFailsJob(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Fail(generation.NewPermanentError(404, "task not found", nil)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailure, status)
	assert.Equal(t, 1, provider.PollCount(job.ExternalTaskID))

	stored, _ := jobs.GetJob(context.Background(), job.ID)
	assert.Equal(t, "task not found", domain.StringValue(stored.ErrorMessage))
}

func TestPoller_ProviderReportedFailure(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Payload(&generation.TaskStatusPayload{Status: "failed", Error: domain.StringPtr("content policy")}),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailure, status)
	stored, _ := jobs.GetJob(context.Background(), job.ID)
	assert.Equal(t, "content policy", domain.StringValue(stored.ErrorMessage))
}

func TestPoller_TooManyTransientErrors(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Fail(generation.NewTransientError(503, "unavailable", nil)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailure, status)
	assert.Equal(t, 3, provider.PollCount(job.ExternalTaskID))

	stored, _ := jobs.GetJob(context.Background(), job.ID)
	assert.Equal(t, task.ErrTooManyTransientErrors.Error(), domain.StringValue(stored.ErrorMessage))
}

func TestPoller_SuccessfulPollResetsTransientStreak(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	transient := generation.NewTransientError(502, "bad gateway", nil)
	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Fail(transient),
		mocks.Fail(transient),
		mocks.Status("running"),
		mocks.Fail(transient),
		mocks.Fail(transient),
		mocks.Payload(successPayload(`{"audio_url":"https://cdn/a.mp3"}`)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, status)
	assert.Equal(t, 6, provider.PollCount(job.ExternalTaskID))
}

func TestPoller_UnknownStatusIsTransient(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Status("warming_up"),
		mocks.Payload(successPayload(`{"audio_url":"https://cdn/a.mp3"}`)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, status)
}

func TestPoller_MaxAttemptsFailsJob(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	cfg := fastPollerConfig()
	cfg.MaxAttempts = 4
	provider := &mocks.MockProvider{}

	status, err := newPoller(provider, jobs, cfg).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailure, status)
	assert.Equal(t, 4, provider.PollCount(job.ExternalTaskID))

	stored, _ := jobs.GetJob(context.Background(), job.ID)
	assert.Equal(t, task.ErrMaxPollAttempts.Error(), domain.StringValue(stored.ErrorMessage))
	assert.Equal(t, 4, stored.PollAttempts)
}

func TestPoller_SuccessWithoutUsableChoicesFails(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 2)

	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Payload(successPayload(`{"index":0}`, `not json`)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailure, status)
	choices, _ := jobs.GetChoices(context.Background(), job.ID)
	assert.Empty(t, choices)
}

func TestPoller_StopsWithoutPollingWhenAlreadyCancelled(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	_, err := jobs.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)

	provider := &mocks.MockProvider{}
	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, status)
	assert.Zero(t, provider.TotalPolls())
}

// A cancel that lands while the provider call is in flight wins over the
// provider's SUCCESS and no choices are written.
func TestPoller_CancelDuringPollWins(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	provider := &mocks.MockProvider{
		PollFn: func(ctx context.Context, id string) (*generation.TaskStatusPayload, error) {
			_, err := jobs.CancelJob(ctx, job.ID)
			require.NoError(t, err)
			return successPayload(`{"audio_url":"https://cdn/a.mp3"}`), nil
		},
	}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, status)
	choices, _ := jobs.GetChoices(context.Background(), job.ID)
	assert.Empty(t, choices)
}

func TestPoller_WakeCutsSleepShort(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	cfg := fastPollerConfig()
	cfg.ShortInterval = time.Hour
	cfg.MediumInterval = time.Hour
	cfg.LongInterval = time.Hour

	wake := make(chan struct{}, 1)
	provider := &mocks.MockProvider{}
	done := make(chan domain.JobStatus, 1)
	go func() {
		status, _ := newPoller(provider, jobs, cfg).Run(context.Background(), job, wake)
		done <- status
	}()

	_, err := jobs.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)
	wake <- struct{}{}

	select {
	case status := <-done:
		assert.Equal(t, domain.JobStatusCancelled, status)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not wake up")
	}
	assert.Zero(t, provider.TotalPolls())
}

func TestPoller_ContextCancelLeavesJobForRecovery(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	cfg := fastPollerConfig()
	cfg.ShortInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := newPoller(&mocks.MockProvider{}, jobs, cfg).Run(ctx, job, nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller ignored context cancellation")
	}

	stored, _ := jobs.GetJob(context.Background(), job.ID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
}

func TestPoller_CommitErrorsAreRetried(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	failures := 2
	jobs.CommitFn = func(context.Context, *domain.Job, []domain.Choice) error {
		if failures > 0 {
			failures--
			return store.ErrTransactionFailed
		}
		return nil
	}
	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Payload(successPayload(`{"audio_url":"https://cdn/a.mp3"}`)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, status)
	assert.Equal(t, 3, provider.PollCount(job.ExternalTaskID))
	assert.Equal(t, 1, jobs.Commits())
}

func TestPoller_JobMissingFromStore(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job, err := domain.NewJob(domain.GenerationRequest{Prompt: "p", Model: "v4", ChoiceCount: 1}, "ghost")
	require.NoError(t, err)

	_, err = newPoller(&mocks.MockProvider{}, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	assert.True(t, errors.Is(err, store.ErrJobNotFound))
}

func TestPoller_FailureWriteGivesUp(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	jobs.CommitFn = func(context.Context, *domain.Job, []domain.Choice) error {
		return store.ErrTransactionFailed
	}
	provider := &mocks.MockProvider{PollFn: mocks.Script(
		mocks.Fail(generation.NewPermanentError(400, "bad request", nil)),
	)}

	status, err := newPoller(provider, jobs, fastPollerConfig()).Run(context.Background(), job, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTransactionFailed)
	assert.Equal(t, domain.JobStatusPending, status)
}

func TestPoller_AttemptsStoredOnEveryPoll(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polls := 0
	provider := &mocks.MockProvider{PollFn: func(context.Context, string) (*generation.TaskStatusPayload, error) {
		polls++
		if polls == 10 {
			cancel()
		}
		return &generation.TaskStatusPayload{Status: "running", Progress: domain.StringPtr("50%")}, nil
	}}

	cfg := fastPollerConfig()
	cfg.MaxAttempts = 1000
	status, err := newPoller(provider, jobs, cfg).Run(ctx, job, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.JobStatusProgress, status)

	stored, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProgress, stored.Status)
	assert.Equal(t, 10, stored.PollAttempts, "every provider poll is counted in the store")
	assert.Equal(t, 1, jobs.Commits(), "unchanged polls do not commit")
}

func TestPoller_ResumedJobKeepsAttemptBudget(t *testing.T) {
	jobs := mocks.NewMemoryJobStore()
	job := seedJob(t, jobs, 1)

	cfg := fastPollerConfig()
	cfg.MaxAttempts = 6
	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	first := &mocks.MockProvider{PollFn: func(context.Context, string) (*generation.TaskStatusPayload, error) {
		polls++
		if polls == 4 {
			cancel()
		}
		return &generation.TaskStatusPayload{Status: "running"}, nil
	}}
	_, err := newPoller(first, jobs, cfg).Run(ctx, job, nil)
	require.ErrorIs(t, err, context.Canceled)

	resumed, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 4, resumed.PollAttempts)

	second := &mocks.MockProvider{PollFn: mocks.Script(mocks.Status("running"))}
	status, err := newPoller(second, jobs, cfg).Run(context.Background(), resumed, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailure, status)
	assert.Equal(t, 2, second.PollCount(job.ExternalTaskID))
}
