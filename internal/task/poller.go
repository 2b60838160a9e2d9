package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/phrazzld/tunesmith-api/internal/config"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/generation"
	"github.com/phrazzld/tunesmith-api/internal/platform/metrics"
	"github.com/phrazzld/tunesmith-api/internal/store"
)

// Failure reasons recorded on jobs by the poller.
var (
	// ErrMaxPollAttempts is recorded when the attempt budget runs out.
	ErrMaxPollAttempts = errors.New("max poll attempts exceeded")

	// ErrTooManyTransientErrors is recorded when the provider failed
	// transiently too many times in a row.
	ErrTooManyTransientErrors = errors.New("too many consecutive transient provider errors")
)

// PollerConfig controls polling cadence and budgets.
type PollerConfig struct {
	ShortInterval  time.Duration
	MediumInterval time.Duration
	LongInterval   time.Duration
	// ShortPhase and MediumPhase are measured from job creation.
	ShortPhase  time.Duration
	MediumPhase time.Duration

	MaxAttempts          int
	MaxConsecutiveErrors int

	// FinalizeRetries bounds the retries of the write that fails a job.
	FinalizeRetries int
	FinalizeBackoff time.Duration
}

// PollerConfigFrom converts loaded configuration.
func PollerConfigFrom(cfg config.PollingConfig) PollerConfig {
	return PollerConfig{
		ShortInterval:        cfg.ShortInterval,
		MediumInterval:       cfg.MediumInterval,
		LongInterval:         cfg.LongInterval,
		ShortPhase:           cfg.ShortPhase,
		MediumPhase:          cfg.MediumPhase,
		MaxAttempts:          cfg.MaxAttempts,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		FinalizeRetries:      3,
		FinalizeBackoff:      200 * time.Millisecond,
	}
}

// IntervalFor returns the wait before the next poll of a job that has existed
// for elapsed.
func (c PollerConfig) IntervalFor(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < c.ShortPhase:
		return c.ShortInterval
	case elapsed < c.MediumPhase:
		return c.MediumInterval
	default:
		return c.LongInterval
	}
}

// Poller drives a single job from submission to a terminal status.
type Poller struct {
	provider generation.Provider
	store    store.JobStore
	cfg      PollerConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoller creates a Poller. metrics may be nil.
func NewPoller(
	provider generation.Provider,
	jobs store.JobStore,
	cfg PollerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConsecutiveErrors < 1 {
		cfg.MaxConsecutiveErrors = 1
	}
	return &Poller{
		provider: provider,
		store:    jobs,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "poller"),
		now:      time.Now,
	}
}

// Config returns the poller's configuration.
func (p *Poller) Config() PollerConfig {
	return p.cfg
}

// Run polls job until it reaches a terminal status and returns that status.
//
// Each iteration sleeps for the tier interval (cut short by a value on wake),
// then re-reads the stored status and stops without calling the provider if
// the job has been cancelled or otherwise finished. The attempt count is
// stored before each provider call, so a restart resumes the budget where it
// stopped. Every iteration consumes one attempt, so Run returns within the
// attempt budget; the job is failed when the budget runs out. If ctx is cancelled Run returns ctx.Err() and
// leaves the job as stored for recovery.
func (p *Poller) Run(ctx context.Context, job *domain.Job, wake <-chan struct{}) (domain.JobStatus, error) {
	log := p.logger.With(
		"job_id", job.ID.String(),
		"external_task_id", job.ExternalTaskID)

	current := job.Clone()
	consecutive := 0

	for current.PollAttempts < p.cfg.MaxAttempts {
		interval := p.cfg.IntervalFor(p.now().Sub(current.CreatedAt))
		if err := sleep(ctx, interval, wake); err != nil {
			log.Info("polling interrupted", "attempts", current.PollAttempts)
			return current.Status, err
		}

		stored, err := p.store.GetJobStatus(ctx, current.ExternalTaskID)
		if err != nil {
			if ctx.Err() != nil {
				return current.Status, ctx.Err()
			}
			if errors.Is(err, store.ErrJobNotFound) {
				log.Error("job disappeared while polling")
				return current.Status, err
			}
			current.PollAttempts++
			log.Warn("failed to read stored job status", "error", err)
			continue
		}
		if stored.IsTerminal() {
			log.Info("job finished elsewhere, stopping poller", "status", stored)
			return stored, nil
		}

		current.PollAttempts++
		if err := p.store.RecordPollAttempt(ctx, current.ExternalTaskID, current.PollAttempts); err != nil {
			if ctx.Err() != nil {
				return current.Status, ctx.Err()
			}
			// The next commit carries the count as well.
			log.Warn("failed to record poll attempt", "error", err, "attempt", current.PollAttempts)
		}
		started := p.now()
		payload, err := p.provider.Poll(ctx, current.ExternalTaskID)
		took := p.now().Sub(started)
		if err != nil {
			if ctx.Err() != nil {
				return current.Status, ctx.Err()
			}
			if generation.IsPermanent(err) {
				p.metrics.Poll(metrics.PollPermanent, took)
				log.Warn("permanent provider error", "error", err)
				return p.fail(ctx, log, current, providerReason(err))
			}
			p.metrics.Poll(metrics.PollTransient, took)
			consecutive++
			log.Warn("transient provider error",
				"error", err,
				"consecutive", consecutive,
				"attempt", current.PollAttempts)
			if consecutive >= p.cfg.MaxConsecutiveErrors {
				return p.fail(ctx, log, current, ErrTooManyTransientErrors.Error())
			}
			continue
		}

		res, err := generation.Parse(payload, current.ChoiceCount, log)
		if err != nil {
			if errors.Is(err, generation.ErrNoUsableChoices) {
				p.metrics.Poll(metrics.PollPermanent, took)
				log.Warn("provider finished without usable choices")
				return p.fail(ctx, log, current, err.Error())
			}
			p.metrics.Poll(metrics.PollAnomaly, took)
			consecutive++
			log.Warn("unreadable provider status",
				"error", err,
				"consecutive", consecutive)
			if consecutive >= p.cfg.MaxConsecutiveErrors {
				return p.fail(ctx, log, current, ErrTooManyTransientErrors.Error())
			}
			continue
		}
		p.metrics.Poll(metrics.PollOK, took)
		consecutive = 0

		next, changed, err := current.Apply(res.Status, res.ProgressInfo, res.ErrorMessage)
		if err != nil {
			log.Warn("ignoring illegal status transition from provider", "error", err)
			continue
		}
		if !changed && domain.StringValue(next.ProgressInfo) == domain.StringValue(current.ProgressInfo) {
			continue
		}

		result, err := p.store.Commit(ctx, next, res.Choices)
		if err != nil {
			if ctx.Err() != nil {
				return current.Status, ctx.Err()
			}
			p.metrics.CommitError()
			log.Error("failed to commit job update, will retry", "error", err, "status", next.Status)
			continue
		}

		if result.Status != next.Status {
			log.Info("stored status won over provider result",
				"stored_status", result.Status,
				"provider_status", next.Status)
			return result.Status, nil
		}

		current = next
		if current.Status.IsTerminal() {
			if result.Changed {
				p.metrics.JobFinished(string(current.Status))
			}
			log.Info("job finished",
				"status", current.Status,
				"attempts", current.PollAttempts,
				"choices", len(res.Choices))
			return current.Status, nil
		}
	}

	log.Warn("poll attempt budget exhausted", "max_attempts", p.cfg.MaxAttempts)
	return p.fail(ctx, log, current, ErrMaxPollAttempts.Error())
}

// fail moves the job to FAILURE with reason, retrying the write with backoff.
func (p *Poller) fail(ctx context.Context, log *slog.Logger, current *domain.Job, reason string) (domain.JobStatus, error) {
	failed, _, err := current.Apply(domain.JobStatusFailure, nil, &reason)
	if err != nil {
		return current.Status, err
	}

	var result store.CommitResult
	op := func() error {
		res, err := p.store.Commit(ctx, failed, nil)
		if err != nil {
			if domain.IsIllegalTransition(err) || store.IsNotFoundError(err) {
				return backoff.Permanent(err)
			}
			p.metrics.CommitError()
			log.Warn("failed to record job failure, retrying", "error", err)
			return err
		}
		result = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.FinalizeBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.cfg.FinalizeRetries, 0))), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		log.Error("failed to record job failure", "error", err, "reason", reason)
		return current.Status, fmt.Errorf("failed to record job failure: %w", err)
	}

	if result.Changed {
		p.metrics.JobFinished(string(result.Status))
	}
	log.Info("job failed", "reason", reason, "status", result.Status, "attempts", failed.PollAttempts)
	return result.Status, nil
}

func providerReason(err error) string {
	var pe *generation.ProviderError
	if errors.As(err, &pe) {
		return pe.Reason()
	}
	return err.Error()
}

// sleep waits for d, returning early without error on a wake signal and with
// ctx.Err() on cancellation.
func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-wake:
	}
	return nil
}
