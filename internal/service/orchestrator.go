package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/config"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/events"
	"github.com/phrazzld/tunesmith-api/internal/generation"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
	"github.com/phrazzld/tunesmith-api/internal/platform/metrics"
	"github.com/phrazzld/tunesmith-api/internal/store"
	"github.com/phrazzld/tunesmith-api/internal/task"
)

// JobView is a job together with its persisted choices.
type JobView struct {
	Job     *domain.Job
	Choices []domain.Choice
}

// JobOrchestrator is the set of generation operations offered to callers.
type JobOrchestrator interface {
	// Submit admits, starts and schedules a generation. It returns the job id
	// once the job is persisted as PENDING and its poller is queued.
	Submit(ctx context.Context, req domain.GenerationRequest) (uuid.UUID, error)

	// GetStatus returns the stored job and its choices.
	GetStatus(ctx context.Context, id uuid.UUID) (*JobView, error)

	// Cancel moves a non-terminal job to CANCELLED. Cancelling a terminal job
	// is a no-op.
	Cancel(ctx context.Context, id uuid.UUID) error
}

// OrchestratorConfig holds the orchestrator's admission and recovery settings.
type OrchestratorConfig struct {
	MinChoices  int
	MaxChoices  int
	SlotTimeout time.Duration
	// RecoveryInterval is the period of the orphan sweep started by Start.
	RecoveryInterval time.Duration
	// StaleAfter is how long an active job must have gone without an update
	// before the sweep treats it as orphaned.
	StaleAfter time.Duration
}

// OrchestratorConfigFrom converts loaded configuration.
func OrchestratorConfigFrom(cfg config.JobsConfig) OrchestratorConfig {
	return OrchestratorConfig{
		MinChoices:       cfg.MinChoices,
		MaxChoices:       cfg.MaxChoices,
		SlotTimeout:      cfg.SlotTimeout,
		RecoveryInterval: cfg.RecoveryInterval,
		StaleAfter:       cfg.StaleAfter,
	}
}

// Orchestrator implements JobOrchestrator. Each job admitted or recovered by
// this process is owned by exactly one PollTask until it stops.
type Orchestrator struct {
	provider generation.Provider
	jobs     store.JobStore
	slots    *task.SlotManager
	queue    task.TaskQueueWriter
	poller   *task.Poller
	metrics  *metrics.Metrics
	cfg      OrchestratorConfig
	validate *validator.Validate
	logger   *slog.Logger
	emitter  events.EventEmitter

	mu    sync.Mutex
	owned map[uuid.UUID]chan struct{}

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

var _ JobOrchestrator = (*Orchestrator)(nil)

// NewOrchestrator creates an Orchestrator.
// It returns an error if any of the required dependencies are nil.
func NewOrchestrator(
	provider generation.Provider,
	jobs store.JobStore,
	slots *task.SlotManager,
	queue task.TaskQueueWriter,
	poller *task.Poller,
	m *metrics.Metrics,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) (*Orchestrator, error) {
	switch {
	case provider == nil:
		return nil, errors.New("provider cannot be nil")
	case jobs == nil:
		return nil, errors.New("job store cannot be nil")
	case slots == nil:
		return nil, errors.New("slot manager cannot be nil")
	case queue == nil:
		return nil, errors.New("task queue cannot be nil")
	case poller == nil:
		return nil, errors.New("poller cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		provider: provider,
		jobs:     jobs,
		slots:    slots,
		queue:    queue,
		poller:   poller,
		metrics:  m,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger.With("component", "orchestrator"),
		owned:    make(map[uuid.UUID]chan struct{}),
	}, nil
}

// SetEventEmitter sets the emitter that receives job lifecycle events. It
// must be called before the orchestrator is used.
func (o *Orchestrator) SetEventEmitter(e events.EventEmitter) {
	o.emitter = e
}

// Submit implements JobOrchestrator.Submit.
//
// The slot is acquired before the provider is contacted and released on every
// failure path. No row is written unless the provider accepted the request.
func (o *Orchestrator) Submit(ctx context.Context, req domain.GenerationRequest) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	if err := o.validate.Struct(req); err != nil {
		o.metrics.Submission(metrics.SubmitInvalid)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		o.metrics.Submission(metrics.SubmitInvalid)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	requested := req.ChoiceCount
	req.ChoiceCount = domain.ClampChoiceCount(req.ChoiceCount, o.cfg.MinChoices, o.cfg.MaxChoices)
	if req.ChoiceCount != requested {
		log.Debug("choice count clamped", "requested", requested, "clamped", req.ChoiceCount)
	}

	slot, err := o.slots.Acquire(ctx, o.cfg.SlotTimeout)
	if err != nil {
		o.metrics.Submission(metrics.SubmitRejected)
		return uuid.Nil, &RejectedError{Reason: "no generation slot available", Err: err}
	}

	taskID, err := o.provider.Start(ctx, generation.StartRequest{
		Prompt:       req.Prompt,
		Style:        req.Style,
		Title:        req.Title,
		Model:        req.Model,
		Instrumental: req.Instrumental,
		ChoiceCount:  req.ChoiceCount,
	})
	if err != nil {
		slot.Release()
		o.metrics.Submission(metrics.SubmitProviderError)
		log.Warn("provider rejected generation start", "error", err)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrProviderStart, err)
	}

	job, err := domain.NewJob(req, taskID)
	if err != nil {
		slot.Release()
		o.metrics.Submission(metrics.SubmitInvalid)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if err := o.jobs.CreateJob(ctx, job); err != nil {
		slot.Release()
		o.metrics.Submission(metrics.SubmitStoreError)
		log.Error("failed to persist new job",
			"error", err,
			"external_task_id", taskID)
		return uuid.Nil, fmt.Errorf("failed to create job: %w", err)
	}

	log = log.With("job_id", job.ID.String(), "external_task_id", taskID)

	if err := o.schedule(job, slot); err != nil {
		// The row stays PENDING and is picked up by recovery.
		log.Warn("could not schedule poller, leaving job for recovery", "error", err)
	}

	o.metrics.Submission(metrics.SubmitAccepted)
	log.Info("generation job submitted", "choice_count", job.ChoiceCount, "model", job.Model)
	o.emit(ctx, events.JobSubmitted, job.ID, job.Status, map[string]interface{}{
		"choice_count": job.ChoiceCount,
		"model":        job.Model,
	})
	return job.ID, nil
}

// GetStatus implements JobOrchestrator.GetStatus.
func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (*JobView, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	choices, err := o.jobs.GetChoices(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load choices: %w", err)
	}
	return &JobView{Job: job, Choices: choices}, nil
}

// Cancel implements JobOrchestrator.Cancel. The owning poller, if any, is
// woken so it observes the cancellation without waiting out its interval.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, o.logger).With("job_id", id.String())

	res, err := o.jobs.CancelJob(ctx, id)
	if err != nil {
		return err
	}
	if !res.Changed {
		log.Debug("cancel ignored for finished job", "status", res.Status)
		return nil
	}

	o.metrics.JobFinished(string(domain.JobStatusCancelled))
	o.wake(id)
	log.Info("job cancelled")
	o.emit(ctx, events.JobCancelled, id, domain.JobStatusCancelled, nil)
	return nil
}

// Recover resumes every active job not owned by this process, regardless of
// age. It is meant to run once at startup and returns the number resumed.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	return o.sweep(ctx, time.Now().UTC())
}

// Start launches the periodic orphan sweep. Stop ends it.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sweepCancel != nil || o.cfg.RecoveryInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.sweepCancel = cancel
	o.sweepDone = make(chan struct{})
	go o.sweepLoop(ctx, o.sweepDone)
}

// Stop ends the orphan sweep and waits for a running sweep to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.sweepCancel, o.sweepDone
	o.sweepCancel, o.sweepDone = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Owned reports whether a poller of this process owns the job.
func (o *Orchestrator) Owned(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.owned[id]
	return ok
}

func (o *Orchestrator) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.cfg.RecoveryInterval)
	defer ticker.Stop()

	o.logger.Info("orphan sweep started", "interval", o.cfg.RecoveryInterval, "stale_after", o.cfg.StaleAfter)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orphan sweep stopped")
			return
		case <-ticker.C:
			if _, err := o.sweep(ctx, time.Now().UTC().Add(-o.cfg.StaleAfter)); err != nil && ctx.Err() == nil {
				o.logger.Error("orphan sweep failed", "error", err)
			}
		}
	}
}

// sweep schedules active jobs last updated before cutoff that no local poller
// owns. It stops early when no slot frees up; the next sweep continues.
func (o *Orchestrator) sweep(ctx context.Context, cutoff time.Time) (int, error) {
	active, err := o.jobs.ListActiveJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}

	resumed := 0
	for _, job := range active {
		if o.Owned(job.ID) {
			continue
		}
		log := o.logger.With("job_id", job.ID.String(), "external_task_id", job.ExternalTaskID)

		slot, err := o.slots.Acquire(ctx, o.cfg.SlotTimeout)
		if err != nil {
			log.Warn("no slot for orphaned job, deferring to next sweep",
				"remaining", len(active)-resumed)
			break
		}
		if err := o.schedule(job, slot); err != nil {
			if errors.Is(err, ErrAlreadyOwned) {
				continue
			}
			return resumed, fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
		}

		resumed++
		o.metrics.JobRecovered()
		log.Info("resumed orphaned job", "status", job.Status, "poll_attempts", job.PollAttempts)
	}

	if len(active) > 0 {
		o.logger.Info("orphan sweep finished", "candidates", len(active), "resumed", resumed)
	}
	return resumed, nil
}

// schedule registers ownership of job and queues its poller. slot is
// released here if the task cannot be queued.
func (o *Orchestrator) schedule(job *domain.Job, slot *task.SlotToken) error {
	wake := make(chan struct{}, 1)

	o.mu.Lock()
	if _, dup := o.owned[job.ID]; dup {
		o.mu.Unlock()
		slot.Release()
		return ErrAlreadyOwned
	}
	o.owned[job.ID] = wake
	o.mu.Unlock()

	pt := task.NewPollTask(job, o.poller, slot, wake, o.pollingDone)
	if err := o.queue.Enqueue(pt); err != nil {
		o.disown(job.ID)
		pt.Abandon()
		return err
	}
	return nil
}

func (o *Orchestrator) pollingDone(id uuid.UUID, status domain.JobStatus, err error) {
	o.disown(id)
	if err != nil {
		o.logger.Warn("poller stopped before job finished",
			"job_id", id.String(),
			"status", status,
			"error", err)
		return
	}
	// A cancelled job was already announced by Cancel.
	if status.IsTerminal() && status != domain.JobStatusCancelled {
		o.emit(context.Background(), events.JobFinished, id, status, nil)
	}
}

// emit publishes a lifecycle event. Handler failures are logged and never
// affect the job.
func (o *Orchestrator) emit(ctx context.Context, eventType string, id uuid.UUID, status domain.JobStatus, payload interface{}) {
	if o.emitter == nil {
		return
	}
	log := o.logger.With("job_id", id.String(), "event_type", eventType)

	event, err := events.NewJobEvent(eventType, id, status, payload)
	if err != nil {
		log.Error("failed to build job event", "error", err)
		return
	}
	if err := o.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("job event handler failed", "error", err)
	}
}

func (o *Orchestrator) disown(id uuid.UUID) {
	o.mu.Lock()
	delete(o.owned, id)
	o.mu.Unlock()
}

func (o *Orchestrator) wake(id uuid.UUID) {
	o.mu.Lock()
	ch, ok := o.owned[id]
	o.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
