package task

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
)

// DoneFunc is called once a PollTask stops, with the status it ended in and
// the error from Run, if any.
type DoneFunc func(jobID uuid.UUID, status domain.JobStatus, err error)

// PollTask is the Task that owns one job for its polling lifetime. It holds
// the job's slot and releases it when polling stops for any reason.
type PollTask struct {
	job    *domain.Job
	poller *Poller
	slot   *SlotToken
	wake   <-chan struct{}
	onDone DoneFunc
}

var _ Task = (*PollTask)(nil)

// NewPollTask creates a task that polls job using poller. wake may be nil.
func NewPollTask(job *domain.Job, poller *Poller, slot *SlotToken, wake <-chan struct{}, onDone DoneFunc) *PollTask {
	return &PollTask{
		job:    job,
		poller: poller,
		slot:   slot,
		wake:   wake,
		onDone: onDone,
	}
}

// ID returns the job id.
func (t *PollTask) ID() uuid.UUID {
	return t.job.ID
}

// Type returns TaskTypeJobPoll.
func (t *PollTask) Type() string {
	return TaskTypeJobPoll
}

// Execute polls the job to completion, then frees the slot and reports.
// A panic in the poller is returned as an error so the job is still reported
// and can be picked up again.
func (t *PollTask) Execute(ctx context.Context) (err error) {
	status := t.job.Status
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poller panicked: %v", r)
		}
		t.slot.Release()
		if t.onDone != nil {
			t.onDone(t.job.ID, status, err)
		}
	}()

	status, err = t.poller.Run(ctx, t.job, t.wake)
	return err
}

// Abandon releases the slot of a task that will never run.
func (t *PollTask) Abandon() {
	t.slot.Release()
}
