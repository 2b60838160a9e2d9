package domain

import "fmt"

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

// Possible job status values. SUCCESS, FAILURE and CANCELLED are terminal.
const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusProgress  JobStatus = "PROGRESS"
	JobStatusSuccess   JobStatus = "SUCCESS"
	JobStatusFailure   JobStatus = "FAILURE"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// transitions is the adjacency table of the job state graph. Terminal states
// have no outgoing edges.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending: {
		JobStatusProgress,
		JobStatusSuccess,
		JobStatusFailure,
		JobStatusCancelled,
	},
	JobStatusProgress: {
		JobStatusSuccess,
		JobStatusFailure,
		JobStatusCancelled,
	},
	JobStatusSuccess:   nil,
	JobStatusFailure:   nil,
	JobStatusCancelled: nil,
}

// AllJobStatuses lists every known status in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusProgress,
		JobStatusSuccess,
		JobStatusFailure,
		JobStatusCancelled,
	}
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure || s == JobStatusCancelled
}

// CanTransitionTo reports whether next is a direct successor of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseJobStatus converts a stored status string into a JobStatus.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobStatus, raw)
	}
	return s, nil
}

// Transition validates moving a job from current to next.
//
// It returns the status the job is in afterwards and whether that differs
// from current. Re-applying the current status and any attempt to leave a
// terminal status are no-ops (changed is false, err is nil); callers are
// expected to log the latter. Edges missing from the state graph return an
// *IllegalTransitionError and leave the status unchanged.
func Transition(current, next JobStatus) (JobStatus, bool, error) {
	if !current.IsValid() {
		return current, false, fmt.Errorf("%w: current %q", ErrInvalidJobStatus, current)
	}
	if !next.IsValid() {
		return current, false, fmt.Errorf("%w: next %q", ErrInvalidJobStatus, next)
	}

	if current == next || current.IsTerminal() {
		return current, false, nil
	}

	if !current.CanTransitionTo(next) {
		return current, false, &IllegalTransitionError{From: current, To: next}
	}

	return next, true, nil
}
