// Package task runs the background side of generation jobs. A SlotManager
// bounds how many jobs are in flight at the provider, a fixed WorkerPool
// executes one PollTask per job for the job's whole polling lifetime, and the
// Poller inside each task drives the job to a terminal status with adaptive
// intervals, a bounded attempt budget and cooperative cancellation.
package task
