// Package events publishes job lifecycle events to in-process handlers.
//
// The orchestrator emits an event when a job is submitted, cancelled or
// reaches a terminal status. Handlers are registered at startup and run
// synchronously on the emitting goroutine, so they must be quick.
package events
