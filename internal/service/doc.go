// Package service contains the application use cases of the generation
// pipeline. The Orchestrator composes the slot manager, the provider client,
// the job store and the polling worker pool into the submit, status, cancel
// and recovery operations exposed over HTTP.
//
// Services receive their dependencies through constructor injection and
// depend only on interfaces from internal/store and internal/generation,
// never on a concrete database or transport.
//
// Error handling:
//   - Expected conditions are sentinel errors or *RejectedError, checked with
//     errors.Is / errors.As by the API layer.
//   - Store and provider errors are wrapped with the failing operation.
package service
