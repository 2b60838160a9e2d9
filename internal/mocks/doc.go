// Package mocks provides centralized mock implementations for testing.
//
// It contains a scripted generation provider, an in-memory job store that
// follows the commit rules of the PostgreSQL store, and a testify mock of the
// job orchestrator for handler tests. Keeping them here lets the task,
// service and api packages share one set of fakes.
//
// Usage:
//
//	provider := &mocks.MockProvider{
//	    PollFn: func(ctx context.Context, id string) (*generation.TaskStatusPayload, error) {
//	        return &generation.TaskStatusPayload{TaskID: id, Status: "PENDING"}, nil
//	    },
//	}
//	jobs := mocks.NewMemoryJobStore()
package mocks
