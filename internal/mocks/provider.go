package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/tunesmith-api/internal/generation"
)

// MockProvider implements generation.Provider for testing.
type MockProvider struct {
	// StartFn allows test cases to mock Start. When nil, Start returns a
	// fresh "task-N" id.
	StartFn func(ctx context.Context, req generation.StartRequest) (string, error)

	// PollFn allows test cases to mock Poll. When nil, Poll reports PENDING.
	PollFn func(ctx context.Context, taskID string) (*generation.TaskStatusPayload, error)

	mu         sync.Mutex
	startCalls []generation.StartRequest
	pollCalls  map[string]int
}

var _ generation.Provider = (*MockProvider)(nil)

// Start implements generation.Provider.
func (m *MockProvider) Start(ctx context.Context, req generation.StartRequest) (string, error) {
	m.mu.Lock()
	m.startCalls = append(m.startCalls, req)
	n := len(m.startCalls)
	m.mu.Unlock()

	if m.StartFn != nil {
		return m.StartFn(ctx, req)
	}
	return fmt.Sprintf("task-%d", n), nil
}

// Poll implements generation.Provider.
func (m *MockProvider) Poll(ctx context.Context, taskID string) (*generation.TaskStatusPayload, error) {
	m.mu.Lock()
	if m.pollCalls == nil {
		m.pollCalls = make(map[string]int)
	}
	m.pollCalls[taskID]++
	m.mu.Unlock()

	if m.PollFn != nil {
		return m.PollFn(ctx, taskID)
	}
	return &generation.TaskStatusPayload{TaskID: taskID, Status: "PENDING"}, nil
}

// StartCalls returns the requests passed to Start so far.
func (m *MockProvider) StartCalls() []generation.StartRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.StartRequest(nil), m.startCalls...)
}

// PollCount returns how many times taskID was polled.
func (m *MockProvider) PollCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pollCalls[taskID]
}

// TotalPolls returns the number of Poll calls across all tasks.
func (m *MockProvider) TotalPolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.pollCalls {
		total += n
	}
	return total
}

// Script returns a PollFn that replays the given responses in order and then
// repeats the last one. Each step is either a payload or an error.
func Script(steps ...ScriptStep) func(context.Context, string) (*generation.TaskStatusPayload, error) {
	var mu sync.Mutex
	i := 0
	return func(_ context.Context, taskID string) (*generation.TaskStatusPayload, error) {
		mu.Lock()
		defer mu.Unlock()
		step := steps[min(i, len(steps)-1)]
		i++
		if step.Err != nil {
			return nil, step.Err
		}
		payload := *step.Payload
		payload.TaskID = taskID
		return &payload, nil
	}
}

// ScriptStep is one scripted Poll response.
type ScriptStep struct {
	Payload *generation.TaskStatusPayload
	Err     error
}

// Status is a ScriptStep reporting status with no result.
func Status(status string) ScriptStep {
	return ScriptStep{Payload: &generation.TaskStatusPayload{Status: status}}
}

// Fail is a ScriptStep returning err.
func Fail(err error) ScriptStep {
	return ScriptStep{Err: err}
}

// Payload is a ScriptStep returning p.
func Payload(p *generation.TaskStatusPayload) ScriptStep {
	return ScriptStep{Payload: p}
}
