package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/tunesmith-api/internal/platform/metrics"
	"golang.org/x/sync/semaphore"
)

// ErrSlotTimeout is returned when no slot became free in time.
var ErrSlotTimeout = errors.New("timed out waiting for a generation slot")

// SlotManager is a counting semaphore bounding the number of jobs in flight
// at the provider. Waiters are admitted in arrival order.
type SlotManager struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// SlotToken is a held slot. Release returns it; only the first call counts.
type SlotToken struct {
	once    sync.Once
	manager *SlotManager
}

// NewSlotManager creates a manager with the given fixed capacity.
func NewSlotManager(capacity int, m *metrics.Metrics, logger *slog.Logger) (*SlotManager, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("slot capacity must be at least 1, got %d", capacity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m.SetSlotCapacity(capacity)
	m.SetSlotsInUse(0)

	return &SlotManager{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		metrics:  m,
		logger:   logger.With("component", "slot_manager"),
	}, nil
}

// Acquire blocks until a slot is free, timeout elapses or ctx is done. A
// non-positive timeout waits on ctx alone. Failures wrap ErrSlotTimeout.
func (s *SlotManager) Acquire(ctx context.Context, timeout time.Duration) (*SlotToken, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.logger.Warn("no generation slot available",
			"capacity", s.capacity,
			"in_use", s.InUse(),
			"timeout", timeout)
		return nil, fmt.Errorf("%w: %w", ErrSlotTimeout, err)
	}

	s.metrics.SetSlotsInUse(int(s.inUse.Add(1)))
	return &SlotToken{manager: s}, nil
}

// Release returns token to the pool. It is the same as token.Release.
func (s *SlotManager) Release(token *SlotToken) {
	token.Release()
}

// InUse returns the number of held slots.
func (s *SlotManager) InUse() int {
	return int(s.inUse.Load())
}

// Capacity returns the configured number of slots.
func (s *SlotManager) Capacity() int {
	return s.capacity
}

// Release returns the slot. It is idempotent and safe on a nil token.
func (t *SlotToken) Release() {
	if t == nil || t.manager == nil {
		return
	}
	t.once.Do(func() {
		m := t.manager
		m.metrics.SetSlotsInUse(int(m.inUse.Add(-1)))
		m.sem.Release(1)
	})
}
