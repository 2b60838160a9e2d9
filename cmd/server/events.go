package main

import (
	"context"
	"log/slog"

	"github.com/phrazzld/tunesmith-api/internal/events"
)

// newJobEventLogger returns a handler that writes one structured line per
// job lifecycle event.
func newJobEventLogger(logger *slog.Logger) events.HandlerFunc {
	log := logger.With("component", "job_events")
	return func(ctx context.Context, e *events.JobEvent) error {
		log.InfoContext(ctx, "job event",
			"event_id", e.ID.String(),
			"event_type", e.Type,
			"job_id", e.JobID.String(),
			"status", string(e.Status),
			"occurred_at", e.OccurredAt)
		return nil
	}
}
