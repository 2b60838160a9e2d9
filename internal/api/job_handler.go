package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/tunesmith-api/internal/api/shared"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
	"github.com/phrazzld/tunesmith-api/internal/service"
)

// JobHandler handles generation job HTTP requests.
type JobHandler struct {
	orchestrator service.JobOrchestrator
	logger       *slog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(orchestrator service.JobOrchestrator, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		orchestrator: orchestrator,
		logger:       logger.With("component", "job_handler"),
	}
}

// Routes mounts the job endpoints on r.
func (h *JobHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.SubmitJob)
	r.Get("/jobs/{id}", h.GetJob)
	r.Post("/jobs/{id}/cancel", h.CancelJob)
}

// SubmitJob handles POST /api/jobs requests.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req SubmitJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	id, err := h.orchestrator.Submit(r.Context(), req.toDomain())
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	log.Info("job accepted", "job_id", id.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitJobResponse{
		ID:     id.String(),
		Status: string(domain.JobStatusPending),
	})
}

// GetJob handles GET /api/jobs/{id} requests.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid job ID", err)
		return
	}

	view, err := h.orchestrator.GetStatus(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(view))
}

// CancelJob handles POST /api/jobs/{id}/cancel requests. It responds with the
// job as stored after the cancel, which is unchanged for a finished job.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid job ID", err)
		return
	}

	if err := h.orchestrator.Cancel(r.Context(), id); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	view, err := h.orchestrator.GetStatus(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(view))
}

func (h *JobHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err)
}
