package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/generation"
	"github.com/phrazzld/tunesmith-api/internal/mocks"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
	"github.com/phrazzld/tunesmith-api/internal/service"
	"github.com/phrazzld/tunesmith-api/internal/store"
	"github.com/phrazzld/tunesmith-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupRouter(orch service.JobOrchestrator) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", NewJobHandler(orch, logger.DiscardLogger()).Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func sampleView(status domain.JobStatus) *service.JobView {
	now := time.Now().UTC()
	duration := 61.5
	job := &domain.Job{
		ID:             uuid.New(),
		ExternalTaskID: "ext-1",
		Status:         status,
		ChoiceCount:    1,
		Model:          "v4",
		PollAttempts:   3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	view := &service.JobView{Job: job, Choices: []domain.Choice{}}
	if status == domain.JobStatusSuccess {
		view.Choices = append(view.Choices, domain.Choice{
			JobID:    job.ID,
			Index:    0,
			AudioURL: "https://cdn/a.mp3",
			Title:    "Sea",
			Duration: &duration,
		})
	}
	return view
}

func TestSubmitJob_Accepted(t *testing.T) {
	orch := &mocks.TestifyMockOrchestrator{}
	id := uuid.New()
	orch.On("Submit", mock.Anything, domain.GenerationRequest{
		Prompt:      "sea shanty",
		Model:       "v4",
		ChoiceCount: 2,
	}).Return(id, nil)

	w := do(t, setupRouter(orch), http.MethodPost, "/api/jobs",
		`{"prompt":"sea shanty","model":"v4","choice_count":2}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp SubmitJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp.ID)
	assert.Equal(t, "PENDING", resp.Status)
	orch.AssertExpectations(t)
}

func TestSubmitJob_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "malformed body",
			body:       `{"prompt":`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Invalid request format",
		},
		{
			name:       "missing model",
			body:       `{"prompt":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Invalid Model: required field",
		},
		{
			name:       "empty prompt",
			body:       `{"model":"v4"}`,
			serviceErr: errors.Join(service.ErrInvalidRequest, domain.ErrEmptyPrompt),
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Either prompt or style is required",
		},
		{
			name:       "no slot",
			body:       `{"prompt":"x","model":"v4"}`,
			serviceErr: &service.RejectedError{Reason: "no generation slot available", Err: task.ErrSlotTimeout},
			wantStatus: http.StatusServiceUnavailable,
			wantMsg:    "No generation capacity available, retry later",
		},
		{
			name: "provider refused",
			body: `{"prompt":"x","model":"v4"}`,
			serviceErr: errors.Join(service.ErrProviderStart,
				generation.NewPermanentError(401, "bad key sk-12345678", nil)),
			wantStatus: http.StatusBadGateway,
			wantMsg:    "Generation provider could not start the job",
		},
		{
			name:       "store failure",
			body:       `{"prompt":"x","model":"v4"}`,
			serviceErr: store.ErrTransactionFailed,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "An unexpected error occurred",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orch := &mocks.TestifyMockOrchestrator{}
			if tc.serviceErr != nil {
				orch.On("Submit", mock.Anything, mock.Anything).Return(uuid.Nil, tc.serviceErr)
			}

			w := do(t, setupRouter(orch), http.MethodPost, "/api/jobs", tc.body)

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantMsg, errorBody(t, w))
			if tc.wantStatus == http.StatusServiceUnavailable {
				assert.NotEmpty(t, w.Header().Get("Retry-After"))
			}
			if tc.serviceErr == nil {
				orch.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	view := sampleView(domain.JobStatusSuccess)
	orch := &mocks.TestifyMockOrchestrator{}
	orch.On("GetStatus", mock.Anything, view.Job.ID).Return(view, nil)

	w := do(t, setupRouter(orch), http.MethodGet, "/api/jobs/"+view.Job.ID.String(), "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SUCCESS", resp.Status)
	assert.Equal(t, 3, resp.PollAttempts)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "https://cdn/a.mp3", resp.Choices[0].AudioURL)
	require.NotNil(t, resp.Choices[0].Duration)
	assert.InDelta(t, 61.5, *resp.Choices[0].Duration, 1e-9)
	assert.NotContains(t, w.Body.String(), "ext-1", "the provider task id is not exposed")
}

func TestGetJob_NotFoundAndBadID(t *testing.T) {
	orch := &mocks.TestifyMockOrchestrator{}
	missing := uuid.New()
	orch.On("GetStatus", mock.Anything, missing).Return(nil, store.ErrJobNotFound)
	router := setupRouter(orch)

	w := do(t, router, http.MethodGet, "/api/jobs/"+missing.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job not found", errorBody(t, w))

	w = do(t, router, http.MethodGet, "/api/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid job ID", errorBody(t, w))
}

func TestCancelJob(t *testing.T) {
	view := sampleView(domain.JobStatusCancelled)
	orch := &mocks.TestifyMockOrchestrator{}
	orch.On("Cancel", mock.Anything, view.Job.ID).Return(nil)
	orch.On("GetStatus", mock.Anything, view.Job.ID).Return(view, nil)

	w := do(t, setupRouter(orch), http.MethodPost, "/api/jobs/"+view.Job.ID.String()+"/cancel", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CANCELLED", resp.Status)
	assert.Empty(t, resp.Choices)
	orch.AssertExpectations(t)
}

func TestCancelJob_NotFound(t *testing.T) {
	orch := &mocks.TestifyMockOrchestrator{}
	id := uuid.New()
	orch.On("Cancel", mock.Anything, id).Return(store.ErrJobNotFound)

	w := do(t, setupRouter(orch), http.MethodPost, "/api/jobs/"+id.String()+"/cancel", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	orch.AssertNotCalled(t, "GetStatus", mock.Anything, mock.Anything)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(_ context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	w := httptest.NewRecorder()
	HealthHandler(nil)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	HealthHandler(fakePinger{})(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	HealthHandler(fakePinger{err: errors.New("down")})(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSanitizeValidationError(t *testing.T) {
	err := errors.New("Key: 'SubmitJobRequest.Prompt' Error:Field validation for 'Prompt' failed on the 'max' tag")
	assert.Equal(t, "Invalid Prompt: too long", SanitizeValidationError(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("boom")))
}
