package postgres_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
	"github.com/phrazzld/tunesmith-api/internal/platform/postgres"
	"github.com/phrazzld/tunesmith-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lockJobQuery    = regexp.QuoteMeta("SELECT id, status, choice_count")
	lockStatusQuery = regexp.QuoteMeta("SELECT status FROM generation_jobs WHERE id = $1 FOR UPDATE")
	updateJobExec   = regexp.QuoteMeta("UPDATE generation_jobs")
	insertChoice    = regexp.QuoteMeta("INSERT INTO generation_choices")
)

func newMockStore(t *testing.T) (*postgres.PostgresJobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewPostgresJobStore(db, logger.DiscardLogger()), mock
}

func commitJob(status domain.JobStatus) *domain.Job {
	return &domain.Job{
		ID:             uuid.New(),
		ExternalTaskID: "ext-1",
		Status:         status,
		ChoiceCount:    2,
		PollAttempts:   4,
	}
}

func TestCommit_SuccessInsertsChoices(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WithArgs("ext-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "choice_count"}).
			AddRow(jobID.String(), "PROGRESS", 2))
	mock.ExpectExec(updateJobExec).
		WithArgs(sqlmock.AnyArg(), "SUCCESS", nil, nil, 4, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertChoice).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertChoice).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.Commit(context.Background(), commitJob(domain.JobStatusSuccess), []domain.Choice{
		{Index: 0, AudioURL: "https://cdn/a.mp3"},
		{Index: 1, AudioURL: "https://cdn/b.mp3"},
	})

	require.NoError(t, err)
	assert.Equal(t, store.CommitResult{Status: domain.JobStatusSuccess, Changed: true}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_ProgressUpdateWithoutChoices(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "choice_count"}).
			AddRow(uuid.NewString(), "PROGRESS", 2))
	mock.ExpectExec(updateJobExec).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job := commitJob(domain.JobStatusProgress)
	job.ProgressInfo = domain.StringPtr("60%")
	res, err := s.Commit(context.Background(), job, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProgress, res.Status)
	assert.False(t, res.Changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_StoredTerminalWins(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "choice_count"}).
			AddRow(uuid.NewString(), "CANCELLED", 2))
	mock.ExpectCommit()

	res, err := s.Commit(context.Background(), commitJob(domain.JobStatusSuccess), []domain.Choice{
		{Index: 0, AudioURL: "a"},
	})

	require.NoError(t, err)
	assert.Equal(t, store.CommitResult{Status: domain.JobStatusCancelled, Changed: false}, res)
	assert.NoError(t, mock.ExpectationsWereMet(), "no update or insert may run")
}

func TestCommit_NotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Commit(context.Background(), commitJob(domain.JobStatusProgress), nil)

	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_IllegalTransitionRollsBack(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "choice_count"}).
			AddRow(uuid.NewString(), "PROGRESS", 2))
	mock.ExpectRollback()

	_, err := s.Commit(context.Background(), commitJob(domain.JobStatusPending), nil)

	assert.True(t, domain.IsIllegalTransition(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_TooManyChoicesRollsBack(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockJobQuery).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "choice_count"}).
			AddRow(uuid.NewString(), "PENDING", 1))
	mock.ExpectExec(updateJobExec).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := s.Commit(context.Background(), commitJob(domain.JobStatusSuccess), []domain.Choice{
		{Index: 0, AudioURL: "a"},
		{Index: 1, AudioURL: "b"},
	})

	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_RequiresExternalTaskID(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	job := commitJob(domain.JobStatusProgress)
	job.ExternalTaskID = ""
	_, err := s.Commit(context.Background(), job, nil)

	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	t.Run("active job", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(lockStatusQuery).WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PROGRESS"))
		mock.ExpectExec(updateJobExec).WithArgs(id, "CANCELLED", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := s.CancelJob(context.Background(), id)

		require.NoError(t, err)
		assert.Equal(t, store.CommitResult{Status: domain.JobStatusCancelled, Changed: true}, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal job", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockStatusQuery).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SUCCESS"))
		mock.ExpectCommit()

		res, err := s.CancelJob(context.Background(), uuid.New())

		require.NoError(t, err)
		assert.Equal(t, store.CommitResult{Status: domain.JobStatusSuccess}, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown job", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockStatusQuery).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := s.CancelJob(context.Background(), uuid.New())

		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func jobRow(id uuid.UUID, status string, completed any) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "external_task_id", "status", "choice_count", "model", "prompt", "style", "title",
		"instrumental", "progress_info", "error_message", "poll_attempts", "created_at", "updated_at",
		"completed_at",
	}).AddRow(id.String(), "ext-1", status, 2, "v3", "a song", "folk", "T",
		false, "40%", nil, 3, now, now, completed)
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE id = $1")).WithArgs(id).
		WillReturnRows(jobRow(id, "PROGRESS", nil))

	job, err := s.GetJob(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobStatusProgress, job.Status)
	require.NotNil(t, job.ProgressInfo)
	assert.Equal(t, "40%", *job.ProgressInfo)
	assert.Nil(t, job.ErrorMessage)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, 3, job.PollAttempts)

	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE id = $1")).WillReturnError(sql.ErrNoRows)
	_, err = s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	job, err := domain.NewJob(domain.GenerationRequest{Prompt: "p", Model: "m", ChoiceCount: 1}, "ext-1")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_jobs")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.CreateJob(context.Background(), job))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_jobs")).WillReturnError(newPgError("23505"))
	err = s.CreateJob(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrExternalTaskExists)

	invalid := job.Clone()
	invalid.ExternalTaskID = ""
	assert.ErrorIs(t, s.CreateJob(context.Background(), invalid), store.ErrInvalidEntity)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPollAttempt(t *testing.T) {
	t.Parallel()
	recordQuery := regexp.QuoteMeta("SET poll_attempts = GREATEST(poll_attempts, $2)")

	t.Run("active job", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)

		mock.ExpectQuery(recordQuery).WithArgs("ext-1", 5, "PENDING", "PROGRESS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, s.RecordPollAttempt(context.Background(), "ext-1", 5))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown job", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)

		mock.ExpectQuery(recordQuery).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		err := s.RecordPollAttempt(context.Background(), "ext-missing", 1)
		assert.ErrorIs(t, err, store.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)

		mock.ExpectQuery(recordQuery).WillReturnError(sql.ErrConnDone)

		err := s.RecordPollAttempt(context.Background(), "ext-1", 2)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
