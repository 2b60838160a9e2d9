package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
	"github.com/phrazzld/tunesmith-api/internal/store"
)

const jobColumns = `id, external_task_id, status, choice_count, model, prompt, style, title,
	instrumental, progress_info, error_message, poll_attempts, created_at, updated_at, completed_at`

// PostgresJobStore implements the store.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore
// interface. db may be a *sql.DB or a *sql.Tx; with a *sql.Tx every
// operation joins the caller's transaction.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// WithTx returns a store bound to the given transaction.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) *PostgresJobStore {
	return &PostgresJobStore{db: tx, logger: s.logger}
}

// inTx runs fn in a new transaction, or in the bound one when the store was
// created over a *sql.Tx.
func (s *PostgresJobStore) inTx(ctx context.Context, fn store.TxFn) error {
	switch db := s.db.(type) {
	case *sql.Tx:
		return fn(ctx, db)
	case store.Beginner:
		return store.RunInTransaction(logger.WithLogger(ctx, s.logger), db, fn)
	default:
		return fmt.Errorf("%w: store handle %T cannot begin transactions", store.ErrTransactionFailed, s.db)
	}
}

// CreateJob implements store.JobStore.CreateJob.
func (s *PostgresJobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		log.Warn("job validation failed during create",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO generation_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.ExternalTaskID,
		string(job.Status),
		job.ChoiceCount,
		job.Model,
		job.Prompt,
		job.Style,
		job.Title,
		job.Instrumental,
		job.ProgressInfo,
		job.ErrorMessage,
		job.PollAttempts,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("duplicate external task id",
				slog.String("job_id", job.ID.String()),
				slog.String("external_task_id", job.ExternalTaskID))
			return fmt.Errorf("%w: %s", store.ErrExternalTaskExists, job.ExternalTaskID)
		}
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID.String()))
		return MapError(err)
	}

	log.Debug("job created",
		slog.String("job_id", job.ID.String()),
		slog.String("external_task_id", job.ExternalTaskID))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		progress    sql.NullString
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.ExternalTaskID,
		&status,
		&job.ChoiceCount,
		&job.Model,
		&job.Prompt,
		&job.Style,
		&job.Title,
		&job.Instrumental,
		&progress,
		&errMsg,
		&job.PollAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status, err = domain.ParseJobStatus(status)
	if err != nil {
		return nil, err
	}
	if progress.Valid {
		job.ProgressInfo = &progress.String
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// GetJob implements store.JobStore.GetJob.
func (s *PostgresJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("job not found", slog.String("job_id", id.String()))
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, MapError(err)
	}
	return job, nil
}

// GetJobStatus implements store.JobStore.GetJobStatus.
func (s *PostgresJobStore) GetJobStatus(ctx context.Context, externalTaskID string) (domain.JobStatus, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM generation_jobs WHERE external_task_id = $1`,
		externalTaskID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrJobNotFound
		}
		return "", MapError(err)
	}
	return domain.ParseJobStatus(raw)
}

// GetChoices implements store.JobStore.GetChoices.
func (s *PostgresJobStore) GetChoices(ctx context.Context, jobID uuid.UUID) ([]domain.Choice, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, choice_index, audio_url, stream_audio_url, video_url, image_url,
			duration, title, tags, rating, created_at
		FROM generation_choices
		WHERE job_id = $1
		ORDER BY choice_index ASC
	`, jobID)
	if err != nil {
		log.Error("failed to query choices",
			slog.String("error", err.Error()),
			slog.String("job_id", jobID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	choices := []domain.Choice{}
	for rows.Next() {
		var (
			c                    domain.Choice
			stream, video, image sql.NullString
			tags                 sql.NullString
			duration             sql.NullFloat64
			rating               sql.NullInt32
		)
		if err := rows.Scan(&c.JobID, &c.Index, &c.AudioURL, &stream, &video, &image,
			&duration, &c.Title, &tags, &rating, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan choice row: %w", err)
		}
		c.StreamAudioURL = nullString(stream)
		c.VideoURL = nullString(video)
		c.ImageURL = nullString(image)
		c.Tags = nullString(tags)
		if duration.Valid {
			d := duration.Float64
			c.Duration = &d
		}
		if rating.Valid {
			r := int(rating.Int32)
			c.Rating = &r
		}
		choices = append(choices, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating choice rows: %w", err)
	}
	return choices, nil
}

// Commit implements store.JobStore.Commit.
func (s *PostgresJobStore) Commit(
	ctx context.Context,
	job *domain.Job,
	choices []domain.Choice,
) (store.CommitResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("job_id", job.ID.String()),
		slog.String("external_task_id", job.ExternalTaskID))

	if job.ExternalTaskID == "" {
		return store.CommitResult{}, fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrEmptyExternalTaskID)
	}

	var result store.CommitResult
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var (
			jobID       uuid.UUID
			raw         string
			choiceCount int
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, status, choice_count
			FROM generation_jobs
			WHERE external_task_id = $1
			FOR UPDATE
		`, job.ExternalTaskID).Scan(&jobID, &raw, &choiceCount)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrJobNotFound
			}
			return MapError(err)
		}

		stored, err := domain.ParseJobStatus(raw)
		if err != nil {
			return err
		}
		if stored.IsTerminal() {
			if stored != job.Status {
				log.Info("stored terminal status wins over commit",
					slog.String("stored_status", string(stored)),
					slog.String("requested_status", string(job.Status)))
			}
			result = store.CommitResult{Status: stored, Changed: false}
			return nil
		}

		next, changed, err := domain.Transition(stored, job.Status)
		if err != nil {
			return fmt.Errorf("commit job %s: %w", jobID, err)
		}

		var errMsg *string
		var completedAt *time.Time
		now := time.Now().UTC()
		if next == domain.JobStatusFailure {
			errMsg = job.ErrorMessage
		}
		if next.IsTerminal() {
			completedAt = &now
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE generation_jobs
			SET status = $2,
				progress_info = COALESCE($3, progress_info),
				error_message = COALESCE($4, error_message),
				poll_attempts = GREATEST(poll_attempts, $5),
				updated_at = $6,
				completed_at = COALESCE(completed_at, $7)
			WHERE id = $1
		`, jobID, string(next), job.ProgressInfo, errMsg, job.PollAttempts, now, completedAt)
		if err != nil {
			return MapError(err)
		}

		if changed && next == domain.JobStatusSuccess {
			if err := insertChoices(ctx, tx, jobID, choiceCount, choices, now); err != nil {
				return err
			}
		}

		result = store.CommitResult{Status: next, Changed: changed}
		return nil
	})
	if err != nil {
		log.Error("failed to commit job update",
			slog.String("error", err.Error()),
			slog.String("status", string(job.Status)))
		return store.CommitResult{}, err
	}

	if result.Changed {
		log.Info("job status committed",
			slog.String("status", string(result.Status)),
			slog.Int("choices", len(choices)))
	}
	return result, nil
}

func insertChoices(
	ctx context.Context,
	tx *sql.Tx,
	jobID uuid.UUID,
	choiceCount int,
	choices []domain.Choice,
	now time.Time,
) error {
	if err := domain.ValidateChoices(choices, choiceCount); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	for _, c := range choices {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO generation_choices (job_id, choice_index, audio_url, stream_audio_url,
				video_url, image_url, duration, title, tags, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (job_id, choice_index) DO NOTHING
		`, jobID, c.Index, c.AudioURL, c.StreamAudioURL, c.VideoURL, c.ImageURL,
			c.Duration, c.Title, c.Tags, now)
		if err != nil {
			return MapError(err)
		}
	}
	return nil
}

// RecordPollAttempt implements store.JobStore.RecordPollAttempt.
func (s *PostgresJobStore) RecordPollAttempt(ctx context.Context, externalTaskID string, attempts int) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		WITH bumped AS (
			UPDATE generation_jobs
			SET poll_attempts = GREATEST(poll_attempts, $2)
			WHERE external_task_id = $1 AND status IN ($3, $4)
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM bumped)
			OR EXISTS (SELECT 1 FROM generation_jobs WHERE external_task_id = $1)
	`, externalTaskID, attempts,
		string(domain.JobStatusPending), string(domain.JobStatusProgress),
	).Scan(&exists)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to record poll attempt",
			slog.String("external_task_id", externalTaskID),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	if !exists {
		return store.ErrJobNotFound
	}
	return nil
}

// CancelJob implements store.JobStore.CancelJob.
func (s *PostgresJobStore) CancelJob(ctx context.Context, id uuid.UUID) (store.CommitResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("job_id", id.String()))

	var result store.CommitResult
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM generation_jobs WHERE id = $1 FOR UPDATE`, id,
		).Scan(&raw)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrJobNotFound
			}
			return MapError(err)
		}

		stored, err := domain.ParseJobStatus(raw)
		if err != nil {
			return err
		}
		if stored.IsTerminal() {
			result = store.CommitResult{Status: stored}
			return nil
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE generation_jobs
			SET status = $2, updated_at = $3, completed_at = $3
			WHERE id = $1
		`, id, string(domain.JobStatusCancelled), now)
		if err != nil {
			return MapError(err)
		}
		if err := CheckRowsAffected(res, "job"); err != nil {
			return err
		}

		result = store.CommitResult{Status: domain.JobStatusCancelled, Changed: true}
		return nil
	})
	if err != nil {
		if !store.IsNotFoundError(err) {
			log.Error("failed to cancel job", slog.String("error", err.Error()))
		}
		return store.CommitResult{}, err
	}
	return result, nil
}

// ListActiveJobs implements store.JobStore.ListActiveJobs.
func (s *PostgresJobStore) ListActiveJobs(ctx context.Context, updatedBefore time.Time) ([]*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status IN ($1, $2) AND updated_at < $3
		ORDER BY created_at ASC
	`, string(domain.JobStatusPending), string(domain.JobStatusProgress), updatedBefore)
	if err != nil {
		log.Error("failed to query active jobs", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
