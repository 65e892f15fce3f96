package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

// Store is the job record store. All cross-worker mutual exclusion is
// expressed through transitionIf: a single conditional UPDATE keyed on
// the current status, never read-then-write.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `job_id, user_id, input_file_name, input_bucket, input_key,
	COALESCE(results_bucket, '') AS results_bucket,
	COALESCE(result_key, '') AS result_key,
	COALESCE(log_key, '') AS log_key,
	COALESCE(archive_location, '') AS archive_location,
	submit_time, COALESCE(complete_time, 0) AS complete_time, job_status`

// PutJob inserts a new job record. The input object is already stored
// when this runs; the submission message is only published afterwards.
func (s *Store) PutJob(ctx context.Context, job *jobs.Job) error {
	query := `
		INSERT INTO annotations (
			job_id, user_id, input_file_name, input_bucket, input_key,
			submit_time, job_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.UserID,
		job.InputFileName,
		job.InputBucket,
		job.InputKey,
		job.SubmitTime,
		job.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job record created",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
	)

	return nil
}

// GetJob retrieves a job record by its ID
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM annotations WHERE job_id = $1`

	var job jobs.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobsByUser returns a user's jobs, newest first
func (s *Store) ListJobsByUser(ctx context.Context, userID string) ([]jobs.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM annotations
		WHERE user_id = $1
		ORDER BY submit_time DESC, job_id DESC`

	var result []jobs.Job
	if err := s.db.SelectContext(ctx, &result, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return result, nil
}

// ListJobsByUserAndStatus returns a user's jobs in the given status
func (s *Store) ListJobsByUserAndStatus(ctx context.Context, userID string, status jobs.Status) ([]jobs.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM annotations
		WHERE user_id = $1 AND job_status = $2
		ORDER BY submit_time DESC, job_id DESC`

	var result []jobs.Job
	if err := s.db.SelectContext(ctx, &result, query, userID, status); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	return result, nil
}

// transitionIf performs the atomic compare-and-set: update only if the
// record's current status equals expected. Zero rows affected means a
// concurrent or duplicate actor already moved the record.
func (s *Store) transitionIf(ctx context.Context, jobID string, expected, next jobs.Status, extraSet string, extraArgs ...any) error {
	query := `
		UPDATE annotations
		SET job_status = $1,
		    updated_at = NOW()` + extraSet + `
		WHERE job_id = $2
		  AND job_status = $3
	`

	args := append([]any{next, jobID, expected}, extraArgs...)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Conditional transition skipped - job not in expected status",
			slog.String("job_id", jobID),
			slog.String("expected", string(expected)),
			slog.String("next", string(next)),
		)
		return jobs.ErrConditionFailed
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(next)),
	)

	return nil
}

// ClaimPendingJob attempts the conditional PENDING -> RUNNING transition.
// Only the first worker to launch the computation wins; the rest observe
// jobs.ErrConditionFailed and leave their message for redelivery.
func (s *Store) ClaimPendingJob(ctx context.Context, jobID string) error {
	return s.transitionIf(ctx, jobID, jobs.StatusPending, jobs.StatusRunning, "")
}

// CompleteJob performs the RUNNING -> COMPLETED transition and records
// the result artifact locations and completion time. The annotation
// runner is the sole writer at this stage; the update is unconditional
// on fields but still keyed on RUNNING so a stray duplicate runner
// cannot overwrite a job already finalized or archived.
func (s *Store) CompleteJob(ctx context.Context, jobID, resultsBucket, resultKey, logKey string, completeTime int64) error {
	return s.transitionIf(ctx, jobID, jobs.StatusRunning, jobs.StatusCompleted, `,
		    results_bucket = $4,
		    result_key = $5,
		    log_key = $6,
		    complete_time = COALESCE(complete_time, $7)`,
		resultsBucket, resultKey, logKey, completeTime)
}

// MarkArchived performs the COMPLETED -> ARCHIVED transition, recording
// where the cold copy lives.
func (s *Store) MarkArchived(ctx context.Context, jobID, archiveLocation string) error {
	return s.transitionIf(ctx, jobID, jobs.StatusCompleted, jobs.StatusArchived, `,
		    archive_location = $4`,
		archiveLocation)
}

// MarkRestoring performs the ARCHIVED -> RESTORING transition.
func (s *Store) MarkRestoring(ctx context.Context, jobID string) error {
	return s.transitionIf(ctx, jobID, jobs.StatusArchived, jobs.StatusRestoring, "")
}

// MarkRestored performs the RESTORING -> COMPLETED transition and clears
// the cold location. A duplicate thaw callback finds the job COMPLETED
// and gets jobs.ErrConditionFailed, which callers treat as a no-op.
func (s *Store) MarkRestored(ctx context.Context, jobID string) error {
	return s.transitionIf(ctx, jobID, jobs.StatusRestoring, jobs.StatusCompleted, `,
		    archive_location = NULL`)
}
