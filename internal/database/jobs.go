package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hookrelay/internal/models"
)

// CreateJob inserts a new job row. The caller owns ID assignment.
func (d *Database) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (
			id, type, payload, status, priority, priority_weight,
			attempts, max_attempts, scheduled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			job.ID,
			job.Type,
			string(job.Payload),
			job.Status,
			job.Priority,
			job.Priority.Weight(),
			job.Attempts,
			job.MaxAttempts,
			job.ScheduledAt,
			job.CreatedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		return nil
	}, "create job")
}

// GetJob returns the job with the given id, or nil if it does not exist.
func (d *Database) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, type, payload, status, priority, attempts, max_attempts,
		       scheduled_at, started_at, completed_at, error_message, result,
		       created_at, updated_at
		FROM jobs
		WHERE id = ?
	`

	job, err := scanJob(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// FindDueJobs selects up to limit pending jobs whose scheduled time has
// passed, highest priority first and oldest-due first within a priority.
func (d *Database) FindDueJobs(ctx context.Context, limit int, now time.Time) ([]models.Job, error) {
	query := `
		SELECT id, type, payload, status, priority, attempts, max_attempts,
		       scheduled_at, started_at, completed_at, error_message, result,
		       created_at, updated_at
		FROM jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY priority_weight DESC, scheduled_at ASC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, models.JobStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkJobProcessing claims a pending job for execution. The conditional
// update is the atomic single-record write that prevents double dispatch.
func (d *Database) MarkJobProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := d.db.ExecContext(ctx, query,
		models.JobStatusProcessing, startedAt, startedAt, id, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}

// CompleteJob records a successful execution with its serialized result.
func (d *Database) CompleteJob(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = ?, result = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			models.JobStatusCompleted, nullableString(result), completedAt, completedAt, id)
		return err
	}, "complete job")
}

// RescheduleJob returns a failed job to pending with a new due time and
// the incremented attempt count.
func (d *Database) RescheduleJob(ctx context.Context, id string, attempts int, errorMessage string, scheduledAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = ?, attempts = ?, error_message = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ?
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			models.JobStatusPending, attempts, errorMessage, scheduledAt, time.Now(), id)
		return err
	}, "reschedule job")
}

// FailJob marks a job permanently failed.
func (d *Database) FailJob(ctx context.Context, id string, attempts int, errorMessage string, completedAt time.Time) error {
	query := `
		UPDATE jobs
		SET status = ?, attempts = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			models.JobStatusFailed, attempts, errorMessage, completedAt, completedAt, id)
		return err
	}, "fail job")
}

// CountJobsByStatus returns per-status job counts.
func (d *Database) CountJobsByStatus(ctx context.Context) (models.JobStats, error) {
	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status`

	var stats models.JobStats
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return stats, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan job count: %w", err)
		}
		switch status {
		case models.JobStatusPending:
			stats.Pending = count
		case models.JobStatusProcessing:
			stats.Processing = count
		case models.JobStatusCompleted:
			stats.Completed = count
		case models.JobStatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// DeleteCompletedJobsBefore removes completed jobs older than the cutoff.
func (d *Database) DeleteCompletedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM jobs WHERE status = ? AND completed_at < ?`

	res, err := d.db.ExecContext(ctx, query, models.JobStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetFailedJobs returns failed jobs (optionally of one type) to pending
// with a fresh attempt budget.
func (d *Database) ResetFailedJobs(ctx context.Context, jobType string, now time.Time) (int64, error) {
	query := `
		UPDATE jobs
		SET status = ?, attempts = 0, scheduled_at = ?, updated_at = ?
		WHERE status = ?
	`
	args := []interface{}{models.JobStatusPending, now, now, models.JobStatusFailed}

	if jobType != "" {
		query += ` AND type = ?`
		args = append(args, jobType)
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed jobs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var payload string
	var startedAt, completedAt sql.NullTime
	var errorMessage, result sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledAt,
		&startedAt,
		&completedAt,
		&errorMessage,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = json.RawMessage(payload)
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	return &job, nil
}

func nullableString(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
