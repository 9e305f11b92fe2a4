package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/router"
)

const jobColumns = `id, type, status, weight, tier, issuer, payload, result, error,
	retry_count, worker_id, last_checkpoint, created_at, updated_at,
	started_at, finished_at, delivered_at`

func scanJob(row interface{ Scan(dest ...any) error }) (router.Job, error) {
	var (
		id, jobType, status, issuer                                     string
		tier, payload, result, errText, workerID                        sql.NullString
		lastCheckpoint, createdAt, updatedAt                             string
		startedAt, finishedAt, deliveredAt                               sql.NullString
		weight, retryCount                                               int
	)
	if err := row.Scan(&id, &jobType, &status, &weight, &tier, &issuer, &payload, &result, &errText,
		&retryCount, &workerID, &lastCheckpoint, &createdAt, &updatedAt, &startedAt, &finishedAt, &deliveredAt); err != nil {
		return router.Job{}, err
	}

	j := router.Job{
		ID:         id,
		Type:       jobType,
		Status:     router.Status(status),
		Weight:     weight,
		Tier:       router.Tier(tier.String),
		Issuer:     issuer,
		Payload:    []byte(payload.String),
		Result:     result.String,
		Error:      errText.String,
		RetryCount: retryCount,
		WorkerID:   workerID.String,
	}
	j.LastCheckpoint, _ = time.Parse(time.RFC3339Nano, lastCheckpoint)
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		j.FinishedAt = &t
	}
	if deliveredAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deliveredAt.String)
		j.DeliveredAt = &t
	}
	return j, nil
}

// Enqueue implements router.Store.
func (s *Store) Enqueue(ctx context.Context, job router.Job) (string, error) {
	now := cortex.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, weight, tier, issuer, payload, result, error,
			retry_count, worker_id, last_checkpoint, created_at, updated_at)
		VALUES (?, ?, ?, 0, NULL, ?, ?, NULL, NULL, 0, NULL, ?, ?, ?)`,
		job.ID, job.Type, router.StatusInQueue, job.Issuer, string(job.Payload), now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// DequeueNext implements router.Store.
func (s *Store) DequeueNext(ctx context.Context) (router.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = ? ORDER BY created_at ASC LIMIT 1`, router.StatusInQueue)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return router.Job{}, &cortex.ErrNotFound{Entity: "router job", ID: "<in_queue>"}
	}
	if err != nil {
		return router.Job{}, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		router.StatusEvaluating, cortex.Now().Format(time.RFC3339Nano), job.ID, router.StatusInQueue); err != nil {
		return router.Job{}, err
	}
	job.Status = router.StatusEvaluating
	return job, nil
}

// DequeueForDispatch implements router.Store.
func (s *Store) DequeueForDispatch(ctx context.Context) (router.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND (tier IS NULL OR tier = '') ORDER BY updated_at ASC LIMIT 1`, router.StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return router.Job{}, &cortex.ErrNotFound{Entity: "router job", ID: "<pending, untiered>"}
	}
	return job, err
}

// DequeueRetry implements router.Store.
func (s *Store) DequeueRetry(ctx context.Context, retryDelay time.Duration) (router.Job, error) {
	cutoff := cortex.Now().Add(-retryDelay).Format(time.RFC3339Nano)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND tier IS NOT NULL AND tier != '' AND updated_at < ?
		ORDER BY updated_at ASC LIMIT 1`, router.StatusPending, cutoff)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return router.Job{}, &cortex.ErrNotFound{Entity: "router job", ID: "<pending retry>"}
	}
	if err != nil {
		return router.Job{}, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		router.StatusInExecution, cortex.Now().Format(time.RFC3339Nano), job.ID, router.StatusPending); err != nil {
		return router.Job{}, err
	}
	job.Status = router.StatusInExecution
	return job, nil
}

// SetEvaluated implements router.Store.
func (s *Store) SetEvaluated(ctx context.Context, id string, weight int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, weight = ?, updated_at = ? WHERE id = ? AND status = ?`,
		router.StatusPending, weight, cortex.Now().Format(time.RFC3339Nano), id, router.StatusEvaluating)
	return err
}

// SetTierAndExecuting implements router.Store.
func (s *Store) SetTierAndExecuting(ctx context.Context, id string, tier router.Tier) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, tier = ?, started_at = ?, last_checkpoint = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		router.StatusInExecution, tier, cortex.Now().Format(time.RFC3339Nano), cortex.Now().Format(time.RFC3339Nano),
		cortex.Now().Format(time.RFC3339Nano), id, router.StatusPending)
	return err
}

// Touch implements router.Store.
func (s *Store) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET last_checkpoint = ? WHERE id = ?`,
		cortex.Now().Format(time.RFC3339Nano), id)
	return err
}

// Complete implements router.Store.
func (s *Store) Complete(ctx context.Context, id, result string) error {
	now := cortex.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		router.StatusCompleted, result, now, now, id, router.StatusInExecution)
	return err
}

// Fail implements router.Store.
func (s *Store) Fail(ctx context.Context, id, errText string) error {
	now := cortex.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, finished_at = ?, updated_at = ?
		WHERE id = ?`,
		router.StatusFailed, errText, now, now, id)
	return err
}

// ResetToPending implements router.Store.
func (s *Store) ResetToPending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		router.StatusPending, cortex.Now().Format(time.RFC3339Nano), id, router.StatusInExecution)
	return err
}

// ResetEvaluatingToQueue implements router.Store.
func (s *Store) ResetEvaluatingToQueue(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		router.StatusInQueue, cortex.Now().Format(time.RFC3339Nano), router.StatusEvaluating)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// StaleInExecution implements router.Store.
func (s *Store) StaleInExecution(ctx context.Context, cutoff time.Time) ([]router.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND last_checkpoint < ?`,
		router.StatusInExecution, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []router.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Archive implements router.Store: copy then delete in one transaction,
// the same discipline as CopyAndDeleteTerminalOps (storage/sqlite/session.go).
func (s *Store) Archive(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &cortex.ErrNotFound{Entity: "router job", ID: id}
	}
	if err != nil {
		return err
	}

	now := cortex.Now().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs_archive (id, type, status, weight, tier, issuer, payload, result, error,
			retry_count, worker_id, last_checkpoint, created_at, updated_at, started_at, finished_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Status, job.Weight, string(job.Tier), job.Issuer, string(job.Payload),
		job.Result, job.Error, job.RetryCount, job.WorkerID,
		job.LastCheckpoint.Format(time.RFC3339Nano), job.CreatedAt.Format(time.RFC3339Nano), now,
		nullableTime(job.StartedAt), nullableTime(job.FinishedAt), now,
	); err != nil {
		return fmt.Errorf("archive job %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

// GetJob implements router.Store.
func (s *Store) GetJob(ctx context.Context, id string) (router.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return router.Job{}, &cortex.ErrNotFound{Entity: "router job", ID: id}
	}
	return job, err
}
