package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"growhub/internal/models"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// ErrBadState is returned when a transition is requested from the wrong status.
var ErrBadState = errors.New("job is not in a state allowing this operation")

// Queue is the durable, leased job queue over Postgres. Claiming is the only
// operation in the system that needs true cross-process exclusivity; it is
// protected by FOR UPDATE SKIP LOCKED inside a single statement.
type Queue struct {
	pool *pgxpool.Pool
}

// NewQueue creates a queue over the given pool.
func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// EnqueueParams describes one deferred device command.
type EnqueueParams struct {
	Type           models.JobType
	DeviceID       string
	AutomationID   *string
	ExecutionID    *string
	RunAt          time.Time
	IdempotencyKey string
	MaxAttempts    int
}

const jobColumns = `id, type, device_id, automation_id, execution_id, run_at, status,
	attempts, max_attempts, locked_at, locked_by, idempotency_key, last_error,
	created_at, updated_at`

// Enqueue inserts a job unless one with the same idempotency key already
// exists; re-enqueuing the same logical effect is a no-op returning the
// existing row.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*models.ScheduledJob, error) {
	if p.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	row := q.pool.QueryRow(ctx, `
		INSERT INTO scheduled_jobs
			(type, device_id, automation_id, execution_id, run_at, status,
			 attempts, max_attempts, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', 0, $6, $7, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+jobColumns,
		p.Type, p.DeviceID, p.AutomationID, p.ExecutionID, p.RunAt, p.MaxAttempts, p.IdempotencyKey)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Key already present; the existing job stands.
		return q.getByKey(ctx, p.IdempotencyKey)
	}
	return job, err
}

// ClaimBatch atomically selects up to limit due PENDING jobs, marks them
// RUNNING with this worker's lease and bumps attempts. SKIP LOCKED makes
// concurrent workers pick disjoint sets instead of blocking.
func (q *Queue) ClaimBatch(ctx context.Context, limit int, workerID string) ([]models.ScheduledJob, error) {
	rows, err := q.pool.Query(ctx, `
		WITH candidates AS (
			SELECT id FROM scheduled_jobs
			WHERE status = 'PENDING' AND run_at <= NOW()
			ORDER BY run_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scheduled_jobs j
		SET status = 'RUNNING', locked_at = NOW(), locked_by = $2,
		    attempts = j.attempts + 1, updated_at = NOW()
		FROM candidates c
		WHERE j.id = c.id
		RETURNING `+prefixed("j.", jobColumns), limit, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ReleaseExpiredLeases returns RUNNING jobs whose lease is older than ttl to
// PENDING; their worker is presumed dead. Idempotent, safe to run repeatedly.
func (q *Queue) ReleaseExpiredLeases(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET status = 'PENDING', locked_at = NULL, locked_by = NULL, updated_at = NOW()
		WHERE status = 'RUNNING' AND locked_at < NOW() - ($1 * interval '1 second')`,
		int64(ttl.Seconds()))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkCompleted finishes a job and clears its lease.
func (q *Queue) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET status = 'COMPLETED', locked_at = NULL, locked_by = NULL,
		    last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'`, jobID)
	return err
}

// MarkFailed records a failure. A nil retryAt is terminal: the job goes DEAD
// and stays there until a manual retry. Otherwise the job returns to PENDING
// with run_at pushed to retryAt.
func (q *Queue) MarkFailed(ctx context.Context, jobID, errMsg string, retryAt *time.Time) error {
	if retryAt == nil {
		_, err := q.pool.Exec(ctx, `
			UPDATE scheduled_jobs
			SET status = 'DEAD', last_error = $1, locked_at = NULL, locked_by = NULL, updated_at = NOW()
			WHERE id = $2 AND status = 'RUNNING'`, errMsg, jobID)
		return err
	}
	_, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET status = 'PENDING', run_at = $1, last_error = $2,
		    locked_at = NULL, locked_by = NULL, updated_at = NOW()
		WHERE id = $3 AND status = 'RUNNING'`, *retryAt, errMsg, jobID)
	return err
}

// Retry manually resurrects a FAILED or DEAD job, resetting attempts and error.
func (q *Queue) Retry(ctx context.Context, jobID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET status = 'PENDING', attempts = 0, last_error = NULL, run_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('FAILED', 'DEAD')`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return q.explainMiss(ctx, jobID)
	}
	return nil
}

// Cancel cancels a PENDING job outright. RUNNING jobs cannot be cancelled;
// they complete, fail into backoff, or lose their lease.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return q.explainMiss(ctx, jobID)
	}
	return nil
}

// CancelPendingForDevice cancels every PENDING job targeting a device. Used
// when a re-trigger must drop stale deferred effects.
func (q *Queue) CancelPendingForDevice(ctx context.Context, deviceID string) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET status = 'CANCELLED', updated_at = NOW()
		WHERE device_id = $1 AND status = 'PENDING'`, deviceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelPendingForExecution cancels every PENDING job tied to an execution.
func (q *Queue) CancelPendingForExecution(ctx context.Context, executionID string) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET status = 'CANCELLED', updated_at = NOW()
		WHERE execution_id = $1 AND status = 'PENDING'`, executionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetByID fetches one job.
func (q *Queue) GetByID(ctx context.Context, jobID string) (*models.ScheduledJob, error) {
	job, err := scanJob(q.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListByStatus fetches jobs in a status, newest scheduled first.
func (q *Queue) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.ScheduledJob, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE status = $1 ORDER BY run_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountsByStatus aggregates the queue's population by status.
func (q *Queue) CountsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := q.pool.Query(ctx, `SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// AppendExecutionResult appends a deferred command's outcome to the action
// results of the execution that scheduled it.
func (q *Queue) AppendExecutionResult(ctx context.Context, executionID string, res models.ActionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = q.pool.Exec(ctx, `
		UPDATE automation_executions
		SET action_results = COALESCE(action_results, '[]'::jsonb) || $2::jsonb
		WHERE id = $1`, executionID, payload)
	return err
}

// PurgeOld deletes terminal successful/cancelled jobs older than age.
func (q *Queue) PurgeOld(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM scheduled_jobs
		WHERE status IN ('COMPLETED', 'CANCELLED')
		  AND updated_at < NOW() - ($1 * interval '1 second')`,
		int64(age.Seconds()))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queue) getByKey(ctx context.Context, key string) (*models.ScheduledJob, error) {
	job, err := scanJob(q.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// explainMiss distinguishes a missing job from one in the wrong state.
func (q *Queue) explainMiss(ctx context.Context, jobID string) error {
	if _, err := q.GetByID(ctx, jobID); err != nil {
		return err
	}
	return ErrBadState
}

// prefixed qualifies each column in a comma-separated list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanJob(row pgx.Row) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	err := row.Scan(&j.ID, &j.Type, &j.DeviceID, &j.AutomationID, &j.ExecutionID,
		&j.RunAt, &j.Status, &j.Attempts, &j.MaxAttempts, &j.LockedAt, &j.LockedBy,
		&j.IdempotencyKey, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
