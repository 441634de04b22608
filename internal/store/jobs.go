package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
)

const jobColumns = `
	id, job_class, case_id, payload, status, attempts, max_attempts,
	COALESCE(last_error,''), COALESCE(worker_id,''),
	scheduled_at, claimed_at, finished_at, created_at`

func scanJob(row interface{ Scan(...any) error }) (*domain.Job, error) {
	j := &domain.Job{}
	var payload []byte
	var claimedAt, finishedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.JobClass, &j.CaseID, &payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.WorkerID,
		&j.ScheduledAt, &claimedAt, &finishedAt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	j.ClaimedAt = timePtr(claimedAt)
	j.FinishedAt = timePtr(finishedAt)
	return j, nil
}

// EnqueueJob inserts a queue job. IDs are deterministic per logical event,
// so a redelivered webhook or a double-clicked approval collapses to one
// job; the bool reports whether this call inserted the row.
func (s *Store) EnqueueJob(ctx context.Context, j *domain.Job) (bool, error) {
	payload := j.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	maxAttempts := j.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	scheduledAt := j.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO foia_jobs (id, job_class, case_id, payload, status, max_attempts, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, NOW())
		ON CONFLICT (id) DO NOTHING
	`, j.ID, j.JobClass, j.CaseID, []byte(payload), maxAttempts, scheduledAt)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue job rows: %w", err)
	}
	return n > 0, nil
}

// ClaimDueJobs atomically claims up to limit runnable jobs. SKIP LOCKED lets
// a pool of workers poll the same table without contention.
func (s *Store) ClaimDueJobs(ctx context.Context, workerID string, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE foia_jobs
		SET status = 'claimed', worker_id = $1, claimed_at = NOW(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM foia_jobs
			WHERE status = 'queued' AND scheduled_at <= NOW()
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING `+jobColumns, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// FinishJob marks a claimed job succeeded.
func (s *Store) FinishJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_jobs SET status = 'succeeded', finished_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// FailJob records a failed attempt. Below the attempt cap the job requeues
// with exponential backoff; at the cap it dead-letters. Returns true when
// the job is dead.
func (s *Store) FailJob(ctx context.Context, id, errMsg string, backoffSeconds int64) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE foia_jobs
		SET last_error = $2,
		    status = CASE WHEN attempts >= max_attempts THEN 'dead_letter' ELSE 'queued' END,
		    finished_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE NULL END,
		    scheduled_at = NOW() + ($3 * INTERVAL '1 second'),
		    worker_id = NULL,
		    claimed_at = NULL
		WHERE id = $1
		RETURNING status
	`, id, errMsg, backoffSeconds).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return status == string(domain.JobDeadLetter), nil
}

// RequeueStuckJobs returns claimed jobs abandoned by a dead worker to the
// queue without burning an extra attempt.
func (s *Store) RequeueStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE foia_jobs
		SET status = 'queued', worker_id = NULL, claimed_at = NULL, attempts = attempts - 1
		WHERE status = 'claimed' AND claimed_at < NOW() - ($1 * INTERVAL '1 second')
	`, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJob fetches one job by id, nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM foia_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// CountJobsByStatus reports queue depth per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM foia_jobs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// RegisterWorker upserts a worker registration. Re-registering the same id
// refreshes the heartbeat and metadata.
func (s *Store) RegisterWorker(ctx context.Context, w *domain.WorkerInfo) error {
	meta, err := jsonb(w.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO foia_workers (id, worker_type, hostname, status, metadata, started_at, last_heartbeat_at)
		VALUES ($1, $2, $3, 'running', $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			worker_type = EXCLUDED.worker_type,
			hostname = EXCLUDED.hostname,
			status = 'running',
			metadata = EXCLUDED.metadata,
			last_heartbeat_at = NOW()
	`, w.ID, w.WorkerType, w.Hostname, meta)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// WorkerHeartbeat refreshes a worker's liveness stamp.
func (s *Store) WorkerHeartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_workers SET last_heartbeat_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("worker heartbeat: %w", err)
	}
	return nil
}

// MarkWorkerStopped records a clean shutdown.
func (s *Store) MarkWorkerStopped(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_workers SET status = 'stopped' WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark worker stopped: %w", err)
	}
	return nil
}

// ListActiveWorkers returns workers that heartbeated within the window.
func (s *Store) ListActiveWorkers(ctx context.Context, within time.Duration) ([]domain.WorkerInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker_type, COALESCE(hostname,''), status, metadata, started_at, last_heartbeat_at
		FROM foia_workers
		WHERE status = 'running' AND last_heartbeat_at > NOW() - ($1 * INTERVAL '1 second')
		ORDER BY started_at
	`, int64(within.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("list active workers: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkerInfo
	for rows.Next() {
		var w domain.WorkerInfo
		var meta []byte
		if err := rows.Scan(&w.ID, &w.WorkerType, &w.Hostname, &w.Status, &meta, &w.StartedAt, &w.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if err := scanJSON(meta, &w.Metadata); err != nil {
			return nil, fmt.Errorf("decode worker metadata: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
