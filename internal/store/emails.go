package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
)

const emailJobColumns = `
	id, case_id, proposal_id, to_email, from_email, COALESCE(from_name,''),
	COALESCE(reply_to,''), subject, COALESCE(body_text,''), COALESCE(body_html,''),
	COALESCE(in_reply_to,''), COALESCE(references_header,''), action_type,
	status, retry_count, COALESCE(last_error,''), COALESCE(worker_id,''),
	scheduled_at, claimed_at, sent_at, COALESCE(provider_message_id,''), created_at`

func scanEmailJob(row interface{ Scan(...any) error }) (*domain.EmailJob, error) {
	j := &domain.EmailJob{}
	var claimedAt, sentAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.CaseID, &j.ProposalID, &j.ToEmail, &j.FromEmail, &j.FromName,
		&j.ReplyTo, &j.Subject, &j.BodyText, &j.BodyHTML,
		&j.InReplyTo, &j.ReferencesHeader, &j.ActionType,
		&j.Status, &j.RetryCount, &j.LastError, &j.WorkerID,
		&j.ScheduledAt, &claimedAt, &sentAt, &j.ProviderMessageID, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.ClaimedAt = timePtr(claimedAt)
	j.SentAt = timePtr(sentAt)
	return j, nil
}

// EnqueueEmail inserts an outbound email job. The job ID is the proposal's
// execution_key, so a retried executor run that re-enqueues the same send is
// a no-op; the return value reports whether this call inserted the row.
func (s *Store) EnqueueEmail(ctx context.Context, j *domain.EmailJob) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO foia_email_queue
			(id, case_id, proposal_id, to_email, from_email, from_name, reply_to,
			 subject, body_text, body_html, in_reply_to, references_header,
			 action_type, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''),
		        $8, $9, $10, NULLIF($11,''), NULLIF($12,''),
		        $13, 'queued', $14, NOW())
		ON CONFLICT (id) DO NOTHING
	`, j.ID, j.CaseID, j.ProposalID, j.ToEmail, j.FromEmail, j.FromName, j.ReplyTo,
		j.Subject, j.BodyText, j.BodyHTML, j.InReplyTo, j.ReferencesHeader,
		j.ActionType, j.ScheduledAt)
	if err != nil {
		return false, fmt.Errorf("enqueue email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue email rows: %w", err)
	}
	return n > 0, nil
}

// GetEmailJob fetches one email job by id.
func (s *Store) GetEmailJob(ctx context.Context, id string) (*domain.EmailJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailJobColumns+` FROM foia_email_queue WHERE id = $1`, id)
	j, err := scanEmailJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email job: %w", err)
	}
	return j, nil
}

// ClaimDueEmailJobs atomically claims up to limit jobs whose send time has
// arrived. SKIP LOCKED keeps concurrent senders from fighting over rows.
func (s *Store) ClaimDueEmailJobs(ctx context.Context, workerID string, limit int) ([]domain.EmailJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE foia_email_queue
		SET status = 'claimed', worker_id = $1, claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM foia_email_queue
			WHERE status = 'queued' AND scheduled_at <= NOW()
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING `+emailJobColumns, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim email jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailJob
	for rows.Next() {
		j, err := scanEmailJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// MarkEmailSent finalizes a delivered job.
func (s *Store) MarkEmailSent(ctx context.Context, id, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_email_queue
		SET status = 'sent', provider_message_id = NULLIF($2,''), sent_at = NOW()
		WHERE id = $1
	`, id, providerMessageID)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	return nil
}

// FailEmailJob records a delivery failure. Under maxRetries the job goes back
// to queued with linear backoff; at the cap it moves to dead_letter. Returns
// true when the job is dead.
func (s *Store) FailEmailJob(ctx context.Context, id, errMsg string, maxRetries int, backoff time.Duration) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE foia_email_queue
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'dead_letter' ELSE 'queued' END,
		    scheduled_at = NOW() + ($4 * (retry_count + 1)) * INTERVAL '1 second',
		    worker_id = NULL,
		    claimed_at = NULL
		WHERE id = $1
		RETURNING status
	`, id, errMsg, maxRetries, int64(backoff.Seconds())).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("fail email job: %w", err)
	}
	return status == string(domain.EmailDeadLetter), nil
}

// SkipEmailJob marks a job skipped, e.g. when its case was withdrawn between
// enqueue and send.
func (s *Store) SkipEmailJob(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_email_queue
		SET status = 'skipped', last_error = $2
		WHERE id = $1 AND status IN ('queued', 'claimed')
	`, id, reason)
	if err != nil {
		return fmt.Errorf("skip email job: %w", err)
	}
	return nil
}

// RequeueStuckEmailJobs returns claimed jobs whose worker died back to the
// queue. Called periodically by the send worker.
func (s *Store) RequeueStuckEmailJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE foia_email_queue
		SET status = 'queued', worker_id = NULL, claimed_at = NULL
		WHERE status = 'claimed' AND claimed_at < NOW() - ($1 * INTERVAL '1 second')
	`, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("requeue stuck email jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountEmailJobsByStatus reports queue depth per status, for the health
// endpoint and the warehouse export.
func (s *Store) CountEmailJobsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM foia_email_queue GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count email jobs: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan email count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
