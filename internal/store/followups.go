package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
)

const followupColumns = `
	id, case_id, next_followup_date, followup_count, last_followup_sent_at,
	status, created_at, updated_at`

func scanFollowup(row interface{ Scan(...any) error }) (*domain.FollowUpSchedule, error) {
	f := &domain.FollowUpSchedule{}
	var next, last sql.NullTime
	err := row.Scan(
		&f.ID, &f.CaseID, &next, &f.FollowupCount, &last,
		&f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.NextFollowup = timePtr(next)
	f.LastFollowupAt = timePtr(last)
	return f, nil
}

// GetFollowUpSchedule returns the case's follow-up row, or nil when the case
// has never sent one.
func (s *Store) GetFollowUpSchedule(ctx context.Context, caseID int64) (*domain.FollowUpSchedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+followupColumns+` FROM foia_followup_schedules WHERE case_id = $1`, caseID)
	f, err := scanFollowup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get followup schedule: %w", err)
	}
	return f, nil
}

// UpsertFollowUpSchedule records a sent follow-up: the counter increments
// (it never decreases) and the next nudge date moves out. One row per case.
func (s *Store) UpsertFollowUpSchedule(ctx context.Context, caseID int64, next time.Time) (*domain.FollowUpSchedule, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO foia_followup_schedules
			(case_id, next_followup_date, followup_count, last_followup_sent_at, status, created_at, updated_at)
		VALUES ($1, $2, 1, NOW(), 'active', NOW(), NOW())
		ON CONFLICT (case_id) DO UPDATE SET
			next_followup_date = EXCLUDED.next_followup_date,
			followup_count = foia_followup_schedules.followup_count + 1,
			last_followup_sent_at = NOW(),
			status = 'active',
			updated_at = NOW()
		RETURNING `+followupColumns+`
	`, caseID, next)
	f, err := scanFollowup(row)
	if err != nil {
		return nil, fmt.Errorf("upsert followup schedule: %w", err)
	}
	return f, nil
}

// SetFollowupStatus marks a schedule exhausted or cancelled, keeping its
// counter intact.
func (s *Store) SetFollowupStatus(ctx context.Context, caseID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_followup_schedules SET status = $2, updated_at = NOW() WHERE case_id = $1
	`, caseID, status)
	if err != nil {
		return fmt.Errorf("set followup status: %w", err)
	}
	return nil
}

// DueFollowupCases returns ids of cases whose active follow-up schedule is
// due. The scheduler enqueues a run_on_schedule job per id.
func (s *Store) DueFollowupCases(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.case_id
		FROM foia_followup_schedules f
		JOIN foia_cases c ON c.id = f.case_id
		WHERE f.status = 'active'
		  AND f.next_followup_date <= NOW()
		  AND c.status IN ('sent','awaiting_response')
		ORDER BY f.next_followup_date
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("due followup cases: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// UpsertEscalation inserts a human-attention record unless the same
// (case, reason) escalated within the last hour. Returns the row id and
// whether this call inserted it; notifications fire only on insert.
func (s *Store) UpsertEscalation(ctx context.Context, e *domain.Escalation) (id int64, inserted bool, err error) {
	if e.Urgency == "" {
		e.Urgency = domain.UrgencyNormal
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM foia_escalations
		WHERE case_id = $1 AND reason = $2 AND created_at > NOW() - INTERVAL '1 hour'
		ORDER BY created_at DESC LIMIT 1
	`, e.CaseID, e.Reason).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("check escalation dedup: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO foia_escalations
			(case_id, reason, urgency, suggested_action, detail, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NOW())
		RETURNING id
	`, e.CaseID, e.Reason, e.Urgency, e.SuggestedAction, e.Detail).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("insert escalation: %w", err)
	}
	return id, true, nil
}

// ListOpenEscalations returns unacknowledged escalations, newest first.
func (s *Store) ListOpenEscalations(ctx context.Context, limit int) ([]domain.Escalation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, reason, urgency, COALESCE(suggested_action,''),
		       COALESCE(detail,''), acknowledged_at, created_at
		FROM foia_escalations
		WHERE acknowledged_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open escalations: %w", err)
	}
	defer rows.Close()

	var out []domain.Escalation
	for rows.Next() {
		var e domain.Escalation
		var ack sql.NullTime
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Reason, &e.Urgency,
			&e.SuggestedAction, &e.Detail, &ack, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		e.AcknowledgedAt = timePtr(ack)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AcknowledgeEscalation stamps an escalation as seen by a human.
func (s *Store) AcknowledgeEscalation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_escalations SET acknowledged_at = NOW() WHERE id = $1 AND acknowledged_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("acknowledge escalation: %w", err)
	}
	return nil
}
