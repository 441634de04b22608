package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openfoia/case-engine/internal/domain"
)

const portalTaskColumns = `
	id, case_id, proposal_id, portal_url, action_type, COALESCE(instructions,''),
	status, COALESCE(claimed_by,''), COALESCE(result,''), created_at, updated_at, completed_at`

func scanPortalTask(row interface{ Scan(...any) error }) (*domain.PortalTask, error) {
	t := &domain.PortalTask{}
	var proposalID sql.NullInt64
	var completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.CaseID, &proposalID, &t.PortalURL, &t.ActionType, &t.Instructions,
		&t.Status, &t.ClaimedBy, &t.Result, &t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ProposalID = intPtr(proposalID)
	t.CompletedAt = timePtr(completedAt)
	return t, nil
}

// CreatePortalTask inserts a manual-submission work item for the external
// portal collaborator.
func (s *Store) CreatePortalTask(ctx context.Context, t *domain.PortalTask) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO foia_portal_tasks
			(case_id, proposal_id, portal_url, action_type, instructions, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), 'PENDING', NOW(), NOW())
		RETURNING id
	`, t.CaseID, nullInt(t.ProposalID), t.PortalURL, t.ActionType, t.Instructions).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create portal task: %w", err)
	}
	return id, nil
}

// ListPortalTasks returns tasks in the given status, oldest first so the
// portal worker drains them in order.
func (s *Store) ListPortalTasks(ctx context.Context, status domain.PortalTaskStatus, limit int) ([]domain.PortalTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+portalTaskColumns+` FROM foia_portal_tasks
		 WHERE status = $1 ORDER BY created_at LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list portal tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.PortalTask
	for rows.Next() {
		t, err := scanPortalTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan portal task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ClaimPortalTask moves a PENDING task to IN_PROGRESS for one claimant.
// Returns false when someone else claimed it first.
func (s *Store) ClaimPortalTask(ctx context.Context, id int64, claimedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE foia_portal_tasks
		SET status = 'IN_PROGRESS', claimed_by = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, id, claimedBy)
	if err != nil {
		return false, fmt.Errorf("claim portal task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim portal task: %w", err)
	}
	return n == 1, nil
}

// CompletePortalTask records the outcome reported by the portal
// collaborator.
func (s *Store) CompletePortalTask(ctx context.Context, id int64, status domain.PortalTaskStatus, result string) error {
	if status != domain.PortalDone && status != domain.PortalFailed {
		return fmt.Errorf("complete portal task: invalid terminal status %q", status)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_portal_tasks
		SET status = $2, result = NULLIF($3,''), completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, status, result)
	if err != nil {
		return fmt.Errorf("complete portal task: %w", err)
	}
	return nil
}

// InsertExecutionRecord writes one side-effect attempt, keyed by
// execution_key. A duplicate key means this attempt already happened and the
// insert is a no-op.
func (s *Store) InsertExecutionRecord(ctx context.Context, r *domain.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO foia_execution_records
			(execution_key, proposal_id, case_id, action_type, channel, status, detail, email_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), NOW())
		ON CONFLICT (execution_key) DO NOTHING
	`, r.ExecutionKey, r.ProposalID, r.CaseID, r.ActionType, r.Channel, r.Status, r.Detail, r.EmailJobID)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// ExecutionsForProposal lists side-effect attempts for one proposal.
func (s *Store) ExecutionsForProposal(ctx context.Context, proposalID int64) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_key, proposal_id, case_id, action_type, channel,
		       status, COALESCE(detail,''), COALESCE(email_job_id,''), created_at
		FROM foia_execution_records
		WHERE proposal_id = $1
		ORDER BY created_at
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("executions for proposal: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var r domain.ExecutionRecord
		if err := rows.Scan(&r.ID, &r.ExecutionKey, &r.ProposalID, &r.CaseID,
			&r.ActionType, &r.Channel, &r.Status, &r.Detail, &r.EmailJobID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
