package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openfoia/case-engine/internal/domain"
)

const proposalColumns = `
	id, case_id, run_id, trigger_message_id, action_type,
	COALESCE(draft_subject,''), COALESCE(draft_body_text,''), COALESCE(draft_body_html,''),
	reasoning, confidence, risk_flags, warnings, can_auto_execute, requires_human,
	status, proposal_key, execution_key, COALESCE(email_job_id,''),
	adjustment_count, COALESCE(adjustment_instruction,''), COALESCE(human_decision,''),
	COALESCE(pause_reason,''), executed_at, created_at, updated_at`

func scanProposal(row interface{ Scan(...any) error }) (*domain.Proposal, error) {
	p := &domain.Proposal{}
	var runID, triggerMsg sql.NullInt64
	var execKey sql.NullString
	var executedAt sql.NullTime
	var reasoning, riskFlags, warnings []byte
	err := row.Scan(
		&p.ID, &p.CaseID, &runID, &triggerMsg, &p.ActionType,
		&p.DraftSubject, &p.DraftBodyText, &p.DraftBodyHTML,
		&reasoning, &p.Confidence, &riskFlags, &warnings, &p.CanAutoExecute, &p.RequiresHuman,
		&p.Status, &p.ProposalKey, &execKey, &p.EmailJobID,
		&p.AdjustmentCount, &p.AdjustmentNote, &p.HumanDecision,
		&p.PauseReason, &executedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.RunID = intPtr(runID)
	p.TriggerMessageID = intPtr(triggerMsg)
	if execKey.Valid {
		p.ExecutionKey = &execKey.String
	}
	p.ExecutedAt = timePtr(executedAt)
	if err := scanJSON(reasoning, &p.Reasoning); err != nil {
		return nil, fmt.Errorf("scan reasoning: %w", err)
	}
	if err := scanJSON(riskFlags, &p.RiskFlags); err != nil {
		return nil, fmt.Errorf("scan risk_flags: %w", err)
	}
	if err := scanJSON(warnings, &p.Warnings); err != nil {
		return nil, fmt.Errorf("scan warnings: %w", err)
	}
	return p, nil
}

// GetProposal fetches one proposal by id.
func (s *Store) GetProposal(ctx context.Context, id int64) (*domain.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM foia_proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// UpsertProposal writes a proposal keyed by its deterministic proposal_key.
// The write is atomic; re-running the gate node lands on the same row. An
// EXECUTED row never regresses: its status, execution_key, and email_job_id
// are preserved no matter what the new values say. Returns the final row.
func (s *Store) UpsertProposal(ctx context.Context, p *domain.Proposal) (*domain.Proposal, error) {
	reasoning, err := jsonb(orEmpty(p.Reasoning))
	if err != nil {
		return nil, err
	}
	riskFlags, err := jsonb(orEmpty(p.RiskFlags))
	if err != nil {
		return nil, err
	}
	warnings, err := jsonb(orEmpty(p.Warnings))
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO foia_proposals
			(case_id, run_id, trigger_message_id, action_type,
			 draft_subject, draft_body_text, draft_body_html,
			 reasoning, confidence, risk_flags, warnings,
			 can_auto_execute, requires_human, status, proposal_key,
			 adjustment_count, adjustment_instruction, pause_reason,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, NULLIF($17,''), NULLIF($18,''), NOW(), NOW())
		ON CONFLICT (proposal_key) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			draft_subject = EXCLUDED.draft_subject,
			draft_body_text = EXCLUDED.draft_body_text,
			draft_body_html = EXCLUDED.draft_body_html,
			reasoning = EXCLUDED.reasoning,
			confidence = EXCLUDED.confidence,
			risk_flags = EXCLUDED.risk_flags,
			warnings = EXCLUDED.warnings,
			can_auto_execute = EXCLUDED.can_auto_execute,
			requires_human = EXCLUDED.requires_human,
			adjustment_instruction = EXCLUDED.adjustment_instruction,
			pause_reason = EXCLUDED.pause_reason,
			status = CASE WHEN foia_proposals.status = 'EXECUTED'
			              THEN foia_proposals.status
			              ELSE EXCLUDED.status END,
			updated_at = NOW()
		RETURNING `+proposalColumns+`
	`, p.CaseID, nullInt(p.RunID), nullInt(p.TriggerMessageID), p.ActionType,
		p.DraftSubject, p.DraftBodyText, p.DraftBodyHTML,
		reasoning, p.Confidence, riskFlags, warnings,
		p.CanAutoExecute, p.RequiresHuman, p.Status, p.ProposalKey,
		p.AdjustmentCount, p.AdjustmentNote, string(p.PauseReason))

	final, err := scanProposal(row)
	if err != nil {
		return nil, fmt.Errorf("upsert proposal: %w", err)
	}
	return final, nil
}

// ClaimProposalExecution is the atomic compare-and-set that reserves a
// proposal for exactly one execution attempt. It succeeds iff execution_key
// is still NULL and the proposal is not already EXECUTED.
func (s *Store) ClaimProposalExecution(ctx context.Context, proposalID int64, executionKey string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE foia_proposals
		SET execution_key = $2, updated_at = NOW()
		WHERE id = $1 AND execution_key IS NULL AND status != 'EXECUTED'
	`, proposalID, executionKey)
	if err != nil {
		return false, fmt.Errorf("claim proposal execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim proposal execution: %w", err)
	}
	return n == 1, nil
}

// MarkProposalExecuted finalizes a claimed proposal after its side effect
// completed. The email job id is recorded when the effect was an enqueue.
func (s *Store) MarkProposalExecuted(ctx context.Context, proposalID int64, emailJobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_proposals
		SET status = 'EXECUTED', email_job_id = NULLIF($2,''),
		    executed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, proposalID, emailJobID)
	if err != nil {
		return fmt.Errorf("mark proposal executed: %w", err)
	}
	return nil
}

// SetProposalStatus moves a proposal to a new status. EXECUTED rows are
// frozen and left untouched.
func (s *Store) SetProposalStatus(ctx context.Context, proposalID int64, status domain.ProposalStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_proposals
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status != 'EXECUTED'
	`, proposalID, status)
	if err != nil {
		return fmt.Errorf("set proposal status: %w", err)
	}
	return nil
}

// RecordHumanDecision stamps what the human chose on the proposal row.
func (s *Store) RecordHumanDecision(ctx context.Context, proposalID int64, decision domain.HumanDecisionAction) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_proposals
		SET human_decision = $2, updated_at = NOW()
		WHERE id = $1
	`, proposalID, decision)
	if err != nil {
		return fmt.Errorf("record human decision: %w", err)
	}
	return nil
}

// LatestPendingProposal returns the newest proposal awaiting a human on the
// case, or nil when none is pending.
func (s *Store) LatestPendingProposal(ctx context.Context, caseID int64) (*domain.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM foia_proposals
		 WHERE case_id = $1 AND status = 'PENDING_APPROVAL'
		 ORDER BY created_at DESC LIMIT 1`, caseID)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest pending proposal: %w", err)
	}
	return p, nil
}

// DismissalCounts returns, per action type, how many proposals on this case
// a human has dismissed. The router removes actions dismissed twice.
func (s *Store) DismissalCounts(ctx context.Context, caseID int64) (map[domain.ActionType]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_type, COUNT(*)
		FROM foia_proposals
		WHERE case_id = $1 AND status = 'DISMISSED'
		GROUP BY action_type
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("dismissal counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ActionType]int)
	for rows.Next() {
		var action domain.ActionType
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan dismissal count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
