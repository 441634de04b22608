package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
)

const caseColumns = `
	id, subject, agency_name, COALESCE(agency_email,''), COALESCE(portal_url,''),
	COALESCE(portal_provider,''), portal_automatable, jurisdiction, status,
	COALESCE(substatus,''), COALESCE(pause_reason,''), constraints, scope_items,
	autopilot_mode, COALESCE(requester_name,''), COALESCE(requester_email,''),
	next_due_at, last_portal_task_id, last_portal_submitted_at, created_at, updated_at`

func scanCase(row interface{ Scan(...any) error }) (*domain.Case, error) {
	c := &domain.Case{}
	var constraints, scopeItems []byte
	var nextDue, lastPortalAt sql.NullTime
	var lastPortalTask sql.NullInt64
	err := row.Scan(
		&c.ID, &c.Subject, &c.AgencyName, &c.AgencyEmail, &c.PortalURL,
		&c.PortalProvider, &c.PortalAutomatable, &c.Jurisdiction, &c.Status,
		&c.Substatus, &c.PauseReason, &constraints, &scopeItems,
		&c.AutopilotMode, &c.RequesterName, &c.RequesterEmail,
		&nextDue, &lastPortalTask, &lastPortalAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := scanJSON(constraints, &c.Constraints); err != nil {
		return nil, fmt.Errorf("scan constraints: %w", err)
	}
	if err := scanJSON(scopeItems, &c.ScopeItems); err != nil {
		return nil, fmt.Errorf("scan scope items: %w", err)
	}
	c.NextDueAt = timePtr(nextDue)
	c.LastPortalTaskID = intPtr(lastPortalTask)
	c.LastPortalAt = timePtr(lastPortalAt)
	return c, nil
}

// GetCase fetches one case by id.
func (s *Store) GetCase(ctx context.Context, id int64) (*domain.Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM foia_cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

// CreateCase inserts a new case and returns its id.
func (s *Store) CreateCase(ctx context.Context, c *domain.Case) (int64, error) {
	if c.Status == "" {
		c.Status = domain.CaseReadyToSend
	}
	if c.AutopilotMode == "" {
		c.AutopilotMode = domain.AutopilotSupervised
	}
	if c.Jurisdiction == "" {
		c.Jurisdiction = "US-FED"
	}
	constraints, err := jsonb(orEmpty(c.Constraints))
	if err != nil {
		return 0, err
	}
	scopeItems, err := jsonb(orEmptyScope(c.ScopeItems))
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO foia_cases
			(subject, agency_name, agency_email, portal_url, portal_provider,
			 portal_automatable, jurisdiction, status, constraints, scope_items,
			 autopilot_mode, requester_name, requester_email, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''),
		        $6, $7, $8, $9, $10, $11, NULLIF($12,''), NULLIF($13,''), NOW(), NOW())
		RETURNING id
	`, c.Subject, c.AgencyName, c.AgencyEmail, c.PortalURL, c.PortalProvider,
		c.PortalAutomatable, c.Jurisdiction, c.Status, constraints, scopeItems,
		c.AutopilotMode, c.RequesterName, c.RequesterEmail).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create case: %w", err)
	}
	return id, nil
}

// ListCases returns cases filtered by status (all when empty), newest first.
func (s *Store) ListCases(ctx context.Context, status domain.CaseStatus, limit, offset int) ([]domain.Case, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + caseColumns + ` FROM foia_cases`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCaseStatus moves a case to a new status/substatus and clears any
// pause reason. Terminal cases are not reopened by routine updates.
func (s *Store) UpdateCaseStatus(ctx context.Context, id int64, status domain.CaseStatus, substatus string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE foia_cases
		SET status = $2, substatus = NULLIF($3,''), pause_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed','cancelled')
	`, id, status, substatus)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// CloseCase forces a terminal status. Unlike UpdateCaseStatus it applies
// to any current state, including already-terminal ones (idempotent).
func (s *Store) CloseCase(ctx context.Context, id int64, status domain.CaseStatus, substatus string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_cases
		SET status = $2, substatus = NULLIF($3,''), pause_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, status, substatus)
	if err != nil {
		return fmt.Errorf("close case: %w", err)
	}
	return nil
}

// PauseCaseForHuman marks the case as waiting on a human decision. Safe to
// re-run: the gate node may execute twice around a suspension.
func (s *Store) PauseCaseForHuman(ctx context.Context, id int64, reason domain.PauseReason) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_cases
		SET status = 'needs_human_review', pause_reason = $2, updated_at = NOW()
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("pause case: %w", err)
	}
	return nil
}

// UpdateCaseConstraints writes back the merged constraint set and scope
// items after update_constraints decides they differ.
func (s *Store) UpdateCaseConstraints(ctx context.Context, id int64, constraints []string, scopeItems []domain.ScopeItem) error {
	cb, err := jsonb(orEmpty(constraints))
	if err != nil {
		return err
	}
	sb, err := jsonb(orEmptyScope(scopeItems))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE foia_cases SET constraints = $2, scope_items = $3, updated_at = NOW()
		WHERE id = $1
	`, id, cb, sb)
	if err != nil {
		return fmt.Errorf("update case constraints: %w", err)
	}
	return nil
}

// SetCaseNextDue records the recomputed due date at commit time.
func (s *Store) SetCaseNextDue(ctx context.Context, id int64, due time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_cases SET next_due_at = $2, updated_at = NOW() WHERE id = $1
	`, id, due)
	if err != nil {
		return fmt.Errorf("set case next due: %w", err)
	}
	return nil
}

// RecordPortalSubmission stamps the portal bookkeeping after a portal task
// is created for the case.
func (s *Store) RecordPortalSubmission(ctx context.Context, id, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_cases
		SET status = 'portal_in_progress', last_portal_task_id = $2,
		    last_portal_submitted_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, taskID)
	if err != nil {
		return fmt.Errorf("record portal submission: %w", err)
	}
	return nil
}

// CasesReadyToSend returns ids of cases whose initial request has not been
// dispatched yet. The scheduler turns each into a run_on_schedule job.
func (s *Store) CasesReadyToSend(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM foia_cases
		WHERE status = 'ready_to_send'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("cases ready to send: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func orEmptyScope(items []domain.ScopeItem) []domain.ScopeItem {
	if items == nil {
		return []domain.ScopeItem{}
	}
	return items
}
