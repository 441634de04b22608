package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openfoia/case-engine/internal/domain"
)

const runColumns = `
	id, case_id, trigger_type, trigger_message_id, status, COALESCE(current_node,''),
	iteration_count, proposal_id, COALESCE(error,''), metadata, started_at, ended_at`

func scanRun(row interface{ Scan(...any) error }) (*domain.AgentRun, error) {
	r := &domain.AgentRun{}
	var triggerMsg, proposalID sql.NullInt64
	var endedAt sql.NullTime
	var metadata []byte
	err := row.Scan(
		&r.ID, &r.CaseID, &r.TriggerType, &triggerMsg, &r.Status, &r.CurrentNode,
		&r.IterationCount, &proposalID, &r.Error, &metadata, &r.StartedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}
	r.TriggerMessageID = intPtr(triggerMsg)
	r.ProposalID = intPtr(proposalID)
	r.EndedAt = timePtr(endedAt)
	if err := scanJSON(metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("scan run metadata: %w", err)
	}
	return r, nil
}

// CreateRun inserts an AgentRun row and returns its id.
func (s *Store) CreateRun(ctx context.Context, r *domain.AgentRun) (int64, error) {
	if r.Status == "" {
		r.Status = domain.RunCreated
	}
	meta, err := jsonb(r.Metadata)
	if err != nil {
		return 0, err
	}
	if r.Metadata == nil {
		meta = []byte("{}")
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO foia_agent_runs
			(case_id, trigger_type, trigger_message_id, status, metadata, started_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id
	`, r.CaseID, r.TriggerType, nullInt(r.TriggerMessageID), r.Status, meta).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id int64) (*domain.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM foia_agent_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the newest run on a case, or nil.
func (s *Store) LatestRun(ctx context.Context, caseID int64) (*domain.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM foia_agent_runs
		 WHERE case_id = $1 ORDER BY started_at DESC LIMIT 1`, caseID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// SetRunNode records which node the run is currently executing.
func (s *Store) SetRunNode(ctx context.Context, runID int64, node string, iteration int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_agent_runs SET current_node = $2, iteration_count = $3 WHERE id = $1
	`, runID, node, iteration)
	if err != nil {
		return fmt.Errorf("set run node: %w", err)
	}
	return nil
}

// MarkRunRunning flips a created/queued run into running.
func (s *Store) MarkRunRunning(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_agent_runs SET status = 'running' WHERE id = $1
	`, runID)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	return nil
}

// FinishRun records the terminal (or paused) status of a run.
func (s *Store) FinishRun(ctx context.Context, runID int64, status domain.RunStatus, proposalID *int64, errMsg string) error {
	ended := "NOW()"
	if status == domain.RunPausedAwaitingHuman {
		// A paused run has not ended; it resumes later on the same row.
		ended = "NULL"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_agent_runs
		SET status = $2, proposal_id = COALESCE($3, proposal_id),
		    error = NULLIF($4,''), ended_at = `+ended+`
		WHERE id = $1
	`, runID, status, nullInt(proposalID), errMsg)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// InsertDecisionTrace writes the per-run audit row.
func (s *Store) InsertDecisionTrace(ctx context.Context, t *domain.DecisionTrace) error {
	allowed, err := jsonb(t.AllowedActions)
	if err != nil {
		return err
	}
	nodeTrace, err := jsonb(orEmpty(t.NodeTrace))
	if err != nil {
		return err
	}
	reasoning, err := jsonb(orEmpty(t.Reasoning))
	if err != nil {
		return err
	}
	timings, err := jsonb(t.TimingsMS)
	if err != nil {
		return err
	}
	if t.TimingsMS == nil {
		timings = []byte("{}")
	}
	if t.AllowedActions == nil {
		allowed = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO foia_decision_traces
			(run_id, case_id, classification, action_type, allowed_actions,
			 gate_decision, node_trace, reasoning, timings_ms, created_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, NULLIF($6,''), $7, $8, $9, NOW())
	`, t.RunID, t.CaseID, string(t.Classification), string(t.ActionType), allowed,
		t.GateDecision, nodeTrace, reasoning, timings)
	if err != nil {
		return fmt.Errorf("insert decision trace: %w", err)
	}
	return nil
}

// RunStats summarizes run activity since a point in time. Feeds the
// warehouse export.
type RunStats struct {
	Total     int
	Completed int
	Paused    int
	Failed    int
	Skipped   int
	Executed  int
	Escalated int
}

// CollectRunStats aggregates run and execution counts for reporting.
func (s *Store) CollectRunStats(ctx context.Context, since string) (*RunStats, error) {
	stats := &RunStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'paused_awaiting_human'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'skipped_locked')
		FROM foia_agent_runs
		WHERE started_at >= NOW() - $1::interval
	`, since).Scan(&stats.Total, &stats.Completed, &stats.Paused, &stats.Failed, &stats.Skipped)
	if err != nil {
		return nil, fmt.Errorf("collect run stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'SUCCEEDED'),
		       COUNT(*) FILTER (WHERE action_type = 'ESCALATE')
		FROM foia_execution_records
		WHERE created_at >= NOW() - $1::interval
	`, since).Scan(&stats.Executed, &stats.Escalated)
	if err != nil {
		return nil, fmt.Errorf("collect execution stats: %w", err)
	}
	return stats, nil
}
