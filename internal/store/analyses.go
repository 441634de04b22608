package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openfoia/case-engine/internal/domain"
)

const analysisColumns = `
	id, message_id, case_id, classification, COALESCE(denial_subtype,''), confidence,
	COALESCE(sentiment,''), extracted_fee_amount, extracted_deadline,
	constraints_to_add, scope_updates, key_points, requires_action,
	COALESCE(suggested_action,''), COALESCE(raw_response,''), created_at`

func scanAnalysis(row interface{ Scan(...any) error }) (*domain.ResponseAnalysis, error) {
	a := &domain.ResponseAnalysis{}
	var fee sql.NullFloat64
	var deadline sql.NullTime
	var constraints, scopeUpdates, keyPoints []byte
	err := row.Scan(
		&a.ID, &a.MessageID, &a.CaseID, &a.Classification, &a.DenialSubtype, &a.Confidence,
		&a.Sentiment, &fee, &deadline,
		&constraints, &scopeUpdates, &keyPoints, &a.RequiresAction,
		&a.SuggestedAction, &a.RawResponse, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ExtractedFee = floatPtr(fee)
	a.ExtractedDeadline = timePtr(deadline)
	if err := scanJSON(constraints, &a.ConstraintsToAdd); err != nil {
		return nil, fmt.Errorf("scan constraints_to_add: %w", err)
	}
	if err := scanJSON(scopeUpdates, &a.ScopeUpdates); err != nil {
		return nil, fmt.Errorf("scan scope_updates: %w", err)
	}
	if err := scanJSON(keyPoints, &a.KeyPoints); err != nil {
		return nil, fmt.Errorf("scan key_points: %w", err)
	}
	return a, nil
}

// SaveAnalysis persists the LLM classification of an inbound message. One
// analysis per message: a re-run of classify_inbound overwrites the prior
// result rather than inserting a second row.
func (s *Store) SaveAnalysis(ctx context.Context, a *domain.ResponseAnalysis) (int64, error) {
	constraints, err := jsonb(orEmpty(a.ConstraintsToAdd))
	if err != nil {
		return 0, err
	}
	scopeUpdates, err := jsonb(orEmptyScope(a.ScopeUpdates))
	if err != nil {
		return 0, err
	}
	keyPoints, err := jsonb(orEmpty(a.KeyPoints))
	if err != nil {
		return 0, err
	}

	var fee sql.NullFloat64
	if a.ExtractedFee != nil {
		fee = sql.NullFloat64{Float64: *a.ExtractedFee, Valid: true}
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO foia_response_analyses
			(message_id, case_id, classification, denial_subtype, confidence,
			 sentiment, extracted_fee_amount, extracted_deadline,
			 constraints_to_add, scope_updates, key_points, requires_action,
			 suggested_action, raw_response, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), $7, $8,
		        $9, $10, $11, $12, NULLIF($13,''), NULLIF($14,''), NOW())
		ON CONFLICT (message_id) DO UPDATE SET
			classification = EXCLUDED.classification,
			denial_subtype = EXCLUDED.denial_subtype,
			confidence = EXCLUDED.confidence,
			sentiment = EXCLUDED.sentiment,
			extracted_fee_amount = EXCLUDED.extracted_fee_amount,
			extracted_deadline = EXCLUDED.extracted_deadline,
			constraints_to_add = EXCLUDED.constraints_to_add,
			scope_updates = EXCLUDED.scope_updates,
			key_points = EXCLUDED.key_points,
			requires_action = EXCLUDED.requires_action,
			suggested_action = EXCLUDED.suggested_action,
			raw_response = EXCLUDED.raw_response
		RETURNING id
	`, a.MessageID, a.CaseID, a.Classification, a.DenialSubtype, a.Confidence,
		a.Sentiment, fee, nullTime(a.ExtractedDeadline),
		constraints, scopeUpdates, keyPoints, a.RequiresAction,
		a.SuggestedAction, a.RawResponse).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save analysis: %w", err)
	}
	return id, nil
}

// AnalysisForMessage fetches the analysis of one inbound message, or nil if
// the message has not been classified yet.
func (s *Store) AnalysisForMessage(ctx context.Context, messageID int64) (*domain.ResponseAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM foia_response_analyses WHERE message_id = $1`, messageID)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis for message: %w", err)
	}
	return a, nil
}

// LatestAnalysis returns the most recent analysis on a case, or nil.
func (s *Store) LatestAnalysis(ctx context.Context, caseID int64) (*domain.ResponseAnalysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM foia_response_analyses
		 WHERE case_id = $1 ORDER BY created_at DESC LIMIT 1`, caseID)
	a, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest analysis: %w", err)
	}
	return a, nil
}
