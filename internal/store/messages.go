package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
)

const messageColumns = `
	id, case_id, direction, COALESCE(provider_message_id,''), COALESCE(rfc2822_id,''),
	COALESCE(subject,''), COALESCE(body_text,''), COALESCE(body_html,''),
	COALESCE(message_type,''), COALESCE(from_email,''), COALESCE(to_email,''),
	sent_at, received_at, processed_at, processed_run_id, COALESCE(last_error,''), created_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	m := &domain.Message{}
	var sentAt, receivedAt, processedAt sql.NullTime
	var processedRun sql.NullInt64
	err := row.Scan(
		&m.ID, &m.CaseID, &m.Direction, &m.ProviderMessageID, &m.RFC2822ID,
		&m.Subject, &m.BodyText, &m.BodyHTML,
		&m.MessageType, &m.FromEmail, &m.ToEmail,
		&sentAt, &receivedAt, &processedAt, &processedRun, &m.LastError, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.SentAt = timePtr(sentAt)
	m.ReceivedAt = timePtr(receivedAt)
	m.ProcessedAt = timePtr(processedAt)
	m.ProcessedRunID = intPtr(processedRun)
	return m, nil
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, id int64) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM foia_messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// CreateInboundMessage inserts an inbound message. A duplicate
// provider_message_id is a no-op: the existing row is returned with
// created=false, so webhook redeliveries never double-ingest.
func (s *Store) CreateInboundMessage(ctx context.Context, m *domain.Message) (id int64, created bool, err error) {
	if m.ProviderMessageID != "" {
		row := s.db.QueryRowContext(ctx, `
			SELECT id FROM foia_messages WHERE provider_message_id = $1
		`, m.ProviderMessageID)
		if err := row.Scan(&id); err == nil {
			return id, false, nil
		} else if err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("check duplicate message: %w", err)
		}
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO foia_messages
			(case_id, direction, provider_message_id, rfc2822_id, subject,
			 body_text, body_html, message_type, from_email, to_email, received_at, created_at)
		VALUES ($1, 'inbound', NULLIF($2,''), NULLIF($3,''), $4, $5, $6,
		        NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), NOW(), NOW())
		ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL
		DO NOTHING
		RETURNING id
	`, m.CaseID, m.ProviderMessageID, m.RFC2822ID, m.Subject,
		m.BodyText, m.BodyHTML, m.MessageType, m.FromEmail, m.ToEmail).Scan(&id)
	if err == sql.ErrNoRows {
		// Lost a race with a concurrent delivery of the same message.
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM foia_messages WHERE provider_message_id = $1`, m.ProviderMessageID)
		if scanErr := row.Scan(&id); scanErr != nil {
			return 0, false, fmt.Errorf("resolve duplicate message: %w", scanErr)
		}
		return id, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("create inbound message: %w", err)
	}
	return id, true, nil
}

// CreateOutboundMessage records correspondence we sent (or are sending).
func (s *Store) CreateOutboundMessage(ctx context.Context, m *domain.Message) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO foia_messages
			(case_id, direction, provider_message_id, rfc2822_id, subject,
			 body_text, body_html, message_type, from_email, to_email, sent_at, created_at)
		VALUES ($1, 'outbound', NULLIF($2,''), NULLIF($3,''), $4, $5, $6,
		        NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10, NOW())
		RETURNING id
	`, m.CaseID, m.ProviderMessageID, m.RFC2822ID, m.Subject,
		m.BodyText, m.BodyHTML, m.MessageType, m.FromEmail, m.ToEmail,
		nullTime(m.SentAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create outbound message: %w", err)
	}
	return id, nil
}

// ListCaseMessages returns all correspondence for a case, oldest first.
func (s *Store) ListCaseMessages(ctx context.Context, caseID int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM foia_messages WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkMessageProcessed stamps the run that consumed an inbound message. Each
// inbound message records at most one triggering run; later runs leave the
// original stamp in place.
func (s *Store) MarkMessageProcessed(ctx context.Context, messageID, runID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_messages
		SET processed_at = NOW(), processed_run_id = $2
		WHERE id = $1 AND processed_run_id IS NULL
	`, messageID, runID)
	if err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	return nil
}

// SetMessageError records a processing failure on the message.
func (s *Store) SetMessageError(ctx context.Context, messageID int64, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_messages SET last_error = $2 WHERE id = $1
	`, messageID, msg)
	if err != nil {
		return fmt.Errorf("set message error: %w", err)
	}
	return nil
}

// MarkMessageSent updates an outbound message after the provider accepted it.
func (s *Store) MarkMessageSent(ctx context.Context, messageID int64, providerMessageID string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE foia_messages
		SET provider_message_id = NULLIF($2,''), sent_at = $3
		WHERE id = $1
	`, messageID, providerMessageID, sentAt)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	return nil
}

// ResolveInboundCase matches an inbound email to a case. Threading headers
// win: any In-Reply-To/References value that equals a prior outbound
// message's RFC 2822 id pins the case. Otherwise the sender address is
// matched against agency emails.
func (s *Store) ResolveInboundCase(ctx context.Context, fromEmail string, threadIDs []string) (int64, error) {
	for _, tid := range threadIDs {
		tid = strings.TrimSpace(tid)
		if tid == "" {
			continue
		}
		var caseID int64
		err := s.db.QueryRowContext(ctx, `
			SELECT case_id FROM foia_messages
			WHERE direction = 'outbound' AND rfc2822_id = $1
			ORDER BY created_at DESC LIMIT 1
		`, tid).Scan(&caseID)
		if err == nil {
			return caseID, nil
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("resolve by thread id: %w", err)
		}
	}

	addr := strings.ToLower(strings.TrimSpace(fromEmail))
	if addr == "" {
		return 0, ErrCaseNotFound
	}
	var caseID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM foia_cases
		WHERE LOWER(agency_email) = $1
		  AND status NOT IN ('completed','cancelled')
		ORDER BY updated_at DESC LIMIT 1
	`, addr).Scan(&caseID)
	if err == sql.ErrNoRows {
		return 0, ErrCaseNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve by agency email: %w", err)
	}
	return caseID, nil
}
