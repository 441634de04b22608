package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/openfoia/case-engine/internal/domain"
)

func TestUpsertFollowUpScheduleIncrementsCount(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	next := now.AddDate(0, 0, 7)
	mock.ExpectQuery(`INSERT INTO foia_followup_schedules`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "case_id", "next_followup_date", "followup_count",
			"last_followup_sent_at", "status", "created_at", "updated_at",
		}).AddRow(1, 42, next, 2, now, "active", now, now))

	f, err := s.UpsertFollowUpSchedule(context.Background(), 42, next)
	if err != nil {
		t.Fatalf("UpsertFollowUpSchedule: %v", err)
	}
	if f.FollowupCount != 2 {
		t.Errorf("followup_count = %d, want 2", f.FollowupCount)
	}
	if f.Status != domain.FollowupActive {
		t.Errorf("status = %s, want active", f.Status)
	}
}

func TestUpsertEscalationDedupWindow(t *testing.T) {
	t.Run("recent duplicate is not reinserted", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT id FROM foia_escalations`).
			WithArgs(int64(42), "hostile_response").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

		id, inserted, err := s.UpsertEscalation(context.Background(), &domain.Escalation{
			CaseID: 42, Reason: "hostile_response",
		})
		if err != nil {
			t.Fatalf("UpsertEscalation: %v", err)
		}
		if inserted {
			t.Error("expected dedup within the 1h window")
		}
		if id != 9 {
			t.Errorf("id = %d, want the existing row 9", id)
		}
	})

	t.Run("fresh reason inserts", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT id FROM foia_escalations`).
			WithArgs(int64(42), "max_followups_reached").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`INSERT INTO foia_escalations`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

		id, inserted, err := s.UpsertEscalation(context.Background(), &domain.Escalation{
			CaseID: 42, Reason: "max_followups_reached", Urgency: domain.UrgencyHigh,
		})
		if err != nil {
			t.Fatalf("UpsertEscalation: %v", err)
		}
		if !inserted || id != 10 {
			t.Errorf("inserted=%v id=%d, want inserted row 10", inserted, id)
		}
	})
}

func TestCreateInboundMessageDedup(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	// Same provider id already ingested: return the existing row untouched.
	mock.ExpectQuery(`SELECT id FROM foia_messages WHERE provider_message_id`).
		WithArgs("prov-123").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	id, created, err := s.CreateInboundMessage(context.Background(), &domain.Message{
		CaseID:            42,
		ProviderMessageID: "prov-123",
		Subject:           "Re: records request",
	})
	if err != nil {
		t.Fatalf("CreateInboundMessage: %v", err)
	}
	if created {
		t.Error("duplicate provider_message_id must be a no-op")
	}
	if id != 5 {
		t.Errorf("id = %d, want existing row 5", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
