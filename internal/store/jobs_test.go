package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/openfoia/case-engine/internal/domain"
)

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "job_class", "case_id", "payload", "status", "attempts", "max_attempts",
		"last_error", "worker_id", "scheduled_at", "claimed_at", "finished_at", "created_at",
	})
}

func TestEnqueueJob(t *testing.T) {
	job := &domain.Job{
		ID:       domain.InboundJobID(42, 11),
		JobClass: domain.JobRunOnInbound,
		CaseID:   42,
		Payload:  json.RawMessage(`{"case_id":42,"message_id":11}`),
	}

	t.Run("inserts new job", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		mock.ExpectExec(`INSERT INTO foia_jobs`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		inserted, err := s.EnqueueJob(context.Background(), job)
		if err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
		if !inserted {
			t.Error("expected insert to report true")
		}
	})

	t.Run("redelivered event collapses", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		mock.ExpectExec(`INSERT INTO foia_jobs`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		inserted, err := s.EnqueueJob(context.Background(), job)
		if err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
		if inserted {
			t.Error("duplicate enqueue must report false")
		}
	})
}

func TestClaimDueJobs(t *testing.T) {
	s, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("worker-1", 4).
		WillReturnRows(jobRows().AddRow(
			"inbound:42:11", "run_on_inbound", 42, []byte(`{"case_id":42,"message_id":11}`),
			"claimed", 1, 3, "", "worker-1", now, now, nil, now,
		))

	jobs, err := s.ClaimDueJobs(context.Background(), "worker-1", 4)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(jobs))
	}
	j := jobs[0]
	if j.JobClass != domain.JobRunOnInbound || j.Attempts != 1 {
		t.Errorf("unexpected claim state: %+v", j)
	}

	var payload domain.InboundJobPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		t.Fatalf("payload not preserved: %v", err)
	}
	if payload.MessageID != 11 {
		t.Errorf("payload message id = %d, want 11", payload.MessageID)
	}
}

func TestFailJob(t *testing.T) {
	t.Run("requeues with backoff", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		mock.ExpectQuery(`UPDATE foia_jobs`).
			WithArgs("inbound:42:11", "graph run failed", int64(10)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("queued"))

		dead, err := s.FailJob(context.Background(), "inbound:42:11", "graph run failed", 10)
		if err != nil {
			t.Fatalf("FailJob: %v", err)
		}
		if dead {
			t.Error("job should requeue before the attempt cap")
		}
	})

	t.Run("dead-letters at the attempt cap", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		mock.ExpectQuery(`UPDATE foia_jobs`).
			WithArgs("inbound:42:11", "graph run failed", int64(20)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("dead_letter"))

		dead, err := s.FailJob(context.Background(), "inbound:42:11", "graph run failed", 20)
		if err != nil {
			t.Fatalf("FailJob: %v", err)
		}
		if !dead {
			t.Error("expected dead-letter at the attempt cap")
		}
	})
}

func TestWorkerRegistry(t *testing.T) {
	t.Run("register upserts", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		mock.ExpectExec(`INSERT INTO foia_workers`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.RegisterWorker(context.Background(), &domain.WorkerInfo{
			ID:         "worker-1",
			WorkerType: "queue",
			Hostname:   "host-a",
			Metadata:   map[string]string{"pool": "default"},
		})
		if err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	})

	t.Run("list active filters by heartbeat", func(t *testing.T) {
		s, mock, cleanup := setupStore(t)
		defer cleanup()

		now := time.Now()
		mock.ExpectQuery(`FROM foia_workers`).
			WithArgs(int64(60)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "worker_type", "hostname", "status", "metadata", "started_at", "last_heartbeat_at",
			}).AddRow("worker-1", "queue", "host-a", "running", []byte(`{"pool":"default"}`), now, now))

		workers, err := s.ListActiveWorkers(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("ListActiveWorkers: %v", err)
		}
		if len(workers) != 1 || workers[0].Metadata["pool"] != "default" {
			t.Errorf("unexpected workers: %+v", workers)
		}
	})
}
