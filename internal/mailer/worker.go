package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// WorkerStore is the store slice the send worker drives.
type WorkerStore interface {
	ClaimDueEmailJobs(ctx context.Context, workerID string, limit int) ([]domain.EmailJob, error)
	MarkEmailSent(ctx context.Context, id, providerMessageID string) error
	FailEmailJob(ctx context.Context, id, errMsg string, maxRetries int, backoff time.Duration) (bool, error)
	SkipEmailJob(ctx context.Context, id, reason string) error
	RequeueStuckEmailJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	GetCase(ctx context.Context, id int64) (*domain.Case, error)
	CreateOutboundMessage(ctx context.Context, m *domain.Message) (int64, error)
	UpsertEscalation(ctx context.Context, e *domain.Escalation) (id int64, inserted bool, err error)
}

const (
	claimBatchSize = 10
	maxRetries     = 3
	retryBackoff   = 5 * time.Minute
	stuckThreshold = 15 * time.Minute
)

// Worker drains the email queue: claims due jobs, sends them, records the
// outbound message, and retries or dead-letters failures.
type Worker struct {
	store    WorkerStore
	sender   Sender
	workerID string
	interval time.Duration

	now func() time.Time
}

// NewWorker builds a send worker.
func NewWorker(store WorkerStore, sender Sender, workerID string, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		store:    store,
		sender:   sender,
		workerID: workerID,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	logger.Info("email send worker started", "worker_id", w.workerID, "interval", w.interval.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("email send worker stopping", "worker_id", w.workerID)
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one poll cycle: recover stuck claims, then drain due jobs.
func (w *Worker) Tick(ctx context.Context) {
	if n, err := w.store.RequeueStuckEmailJobs(ctx, stuckThreshold); err != nil {
		logger.Error("requeue stuck email jobs failed", "error", err.Error())
	} else if n > 0 {
		logger.Warn("requeued stuck email jobs", "count", n)
	}

	for {
		jobs, err := w.store.ClaimDueEmailJobs(ctx, w.workerID, claimBatchSize)
		if err != nil {
			logger.Error("claim email jobs failed", "worker_id", w.workerID, "error", err.Error())
			return
		}
		if len(jobs) == 0 {
			return
		}
		for i := range jobs {
			w.process(ctx, &jobs[i])
		}
		if len(jobs) < claimBatchSize {
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job *domain.EmailJob) {
	c, err := w.store.GetCase(ctx, job.CaseID)
	if err != nil {
		w.fail(ctx, job, "load case: "+err.Error())
		return
	}
	// A withdrawal between enqueue and send must win.
	if c.IsTerminal() {
		if err := w.store.SkipEmailJob(ctx, job.ID, "case "+string(c.Status)); err != nil {
			logger.Error("skip email job failed", "job_id", job.ID, "error", err.Error())
		}
		logger.Info("email skipped, case closed", "job_id", job.ID, "case_id", job.CaseID)
		return
	}

	rfc2822ID := NewRFC2822ID(job.FromEmail)
	providerID, err := w.sender.Send(ctx, job, rfc2822ID)
	if err != nil {
		w.fail(ctx, job, err.Error())
		return
	}

	sentAt := w.now()
	if _, err := w.store.CreateOutboundMessage(ctx, &domain.Message{
		CaseID:            job.CaseID,
		Direction:         domain.DirectionOutbound,
		ProviderMessageID: providerID,
		RFC2822ID:         rfc2822ID,
		Subject:           job.Subject,
		BodyText:          job.BodyText,
		BodyHTML:          job.BodyHTML,
		MessageType:       string(job.ActionType),
		FromEmail:         job.FromEmail,
		ToEmail:           job.ToEmail,
		SentAt:            &sentAt,
	}); err != nil {
		// The mail left; the record must not block the queue. Log and move on.
		logger.Error("record outbound message failed", "job_id", job.ID, "case_id", job.CaseID, "error", err.Error())
	}

	if err := w.store.MarkEmailSent(ctx, job.ID, providerID); err != nil {
		logger.Error("mark email sent failed", "job_id", job.ID, "error", err.Error())
		return
	}
	logger.Info("email sent", "job_id", job.ID, "case_id", job.CaseID,
		"action", string(job.ActionType), "provider_message_id", providerID)
}

func (w *Worker) fail(ctx context.Context, job *domain.EmailJob, msg string) {
	dead, err := w.store.FailEmailJob(ctx, job.ID, msg, maxRetries, retryBackoff)
	if err != nil {
		logger.Error("fail email job failed", "job_id", job.ID, "error", err.Error())
		return
	}
	if !dead {
		logger.Warn("email send failed, will retry", "job_id", job.ID, "case_id", job.CaseID, "error", msg)
		return
	}

	logger.Error("email dead-lettered", "job_id", job.ID, "case_id", job.CaseID, "error", msg)
	if _, _, err := w.store.UpsertEscalation(ctx, &domain.Escalation{
		CaseID:          job.CaseID,
		Reason:          "email_delivery_failed",
		Urgency:         domain.UrgencyHigh,
		SuggestedAction: "inspect dead-lettered email job " + job.ID,
		Detail:          msg,
	}); err != nil {
		logger.Error("escalate dead letter failed", "job_id", job.ID, "error", err.Error())
	}
}
