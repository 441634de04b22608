package queue

import (
	"context"
	"sync"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// SchedulerStore is the store slice the scan loop reads.
type SchedulerStore interface {
	DueFollowupCases(ctx context.Context, limit int) ([]int64, error)
	CasesReadyToSend(ctx context.Context, limit int) ([]int64, error)
}

const scanBatchSize = 100

// Scheduler turns time into jobs: cases whose follow-up date arrived get a
// scheduled run, and freshly created cases get their initial dispatch. The
// per-day job ID means rescanning the same case is harmless.
type Scheduler struct {
	store    SchedulerStore
	client   *Client
	interval time.Duration
}

// NewScheduler builds the scan loop.
func NewScheduler(store SchedulerStore, client *Client, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{store: store, client: client, interval: interval}
}

// Run scans until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	logger.Info("scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan performs one pass over both due sets.
func (s *Scheduler) Scan(ctx context.Context) {
	due, err := s.store.DueFollowupCases(ctx, scanBatchSize)
	if err != nil {
		logger.Error("scan due followups failed", "error", err.Error())
	} else {
		for _, caseID := range due {
			if _, err := s.client.EnqueueScheduled(ctx, caseID, domain.TriggerScheduledFollowup); err != nil {
				logger.Error("enqueue followup run failed", "case_id", caseID, "error", err.Error())
			}
		}
	}

	ready, err := s.store.CasesReadyToSend(ctx, scanBatchSize)
	if err != nil {
		logger.Error("scan ready cases failed", "error", err.Error())
		return
	}
	for _, caseID := range ready {
		if _, err := s.client.EnqueueScheduled(ctx, caseID, domain.TriggerInitialRequest); err != nil {
			logger.Error("enqueue initial run failed", "case_id", caseID, "error", err.Error())
		}
	}
}
