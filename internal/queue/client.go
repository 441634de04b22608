// Package queue bridges events to graph runs. Webhooks, schedulers, and the
// decision API enqueue jobs here; the worker pool claims them and drives the
// supervisor. Job IDs are deterministic per logical event, so duplicates
// collapse instead of double-running a case.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// ClientStore is the store slice the enqueue side needs.
type ClientStore interface {
	EnqueueJob(ctx context.Context, j *domain.Job) (bool, error)
}

// Client enqueues the three job classes.
type Client struct {
	store ClientStore
	now   func() time.Time
}

// NewClient builds a queue client.
func NewClient(store ClientStore) *Client {
	return &Client{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// EnqueueInbound queues a run for a freshly ingested agency message. The job
// ID is derived from (case, message), so webhook redeliveries are no-ops.
func (c *Client) EnqueueInbound(ctx context.Context, caseID, messageID int64) (bool, error) {
	payload, err := json.Marshal(domain.InboundJobPayload{CaseID: caseID, MessageID: messageID})
	if err != nil {
		return false, fmt.Errorf("marshal inbound payload: %w", err)
	}
	inserted, err := c.store.EnqueueJob(ctx, &domain.Job{
		ID:       domain.InboundJobID(caseID, messageID),
		JobClass: domain.JobRunOnInbound,
		CaseID:   caseID,
		Payload:  payload,
	})
	if err != nil {
		return false, err
	}
	if inserted {
		logger.Info("inbound run queued", "case_id", caseID, "message_id", messageID)
	}
	return inserted, nil
}

// EnqueueScheduled queues a time-driven run (follow-up scan or initial
// dispatch). One job per case per day.
func (c *Client) EnqueueScheduled(ctx context.Context, caseID int64, trigger domain.TriggerType) (bool, error) {
	payload, err := json.Marshal(domain.ScheduleJobPayload{CaseID: caseID, TriggerType: trigger})
	if err != nil {
		return false, fmt.Errorf("marshal schedule payload: %w", err)
	}
	inserted, err := c.store.EnqueueJob(ctx, &domain.Job{
		ID:       domain.ScheduleJobID(caseID, c.now()),
		JobClass: domain.JobRunOnSchedule,
		CaseID:   caseID,
		Payload:  payload,
	})
	if err != nil {
		return false, err
	}
	if inserted {
		logger.Info("scheduled run queued", "case_id", caseID, "trigger", string(trigger))
	}
	return inserted, nil
}

// EnqueueResume queues the resumption of a paused run after a human decision.
// A double-clicked approval collapses to one job per (proposal, decision).
func (c *Client) EnqueueResume(ctx context.Context, caseID, proposalID int64, decision domain.HumanDecision) (bool, error) {
	if !decision.Valid() {
		return false, fmt.Errorf("invalid human decision %q", decision.Action)
	}
	payload, err := json.Marshal(domain.ResumeJobPayload{CaseID: caseID, ProposalID: proposalID, Decision: decision})
	if err != nil {
		return false, fmt.Errorf("marshal resume payload: %w", err)
	}
	inserted, err := c.store.EnqueueJob(ctx, &domain.Job{
		ID:       domain.ResumeJobID(caseID, proposalID, decision.Action),
		JobClass: domain.JobResumeFromHuman,
		CaseID:   caseID,
		Payload:  payload,
	})
	if err != nil {
		return false, err
	}
	if inserted {
		logger.Info("resume queued", "case_id", caseID, "proposal_id", proposalID, "decision", string(decision.Action))
	}
	return inserted, nil
}
