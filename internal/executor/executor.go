// Package executor performs the side effect a proposal calls for: enqueue an
// email, open a portal task, escalate, or close the case. Every path is
// idempotent by execution_key, so a re-run after a crash or a duplicate
// resume never doubles a send.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// Store is the slice of the store the executor writes through.
type Store interface {
	GetProposal(ctx context.Context, id int64) (*domain.Proposal, error)
	ClaimProposalExecution(ctx context.Context, proposalID int64, executionKey string) (bool, error)
	MarkProposalExecuted(ctx context.Context, proposalID int64, emailJobID string) error
	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	UpdateCaseStatus(ctx context.Context, id int64, status domain.CaseStatus, substatus string) error
	CloseCase(ctx context.Context, id int64, status domain.CaseStatus, substatus string) error
	CreatePortalTask(ctx context.Context, t *domain.PortalTask) (int64, error)
	RecordPortalSubmission(ctx context.Context, id, taskID int64) error
	UpsertFollowUpSchedule(ctx context.Context, caseID int64, next time.Time) (*domain.FollowUpSchedule, error)
	UpsertEscalation(ctx context.Context, e *domain.Escalation) (int64, bool, error)
	InsertExecutionRecord(ctx context.Context, r *domain.ExecutionRecord) error
}

// EmailQueue enqueues outbound mail. Enqueue dedups by job ID and reports
// whether this call inserted the job.
type EmailQueue interface {
	Enqueue(ctx context.Context, job *domain.EmailJob) (bool, error)
}

// Notifier pushes a fresh escalation to whoever watches the queue.
type Notifier interface {
	NotifyEscalation(ctx context.Context, c *domain.Case, e *domain.Escalation) error
}

// Executor dispatches proposal side effects.
type Executor struct {
	store  Store
	emails EmailQueue
	notify Notifier
	cfg    config.EngineConfig

	// delayFn picks the human-like send delay; swapped in tests.
	delayFn func() time.Duration
	now     func() time.Time
}

// Send delays mimic a person drafting during business hours.
const (
	minSendDelay = 120 * time.Minute
	maxSendDelay = 600 * time.Minute
)

// New builds an executor.
func New(store Store, emails EmailQueue, notify Notifier, cfg config.EngineConfig) *Executor {
	return &Executor{
		store:  store,
		emails: emails,
		notify: notify,
		cfg:    cfg,
		delayFn: func() time.Duration {
			return minSendDelay + time.Duration(rand.Int63n(int64(maxSendDelay-minSendDelay)))
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Execute performs the proposal's action exactly once. The sequence is
// pre-check, claim, dispatch: a proposal already EXECUTED or already claimed
// short-circuits, a lost claim race reports claim_failed, and only the
// winner reaches a side effect.
func (e *Executor) Execute(ctx context.Context, c *domain.Case, p *domain.Proposal) (*domain.ExecutionResult, error) {
	cur, err := e.store.GetProposal(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", p.ID, err)
	}

	if cur.Status == domain.ProposalExecuted {
		return &domain.ExecutionResult{
			Outcome:    domain.OutcomeAlreadyExecuted,
			ProposalID: cur.ID,
			EmailJobID: cur.EmailJobID,
		}, nil
	}
	if cur.ExecutionKey != nil {
		return &domain.ExecutionResult{
			Outcome:    domain.OutcomeExecutionInProgress,
			ProposalID: cur.ID,
		}, nil
	}

	key := domain.ExecutionKey(cur.ProposalKey)
	claimed, err := e.store.ClaimProposalExecution(ctx, cur.ID, key)
	if err != nil {
		return nil, fmt.Errorf("claim execution: %w", err)
	}
	if !claimed {
		return &domain.ExecutionResult{Outcome: domain.OutcomeClaimFailed, ProposalID: cur.ID}, nil
	}

	if e.cfg.DryRun() {
		return e.executeDry(ctx, c, cur, key)
	}

	// Portal guard: a portal case never gets email, whatever the draft says.
	if c.HasPortal() && cur.ActionType.IsSend() {
		return e.createPortalTask(ctx, c, cur, key)
	}

	switch {
	case cur.ActionType.IsSend():
		return e.enqueueEmail(ctx, c, cur, key)
	case cur.ActionType == domain.ActionSubmitPortal:
		return e.createPortalTask(ctx, c, cur, key)
	case cur.ActionType == domain.ActionEscalate:
		return e.escalate(ctx, c, cur, key, "router_escalation", domain.UrgencyNormal)
	case cur.ActionType == domain.ActionResearchAgency:
		return e.escalate(ctx, c, cur, key, "research_agency", domain.UrgencyLow)
	case cur.ActionType == domain.ActionCloseCase:
		return e.closeCase(ctx, c, cur, key)
	case cur.ActionType == domain.ActionNone:
		return e.recordNone(ctx, c, cur, key)
	default:
		return nil, fmt.Errorf("unknown action type %q on proposal %d", cur.ActionType, cur.ID)
	}
}

// executeDry logs what would have happened and marks the proposal EXECUTED,
// so dry runs exercise the full idempotency machinery.
func (e *Executor) executeDry(ctx context.Context, c *domain.Case, p *domain.Proposal, key string) (*domain.ExecutionResult, error) {
	logger.Info("dry run, side effect skipped",
		"case_id", c.ID, "proposal_id", p.ID, "action", string(p.ActionType))

	if err := e.store.MarkProposalExecuted(ctx, p.ID, ""); err != nil {
		return nil, fmt.Errorf("mark executed (dry): %w", err)
	}
	if err := e.store.InsertExecutionRecord(ctx, &domain.ExecutionRecord{
		ExecutionKey: key,
		ProposalID:   p.ID,
		CaseID:       c.ID,
		ActionType:   p.ActionType,
		Channel:      domain.ChannelNone,
		Status:       domain.ExecutionDry,
		Detail:       "dry run",
	}); err != nil {
		return nil, fmt.Errorf("record dry execution: %w", err)
	}

	return &domain.ExecutionResult{
		Outcome:      outcomeFor(c, p.ActionType),
		ProposalID:   p.ID,
		ExecutionKey: key,
		Detail:       "dry run",
	}, nil
}

func outcomeFor(c *domain.Case, action domain.ActionType) domain.ExecutionOutcome {
	switch {
	case c.HasPortal() && action.IsSend(), action == domain.ActionSubmitPortal:
		return domain.OutcomePortalTaskCreated
	case action.IsSend():
		return domain.OutcomeEmailEnqueued
	case action == domain.ActionEscalate, action == domain.ActionResearchAgency:
		return domain.OutcomeEscalated
	case action == domain.ActionCloseCase:
		return domain.OutcomeCaseClosed
	default:
		return domain.OutcomeNoneRecorded
	}
}

func (e *Executor) enqueueEmail(ctx context.Context, c *domain.Case, p *domain.Proposal, key string) (*domain.ExecutionResult, error) {
	job := &domain.EmailJob{
		ID:          key,
		CaseID:      c.ID,
		ProposalID:  p.ID,
		ToEmail:     c.AgencyEmail,
		FromEmail:   c.RequesterEmail,
		FromName:    c.RequesterName,
		ReplyTo:     c.RequesterEmail,
		Subject:     p.DraftSubject,
		BodyText:    p.DraftBodyText,
		BodyHTML:    p.DraftBodyHTML,
		ActionType:  p.ActionType,
		ScheduledAt: e.now().Add(e.delayFn()),
	}

	// Thread the reply under the message it answers.
	if p.TriggerMessageID != nil {
		if m, err := e.store.GetMessage(ctx, *p.TriggerMessageID); err == nil && m.RFC2822ID != "" {
			job.InReplyTo = m.RFC2822ID
			job.ReferencesHeader = m.RFC2822ID
		}
	}

	inserted, err := e.emails.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue email: %w", err)
	}
	if !inserted {
		logger.Warn("email job already queued", "job_id", key, "case_id", c.ID)
	}

	if err := e.store.MarkProposalExecuted(ctx, p.ID, key); err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}
	if err := e.store.UpdateCaseStatus(ctx, c.ID, domain.CaseAwaitingResponse, ""); err != nil {
		return nil, fmt.Errorf("update case status: %w", err)
	}

	if p.ActionType == domain.ActionSendFollowup {
		next := e.now().AddDate(0, 0, e.cfg.FollowupDelayDays)
		if _, err := e.store.UpsertFollowUpSchedule(ctx, c.ID, next); err != nil {
			return nil, fmt.Errorf("upsert followup schedule: %w", err)
		}
	}

	if err := e.store.InsertExecutionRecord(ctx, &domain.ExecutionRecord{
		ExecutionKey: key,
		ProposalID:   p.ID,
		CaseID:       c.ID,
		ActionType:   p.ActionType,
		Channel:      domain.ChannelEmail,
		Status:       domain.ExecutionSucceeded,
		EmailJobID:   key,
	}); err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}

	logger.Info("email enqueued", "case_id", c.ID, "proposal_id", p.ID,
		"action", string(p.ActionType), "job_id", key,
		"scheduled_at", job.ScheduledAt.Format(time.RFC3339))

	return &domain.ExecutionResult{
		Outcome:      domain.OutcomeEmailEnqueued,
		ProposalID:   p.ID,
		ExecutionKey: key,
		EmailJobID:   key,
	}, nil
}

func (e *Executor) createPortalTask(ctx context.Context, c *domain.Case, p *domain.Proposal, key string) (*domain.ExecutionResult, error) {
	taskID, err := e.store.CreatePortalTask(ctx, &domain.PortalTask{
		CaseID:       c.ID,
		ProposalID:   &p.ID,
		PortalURL:    c.PortalURL,
		ActionType:   p.ActionType,
		Instructions: portalInstructions(p),
		Status:       domain.PortalPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create portal task: %w", err)
	}
	if err := e.store.RecordPortalSubmission(ctx, c.ID, taskID); err != nil {
		return nil, fmt.Errorf("record portal submission: %w", err)
	}
	if err := e.store.MarkProposalExecuted(ctx, p.ID, ""); err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}
	if err := e.store.UpdateCaseStatus(ctx, c.ID, domain.CasePortalInProgress, ""); err != nil {
		return nil, fmt.Errorf("update case status: %w", err)
	}
	if err := e.store.InsertExecutionRecord(ctx, &domain.ExecutionRecord{
		ExecutionKey: key,
		ProposalID:   p.ID,
		CaseID:       c.ID,
		ActionType:   p.ActionType,
		Channel:      domain.ChannelPortal,
		Status:       domain.ExecutionSucceeded,
		Detail:       fmt.Sprintf("portal task %d", taskID),
	}); err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}

	logger.Info("portal task created", "case_id", c.ID, "proposal_id", p.ID,
		"task_id", taskID, "portal_url", c.PortalURL)

	return &domain.ExecutionResult{
		Outcome:      domain.OutcomePortalTaskCreated,
		ProposalID:   p.ID,
		ExecutionKey: key,
		PortalTaskID: taskID,
	}, nil
}

func portalInstructions(p *domain.Proposal) string {
	if p.DraftBodyText != "" {
		return fmt.Sprintf("Submit via the agency portal. Prepared text:\n\n%s", p.DraftBodyText)
	}
	return fmt.Sprintf("Submit a %s through the agency portal.", p.ActionType)
}

func (e *Executor) escalate(ctx context.Context, c *domain.Case, p *domain.Proposal, key, reason string, urgency domain.EscalationUrgency) (*domain.ExecutionResult, error) {
	esc := &domain.Escalation{
		CaseID:          c.ID,
		Reason:          reason,
		Urgency:         urgency,
		SuggestedAction: string(p.ActionType),
		Detail:          firstReason(p.Reasoning),
	}
	id, inserted, err := e.store.UpsertEscalation(ctx, esc)
	if err != nil {
		return nil, fmt.Errorf("upsert escalation: %w", err)
	}
	esc.ID = id

	// The dedup window keeps a flapping case from paging the channel
	// repeatedly: only the insert that won notifies.
	if inserted && e.notify != nil {
		if err := e.notify.NotifyEscalation(ctx, c, esc); err != nil {
			return nil, fmt.Errorf("notify escalation: %w", err)
		}
	}

	if err := e.store.UpdateCaseStatus(ctx, c.ID, domain.CaseEscalated, reason); err != nil {
		return nil, fmt.Errorf("update case status: %w", err)
	}
	if err := e.store.MarkProposalExecuted(ctx, p.ID, ""); err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}
	if err := e.store.InsertExecutionRecord(ctx, &domain.ExecutionRecord{
		ExecutionKey: key,
		ProposalID:   p.ID,
		CaseID:       c.ID,
		ActionType:   p.ActionType,
		Channel:      domain.ChannelNone,
		Status:       domain.ExecutionSucceeded,
		Detail:       reason,
	}); err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}

	return &domain.ExecutionResult{
		Outcome:      domain.OutcomeEscalated,
		ProposalID:   p.ID,
		ExecutionKey: key,
		EscalationID: id,
	}, nil
}

func (e *Executor) closeCase(ctx context.Context, c *domain.Case, p *domain.Proposal, key string) (*domain.ExecutionResult, error) {
	if err := e.store.CloseCase(ctx, c.ID, domain.CaseCompleted, "closed_by_decision"); err != nil {
		return nil, fmt.Errorf("close case: %w", err)
	}
	if err := e.store.MarkProposalExecuted(ctx, p.ID, ""); err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}
	if err := e.store.InsertExecutionRecord(ctx, &domain.ExecutionRecord{
		ExecutionKey: key,
		ProposalID:   p.ID,
		CaseID:       c.ID,
		ActionType:   p.ActionType,
		Channel:      domain.ChannelNone,
		Status:       domain.ExecutionSucceeded,
	}); err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}

	return &domain.ExecutionResult{
		Outcome:      domain.OutcomeCaseClosed,
		ProposalID:   p.ID,
		ExecutionKey: key,
	}, nil
}

func (e *Executor) recordNone(ctx context.Context, c *domain.Case, p *domain.Proposal, key string) (*domain.ExecutionResult, error) {
	if err := e.store.MarkProposalExecuted(ctx, p.ID, ""); err != nil {
		return nil, fmt.Errorf("mark executed: %w", err)
	}
	if err := e.store.InsertExecutionRecord(ctx, &domain.ExecutionRecord{
		ExecutionKey: key,
		ProposalID:   p.ID,
		CaseID:       c.ID,
		ActionType:   p.ActionType,
		Channel:      domain.ChannelNone,
		Status:       domain.ExecutionSucceeded,
	}); err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}

	return &domain.ExecutionResult{
		Outcome:      domain.OutcomeNoneRecorded,
		ProposalID:   p.ID,
		ExecutionKey: key,
	}, nil
}

func firstReason(reasoning []string) string {
	if len(reasoning) == 0 {
		return ""
	}
	return reasoning[len(reasoning)-1]
}
