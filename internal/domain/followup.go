package domain

import "time"

// FollowUpSchedule tracks the next nudge for a quiet agency. Zero or one
// per case; followup_count never decreases.
type FollowUpSchedule struct {
	ID             int64      `json:"id" db:"id"`
	CaseID         int64      `json:"case_id" db:"case_id"`
	NextFollowup   *time.Time `json:"next_followup_date" db:"next_followup_date"`
	FollowupCount  int        `json:"followup_count" db:"followup_count"`
	LastFollowupAt *time.Time `json:"last_followup_sent_at" db:"last_followup_sent_at"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Follow-up schedule statuses.
const (
	FollowupActive    = "active"
	FollowupExhausted = "exhausted"
	FollowupCancelled = "cancelled"
)

// EscalationUrgency grades how loudly a human should be paged.
type EscalationUrgency string

const (
	UrgencyLow      EscalationUrgency = "low"
	UrgencyNormal   EscalationUrgency = "normal"
	UrgencyHigh     EscalationUrgency = "high"
	UrgencyCritical EscalationUrgency = "critical"
)

// Escalation is a human-attention record. Deduplicated per (case_id, reason)
// within a rolling one-hour window.
type Escalation struct {
	ID              int64             `json:"id" db:"id"`
	CaseID          int64             `json:"case_id" db:"case_id"`
	Reason          string            `json:"reason" db:"reason"`
	Urgency         EscalationUrgency `json:"urgency" db:"urgency"`
	SuggestedAction string            `json:"suggested_action" db:"suggested_action"`
	Detail          string            `json:"detail" db:"detail"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at" db:"acknowledged_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// PortalTaskStatus enumerates the manual-submission work item lifecycle.
type PortalTaskStatus string

const (
	PortalPending    PortalTaskStatus = "PENDING"
	PortalInProgress PortalTaskStatus = "IN_PROGRESS"
	PortalDone       PortalTaskStatus = "DONE"
	PortalFailed     PortalTaskStatus = "FAILED"
)

// PortalTask is a manual-submission work item for a portal-only agency.
type PortalTask struct {
	ID           int64            `json:"id" db:"id"`
	CaseID       int64            `json:"case_id" db:"case_id"`
	ProposalID   *int64           `json:"proposal_id" db:"proposal_id"`
	PortalURL    string           `json:"portal_url" db:"portal_url"`
	ActionType   ActionType       `json:"action_type" db:"action_type"`
	Instructions string           `json:"instructions" db:"instructions"`
	Status       PortalTaskStatus `json:"status" db:"status"`
	ClaimedBy    string           `json:"claimed_by" db:"claimed_by"`
	Result       string           `json:"result" db:"result"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
	CompletedAt  *time.Time       `json:"completed_at" db:"completed_at"`
}

// Channels an execution can go through.
const (
	ChannelEmail  = "email"
	ChannelPortal = "portal"
	ChannelNone   = "none"
)

// ExecutionRecord is one attempt to perform a side effect, keyed by
// execution_key. At most one SUCCEEDED record exists per proposal.
type ExecutionRecord struct {
	ID           int64      `json:"id" db:"id"`
	ExecutionKey string     `json:"execution_key" db:"execution_key"`
	ProposalID   int64      `json:"proposal_id" db:"proposal_id"`
	CaseID       int64      `json:"case_id" db:"case_id"`
	ActionType   ActionType `json:"action_type" db:"action_type"`
	Channel      string     `json:"channel" db:"channel"`
	Status       string     `json:"status" db:"status"`
	Detail       string     `json:"detail" db:"detail"`
	EmailJobID   string     `json:"email_job_id" db:"email_job_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Execution record statuses.
const (
	ExecutionSucceeded = "SUCCEEDED"
	ExecutionFailed    = "FAILED"
	ExecutionDry       = "DRY_RUN"
)

// ExecutionOutcome names what the executor did (or declined to do) for a
// proposal. Callers branch on these, never on free-form strings.
type ExecutionOutcome string

const (
	OutcomeAlreadyExecuted     ExecutionOutcome = "already_executed"
	OutcomeExecutionInProgress ExecutionOutcome = "execution_in_progress"
	OutcomeClaimFailed         ExecutionOutcome = "claim_failed"
	OutcomePortalTaskCreated   ExecutionOutcome = "portal_task_created"
	OutcomeEmailEnqueued       ExecutionOutcome = "email_enqueued"
	OutcomeEscalated           ExecutionOutcome = "escalated"
	OutcomeCaseClosed          ExecutionOutcome = "case_closed"
	OutcomeNoneRecorded        ExecutionOutcome = "none_recorded"
)

// ExecutionResult is the executor's report for one proposal.
type ExecutionResult struct {
	Outcome      ExecutionOutcome `json:"outcome"`
	ProposalID   int64            `json:"proposal_id"`
	ExecutionKey string           `json:"execution_key,omitempty"`
	EmailJobID   string           `json:"email_job_id,omitempty"`
	PortalTaskID int64            `json:"portal_task_id,omitempty"`
	EscalationID int64            `json:"escalation_id,omitempty"`
	Detail       string           `json:"detail,omitempty"`
}

// Executed reports whether this result represents a completed side effect
// (as opposed to a dedup short-circuit or a lost claim race).
func (r ExecutionResult) Executed() bool {
	switch r.Outcome {
	case OutcomeEmailEnqueued, OutcomePortalTaskCreated, OutcomeEscalated,
		OutcomeCaseClosed, OutcomeNoneRecorded:
		return true
	}
	return false
}
