package domain

import (
	"fmt"
	"time"
)

// ActionType enumerates everything the engine can do next on a case.
type ActionType string

const (
	ActionSendInitialRequest    ActionType = "SEND_INITIAL_REQUEST"
	ActionSendFollowup          ActionType = "SEND_FOLLOWUP"
	ActionSendRebuttal          ActionType = "SEND_REBUTTAL"
	ActionSendClarification     ActionType = "SEND_CLARIFICATION"
	ActionSendAppeal            ActionType = "SEND_APPEAL"
	ActionSendFeeWaiverRequest  ActionType = "SEND_FEE_WAIVER_REQUEST"
	ActionAcceptFee             ActionType = "ACCEPT_FEE"
	ActionNegotiateFee          ActionType = "NEGOTIATE_FEE"
	ActionDeclineFee            ActionType = "DECLINE_FEE"
	ActionRespondPartialApprove ActionType = "RESPOND_PARTIAL_APPROVAL"
	ActionReformulateRequest    ActionType = "REFORMULATE_REQUEST"
	ActionResearchAgency        ActionType = "RESEARCH_AGENCY"
	ActionSubmitPortal          ActionType = "SUBMIT_PORTAL"
	ActionCloseCase             ActionType = "CLOSE_CASE"
	ActionEscalate              ActionType = "ESCALATE"
	ActionNone                  ActionType = "NONE"
)

// AllActions is the full action universe, in router preference order.
var AllActions = []ActionType{
	ActionSendInitialRequest,
	ActionSendFollowup,
	ActionSendRebuttal,
	ActionSendClarification,
	ActionSendAppeal,
	ActionSendFeeWaiverRequest,
	ActionAcceptFee,
	ActionNegotiateFee,
	ActionDeclineFee,
	ActionRespondPartialApprove,
	ActionReformulateRequest,
	ActionResearchAgency,
	ActionSubmitPortal,
	ActionCloseCase,
	ActionEscalate,
	ActionNone,
}

// IsSend reports whether the action dispatches correspondence to the agency.
// Send actions are subject to the portal guard.
func (a ActionType) IsSend() bool {
	switch a {
	case ActionSendInitialRequest, ActionSendFollowup, ActionSendRebuttal,
		ActionSendClarification, ActionSendAppeal, ActionSendFeeWaiverRequest,
		ActionAcceptFee, ActionNegotiateFee, ActionDeclineFee,
		ActionRespondPartialApprove, ActionReformulateRequest:
		return true
	}
	return false
}

// NeedsDraft reports whether the action requires LLM-generated prose before
// it can execute.
func (a ActionType) NeedsDraft() bool {
	return a.IsSend()
}

// ProposalStatus enumerates the lifecycle of a proposed action.
type ProposalStatus string

const (
	ProposalDraft           ProposalStatus = "DRAFT"
	ProposalPendingApproval ProposalStatus = "PENDING_APPROVAL"
	ProposalApproved        ProposalStatus = "APPROVED"
	ProposalExecuted        ProposalStatus = "EXECUTED"
	ProposalSuperseded      ProposalStatus = "SUPERSEDED"
	ProposalRejected        ProposalStatus = "REJECTED"
	ProposalDismissed       ProposalStatus = "DISMISSED"
	ProposalBlocked         ProposalStatus = "BLOCKED"
)

// Proposal is a draft of the next action plus its rationale and gate decision.
type Proposal struct {
	ID               int64          `json:"id" db:"id"`
	CaseID           int64          `json:"case_id" db:"case_id"`
	RunID            *int64         `json:"run_id" db:"run_id"`
	TriggerMessageID *int64         `json:"trigger_message_id" db:"trigger_message_id"`
	ActionType       ActionType     `json:"action_type" db:"action_type"`
	DraftSubject     string         `json:"draft_subject" db:"draft_subject"`
	DraftBodyText    string         `json:"draft_body_text" db:"draft_body_text"`
	DraftBodyHTML    string         `json:"draft_body_html" db:"draft_body_html"`
	Reasoning        []string       `json:"reasoning" db:"reasoning"`
	Confidence       float64        `json:"confidence" db:"confidence"`
	RiskFlags        []string       `json:"risk_flags" db:"risk_flags"`
	Warnings         []string       `json:"warnings" db:"warnings"`
	CanAutoExecute   bool           `json:"can_auto_execute" db:"can_auto_execute"`
	RequiresHuman    bool           `json:"requires_human" db:"requires_human"`
	Status           ProposalStatus `json:"status" db:"status"`
	ProposalKey      string         `json:"proposal_key" db:"proposal_key"`
	ExecutionKey     *string        `json:"execution_key" db:"execution_key"`
	EmailJobID       string         `json:"email_job_id" db:"email_job_id"`
	AdjustmentCount  int            `json:"adjustment_count" db:"adjustment_count"`
	AdjustmentNote   string         `json:"adjustment_instruction" db:"adjustment_instruction"`
	HumanDecision    string         `json:"human_decision" db:"human_decision"`
	PauseReason      PauseReason    `json:"pause_reason" db:"pause_reason"`
	ExecutedAt       *time.Time     `json:"executed_at" db:"executed_at"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// ProposalKey builds the deterministic identity of a proposal:
// caseID:(triggerMessageID|'scheduled'):actionType:adjustmentCount.
// Repeated runs over the same inputs always land on the same row.
func ProposalKey(caseID int64, triggerMessageID *int64, action ActionType, adjustmentCount int) string {
	trigger := "scheduled"
	if triggerMessageID != nil {
		trigger = fmt.Sprintf("%d", *triggerMessageID)
	}
	return fmt.Sprintf("%d:%s:%s:%d", caseID, trigger, action, adjustmentCount)
}

// ExecutionKey derives the idempotency key for executing a proposal. One
// proposal row has exactly one execution identity.
func ExecutionKey(proposalKey string) string {
	return "exec:" + proposalKey
}

// HumanDecisionAction enumerates the choices offered at a human gate.
type HumanDecisionAction string

const (
	DecisionApprove  HumanDecisionAction = "APPROVE"
	DecisionAdjust   HumanDecisionAction = "ADJUST"
	DecisionDismiss  HumanDecisionAction = "DISMISS"
	DecisionWithdraw HumanDecisionAction = "WITHDRAW"
)

// HumanDecision is the injected value that resumes a paused run.
type HumanDecision struct {
	Action      HumanDecisionAction `json:"action"`
	Instruction string              `json:"instruction,omitempty"`
	DecidedBy   string              `json:"decided_by,omitempty"`
}

// Valid reports whether the decision carries a recognized action, and that
// ADJUST comes with an instruction.
func (d HumanDecision) Valid() bool {
	switch d.Action {
	case DecisionApprove, DecisionDismiss, DecisionWithdraw:
		return true
	case DecisionAdjust:
		return d.Instruction != ""
	}
	return false
}

// InterruptPayload is what a paused run hands back to its caller. It is
// persisted with the checkpoint and surfaced through the decision API.
type InterruptPayload struct {
	Type        string      `json:"type"`
	ProposalID  int64       `json:"proposal_id"`
	ProposalKey string      `json:"proposal_key"`
	PauseReason PauseReason `json:"pause_reason"`
	Options     []string    `json:"options"`
	Summary     string      `json:"summary"`
}

// InterruptTypeHumanApproval is the only interrupt type the engine emits.
const InterruptTypeHumanApproval = "HUMAN_APPROVAL"

// NewHumanApprovalInterrupt builds the standard gate payload.
func NewHumanApprovalInterrupt(proposalID int64, proposalKey string, reason PauseReason, summary string) InterruptPayload {
	return InterruptPayload{
		Type:        InterruptTypeHumanApproval,
		ProposalID:  proposalID,
		ProposalKey: proposalKey,
		PauseReason: reason,
		Options:     []string{string(DecisionApprove), string(DecisionAdjust), string(DecisionDismiss), string(DecisionWithdraw)},
		Summary:     summary,
	}
}
