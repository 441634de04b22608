// Package engine is the case graph: a checkpointed state machine that turns
// an inbound agency reply (or a scheduled nudge) into the next action on a
// records request, pausing for a human whenever policy says so.
package engine

import (
	"time"

	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/llm"
)

// Node names. These appear in checkpoints and run rows, so they are stable
// identifiers, not display strings.
const (
	NodeLoadContext       = "load_context"
	NodeClassifyInbound   = "classify_inbound"
	NodeUpdateConstraints = "update_constraints"
	NodeDecideNextAction  = "decide_next_action"
	NodeDraftResponse     = "draft_response"
	NodeSafetyCheck       = "safety_check"
	NodeGateOrExecute     = "gate_or_execute"
	NodeExecuteAction     = "execute_action"
	NodeCommitState       = "commit_state"
	NodeEnd               = "end"
)

// RunState is the full graph state for one run. It is a value: each node
// receives a copy, mutates the copy, and returns it; the driver merges the
// returned value wholesale (last write wins per field) while Reasoning,
// Errors and NodeTrace only ever grow through the append helpers. The whole
// struct round-trips through JSON for checkpointing.
type RunState struct {
	CaseID           int64              `json:"case_id"`
	RunID            int64              `json:"run_id"`
	TriggerType      domain.TriggerType `json:"trigger_type"`
	TriggerMessageID *int64             `json:"trigger_message_id,omitempty"`
	Iteration        int                `json:"iteration"`

	// Context loaded from the store.
	Case            *domain.Case               `json:"case,omitempty"`
	TriggerMessage  *domain.Message            `json:"trigger_message,omitempty"`
	Analysis        *domain.ResponseAnalysis   `json:"analysis,omitempty"`
	Followup        *domain.FollowUpSchedule   `json:"followup,omitempty"`
	PendingProposal *domain.Proposal           `json:"pending_proposal,omitempty"`
	DismissalCounts map[domain.ActionType]int  `json:"dismissal_counts,omitempty"`

	// Classification outputs.
	Classification    domain.Classification `json:"classification,omitempty"`
	DenialSubtype     domain.DenialSubtype  `json:"denial_subtype,omitempty"`
	Confidence        float64               `json:"confidence,omitempty"`
	Sentiment         string                `json:"sentiment,omitempty"`
	ExtractedFee      *float64              `json:"extracted_fee,omitempty"`
	ExtractedDeadline *time.Time            `json:"extracted_deadline,omitempty"`

	// Router outputs.
	Action         domain.ActionType   `json:"action,omitempty"`
	AllowedActions []domain.ActionType `json:"allowed_actions,omitempty"`
	CanAutoExecute bool                `json:"can_auto_execute"`
	RequiresHuman  bool                `json:"requires_human"`
	PauseReason    domain.PauseReason  `json:"pause_reason,omitempty"`

	// Human-gate bookkeeping.
	HumanDecision         *domain.HumanDecision `json:"human_decision,omitempty"`
	AdjustmentInstruction string                `json:"adjustment_instruction,omitempty"`
	AdjustmentCount       int                   `json:"adjustment_count"`

	// Draft and safety outputs.
	Draft     *llm.Draft `json:"draft,omitempty"`
	RiskFlags []string   `json:"risk_flags,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`

	// Execution outputs.
	Proposal   *domain.Proposal        `json:"proposal,omitempty"`
	ExecResult *domain.ExecutionResult `json:"exec_result,omitempty"`

	// Append-only audit fields.
	Reasoning []string `json:"reasoning,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	NodeTrace []string `json:"node_trace,omitempty"`

	EndReason string `json:"end_reason,omitempty"`
}

// NodeResult is the discriminated outcome of one node: either continue to
// Next with the returned state, or suspend with an interrupt payload. A
// suspended node re-runs from its entry on resume, so everything it wrote
// before suspending must be idempotent.
type NodeResult struct {
	State     RunState
	Next      string
	Interrupt *domain.InterruptPayload
}

func goTo(st RunState, next string) NodeResult {
	return NodeResult{State: st, Next: next}
}

func suspend(st RunState, payload domain.InterruptPayload) NodeResult {
	p := payload
	return NodeResult{State: st, Next: NodeGateOrExecute, Interrupt: &p}
}

func (st *RunState) addReasoning(r string) {
	st.Reasoning = append(st.Reasoning, r)
}

func (st *RunState) addError(e string) {
	st.Errors = append(st.Errors, e)
}

// GateDecision summarizes the gate outcome for the decision trace.
func (st *RunState) GateDecision() string {
	switch {
	case st.Action == "" || st.Action == domain.ActionNone && st.Proposal == nil:
		return domain.GateNone
	case len(criticalFlags(st.RiskFlags)) > 0:
		return domain.GateBlocked
	case st.RequiresHuman:
		return domain.GateHuman
	case st.CanAutoExecute:
		return domain.GateAutoExecute
	}
	return domain.GateNone
}
