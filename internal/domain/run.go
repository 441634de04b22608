package domain

import "time"

// TriggerType identifies what started a run.
type TriggerType string

const (
	TriggerInitialRequest    TriggerType = "INITIAL_REQUEST"
	TriggerInboundMessage    TriggerType = "INBOUND_MESSAGE"
	TriggerScheduledFollowup TriggerType = "SCHEDULED_FOLLOWUP"
	TriggerHumanResume       TriggerType = "HUMAN_RESUME"
	TriggerManualReview      TriggerType = "MANUAL_REVIEW"
)

// RunStatus enumerates the lifecycle of one graph invocation.
type RunStatus string

const (
	RunCreated             RunStatus = "created"
	RunQueued              RunStatus = "queued"
	RunRunning             RunStatus = "running"
	RunPausedAwaitingHuman RunStatus = "paused_awaiting_human"
	RunCompleted           RunStatus = "completed"
	RunFailed              RunStatus = "failed"
	RunSkippedLocked       RunStatus = "skipped_locked"
)

// Active reports whether the run still owns its case. At most one run per
// case is in an active status at a time.
func (s RunStatus) Active() bool {
	switch s {
	case RunCreated, RunQueued, RunRunning, RunPausedAwaitingHuman:
		return true
	}
	return false
}

// AgentRun is one invocation of the graph for a case, potentially spanning
// multiple wall-clock events via suspension.
type AgentRun struct {
	ID               int64             `json:"id" db:"id"`
	CaseID           int64             `json:"case_id" db:"case_id"`
	TriggerType      TriggerType       `json:"trigger_type" db:"trigger_type"`
	TriggerMessageID *int64            `json:"trigger_message_id" db:"trigger_message_id"`
	Status           RunStatus         `json:"status" db:"status"`
	CurrentNode      string            `json:"current_node" db:"current_node"`
	IterationCount   int               `json:"iteration_count" db:"iteration_count"`
	ProposalID       *int64            `json:"proposal_id" db:"proposal_id"`
	Error            string            `json:"error" db:"error"`
	Metadata         map[string]string `json:"metadata" db:"metadata"`
	StartedAt        time.Time         `json:"started_at" db:"started_at"`
	EndedAt          *time.Time        `json:"ended_at" db:"ended_at"`
}

// DecisionTrace is the per-run audit row: what was classified, what the
// router allowed and picked, how the gate fell, and node timings.
type DecisionTrace struct {
	ID             int64            `json:"id" db:"id"`
	RunID          int64            `json:"run_id" db:"run_id"`
	CaseID         int64            `json:"case_id" db:"case_id"`
	Classification Classification   `json:"classification" db:"classification"`
	ActionType     ActionType       `json:"action_type" db:"action_type"`
	AllowedActions []ActionType     `json:"allowed_actions" db:"allowed_actions"`
	GateDecision   string           `json:"gate_decision" db:"gate_decision"`
	NodeTrace      []string         `json:"node_trace" db:"node_trace"`
	Reasoning      []string         `json:"reasoning" db:"reasoning"`
	TimingsMS      map[string]int64 `json:"timings_ms" db:"timings_ms"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// Gate decisions recorded in the trace.
const (
	GateAutoExecute = "auto_execute"
	GateHuman       = "human_gate"
	GateBlocked     = "blocked"
	GateNone        = "none"
)
