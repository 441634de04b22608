package domain

import (
	"strings"
	"time"
)

// CaseStatus enumerates the lifecycle states of a records request.
type CaseStatus string

const (
	CaseReadyToSend      CaseStatus = "ready_to_send"
	CaseSent             CaseStatus = "sent"
	CaseAwaitingResponse CaseStatus = "awaiting_response"
	CaseNeedsHumanReview CaseStatus = "needs_human_review"
	CasePortalInProgress CaseStatus = "portal_in_progress"
	CaseCompleted        CaseStatus = "completed"
	CaseCancelled        CaseStatus = "cancelled"
	CaseEscalated        CaseStatus = "escalated"
)

// AutopilotMode controls how much a case may do without a human.
type AutopilotMode string

const (
	AutopilotAuto       AutopilotMode = "AUTO"
	AutopilotSupervised AutopilotMode = "SUPERVISED"
	AutopilotManual     AutopilotMode = "MANUAL"
)

// PauseReason is the user-facing category of why a run is awaiting a human.
type PauseReason string

const (
	PauseFeeQuote    PauseReason = "FEE_QUOTE"
	PauseScope       PauseReason = "SCOPE"
	PauseDenial      PauseReason = "DENIAL"
	PauseIDRequired  PauseReason = "ID_REQUIRED"
	PauseSensitive   PauseReason = "SENSITIVE"
	PauseCloseAction PauseReason = "CLOSE_ACTION"
)

// Well-known constraint codes. Constraints are an open set; these are the
// ones the router and safety checks branch on.
const (
	ConstraintBWCExempt         = "BWC_EXEMPT"
	ConstraintFeeAccepted       = "FEE_ACCEPTED"
	ConstraintCitizenship       = "CITIZENSHIP_REQUIRED"
	ConstraintResidency         = "RESIDENCY_REQUIRED"
	ConstraintALCitizenship     = "AL_CITIZENSHIP_REQUIRED"
	ConstraintIDRequired        = "ID_REQUIRED"
	ConstraintNotarizedRequired = "NOTARIZED_REQUIRED"
)

// ScopeItemStatus tracks the disposition of one requested record kind.
type ScopeItemStatus string

const (
	ScopePending   ScopeItemStatus = "PENDING"
	ScopeExempt    ScopeItemStatus = "EXEMPT"
	ScopeDenied    ScopeItemStatus = "DENIED"
	ScopeDelivered ScopeItemStatus = "DELIVERED"
	ScopePartial   ScopeItemStatus = "PARTIAL"
)

// ScopeItem is one requested record kind with its current disposition.
type ScopeItem struct {
	Item   string          `json:"item"`
	Status ScopeItemStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// Case is a single records request against a single agency.
type Case struct {
	ID                int64         `json:"id" db:"id"`
	Subject           string        `json:"subject" db:"subject"`
	AgencyName        string        `json:"agency_name" db:"agency_name"`
	AgencyEmail       string        `json:"agency_email" db:"agency_email"`
	PortalURL         string        `json:"portal_url" db:"portal_url"`
	PortalProvider    string        `json:"portal_provider" db:"portal_provider"`
	PortalAutomatable bool          `json:"portal_automatable" db:"portal_automatable"`
	Jurisdiction      string        `json:"jurisdiction" db:"jurisdiction"`
	Status            CaseStatus    `json:"status" db:"status"`
	Substatus         string        `json:"substatus" db:"substatus"`
	PauseReason       PauseReason   `json:"pause_reason" db:"pause_reason"`
	Constraints       []string      `json:"constraints" db:"constraints"`
	ScopeItems        []ScopeItem   `json:"scope_items" db:"scope_items"`
	AutopilotMode     AutopilotMode `json:"autopilot_mode" db:"autopilot_mode"`
	RequesterName     string        `json:"requester_name" db:"requester_name"`
	RequesterEmail    string        `json:"requester_email" db:"requester_email"`
	NextDueAt         *time.Time    `json:"next_due_at" db:"next_due_at"`
	LastPortalTaskID  *int64        `json:"last_portal_task_id" db:"last_portal_task_id"`
	LastPortalAt      *time.Time    `json:"last_portal_submitted_at" db:"last_portal_submitted_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the case is in a final state.
func (c *Case) IsTerminal() bool {
	return c.Status == CaseCompleted || c.Status == CaseCancelled
}

// HasPortal returns true if the agency accepts submissions through a portal.
// Email proposals must never be executed against a portal case.
func (c *Case) HasPortal() bool {
	return strings.TrimSpace(c.PortalURL) != ""
}

// HasConstraint reports whether the given constraint code is present.
func (c *Case) HasConstraint(code string) bool {
	for _, cc := range c.Constraints {
		if strings.EqualFold(cc, code) {
			return true
		}
	}
	return false
}

// ScopeItemByName finds a scope item by its case-insensitive item key.
func (c *Case) ScopeItemByName(item string) (ScopeItem, bool) {
	for _, s := range c.ScopeItems {
		if strings.EqualFold(s.Item, item) {
			return s, true
		}
	}
	return ScopeItem{}, false
}
