package engine

import (
	"fmt"
	"strings"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
)

// Router is the deterministic classifier-to-action map. It first prunes the
// action universe to an allowed set, then picks one action and decides
// whether it may execute without a human.
type Router struct {
	cfg config.EngineConfig
}

// NewRouter builds a router over the engine policy knobs.
func NewRouter(cfg config.EngineConfig) *Router {
	return &Router{cfg: cfg}
}

// RouteInput is everything the router is allowed to look at.
type RouteInput struct {
	Classification    domain.Classification
	DenialSubtype     domain.DenialSubtype
	KeyPoints         []string
	ExtractedFee      *float64
	Constraints       []string
	FollowupCount     int
	HasPortal         bool
	PortalAutomatable bool
	TriggerType       domain.TriggerType
	DismissalCounts   map[domain.ActionType]int
	AutopilotMode     domain.AutopilotMode
}

// RouteDecision is the router's verdict.
type RouteDecision struct {
	Action         domain.ActionType
	Allowed        []domain.ActionType
	CanAutoExecute bool
	RequiresHuman  bool
	PauseReason    domain.PauseReason
	Reasoning      []string
}

// Constraints that no amount of drafting can work around; a human has to
// establish eligibility.
var blockingConstraints = []string{
	domain.ConstraintCitizenship,
	domain.ConstraintResidency,
	domain.ConstraintALCitizenship,
}

// AllowedActions prunes the action universe for the given inputs. The rule
// order is part of the contract: the first matching row wins.
func (r *Router) AllowedActions(in RouteInput) []domain.ActionType {
	allowed := r.pruneByClassification(in)

	// Unconditional removals apply after the table.
	out := allowed[:0:0]
	for _, a := range allowed {
		if a == domain.ActionSendInitialRequest && in.TriggerType != domain.TriggerInitialRequest {
			continue
		}
		if a == domain.ActionSubmitPortal && !in.PortalAutomatable {
			continue
		}
		if in.DismissalCounts[a] >= 2 {
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		out = []domain.ActionType{domain.ActionEscalate}
	}
	return out
}

func (r *Router) pruneByClassification(in RouteInput) []domain.ActionType {
	switch in.Classification {
	case domain.ClassHostile, domain.ClassUnknown:
		return []domain.ActionType{domain.ActionEscalate}
	case domain.ClassWrongAgency:
		return []domain.ActionType{domain.ActionResearchAgency, domain.ActionEscalate}
	case domain.ClassPartialApproval:
		return []domain.ActionType{domain.ActionRespondPartialApprove, domain.ActionEscalate}
	case domain.ClassRecordsReady:
		return []domain.ActionType{domain.ActionNone, domain.ActionCloseCase}
	case domain.ClassAcknowledgment:
		return []domain.ActionType{domain.ActionNone}
	case domain.ClassPartialDelivery:
		return []domain.ActionType{domain.ActionNone, domain.ActionSendFollowup}
	}

	if in.FollowupCount >= r.cfg.MaxFollowups {
		return []domain.ActionType{domain.ActionEscalate}
	}
	for _, code := range blockingConstraints {
		for _, c := range in.Constraints {
			if strings.EqualFold(c, code) {
				return []domain.ActionType{domain.ActionEscalate}
			}
		}
	}

	switch in.Classification {
	case domain.ClassFeeQuote:
		return []domain.ActionType{
			domain.ActionAcceptFee, domain.ActionNegotiateFee, domain.ActionDeclineFee,
			domain.ActionSendFeeWaiverRequest, domain.ActionSendRebuttal,
			domain.ActionEscalate, domain.ActionNone,
		}
	case domain.ClassPortalRedirect:
		if in.PortalAutomatable {
			return []domain.ActionType{
				domain.ActionSubmitPortal, domain.ActionNone,
				domain.ActionEscalate, domain.ActionResearchAgency,
			}
		}
		return []domain.ActionType{
			domain.ActionNone, domain.ActionEscalate, domain.ActionResearchAgency,
		}
	}

	universe := make([]domain.ActionType, len(domain.AllActions))
	copy(universe, domain.AllActions)
	return universe
}

// Route prunes, selects, and gates.
func (r *Router) Route(in RouteInput) RouteDecision {
	d := RouteDecision{Allowed: r.AllowedActions(in)}

	d.Action, d.PauseReason = r.selectAction(in, &d)
	if !contains(d.Allowed, d.Action) {
		d.Reasoning = append(d.Reasoning,
			fmt.Sprintf("preferred action %s pruned, falling back to ESCALATE", d.Action))
		d.Action = domain.ActionEscalate
		d.PauseReason = ""
	}

	r.gate(in, &d)
	return d
}

func (r *Router) selectAction(in RouteInput, d *RouteDecision) (domain.ActionType, domain.PauseReason) {
	reason := func(format string, args ...any) {
		d.Reasoning = append(d.Reasoning, fmt.Sprintf(format, args...))
	}

	if len(d.Allowed) == 1 && d.Allowed[0] == domain.ActionEscalate {
		reason("pruning left only ESCALATE")
		return domain.ActionEscalate, ""
	}

	if in.TriggerType == domain.TriggerInitialRequest {
		reason("initial request trigger")
		return domain.ActionSendInitialRequest, ""
	}

	switch in.Classification {
	case domain.ClassFeeQuote:
		if in.ExtractedFee == nil {
			reason("fee quote without an extractable amount")
			return domain.ActionEscalate, domain.PauseFeeQuote
		}
		fee := *in.ExtractedFee
		switch {
		case fee <= r.cfg.FeeAutoApproveMax:
			reason("fee $%.2f within auto-approve threshold $%.2f", fee, r.cfg.FeeAutoApproveMax)
			return domain.ActionAcceptFee, domain.PauseFeeQuote
		case fee <= r.cfg.FeeModerateMax:
			reason("fee $%.2f within moderate threshold $%.2f, acceptance needs sign-off", fee, r.cfg.FeeModerateMax)
			return domain.ActionAcceptFee, domain.PauseFeeQuote
		default:
			reason("fee $%.2f above moderate threshold $%.2f", fee, r.cfg.FeeModerateMax)
			return domain.ActionNegotiateFee, domain.PauseFeeQuote
		}

	case domain.ClassDenial:
		return r.selectForDenial(in, reason)

	case domain.ClassClarificationRequest:
		reason("agency asked for clarification")
		return domain.ActionSendClarification, ""

	case domain.ClassNoResponse:
		reason("no response after %d follow-up(s)", in.FollowupCount)
		return domain.ActionSendFollowup, ""

	case domain.ClassWrongAgency:
		reason("wrong agency; research the right custodian")
		return domain.ActionResearchAgency, domain.PauseScope

	case domain.ClassPartialApproval:
		reason("partial approval; accept approved portion, contest the rest")
		return domain.ActionRespondPartialApprove, domain.PauseScope

	case domain.ClassRecordsReady:
		reason("records ready; close the case")
		return domain.ActionCloseCase, ""

	case domain.ClassAcknowledgment:
		reason("acknowledgment only, nothing to do")
		return domain.ActionNone, ""

	case domain.ClassPartialDelivery:
		reason("partial delivery; nudge for the remainder")
		return domain.ActionSendFollowup, ""

	case domain.ClassPortalRedirect:
		if in.PortalAutomatable {
			reason("agency redirects to an automatable portal")
			return domain.ActionSubmitPortal, ""
		}
		reason("agency redirects to a portal that needs manual submission")
		return domain.ActionEscalate, ""
	}

	if in.TriggerType == domain.TriggerScheduledFollowup {
		reason("scheduled trigger; follow up")
		return domain.ActionSendFollowup, ""
	}

	reason("no routable classification (%s)", in.Classification)
	return domain.ActionEscalate, ""
}

// Phrases in analysis key points that mark a denial as firmly grounded.
var strongDenialIndicators = []string{
	"ongoing investigation",
	"active investigation",
	"criminal proceeding",
	"grand jury",
	"sealed",
	"court order",
	"juvenile",
	"statutorily exempt",
}

func countStrongIndicators(keyPoints []string) int {
	n := 0
	for _, kp := range keyPoints {
		low := strings.ToLower(kp)
		for _, ind := range strongDenialIndicators {
			if strings.Contains(low, ind) {
				n++
				break
			}
		}
	}
	return n
}

func (r *Router) selectForDenial(in RouteInput, reason func(string, ...any)) (domain.ActionType, domain.PauseReason) {
	switch in.DenialSubtype {
	case domain.DenialOverlyBroad:
		reason("denial: overly broad; reformulate with a narrower scope")
		return domain.ActionReformulateRequest, domain.PauseScope
	case domain.DenialGlomarNCND:
		reason("denial: Glomar response; appeal")
		return domain.ActionSendAppeal, domain.PauseDenial
	case domain.DenialJuvenileRecords, domain.DenialSealedCourtOrder:
		reason("denial: %s is a strong legal bar; recommend closing", in.DenialSubtype)
		return domain.ActionCloseCase, domain.PauseCloseAction
	case domain.DenialOngoingInvestigation:
		if n := countStrongIndicators(in.KeyPoints); n >= 2 {
			reason("denial: ongoing investigation with %d strong indicators; recommend closing", n)
			return domain.ActionCloseCase, domain.PauseCloseAction
		}
		reason("denial: ongoing investigation claimed without strong indicators; rebut")
		return domain.ActionSendRebuttal, domain.PauseDenial
	default:
		reason("denial (%s); rebut", orUnspecified(string(in.DenialSubtype)))
		return domain.ActionSendRebuttal, domain.PauseDenial
	}
}

// Actions the engine may execute without a human when autopilot is AUTO.
// ACCEPT_FEE stays on the list only below the auto-approve threshold.
var autoExecutable = map[domain.ActionType]bool{
	domain.ActionNone:               true,
	domain.ActionSendInitialRequest: true,
	domain.ActionEscalate:           true,
	domain.ActionSendFollowup:       true,
	domain.ActionSendClarification:  true,
	domain.ActionAcceptFee:          true,
	domain.ActionSubmitPortal:       true,
}

func (r *Router) gate(in RouteInput, d *RouteDecision) {
	// Escalations and no-ops always run: executing them is itself the act
	// of handing the case to a human.
	if d.Action == domain.ActionEscalate || d.Action == domain.ActionNone {
		d.CanAutoExecute = true
		d.RequiresHuman = false
		d.PauseReason = ""
		return
	}

	// Closing on records-ready is bookkeeping, not correspondence.
	if d.Action == domain.ActionCloseCase && in.Classification == domain.ClassRecordsReady {
		d.CanAutoExecute = true
		d.RequiresHuman = false
		d.PauseReason = ""
		return
	}

	auto := in.AutopilotMode == domain.AutopilotAuto && autoExecutable[d.Action]
	if d.Action == domain.ActionAcceptFee {
		auto = auto && in.ExtractedFee != nil && *in.ExtractedFee <= r.cfg.FeeAutoApproveMax
	}

	d.CanAutoExecute = auto
	d.RequiresHuman = !auto
	if auto {
		d.PauseReason = ""
		return
	}
	if d.PauseReason == "" {
		d.PauseReason = defaultPauseReason(d.Action, in)
	}
}

func defaultPauseReason(action domain.ActionType, in RouteInput) domain.PauseReason {
	switch {
	case action == domain.ActionCloseCase:
		return domain.PauseCloseAction
	case in.Classification == domain.ClassFeeQuote:
		return domain.PauseFeeQuote
	case in.Classification == domain.ClassDenial:
		return domain.PauseDenial
	case hasConstraint(in.Constraints, domain.ConstraintIDRequired):
		return domain.PauseIDRequired
	default:
		return domain.PauseScope
	}
}

func hasConstraint(constraints []string, code string) bool {
	for _, c := range constraints {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func contains(set []domain.ActionType, a domain.ActionType) bool {
	for _, s := range set {
		if s == a {
			return true
		}
	}
	return false
}

func orUnspecified(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}
