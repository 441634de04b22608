package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/llm"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// loadContext fetches everything the rest of the graph reads. A missing case
// is fatal; a terminal case ends the run quietly.
func (g *Graph) loadContext(ctx context.Context, st RunState) NodeResult {
	c, err := g.store.GetCase(ctx, st.CaseID)
	if err != nil {
		st.addError(fmt.Sprintf("load case %d: %v", st.CaseID, err))
		return goTo(st, NodeEnd)
	}
	st.Case = c

	if c.IsTerminal() {
		st.addReasoning(fmt.Sprintf("case is %s, nothing to do", c.Status))
		st.EndReason = "case_terminal"
		return goTo(st, NodeEnd)
	}

	if st.TriggerMessageID != nil {
		m, err := g.store.GetMessage(ctx, *st.TriggerMessageID)
		if err != nil {
			st.addError(fmt.Sprintf("load trigger message %d: %v", *st.TriggerMessageID, err))
			return goTo(st, NodeEnd)
		}
		st.TriggerMessage = m
	}

	if fu, err := g.store.GetFollowUpSchedule(ctx, st.CaseID); err != nil {
		st.addError(fmt.Sprintf("load followup schedule: %v", err))
		return goTo(st, NodeEnd)
	} else {
		st.Followup = fu
	}

	if pending, err := g.store.LatestPendingProposal(ctx, st.CaseID); err != nil {
		st.addError(fmt.Sprintf("load pending proposal: %v", err))
		return goTo(st, NodeEnd)
	} else {
		st.PendingProposal = pending
	}

	counts, err := g.store.DismissalCounts(ctx, st.CaseID)
	if err != nil {
		st.addError(fmt.Sprintf("load dismissal counts: %v", err))
		return goTo(st, NodeEnd)
	}
	st.DismissalCounts = counts

	return goTo(st, NodeClassifyInbound)
}

// classifyInbound produces the ResponseAnalysis for the trigger. Scheduled
// runs synthesize NO_RESPONSE at full confidence without touching the model;
// inbound runs reuse a stored analysis when the message was seen before.
func (g *Graph) classifyInbound(ctx context.Context, st RunState) NodeResult {
	switch st.TriggerType {
	case domain.TriggerScheduledFollowup:
		st.Analysis = &domain.ResponseAnalysis{
			CaseID:         st.CaseID,
			Classification: domain.ClassNoResponse,
			Confidence:     1.0,
			Sentiment:      "neutral",
			RequiresAction: true,
		}
	case domain.TriggerInboundMessage:
		if st.TriggerMessage == nil {
			st.addError("inbound trigger without a message")
			return goTo(st, NodeEnd)
		}
		existing, err := g.store.AnalysisForMessage(ctx, st.TriggerMessage.ID)
		if err != nil {
			st.addError(fmt.Sprintf("load analysis: %v", err))
			return goTo(st, NodeEnd)
		}
		if existing != nil {
			st.Analysis = existing
		} else {
			a, err := g.llm.AnalyzeResponse(ctx, st.Case, st.TriggerMessage)
			if err != nil {
				st.addError(fmt.Sprintf("analyze message %d: %v", st.TriggerMessage.ID, err))
				return goTo(st, NodeEnd)
			}
			id, err := g.store.SaveAnalysis(ctx, a)
			if err != nil {
				st.addError(fmt.Sprintf("save analysis: %v", err))
				return goTo(st, NodeEnd)
			}
			a.ID = id
			st.Analysis = a
		}
	default:
		// Initial or manual triggers carry no inbound mail to classify.
		return goTo(st, NodeUpdateConstraints)
	}

	a := st.Analysis
	st.Classification = a.Classification
	st.DenialSubtype = a.DenialSubtype
	st.Confidence = a.Confidence
	st.Sentiment = a.Sentiment
	st.ExtractedFee = a.ExtractedFee
	st.ExtractedDeadline = a.ExtractedDeadline
	st.addReasoning(fmt.Sprintf("classified %s (confidence %.2f)", a.Classification, a.Confidence))

	return goTo(st, NodeUpdateConstraints)
}

// updateConstraints merges analysis findings into the case. Constraints are
// append-dedup; scope items merge by case-insensitive item key. Writes only
// when something actually changed.
func (g *Graph) updateConstraints(ctx context.Context, st RunState) NodeResult {
	a := st.Analysis
	if a == nil || (len(a.ConstraintsToAdd) == 0 && len(a.ScopeUpdates) == 0) {
		return goTo(st, NodeDecideNextAction)
	}

	constraints, cChanged := mergeConstraints(st.Case.Constraints, a.ConstraintsToAdd)
	scope, sChanged := mergeScopeItems(st.Case.ScopeItems, a.ScopeUpdates)
	if !cChanged && !sChanged {
		return goTo(st, NodeDecideNextAction)
	}

	if err := g.store.UpdateCaseConstraints(ctx, st.CaseID, constraints, scope); err != nil {
		st.addError(fmt.Sprintf("update constraints: %v", err))
		return goTo(st, NodeEnd)
	}
	st.Case.Constraints = constraints
	st.Case.ScopeItems = scope
	if cChanged {
		st.addReasoning(fmt.Sprintf("constraints now %s", strings.Join(constraints, ", ")))
	}

	return goTo(st, NodeDecideNextAction)
}

func mergeConstraints(existing, toAdd []string) ([]string, bool) {
	merged := make([]string, len(existing))
	copy(merged, existing)
	changed := false
	for _, add := range toAdd {
		add = strings.ToUpper(strings.TrimSpace(add))
		if add == "" {
			continue
		}
		found := false
		for _, have := range merged {
			if strings.EqualFold(have, add) {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, add)
			changed = true
		}
	}
	return merged, changed
}

func mergeScopeItems(existing []domain.ScopeItem, updates []domain.ScopeItem) ([]domain.ScopeItem, bool) {
	merged := make([]domain.ScopeItem, len(existing))
	copy(merged, existing)
	changed := false
	for _, u := range updates {
		if strings.TrimSpace(u.Item) == "" {
			continue
		}
		found := false
		for i := range merged {
			if strings.EqualFold(merged[i].Item, u.Item) {
				if merged[i].Status != u.Status || merged[i].Reason != u.Reason {
					merged[i].Status = u.Status
					merged[i].Reason = u.Reason
					changed = true
				}
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, u)
			changed = true
		}
	}
	return merged, changed
}

// decideNextAction runs the router, or consumes a pending human decision.
func (g *Graph) decideNextAction(ctx context.Context, st RunState) NodeResult {
	if st.HumanDecision != nil {
		return g.applyHumanDecision(ctx, st)
	}

	in := RouteInput{
		Classification:    st.Classification,
		DenialSubtype:     st.DenialSubtype,
		ExtractedFee:      st.ExtractedFee,
		Constraints:       st.Case.Constraints,
		HasPortal:         st.Case.HasPortal(),
		PortalAutomatable: st.Case.PortalAutomatable,
		TriggerType:       st.TriggerType,
		DismissalCounts:   st.DismissalCounts,
		AutopilotMode:     st.Case.AutopilotMode,
	}
	if st.Analysis != nil {
		in.KeyPoints = st.Analysis.KeyPoints
	}
	if st.Followup != nil {
		in.FollowupCount = st.Followup.FollowupCount
	}

	d := g.router.Route(in)
	st.Action = d.Action
	st.AllowedActions = d.Allowed
	st.CanAutoExecute = d.CanAutoExecute
	st.RequiresHuman = d.RequiresHuman
	st.PauseReason = d.PauseReason
	st.Reasoning = append(st.Reasoning, d.Reasoning...)

	switch {
	case st.Action == domain.ActionNone:
		st.EndReason = "no_action_needed"
		return goTo(st, NodeCommitState)

	case st.Action == domain.ActionCloseCase && st.Classification == domain.ClassRecordsReady:
		if err := g.store.CloseCase(ctx, st.CaseID, domain.CaseCompleted, "records_received"); err != nil {
			st.addError(fmt.Sprintf("close case: %v", err))
			return goTo(st, NodeEnd)
		}
		st.Case.Status = domain.CaseCompleted
		st.EndReason = "records_received"
		return goTo(st, NodeCommitState)

	case st.Action.NeedsDraft():
		return goTo(st, NodeDraftResponse)

	default:
		// ESCALATE, SUBMIT_PORTAL, RESEARCH_AGENCY, gated CLOSE_CASE:
		// no prose to draft, straight to the gate.
		return goTo(st, NodeGateOrExecute)
	}
}

// applyHumanDecision consumes the injected resume value against the pending
// proposal.
func (g *Graph) applyHumanDecision(ctx context.Context, st RunState) NodeResult {
	decision := *st.HumanDecision
	st.HumanDecision = nil

	p := st.Proposal
	if p == nil {
		p = st.PendingProposal
	}
	if p == nil {
		st.addError("human decision with no pending proposal")
		return goTo(st, NodeEnd)
	}
	st.Proposal = p
	st.Action = p.ActionType
	st.AdjustmentCount = p.AdjustmentCount

	if err := g.store.RecordHumanDecision(ctx, p.ID, decision.Action); err != nil {
		st.addError(fmt.Sprintf("record human decision: %v", err))
		return goTo(st, NodeEnd)
	}
	st.addReasoning(fmt.Sprintf("human decided %s on proposal %d", decision.Action, p.ID))

	switch decision.Action {
	case domain.DecisionApprove:
		if err := g.store.SetProposalStatus(ctx, p.ID, domain.ProposalApproved); err != nil {
			st.addError(fmt.Sprintf("approve proposal: %v", err))
			return goTo(st, NodeEnd)
		}
		st.CanAutoExecute = true
		st.RequiresHuman = false
		st.PauseReason = ""
		return goTo(st, NodeExecuteAction)

	case domain.DecisionAdjust:
		if err := g.store.SetProposalStatus(ctx, p.ID, domain.ProposalSuperseded); err != nil {
			st.addError(fmt.Sprintf("supersede proposal: %v", err))
			return goTo(st, NodeEnd)
		}
		st.AdjustmentInstruction = decision.Instruction
		st.AdjustmentCount++
		st.Proposal = nil
		st.Draft = nil
		st.RiskFlags = nil
		st.Warnings = nil
		return goTo(st, NodeDraftResponse)

	case domain.DecisionDismiss:
		if err := g.store.SetProposalStatus(ctx, p.ID, domain.ProposalDismissed); err != nil {
			st.addError(fmt.Sprintf("dismiss proposal: %v", err))
			return goTo(st, NodeEnd)
		}
		if st.DismissalCounts == nil {
			st.DismissalCounts = map[domain.ActionType]int{}
		}
		st.DismissalCounts[p.ActionType]++
		st.Proposal = nil
		st.PendingProposal = nil
		st.Draft = nil
		st.Action = ""
		st.RiskFlags = nil
		st.Warnings = nil
		// Re-evaluate with the dismissed action counted against itself.
		return goTo(st, NodeDecideNextAction)

	case domain.DecisionWithdraw:
		if err := g.store.SetProposalStatus(ctx, p.ID, domain.ProposalRejected); err != nil {
			st.addError(fmt.Sprintf("reject proposal: %v", err))
			return goTo(st, NodeEnd)
		}
		if err := g.store.CloseCase(ctx, st.CaseID, domain.CaseCancelled, "withdrawn_by_requester"); err != nil {
			st.addError(fmt.Sprintf("withdraw case: %v", err))
			return goTo(st, NodeEnd)
		}
		st.Case.Status = domain.CaseCancelled
		st.EndReason = "withdrawn"
		return goTo(st, NodeCommitState)
	}

	st.addError(fmt.Sprintf("unrecognized human decision %q", decision.Action))
	return goTo(st, NodeEnd)
}

// draftResponse asks the model for prose. Exempt scope items are passed as
// exclusions so the draft cannot re-request them.
func (g *Graph) draftResponse(ctx context.Context, st RunState) NodeResult {
	dc := llm.DraftContext{
		AdjustmentInstruction: st.AdjustmentInstruction,
		ScopeItems:            st.Case.ScopeItems,
		Analysis:              st.Analysis,
		TriggerMessage:        st.TriggerMessage,
	}
	for _, item := range st.Case.ScopeItems {
		if item.Status == domain.ScopeExempt {
			dc.ExcludeItems = append(dc.ExcludeItems, item.Item)
		}
	}

	draft, err := g.llm.GenerateDraft(ctx, st.Action, st.Case, dc)
	if err != nil {
		st.addError(fmt.Sprintf("draft %s: %v", st.Action, err))
		return goTo(st, NodeEnd)
	}
	st.Draft = draft

	return goTo(st, NodeSafetyCheck)
}

// safetyCheck validates the draft. Critical flags force the human gate.
func (g *Graph) safetyCheck(_ context.Context, st RunState) NodeResult {
	rep := CheckDraft(st.Action, st.Case, st.Draft)
	st.RiskFlags = rep.RiskFlags
	st.Warnings = rep.Warnings

	if rep.Critical() {
		st.CanAutoExecute = false
		st.RequiresHuman = true
		st.PauseReason = domain.PauseSensitive
		st.addReasoning(fmt.Sprintf("safety flags %s force the human gate",
			strings.Join(criticalFlags(rep.RiskFlags), ", ")))
	}

	return goTo(st, NodeGateOrExecute)
}

// gateOrExecute persists the proposal and either continues to execution or
// suspends for a human. Every write here is idempotent: the node re-runs
// from its entry when the run resumes.
func (g *Graph) gateOrExecute(ctx context.Context, st RunState) NodeResult {
	// Re-entry after resume: the injected decision drives the next step.
	if st.HumanDecision != nil {
		return goTo(st, NodeDecideNextAction)
	}

	status := domain.ProposalApproved
	if st.RequiresHuman {
		status = domain.ProposalPendingApproval
	}
	p := &domain.Proposal{
		CaseID:           st.CaseID,
		RunID:            &st.RunID,
		TriggerMessageID: st.TriggerMessageID,
		ActionType:       st.Action,
		Reasoning:        st.Reasoning,
		Confidence:       st.Confidence,
		RiskFlags:        st.RiskFlags,
		Warnings:         st.Warnings,
		CanAutoExecute:   st.CanAutoExecute,
		RequiresHuman:    st.RequiresHuman,
		Status:           status,
		ProposalKey:      domain.ProposalKey(st.CaseID, st.TriggerMessageID, st.Action, st.AdjustmentCount),
		AdjustmentCount:  st.AdjustmentCount,
		AdjustmentNote:   st.AdjustmentInstruction,
		PauseReason:      st.PauseReason,
	}
	if st.Draft != nil {
		p.DraftSubject = st.Draft.Subject
		p.DraftBodyText = st.Draft.BodyText
		p.DraftBodyHTML = st.Draft.BodyHTML
	}

	final, err := g.store.UpsertProposal(ctx, p)
	if err != nil {
		st.addError(fmt.Sprintf("upsert proposal: %v", err))
		return goTo(st, NodeEnd)
	}
	st.Proposal = final

	if final.Status == domain.ProposalExecuted {
		st.addReasoning(fmt.Sprintf("proposal %d already executed", final.ID))
		st.EndReason = "already_executed"
		return goTo(st, NodeCommitState)
	}

	if !st.RequiresHuman {
		return goTo(st, NodeExecuteAction)
	}

	if err := g.store.PauseCaseForHuman(ctx, st.CaseID, st.PauseReason); err != nil {
		st.addError(fmt.Sprintf("pause case: %v", err))
		return goTo(st, NodeEnd)
	}
	st.Case.Status = domain.CaseNeedsHumanReview
	st.Case.PauseReason = st.PauseReason

	summary := fmt.Sprintf("%s proposed on case %d", st.Action, st.CaseID)
	if st.Draft != nil && st.Draft.Subject != "" {
		summary = fmt.Sprintf("%s: %s", st.Action, st.Draft.Subject)
	}
	logger.Info("run paused for human", "case_id", st.CaseID, "proposal_id", final.ID,
		"action", st.Action, "pause_reason", st.PauseReason)

	return suspend(st, domain.NewHumanApprovalInterrupt(final.ID, final.ProposalKey, st.PauseReason, summary))
}

// executeAction hands the proposal to the executor.
func (g *Graph) executeAction(ctx context.Context, st RunState) NodeResult {
	if st.Proposal == nil {
		st.addError("execute without a proposal")
		return goTo(st, NodeEnd)
	}

	result, err := g.exec.Execute(ctx, st.Case, st.Proposal)
	if err != nil {
		st.addError(fmt.Sprintf("execute %s: %v", st.Proposal.ActionType, err))
		return goTo(st, NodeEnd)
	}
	st.ExecResult = result
	st.addReasoning(fmt.Sprintf("execution outcome %s", result.Outcome))

	if result.Executed() {
		switch st.Proposal.ActionType {
		case domain.ActionCloseCase:
			st.Case.Status = domain.CaseCompleted
		case domain.ActionEscalate:
			st.Case.Status = domain.CaseEscalated
		default:
			if st.Proposal.ActionType.IsSend() && result.Outcome == domain.OutcomeEmailEnqueued {
				st.Case.Status = domain.CaseAwaitingResponse
			}
		}
	}

	return goTo(st, NodeCommitState)
}

// Days an agency has to respond, by jurisdiction code. The fallback covers
// jurisdictions without a statutory clock worth modeling.
var statutoryDeadlineDays = map[string]int{
	"US-FED": 20,
	"CA":     10,
	"NY":     5,
	"IL":     5,
	"TX":     10,
	"FL":     10,
	"WA":     5,
	"AL":     10,
}

const defaultDeadlineDays = 10

func deadlineDays(jurisdiction string) int {
	if d, ok := statutoryDeadlineDays[strings.ToUpper(strings.TrimSpace(jurisdiction))]; ok {
		return d
	}
	return defaultDeadlineDays
}

// commitState recomputes next_due_at, marks the trigger message processed,
// and records the decision trace.
func (g *Graph) commitState(ctx context.Context, st RunState) NodeResult {
	if st.Case != nil && !st.Case.IsTerminal() {
		due := g.now().AddDate(0, 0, deadlineDays(st.Case.Jurisdiction))
		if st.Followup != nil && st.Followup.NextFollowup != nil && st.Followup.NextFollowup.After(g.now()) {
			due = *st.Followup.NextFollowup
		}
		if st.ExtractedDeadline != nil && st.ExtractedDeadline.After(g.now()) {
			due = *st.ExtractedDeadline
		}
		if err := g.store.SetCaseNextDue(ctx, st.CaseID, due); err != nil {
			st.addError(fmt.Sprintf("set next due: %v", err))
		}
	}

	if st.TriggerMessageID != nil {
		if err := g.store.MarkMessageProcessed(ctx, *st.TriggerMessageID, st.RunID); err != nil {
			st.addError(fmt.Sprintf("mark message processed: %v", err))
		}
	}

	trace := &domain.DecisionTrace{
		RunID:          st.RunID,
		CaseID:         st.CaseID,
		Classification: st.Classification,
		ActionType:     st.Action,
		AllowedActions: st.AllowedActions,
		GateDecision:   st.GateDecision(),
		NodeTrace:      st.NodeTrace,
		Reasoning:      st.Reasoning,
	}
	if err := g.store.InsertDecisionTrace(ctx, trace); err != nil {
		st.addError(fmt.Sprintf("insert decision trace: %v", err))
	}

	return goTo(st, NodeEnd)
}

// now is indirected for tests.
func (g *Graph) now() time.Time {
	if g.clock != nil {
		return g.clock()
	}
	return time.Now().UTC()
}
