package api

import (
	"errors"
	"net/http"

	"github.com/openfoia/case-engine/internal/auth"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/httputil"
	"github.com/openfoia/case-engine/internal/pkg/logger"
	"github.com/openfoia/case-engine/internal/store"
)

type decisionRequest struct {
	Action      string `json:"action"`
	Instruction string `json:"instruction"`
}

// DecideProposal records a reviewer's verdict on a pending proposal and
// enqueues the resume job. Submitting the same decision twice yields the same
// job ID, so double-clicks collapse in the queue.
func (h *Handlers) DecideProposal(am *auth.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proposalID, ok := urlID(r)
		if !ok {
			httputil.BadRequest(w, "invalid proposal id")
			return
		}
		var req decisionRequest
		if !httputil.Decode(w, r, &req) {
			return
		}

		decision := domain.HumanDecision{
			Action:      domain.HumanDecisionAction(req.Action),
			Instruction: req.Instruction,
		}
		if s := am.SessionFor(r); s != nil {
			decision.DecidedBy = s.Email
		}
		if !decision.Valid() {
			httputil.BadRequest(w, "invalid decision: action must be APPROVE, ADJUST, DISMISS, or WITHDRAW, and ADJUST requires an instruction")
			return
		}

		p, err := h.store.GetProposal(r.Context(), proposalID)
		if err != nil {
			if errors.Is(err, store.ErrProposalNotFound) {
				httputil.NotFound(w, "proposal not found")
				return
			}
			httputil.InternalError(w, err)
			return
		}
		if p.Status != domain.ProposalPendingApproval {
			httputil.Error(w, http.StatusConflict, "proposal is "+string(p.Status)+", not awaiting a decision")
			return
		}

		inserted, err := h.jobs.EnqueueResume(r.Context(), p.CaseID, proposalID, decision)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}

		logger.Info("decision accepted",
			"case_id", p.CaseID, "proposal_id", proposalID,
			"action", req.Action, "by", logger.RedactEmail(decision.DecidedBy))

		httputil.JSON(w, http.StatusAccepted, map[string]any{
			"case_id":     p.CaseID,
			"proposal_id": proposalID,
			"job_id":      domain.ResumeJobID(p.CaseID, proposalID, decision.Action),
			"queued":      inserted,
		})
	}
}
