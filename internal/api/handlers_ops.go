package api

import (
	"net/http"
	"time"

	"github.com/openfoia/case-engine/internal/auth"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/httputil"
)

// workerActiveWindow is how recent a heartbeat must be for a worker to count
// as alive. Twice the heartbeat interval plus slack.
const workerActiveWindow = 90 * time.Second

// ListEscalations returns unacknowledged escalations, newest first.
func (h *Handlers) ListEscalations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	escalations, err := h.store.ListOpenEscalations(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"escalations": escalations, "count": len(escalations)})
}

// AcknowledgeEscalation marks one escalation as seen.
func (h *Handlers) AcknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid escalation id")
		return
	}
	if err := h.store.AcknowledgeEscalation(r.Context(), id); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ListPortalTasks returns manual-submission work items, pending by default.
func (h *Handlers) ListPortalTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.PortalTaskStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PortalPending
	}
	limit := queryInt(r, "limit", 50)

	tasks, err := h.store.ListPortalTasks(r.Context(), status, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// ClaimPortalTask assigns a pending task to the current reviewer. Claiming
// an already-claimed task returns 409.
func (h *Handlers) ClaimPortalTask(am *auth.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(r)
		if !ok {
			httputil.BadRequest(w, "invalid task id")
			return
		}
		claimedBy := "api"
		if s := am.SessionFor(r); s != nil {
			claimedBy = s.Email
		}

		claimed, err := h.store.ClaimPortalTask(r.Context(), id, claimedBy)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		if !claimed {
			httputil.Error(w, http.StatusConflict, "task is not pending")
			return
		}
		httputil.OK(w, map[string]any{"task_id": id, "claimed_by": claimedBy})
	}
}

type completePortalTaskRequest struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

// CompletePortalTask records the outcome of a manual portal submission and,
// on success, stamps the case as submitted.
func (h *Handlers) CompletePortalTask(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid task id")
		return
	}
	var req completePortalTaskRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	status := domain.PortalTaskStatus(req.Status)
	if status != domain.PortalDone && status != domain.PortalFailed {
		httputil.BadRequest(w, "status must be DONE or FAILED")
		return
	}

	if err := h.store.CompletePortalTask(r.Context(), id, status, req.Result); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"task_id": id, "status": string(status)})
}

// ListWorkers reports queue and mail workers with a recent heartbeat.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.ListActiveWorkers(r.Context(), workerActiveWindow)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"workers": workers, "count": len(workers)})
}
