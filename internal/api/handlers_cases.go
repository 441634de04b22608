package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/openfoia/case-engine/internal/auth"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/httputil"
	"github.com/openfoia/case-engine/internal/pkg/logger"
	"github.com/openfoia/case-engine/internal/store"
)

// createCaseRequest is the intake payload. Exactly one of agency_email or
// portal_url must be set; the executor routes on which one it is.
type createCaseRequest struct {
	Subject           string   `json:"subject"`
	AgencyName        string   `json:"agency_name"`
	AgencyEmail       string   `json:"agency_email"`
	PortalURL         string   `json:"portal_url"`
	PortalProvider    string   `json:"portal_provider"`
	PortalAutomatable bool     `json:"portal_automatable"`
	Jurisdiction      string   `json:"jurisdiction"`
	ScopeItems        []string `json:"scope_items"`
	AutopilotMode     string   `json:"autopilot_mode"`
	RequesterName     string   `json:"requester_name"`
	RequesterEmail    string   `json:"requester_email"`
}

// CreateCase opens a new records request. The scheduler picks it up on its
// next scan and enqueues the initial dispatch run.
func (h *Handlers) CreateCase(am *auth.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCaseRequest
		if !httputil.Decode(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Subject) == "" {
			httputil.BadRequest(w, "subject is required")
			return
		}
		if strings.TrimSpace(req.AgencyName) == "" {
			httputil.BadRequest(w, "agency_name is required")
			return
		}
		if strings.TrimSpace(req.AgencyEmail) == "" && strings.TrimSpace(req.PortalURL) == "" {
			httputil.BadRequest(w, "one of agency_email or portal_url is required")
			return
		}

		c := &domain.Case{
			Subject:           strings.TrimSpace(req.Subject),
			AgencyName:        strings.TrimSpace(req.AgencyName),
			AgencyEmail:       strings.TrimSpace(req.AgencyEmail),
			PortalURL:         strings.TrimSpace(req.PortalURL),
			PortalProvider:    req.PortalProvider,
			PortalAutomatable: req.PortalAutomatable,
			Jurisdiction:      req.Jurisdiction,
			AutopilotMode:     domain.AutopilotMode(req.AutopilotMode),
			RequesterName:     req.RequesterName,
			RequesterEmail:    req.RequesterEmail,
		}
		for _, item := range req.ScopeItems {
			if strings.TrimSpace(item) == "" {
				continue
			}
			c.ScopeItems = append(c.ScopeItems, domain.ScopeItem{Item: item, Status: domain.ScopePending})
		}

		id, err := h.store.CreateCase(r.Context(), c)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}

		actor := "api"
		if s := am.SessionFor(r); s != nil {
			actor = s.Email
		}
		logger.Info("case created", "case_id", id, "agency", c.AgencyName, "by", logger.RedactEmail(actor))

		created, err := h.store.GetCase(r.Context(), id)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.Created(w, created)
	}
}

// ListCases returns cases, optionally filtered by status.
func (h *Handlers) ListCases(w http.ResponseWriter, r *http.Request) {
	status := domain.CaseStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	cases, err := h.store.ListCases(r.Context(), status, limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"cases": cases, "count": len(cases)})
}

// GetCase returns one case.
func (h *Handlers) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid case id")
		return
	}
	c, err := h.store.GetCase(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotFound) {
			httputil.NotFound(w, "case not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c)
}

// ListCaseMessages returns the full correspondence thread for a case.
func (h *Handlers) ListCaseMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid case id")
		return
	}
	msgs, err := h.store.ListCaseMessages(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"messages": msgs, "count": len(msgs)})
}

// TriggerCaseRun enqueues a manual-review run for the case. The response is
// 202: the run happens on a queue worker, not in this request.
func (h *Handlers) TriggerCaseRun(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid case id")
		return
	}
	c, err := h.store.GetCase(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotFound) {
			httputil.NotFound(w, "case not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	if c.IsTerminal() {
		httputil.Error(w, http.StatusConflict, "case is "+string(c.Status))
		return
	}

	inserted, err := h.jobs.EnqueueScheduled(r.Context(), id, domain.TriggerManualReview)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]any{
		"case_id": id,
		"queued":  inserted,
	})
}
