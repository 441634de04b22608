package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/pkg/httputil"
	"github.com/openfoia/case-engine/internal/pkg/logger"
	"github.com/openfoia/case-engine/internal/store"
)

// snapshotCacheTTL bounds how stale the snapshot endpoint may be. The
// checkpoint row is the source of truth; the cache only absorbs dashboard
// polling.
const snapshotCacheTTL = 30 * time.Second

// GetRun returns one agent run with its final status and any error.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid run id")
		return
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			httputil.NotFound(w, "run not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, run)
}

// LatestCaseRun returns the most recent run for a case, or 404 if the case
// has never run.
func (h *Handlers) LatestCaseRun(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid case id")
		return
	}
	run, err := h.store.LatestRun(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if run == nil {
		httputil.NotFound(w, "case has no runs")
		return
	}
	httputil.OK(w, run)
}

// CaseSnapshot returns the case's current checkpoint: the saved graph state
// plus the pending interrupt, if the run is waiting on a human.
func (h *Handlers) CaseSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		httputil.BadRequest(w, "invalid case id")
		return
	}
	threadID := checkpoint.ThreadID(id)

	if cached := h.cachedSnapshot(r.Context(), threadID); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}

	cp, err := h.ckpt.Load(r.Context(), threadID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if cp == nil {
		httputil.NotFound(w, "case has no checkpoint")
		return
	}

	body, err := json.Marshal(cp)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	h.cacheSnapshot(r.Context(), threadID, body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *Handlers) cachedSnapshot(ctx context.Context, threadID string) []byte {
	if h.cache == nil {
		return nil
	}
	body, err := h.cache.Get(ctx, "snapshot:"+threadID).Bytes()
	if err != nil {
		return nil
	}
	return body
}

func (h *Handlers) cacheSnapshot(ctx context.Context, threadID string, body []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, "snapshot:"+threadID, body, snapshotCacheTTL).Err(); err != nil {
		logger.Warn("snapshot cache write failed", "thread_id", threadID, "error", err.Error())
	}
}
