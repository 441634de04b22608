package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/pkg/httputil"
	"github.com/openfoia/case-engine/internal/queue"
	"github.com/openfoia/case-engine/internal/store"
)

// Handlers carries the shared dependencies of every endpoint.
type Handlers struct {
	store        *store.Store
	ckpt         *checkpoint.Checkpointer
	jobs         *queue.Client
	cache        *redis.Client
	archiver     Archiver
	webhookToken string
}

// Health reports liveness plus queue depth, which is the first thing worth
// looking at when the system misbehaves.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.store.DB().PingContext(ctx); err != nil {
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	resp := map[string]any{"status": "ok"}
	if counts, err := h.store.CountJobsByStatus(ctx); err == nil {
		resp["jobs"] = counts
	}
	if counts, err := h.store.CountEmailJobsByStatus(ctx); err == nil {
		resp["email_jobs"] = counts
	}
	httputil.OK(w, resp)
}

// urlID parses the {id} route parameter.
func urlID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
