// Package api is the HTTP surface of the case engine: case intake, the
// reviewer decision endpoints, run inspection, the inbound-mail webhook,
// and the operational queues (portal tasks, escalations, workers).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openfoia/case-engine/internal/auth"
	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/queue"
	"github.com/openfoia/case-engine/internal/store"
)

// Archiver stores raw webhook payloads out of band. May be nil.
type Archiver interface {
	Archive(ctx context.Context, key string, payload []byte) error
}

// Server wraps the router and the http.Server lifecycle.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer wires handlers and routes. redisClient and archiver may be nil;
// the snapshot cache and payload archival then degrade to no-ops.
func NewServer(
	cfg *config.Config,
	st *store.Store,
	ckpt *checkpoint.Checkpointer,
	jobs *queue.Client,
	authManager *auth.Manager,
	redisClient *redis.Client,
	archiver Archiver,
) *Server {
	h := &Handlers{
		store:        st,
		ckpt:         ckpt,
		jobs:         jobs,
		cache:        redisClient,
		archiver:     archiver,
		webhookToken: cfg.Webhook.Token,
	}
	return &Server{
		cfg:     cfg.Server,
		handler: SetupRoutes(h, authManager),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
