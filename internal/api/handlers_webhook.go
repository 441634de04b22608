package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/httputil"
	"github.com/openfoia/case-engine/internal/pkg/logger"
	"github.com/openfoia/case-engine/internal/store"
)

// inboundEmailPayload is what the mail provider posts for each received
// message. Threading headers are how we attribute mail to a case; the sender
// address is the fallback.
type inboundEmailPayload struct {
	ProviderMessageID string   `json:"provider_message_id"`
	MessageID         string   `json:"message_id"`
	From              string   `json:"from"`
	To                string   `json:"to"`
	Subject           string   `json:"subject"`
	BodyText          string   `json:"body_text"`
	BodyHTML          string   `json:"body_html"`
	InReplyTo         string   `json:"in_reply_to"`
	References        []string `json:"references"`
	ReceivedAt        string   `json:"received_at"`
}

// InboundEmailWebhook ingests one inbound message: resolve the case from the
// threading headers, persist the message, and enqueue a run. Provider
// redelivery is absorbed twice over: the message insert dedups on the
// provider message ID and the job ID is derived from the message row.
func (h *Handlers) InboundEmailWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.webhookAuthorized(r) {
		httputil.Error(w, http.StatusUnauthorized, "invalid webhook token")
		return
	}

	var payload inboundEmailPayload
	if !httputil.Decode(w, r, &payload) {
		return
	}
	if payload.From == "" {
		httputil.BadRequest(w, "from is required")
		return
	}

	threadIDs := make([]string, 0, len(payload.References)+1)
	if payload.InReplyTo != "" {
		threadIDs = append(threadIDs, payload.InReplyTo)
	}
	threadIDs = append(threadIDs, payload.References...)

	caseID, err := h.store.ResolveInboundCase(r.Context(), payload.From, threadIDs)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotFound) {
			// Unattributable mail is accepted and dropped; a 4xx would make
			// the provider retry forever.
			logger.Warn("inbound mail matched no case",
				"from", logger.RedactEmail(payload.From), "subject", payload.Subject)
			httputil.OK(w, map[string]any{"case_id": 0, "queued": false})
			return
		}
		httputil.InternalError(w, err)
		return
	}

	now := time.Now()
	received := now
	if payload.ReceivedAt != "" {
		if t, parseErr := time.Parse(time.RFC3339, payload.ReceivedAt); parseErr == nil {
			received = t
		}
	}

	msg := &domain.Message{
		CaseID:            caseID,
		Direction:         domain.DirectionInbound,
		ProviderMessageID: payload.ProviderMessageID,
		RFC2822ID:         payload.MessageID,
		Subject:           payload.Subject,
		BodyText:          payload.BodyText,
		BodyHTML:          payload.BodyHTML,
		FromEmail:         payload.From,
		ToEmail:           payload.To,
		ReceivedAt:        &received,
	}
	messageID, created, err := h.store.CreateInboundMessage(r.Context(), msg)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !created {
		logger.Info("duplicate inbound message", "case_id", caseID, "message_id", messageID)
	}

	queued, err := h.jobs.EnqueueInbound(r.Context(), caseID, messageID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	h.archivePayload(caseID, messageID, &payload)

	logger.Info("inbound message accepted",
		"case_id", caseID, "message_id", messageID,
		"from", logger.RedactEmail(payload.From), "queued", queued)

	httputil.OK(w, map[string]any{
		"case_id":    caseID,
		"message_id": messageID,
		"queued":     queued,
	})
}

func (h *Handlers) webhookAuthorized(r *http.Request) bool {
	if h.webhookToken == "" {
		return true
	}
	token := r.Header.Get("X-Webhook-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return token == h.webhookToken
}

// archivePayload writes the raw provider payload to cold storage off the
// request path. Archive failures never affect ingestion.
func (h *Handlers) archivePayload(caseID, messageID int64, payload *inboundEmailPayload) {
	if h.archiver == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	key := fmt.Sprintf("inbound/%d/%d.json", caseID, messageID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.archiver.Archive(ctx, key, body); err != nil {
			logger.Error("webhook payload archive failed", "key", key, "error", err.Error())
		}
	}()
}
