// Package mailer owns outbound delivery: the durable email queue the
// executor writes into, the worker that drains it on schedule, and the SES
// sender behind it. Nothing here decides what to send; it only delivers
// what a proposal already committed to.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfoia/case-engine/internal/domain"
)

// Sender delivers one email through a provider. rfc2822ID is the Message-ID
// the caller pre-generated so the outbound record and the wire message agree.
type Sender interface {
	Send(ctx context.Context, job *domain.EmailJob, rfc2822ID string) (providerMessageID string, err error)
}

// QueueStore is the store slice the enqueue path needs.
type QueueStore interface {
	EnqueueEmail(ctx context.Context, j *domain.EmailJob) (bool, error)
}

// Queue adapts the store's email table to the executor's queue interface.
type Queue struct {
	store QueueStore
}

// NewQueue wraps a store.
func NewQueue(store QueueStore) *Queue {
	return &Queue{store: store}
}

// Enqueue validates and persists an outbound email job. Duplicate IDs are
// no-ops; the bool reports whether this call inserted the row.
func (q *Queue) Enqueue(ctx context.Context, job *domain.EmailJob) (bool, error) {
	if job.ID == "" {
		return false, fmt.Errorf("email job missing id")
	}
	if job.ToEmail == "" {
		return false, fmt.Errorf("email job %s missing recipient", job.ID)
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now().UTC()
	}
	return q.store.EnqueueEmail(ctx, job)
}

// NewRFC2822ID generates a Message-ID header value scoped to the sender's
// domain, per RFC 5322 conventions.
func NewRFC2822ID(fromEmail string) string {
	host := "case-engine.local"
	if at := strings.LastIndex(fromEmail, "@"); at >= 0 && at+1 < len(fromEmail) {
		host = fromEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}
