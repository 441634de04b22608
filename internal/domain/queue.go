package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobClass enumerates the three kinds of work the queue carries.
type JobClass string

const (
	JobRunOnInbound    JobClass = "run_on_inbound"
	JobRunOnSchedule   JobClass = "run_on_schedule"
	JobResumeFromHuman JobClass = "resume_from_human"
)

// JobStatus enumerates the lifecycle of a queued job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobClaimed    JobStatus = "claimed"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// Job is one unit of queue work targeting a single case. The ID is
// deterministic per logical event, which is what makes retried enqueues
// idempotent.
type Job struct {
	ID          string          `json:"id" db:"id"`
	JobClass    JobClass        `json:"job_class" db:"job_class"`
	CaseID      int64           `json:"case_id" db:"case_id"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Status      JobStatus       `json:"status" db:"status"`
	Attempts    int             `json:"attempts" db:"attempts"`
	MaxAttempts int             `json:"max_attempts" db:"max_attempts"`
	LastError   string          `json:"last_error" db:"last_error"`
	WorkerID    string          `json:"worker_id" db:"worker_id"`
	ScheduledAt time.Time       `json:"scheduled_at" db:"scheduled_at"`
	ClaimedAt   *time.Time      `json:"claimed_at" db:"claimed_at"`
	FinishedAt  *time.Time      `json:"finished_at" db:"finished_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// InboundJobID derives the dedup identity for a run_on_inbound job. Two
// webhook deliveries of the same message collapse to one job.
func InboundJobID(caseID, messageID int64) string {
	return fmt.Sprintf("inbound:%d:%d", caseID, messageID)
}

// ScheduleJobID derives the dedup identity for a run_on_schedule job. One
// case gets at most one scheduled run per day.
func ScheduleJobID(caseID int64, day time.Time) string {
	return fmt.Sprintf("schedule:%d:%s", caseID, day.UTC().Format("2006-01-02"))
}

// ResumeJobID derives the dedup identity for a resume_from_human job. A
// double-clicked approval collapses to one job per proposal and decision.
func ResumeJobID(caseID, proposalID int64, action HumanDecisionAction) string {
	return fmt.Sprintf("resume:%d:%d:%s", caseID, proposalID, action)
}

// InboundJobPayload is the payload of a run_on_inbound job.
type InboundJobPayload struct {
	CaseID    int64 `json:"case_id"`
	MessageID int64 `json:"message_id"`
}

// ScheduleJobPayload is the payload of a run_on_schedule job.
type ScheduleJobPayload struct {
	CaseID      int64       `json:"case_id"`
	TriggerType TriggerType `json:"trigger_type"`
}

// ResumeJobPayload is the payload of a resume_from_human job.
type ResumeJobPayload struct {
	CaseID     int64         `json:"case_id"`
	ProposalID int64         `json:"proposal_id"`
	Decision   HumanDecision `json:"decision"`
}

// EmailJobStatus enumerates the outbound email queue lifecycle.
type EmailJobStatus string

const (
	EmailQueued     EmailJobStatus = "queued"
	EmailClaimed    EmailJobStatus = "claimed"
	EmailSent       EmailJobStatus = "sent"
	EmailFailed     EmailJobStatus = "failed"
	EmailDeadLetter EmailJobStatus = "dead_letter"
	EmailSkipped    EmailJobStatus = "skipped"
)

// EmailJob is one outbound email awaiting delivery. Its ID is the owning
// proposal's execution_key, so re-enqueues during retries are no-ops.
type EmailJob struct {
	ID                string         `json:"id" db:"id"`
	CaseID            int64          `json:"case_id" db:"case_id"`
	ProposalID        int64          `json:"proposal_id" db:"proposal_id"`
	ToEmail           string         `json:"to_email" db:"to_email"`
	FromEmail         string         `json:"from_email" db:"from_email"`
	FromName          string         `json:"from_name" db:"from_name"`
	ReplyTo           string         `json:"reply_to" db:"reply_to"`
	Subject           string         `json:"subject" db:"subject"`
	BodyText          string         `json:"body_text" db:"body_text"`
	BodyHTML          string         `json:"body_html" db:"body_html"`
	InReplyTo         string         `json:"in_reply_to" db:"in_reply_to"`
	ReferencesHeader  string         `json:"references_header" db:"references_header"`
	ActionType        ActionType     `json:"action_type" db:"action_type"`
	Status            EmailJobStatus `json:"status" db:"status"`
	RetryCount        int            `json:"retry_count" db:"retry_count"`
	LastError         string         `json:"last_error" db:"last_error"`
	WorkerID          string         `json:"worker_id" db:"worker_id"`
	ScheduledAt       time.Time      `json:"scheduled_at" db:"scheduled_at"`
	ClaimedAt         *time.Time     `json:"claimed_at" db:"claimed_at"`
	SentAt            *time.Time     `json:"sent_at" db:"sent_at"`
	ProviderMessageID string         `json:"provider_message_id" db:"provider_message_id"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// WorkerInfo is one registered worker process, kept alive by heartbeats.
type WorkerInfo struct {
	ID            string            `json:"id" db:"id"`
	WorkerType    string            `json:"worker_type" db:"worker_type"`
	Hostname      string            `json:"hostname" db:"hostname"`
	Status        string            `json:"status" db:"status"`
	Metadata      map[string]string `json:"metadata" db:"metadata"`
	StartedAt     time.Time         `json:"started_at" db:"started_at"`
	LastHeartbeat time.Time         `json:"last_heartbeat_at" db:"last_heartbeat_at"`
}
