package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/engine"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// WorkerStore is the store slice the worker pool drives.
type WorkerStore interface {
	ClaimDueJobs(ctx context.Context, workerID string, limit int) ([]domain.Job, error)
	FinishJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string, backoffSeconds int64) (bool, error)
	RequeueStuckJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	RegisterWorker(ctx context.Context, w *domain.WorkerInfo) error
	WorkerHeartbeat(ctx context.Context, id string) error
	MarkWorkerStopped(ctx context.Context, id string) error
	UpsertEscalation(ctx context.Context, e *domain.Escalation) (id int64, inserted bool, err error)
}

// Runner is the supervisor surface the pool dispatches into.
type Runner interface {
	Invoke(ctx context.Context, caseID int64, trigger domain.TriggerType, opts engine.InvokeOptions) (*engine.RunOutcome, error)
	Resume(ctx context.Context, caseID int64, decision domain.HumanDecision) (*engine.RunOutcome, error)
}

const (
	heartbeatInterval = 30 * time.Second
	stuckJobThreshold = 15 * time.Minute
)

// errCaseLocked marks a job that must retry because another worker holds the
// case. It burns an attempt like any other failure.
var errCaseLocked = errors.New("case locked by another run")

// Pool claims queue jobs and drives the supervisor. Each of the cfg.Workers
// goroutines polls independently; SKIP LOCKED on the claim keeps them from
// colliding.
type Pool struct {
	store    WorkerStore
	runner   Runner
	cfg      config.QueueConfig
	workerID string
}

// NewPool builds a worker pool with a unique worker identity.
func NewPool(store WorkerStore, runner Runner, cfg config.QueueConfig) *Pool {
	host, _ := os.Hostname()
	return &Pool{
		store:    store,
		runner:   runner,
		cfg:      cfg,
		workerID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// WorkerID exposes the pool's registry identity.
func (p *Pool) WorkerID() string {
	return p.workerID
}

// Run registers the worker, starts the pollers and the heartbeat, and blocks
// until the context is cancelled.
func (p *Pool) Run(ctx context.Context) {
	host, _ := os.Hostname()
	if err := p.store.RegisterWorker(ctx, &domain.WorkerInfo{
		ID:         p.workerID,
		WorkerType: "queue",
		Hostname:   host,
		Metadata:   map[string]string{"pool_size": fmt.Sprintf("%d", p.cfg.Workers)},
	}); err != nil {
		logger.Error("worker registration failed", "worker_id", p.workerID, "error", err.Error())
	}
	logger.Info("queue worker pool started",
		"worker_id", p.workerID, "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval().String())

	var wg sync.WaitGroup
	wg.Add(1)
	go p.heartbeat(ctx, &wg)

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go p.poll(ctx, &wg)
	}
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.MarkWorkerStopped(stopCtx, p.workerID); err != nil {
		logger.Error("worker deregistration failed", "worker_id", p.workerID, "error", err.Error())
	}
	logger.Info("queue worker pool stopped", "worker_id", p.workerID)
}

func (p *Pool) heartbeat(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.WorkerHeartbeat(ctx, p.workerID); err != nil {
				logger.Error("worker heartbeat failed", "worker_id", p.workerID, "error", err.Error())
			}
			if n, err := p.store.RequeueStuckJobs(ctx, stuckJobThreshold); err != nil {
				logger.Error("requeue stuck jobs failed", "error", err.Error())
			} else if n > 0 {
				logger.Warn("requeued stuck jobs", "count", n)
			}
		}
	}
}

func (p *Pool) poll(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Pool) drain(ctx context.Context) {
	for {
		jobs, err := p.store.ClaimDueJobs(ctx, p.workerID, 1)
		if err != nil {
			logger.Error("claim jobs failed", "worker_id", p.workerID, "error", err.Error())
			return
		}
		if len(jobs) == 0 {
			return
		}
		p.Process(ctx, &jobs[0])
	}
}

// Process runs one claimed job to completion, success or failure.
func (p *Pool) Process(ctx context.Context, job *domain.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout())
	defer cancel()

	start := time.Now()
	err := p.dispatch(jobCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		if finishErr := p.store.FinishJob(ctx, job.ID); finishErr != nil {
			logger.Error("finish job failed", "job_id", job.ID, "error", finishErr.Error())
		}
		logger.Info("job succeeded", "job_id", job.ID, "class", string(job.JobClass),
			"case_id", job.CaseID, "elapsed_ms", elapsed.Milliseconds())
		return
	}

	backoff := p.backoffFor(job.Attempts)
	dead, failErr := p.store.FailJob(ctx, job.ID, err.Error(), int64(backoff.Seconds()))
	if failErr != nil {
		logger.Error("fail job failed", "job_id", job.ID, "error", failErr.Error())
		return
	}
	if !dead {
		logger.Warn("job failed, will retry", "job_id", job.ID, "class", string(job.JobClass),
			"case_id", job.CaseID, "attempt", job.Attempts, "backoff", backoff.String(), "error", err.Error())
		return
	}

	logger.Error("job dead-lettered", "job_id", job.ID, "class", string(job.JobClass),
		"case_id", job.CaseID, "error", err.Error())
	if _, _, escErr := p.store.UpsertEscalation(ctx, &domain.Escalation{
		CaseID:          job.CaseID,
		Reason:          "job_dead_letter",
		Urgency:         domain.UrgencyHigh,
		SuggestedAction: "inspect dead-lettered job " + job.ID,
		Detail:          err.Error(),
	}); escErr != nil {
		logger.Error("escalate dead letter failed", "job_id", job.ID, "error", escErr.Error())
	}
}

// backoffFor grows exponentially from the configured base: base, 2x, 4x...
func (p *Pool) backoffFor(attempt int) time.Duration {
	base := p.cfg.BackoffBase()
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func (p *Pool) dispatch(ctx context.Context, job *domain.Job) error {
	switch job.JobClass {
	case domain.JobRunOnInbound:
		var payload domain.InboundJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode inbound payload: %w", err)
		}
		out, err := p.runner.Invoke(ctx, payload.CaseID, domain.TriggerInboundMessage,
			engine.InvokeOptions{TriggerMessageID: &payload.MessageID})
		return p.outcomeErr(out, err)

	case domain.JobRunOnSchedule:
		var payload domain.ScheduleJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode schedule payload: %w", err)
		}
		trigger := payload.TriggerType
		if trigger == "" {
			trigger = domain.TriggerScheduledFollowup
		}
		out, err := p.runner.Invoke(ctx, payload.CaseID, trigger, engine.InvokeOptions{})
		return p.outcomeErr(out, err)

	case domain.JobResumeFromHuman:
		var payload domain.ResumeJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode resume payload: %w", err)
		}
		out, err := p.runner.Resume(ctx, payload.CaseID, payload.Decision)
		if errors.Is(err, engine.ErrNothingToResume) {
			// An earlier resume already consumed the interrupt; this
			// duplicate decision is a clean no-op.
			logger.Info("nothing to resume, job dropped", "job_id", job.ID, "case_id", payload.CaseID)
			return nil
		}
		return p.outcomeErr(out, err)

	default:
		return fmt.Errorf("unknown job class %q", job.JobClass)
	}
}

// outcomeErr folds a supervisor outcome into the job result. A locked case
// retries. A run that finished with recorded node errors comes back with a
// nil error and is not retried here; the supervisor already escalated it.
func (p *Pool) outcomeErr(out *engine.RunOutcome, err error) error {
	if err != nil {
		return err
	}
	if out != nil && out.Status == domain.RunSkippedLocked {
		return errCaseLocked
	}
	return nil
}
