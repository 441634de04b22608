package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/logger"
)

// ErrNothingToResume means the thread has no pending interrupt: either the
// run was never paused, or an earlier resume already consumed it. Callers
// treat it as a no-op, which is what makes duplicate approvals harmless.
var ErrNothingToResume = errors.New("no pending interrupt to resume")

// Supervisor starts and resumes graph runs. It owns the per-case advisory
// lock, the AgentRun rows, and the translation of an interrupt into a
// paused_awaiting_human run.
type Supervisor struct {
	graph *Graph
	store Storage
	ckpt  Checkpoints
	cfg   config.EngineConfig
}

// NewSupervisor builds a supervisor over a compiled graph.
func NewSupervisor(graph *Graph, store Storage, ckpt Checkpoints, cfg config.EngineConfig) *Supervisor {
	return &Supervisor{graph: graph, store: store, ckpt: ckpt, cfg: cfg}
}

// InvokeOptions carries per-invocation inputs.
type InvokeOptions struct {
	TriggerMessageID *int64
}

// RunOutcome is what the queue worker gets back.
type RunOutcome struct {
	RunID      int64                    `json:"run_id"`
	Status     domain.RunStatus         `json:"status"`
	ProposalID *int64                   `json:"proposal_id,omitempty"`
	Interrupt  *domain.InterruptPayload `json:"interrupt,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Invoke starts a fresh run for the case. A held lock means another worker
// owns the case right now; the run is recorded as skipped_locked and no
// side effect occurs.
func (s *Supervisor) Invoke(ctx context.Context, caseID int64, trigger domain.TriggerType, opts InvokeOptions) (*RunOutcome, error) {
	lock, ok, err := s.store.AcquireCaseLock(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("acquire case lock: %w", err)
	}
	if !ok {
		return s.recordSkipped(ctx, caseID, trigger, opts.TriggerMessageID)
	}
	defer s.store.ReleaseCaseLock(ctx, lock)

	runID, err := s.store.CreateRun(ctx, &domain.AgentRun{
		CaseID:           caseID,
		TriggerType:      trigger,
		TriggerMessageID: opts.TriggerMessageID,
		Status:           domain.RunRunning,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	st := RunState{
		CaseID:           caseID,
		RunID:            runID,
		TriggerType:      trigger,
		TriggerMessageID: opts.TriggerMessageID,
	}
	return s.drive(ctx, runID, st, NodeLoadContext)
}

// Resume injects a human decision into a paused run and drives the graph
// from its suspension point.
func (s *Supervisor) Resume(ctx context.Context, caseID int64, decision domain.HumanDecision) (*RunOutcome, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("invalid human decision %q", decision.Action)
	}

	lock, ok, err := s.store.AcquireCaseLock(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("acquire case lock: %w", err)
	}
	if !ok {
		return s.recordSkipped(ctx, caseID, domain.TriggerHumanResume, nil)
	}
	defer s.store.ReleaseCaseLock(ctx, lock)

	threadID := checkpoint.ThreadID(caseID)
	cp, err := s.ckpt.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil || len(cp.Interrupt) == 0 {
		return nil, ErrNothingToResume
	}

	injected, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	if err := s.ckpt.Resume(ctx, threadID, injected); err != nil {
		return nil, err
	}

	var st RunState
	if err := json.Unmarshal(cp.Snapshot, &st); err != nil {
		return nil, fmt.Errorf("corrupted checkpoint for case %d: %w", caseID, err)
	}
	st.HumanDecision = &decision

	runID, err := s.store.CreateRun(ctx, &domain.AgentRun{
		CaseID:           caseID,
		TriggerType:      domain.TriggerHumanResume,
		TriggerMessageID: st.TriggerMessageID,
		Status:           domain.RunRunning,
	})
	if err != nil {
		return nil, fmt.Errorf("create resume run: %w", err)
	}
	st.RunID = runID

	return s.drive(ctx, runID, st, cp.Node)
}

// drive runs the graph and translates its terminal shape into a run status.
// The deferred recover keeps a panicking node from leaking the case lock and
// from leaving the run row dangling in `running`.
func (s *Supervisor) drive(ctx context.Context, runID int64, st RunState, startNode string) (out *RunOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic in graph run: %v", r)
			logger.Error("graph run panicked", "run_id", runID, "case_id", st.CaseID, "panic", fmt.Sprintf("%v", r))
			s.finish(ctx, runID, domain.RunFailed, nil, msg)
			out = nil
			err = fmt.Errorf("run %d: %s", runID, msg)
		}
	}()

	final, interrupt, runErr := s.graph.Run(ctx, st, startNode)

	var proposalID *int64
	if final.Proposal != nil {
		proposalID = &final.Proposal.ID
	}

	switch {
	case runErr != nil:
		s.finish(ctx, runID, domain.RunFailed, proposalID, runErr.Error())
		s.escalateFailure(ctx, final.CaseID, runErr.Error())
		return &RunOutcome{RunID: runID, Status: domain.RunFailed, ProposalID: proposalID, Error: runErr.Error()}, runErr

	case interrupt != nil:
		s.finish(ctx, runID, domain.RunPausedAwaitingHuman, proposalID, "")
		return &RunOutcome{RunID: runID, Status: domain.RunPausedAwaitingHuman, ProposalID: proposalID, Interrupt: interrupt}, nil

	case len(final.Errors) > 0:
		msg := strings.Join(final.Errors, "; ")
		s.finish(ctx, runID, domain.RunFailed, proposalID, msg)
		s.escalateFailure(ctx, final.CaseID, msg)
		return &RunOutcome{RunID: runID, Status: domain.RunFailed, ProposalID: proposalID, Error: msg}, nil

	default:
		s.finish(ctx, runID, domain.RunCompleted, proposalID, "")
		return &RunOutcome{RunID: runID, Status: domain.RunCompleted, ProposalID: proposalID}, nil
	}
}

func (s *Supervisor) finish(ctx context.Context, runID int64, status domain.RunStatus, proposalID *int64, errMsg string) {
	if err := s.store.FinishRun(ctx, runID, status, proposalID, errMsg); err != nil {
		logger.Error("finish run failed", "run_id", runID, "status", string(status), "error", err.Error())
	}
}

// escalateFailure guarantees no silent failures: every failed run surfaces
// as an escalation. The store dedups repeats within the hour.
func (s *Supervisor) escalateFailure(ctx context.Context, caseID int64, detail string) {
	_, _, err := s.store.UpsertEscalation(ctx, &domain.Escalation{
		CaseID:          caseID,
		Reason:          "run_failed",
		Urgency:         domain.UrgencyHigh,
		SuggestedAction: "review run error and retry",
		Detail:          detail,
	})
	if err != nil {
		logger.Error("escalate run failure failed", "case_id", caseID, "error", err.Error())
	}
}

func (s *Supervisor) recordSkipped(ctx context.Context, caseID int64, trigger domain.TriggerType, msgID *int64) (*RunOutcome, error) {
	runID, err := s.store.CreateRun(ctx, &domain.AgentRun{
		CaseID:           caseID,
		TriggerType:      trigger,
		TriggerMessageID: msgID,
		Status:           domain.RunSkippedLocked,
	})
	if err != nil {
		return nil, fmt.Errorf("record skipped run: %w", err)
	}
	logger.Info("case locked, run skipped", "case_id", caseID, "run_id", runID, "trigger", string(trigger))
	return &RunOutcome{RunID: runID, Status: domain.RunSkippedLocked}, nil
}
