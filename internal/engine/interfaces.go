package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/pkg/distlock"
)

// Storage is the slice of the store the graph needs. *store.Store satisfies
// it; tests use an in-memory fake.
type Storage interface {
	GetCase(ctx context.Context, id int64) (*domain.Case, error)
	UpdateCaseStatus(ctx context.Context, id int64, status domain.CaseStatus, substatus string) error
	CloseCase(ctx context.Context, id int64, status domain.CaseStatus, substatus string) error
	PauseCaseForHuman(ctx context.Context, id int64, reason domain.PauseReason) error
	UpdateCaseConstraints(ctx context.Context, id int64, constraints []string, scopeItems []domain.ScopeItem) error
	SetCaseNextDue(ctx context.Context, id int64, due time.Time) error

	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	MarkMessageProcessed(ctx context.Context, messageID, runID int64) error

	SaveAnalysis(ctx context.Context, a *domain.ResponseAnalysis) (int64, error)
	AnalysisForMessage(ctx context.Context, messageID int64) (*domain.ResponseAnalysis, error)
	LatestAnalysis(ctx context.Context, caseID int64) (*domain.ResponseAnalysis, error)

	GetFollowUpSchedule(ctx context.Context, caseID int64) (*domain.FollowUpSchedule, error)
	UpsertEscalation(ctx context.Context, e *domain.Escalation) (int64, bool, error)

	GetProposal(ctx context.Context, id int64) (*domain.Proposal, error)
	UpsertProposal(ctx context.Context, p *domain.Proposal) (*domain.Proposal, error)
	SetProposalStatus(ctx context.Context, proposalID int64, status domain.ProposalStatus) error
	RecordHumanDecision(ctx context.Context, proposalID int64, decision domain.HumanDecisionAction) error
	LatestPendingProposal(ctx context.Context, caseID int64) (*domain.Proposal, error)
	DismissalCounts(ctx context.Context, caseID int64) (map[domain.ActionType]int, error)

	CreateRun(ctx context.Context, r *domain.AgentRun) (int64, error)
	SetRunNode(ctx context.Context, runID int64, node string, iteration int) error
	FinishRun(ctx context.Context, runID int64, status domain.RunStatus, proposalID *int64, errMsg string) error
	InsertDecisionTrace(ctx context.Context, t *domain.DecisionTrace) error

	AcquireCaseLock(ctx context.Context, caseID int64) (distlock.DistLock, bool, error)
	ReleaseCaseLock(ctx context.Context, lock distlock.DistLock)
}

// Checkpoints persists run state between suspensions. *checkpoint.Checkpointer
// satisfies it.
type Checkpoints interface {
	Save(ctx context.Context, threadID, node string, snapshot json.RawMessage) (int64, error)
	SaveInterrupt(ctx context.Context, threadID, node string, snapshot, payload json.RawMessage) (int64, error)
	Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error)
	Resume(ctx context.Context, threadID string, injected json.RawMessage) error
	Clear(ctx context.Context, threadID string) error
}

// ActionExecutor performs the side effect a proposal calls for. It is
// idempotent by execution_key; invoking it twice for the same proposal yields
// one side effect and one dedup short-circuit.
type ActionExecutor interface {
	Execute(ctx context.Context, c *domain.Case, p *domain.Proposal) (*domain.ExecutionResult, error)
}
