package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoia/case-engine/internal/checkpoint"
	"github.com/openfoia/case-engine/internal/domain"
	"github.com/openfoia/case-engine/internal/llm"
	"github.com/openfoia/case-engine/internal/pkg/distlock"
)

// ---------------------------------------------------------------------------
// In-memory fakes. The graph only sees the Storage/Checkpoints/ActionExecutor
// interfaces, so scenario tests run against these instead of sqlmock.
// ---------------------------------------------------------------------------

type memStore struct {
	mu          sync.Mutex
	nextID      int64
	cases       map[int64]*domain.Case
	messages    map[int64]*domain.Message
	analyses    map[int64]*domain.ResponseAnalysis // keyed by message id
	followups   map[int64]*domain.FollowUpSchedule
	proposals   map[int64]*domain.Proposal
	keyToID     map[string]int64
	runs        map[int64]*domain.AgentRun
	traces      []*domain.DecisionTrace
	escalations []*domain.Escalation
	locked      map[int64]bool
	processed   map[int64]int64 // message id -> run id
}

func newMemStore() *memStore {
	return &memStore{
		cases:     map[int64]*domain.Case{},
		messages:  map[int64]*domain.Message{},
		analyses:  map[int64]*domain.ResponseAnalysis{},
		followups: map[int64]*domain.FollowUpSchedule{},
		proposals: map[int64]*domain.Proposal{},
		keyToID:   map[string]int64{},
		runs:      map[int64]*domain.AgentRun{},
		locked:    map[int64]bool{},
		processed: map[int64]int64{},
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) GetCase(_ context.Context, id int64) (*domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, fmt.Errorf("case %d not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) UpdateCaseStatus(_ context.Context, id int64, status domain.CaseStatus, substatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[id].Status = status
	m.cases[id].Substatus = substatus
	return nil
}

func (m *memStore) CloseCase(_ context.Context, id int64, status domain.CaseStatus, substatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[id].Status = status
	m.cases[id].Substatus = substatus
	return nil
}

func (m *memStore) PauseCaseForHuman(_ context.Context, id int64, reason domain.PauseReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[id].Status = domain.CaseNeedsHumanReview
	m.cases[id].PauseReason = reason
	return nil
}

func (m *memStore) UpdateCaseConstraints(_ context.Context, id int64, constraints []string, scopeItems []domain.ScopeItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[id].Constraints = constraints
	m.cases[id].ScopeItems = scopeItems
	return nil
}

func (m *memStore) SetCaseNextDue(_ context.Context, id int64, due time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[id].NextDueAt = &due
	return nil
}

func (m *memStore) GetMessage(_ context.Context, id int64) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d not found", id)
	}
	cp := *msg
	return &cp, nil
}

func (m *memStore) MarkMessageProcessed(_ context.Context, messageID, runID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.processed[messageID]; !done {
		m.processed[messageID] = runID
	}
	return nil
}

func (m *memStore) SaveAnalysis(_ context.Context, a *domain.ResponseAnalysis) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	if cp.ID == 0 {
		cp.ID = m.id()
	}
	m.analyses[cp.MessageID] = &cp
	return cp.ID, nil
}

func (m *memStore) AnalysisForMessage(_ context.Context, messageID int64) (*domain.ResponseAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[messageID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) LatestAnalysis(_ context.Context, caseID int64) (*domain.ResponseAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.ResponseAnalysis
	for _, a := range m.analyses {
		if a.CaseID == caseID && (latest == nil || a.ID > latest.ID) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) GetFollowUpSchedule(_ context.Context, caseID int64) (*domain.FollowUpSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fu, ok := m.followups[caseID]
	if !ok {
		return nil, nil
	}
	cp := *fu
	return &cp, nil
}

func (m *memStore) UpsertEscalation(_ context.Context, e *domain.Escalation) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.escalations {
		if have.CaseID == e.CaseID && have.Reason == e.Reason {
			return have.ID, false, nil
		}
	}
	cp := *e
	cp.ID = m.id()
	m.escalations = append(m.escalations, &cp)
	return cp.ID, true, nil
}

func (m *memStore) GetProposal(_ context.Context, id int64) (*domain.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpsertProposal(_ context.Context, p *domain.Proposal) (*domain.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.keyToID[p.ProposalKey]; ok {
		have := m.proposals[id]
		next := *p
		next.ID = id
		next.ExecutionKey = have.ExecutionKey
		next.EmailJobID = have.EmailJobID
		if have.Status == domain.ProposalExecuted {
			next.Status = have.Status
			next.ExecutedAt = have.ExecutedAt
		}
		m.proposals[id] = &next
		cp := next
		return &cp, nil
	}
	cp := *p
	cp.ID = m.id()
	m.proposals[cp.ID] = &cp
	m.keyToID[cp.ProposalKey] = cp.ID
	out := cp
	return &out, nil
}

func (m *memStore) SetProposalStatus(_ context.Context, proposalID int64, status domain.ProposalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.proposals[proposalID]
	if p.Status != domain.ProposalExecuted {
		p.Status = status
	}
	return nil
}

func (m *memStore) RecordHumanDecision(_ context.Context, proposalID int64, decision domain.HumanDecisionAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[proposalID].HumanDecision = string(decision)
	return nil
}

func (m *memStore) LatestPendingProposal(_ context.Context, caseID int64) (*domain.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Proposal
	for _, p := range m.proposals {
		if p.CaseID == caseID && p.Status == domain.ProposalPendingApproval &&
			(latest == nil || p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) DismissalCounts(_ context.Context, caseID int64) (map[domain.ActionType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.ActionType]int{}
	for _, p := range m.proposals {
		if p.CaseID == caseID && p.Status == domain.ProposalDismissed {
			counts[p.ActionType]++
		}
	}
	return counts, nil
}

func (m *memStore) CreateRun(_ context.Context, r *domain.AgentRun) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.ID = m.id()
	cp.StartedAt = time.Now()
	m.runs[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) SetRunNode(_ context.Context, runID int64, node string, iteration int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID]
	r.CurrentNode = node
	r.IterationCount = iteration
	return nil
}

func (m *memStore) FinishRun(_ context.Context, runID int64, status domain.RunStatus, proposalID *int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID]
	r.Status = status
	r.ProposalID = proposalID
	r.Error = errMsg
	if status != domain.RunPausedAwaitingHuman {
		now := time.Now()
		r.EndedAt = &now
	}
	return nil
}

func (m *memStore) InsertDecisionTrace(_ context.Context, t *domain.DecisionTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.ID = m.id()
	m.traces = append(m.traces, &cp)
	return nil
}

type memLock struct {
	store  *memStore
	caseID int64
}

func (l *memLock) Acquire(context.Context) (bool, error) { return true, nil }

func (l *memLock) Release(context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.locked[l.caseID] = false
	return nil
}

func (m *memStore) AcquireCaseLock(_ context.Context, caseID int64) (distlock.DistLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[caseID] {
		return nil, false, nil
	}
	m.locked[caseID] = true
	return &memLock{store: m, caseID: caseID}, true, nil
}

func (m *memStore) ReleaseCaseLock(ctx context.Context, lock distlock.DistLock) {
	if lock != nil {
		_ = lock.Release(ctx)
	}
}

// claimExecution mirrors the store's compare-and-set for the fake executor.
func (m *memStore) claimExecution(proposalID int64, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.proposals[proposalID]
	if p.ExecutionKey != nil || p.Status == domain.ProposalExecuted {
		return false
	}
	p.ExecutionKey = &key
	return true
}

func (m *memStore) markExecuted(proposalID int64, emailJobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.proposals[proposalID]
	p.Status = domain.ProposalExecuted
	p.EmailJobID = emailJobID
	now := time.Now()
	p.ExecutedAt = &now
}

type memCkpt struct {
	mu   sync.Mutex
	rows map[string]*checkpoint.Checkpoint
}

func newMemCkpt() *memCkpt { return &memCkpt{rows: map[string]*checkpoint.Checkpoint{}} }

func (m *memCkpt) Save(_ context.Context, threadID, node string, snapshot json.RawMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[threadID]
	version := int64(1)
	if row != nil {
		version = row.Version + 1
	}
	m.rows[threadID] = &checkpoint.Checkpoint{ThreadID: threadID, Node: node, Snapshot: snapshot, Version: version}
	return version, nil
}

func (m *memCkpt) SaveInterrupt(_ context.Context, threadID, node string, snapshot, payload json.RawMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[threadID]
	version := int64(1)
	if row != nil {
		version = row.Version + 1
	}
	m.rows[threadID] = &checkpoint.Checkpoint{
		ThreadID: threadID, Node: node, Snapshot: snapshot, Interrupt: payload, Version: version,
	}
	return version, nil
}

func (m *memCkpt) Load(_ context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[threadID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memCkpt) Resume(_ context.Context, threadID string, injected json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[threadID]
	if !ok || len(row.Interrupt) == 0 {
		return fmt.Errorf("thread %s has no pending interrupt", threadID)
	}
	row.Resume = injected
	row.Interrupt = nil
	return nil
}

func (m *memCkpt) Clear(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, threadID)
	return nil
}

// fakeExec mirrors the executor's idempotency contract against memStore.
type fakeExec struct {
	store  *memStore
	emails []string // enqueued email job ids, in order
	portal []int64  // portal task case ids
}

func (e *fakeExec) Execute(_ context.Context, c *domain.Case, p *domain.Proposal) (*domain.ExecutionResult, error) {
	cur, _ := e.store.GetProposal(context.Background(), p.ID)
	if cur.Status == domain.ProposalExecuted {
		return &domain.ExecutionResult{Outcome: domain.OutcomeAlreadyExecuted, ProposalID: p.ID, EmailJobID: cur.EmailJobID}, nil
	}
	if cur.ExecutionKey != nil {
		return &domain.ExecutionResult{Outcome: domain.OutcomeExecutionInProgress, ProposalID: p.ID}, nil
	}
	key := domain.ExecutionKey(p.ProposalKey)
	if !e.store.claimExecution(p.ID, key) {
		return &domain.ExecutionResult{Outcome: domain.OutcomeClaimFailed, ProposalID: p.ID}, nil
	}

	switch {
	case c.HasPortal() && p.ActionType.IsSend():
		e.portal = append(e.portal, c.ID)
		e.store.markExecuted(p.ID, "")
		return &domain.ExecutionResult{Outcome: domain.OutcomePortalTaskCreated, ProposalID: p.ID, ExecutionKey: key}, nil
	case p.ActionType == domain.ActionEscalate:
		_, _, _ = e.store.UpsertEscalation(context.Background(), &domain.Escalation{CaseID: c.ID, Reason: "router_escalation"})
		e.store.markExecuted(p.ID, "")
		return &domain.ExecutionResult{Outcome: domain.OutcomeEscalated, ProposalID: p.ID, ExecutionKey: key}, nil
	case p.ActionType == domain.ActionCloseCase:
		_ = e.store.CloseCase(context.Background(), c.ID, domain.CaseCompleted, "closed_by_decision")
		e.store.markExecuted(p.ID, "")
		return &domain.ExecutionResult{Outcome: domain.OutcomeCaseClosed, ProposalID: p.ID, ExecutionKey: key}, nil
	case p.ActionType.IsSend():
		e.emails = append(e.emails, key)
		e.store.markExecuted(p.ID, key)
		_ = e.store.UpdateCaseStatus(context.Background(), c.ID, domain.CaseAwaitingResponse, "")
		return &domain.ExecutionResult{Outcome: domain.OutcomeEmailEnqueued, ProposalID: p.ID, ExecutionKey: key, EmailJobID: key}, nil
	default:
		e.store.markExecuted(p.ID, "")
		return &domain.ExecutionResult{Outcome: domain.OutcomeNoneRecorded, ProposalID: p.ID, ExecutionKey: key}, nil
	}
}

// fakeProvider returns scripted analyses and drafts.
type fakeProvider struct {
	analysis *domain.ResponseAnalysis
	draft    *llm.Draft
}

func (f *fakeProvider) AnalyzeResponse(_ context.Context, c *domain.Case, m *domain.Message) (*domain.ResponseAnalysis, error) {
	a := *f.analysis
	a.CaseID = c.ID
	a.MessageID = m.ID
	return &a, nil
}

func (f *fakeProvider) GenerateDraft(_ context.Context, action domain.ActionType, _ *domain.Case, _ llm.DraftContext) (*llm.Draft, error) {
	if f.draft != nil {
		return f.draft, nil
	}
	return &llm.Draft{Subject: "Re: request (" + string(action) + ")", BodyText: "Please advise on the status of this request."}, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	store    *memStore
	ckpt     *memCkpt
	exec     *fakeExec
	provider *fakeProvider
	sup      *Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	ckpt := newMemCkpt()
	exec := &fakeExec{store: store}
	provider := &fakeProvider{}
	cfg := testEngineConfig()
	graph := NewGraph(store, provider, exec, ckpt, cfg)
	return &harness{
		store:    store,
		ckpt:     ckpt,
		exec:     exec,
		provider: provider,
		sup:      NewSupervisor(graph, store, ckpt, cfg),
	}
}

func (h *harness) addCase(c *domain.Case) *domain.Case {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if c.ID == 0 {
		c.ID = h.store.id()
	}
	if c.Status == "" {
		c.Status = domain.CaseAwaitingResponse
	}
	h.store.cases[c.ID] = c
	return c
}

func (h *harness) addInbound(caseID int64, subject, body string) *domain.Message {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	m := &domain.Message{
		ID:        h.store.id(),
		CaseID:    caseID,
		Direction: domain.DirectionInbound,
		Subject:   subject,
		BodyText:  body,
	}
	h.store.messages[m.ID] = m
	return m
}

func (h *harness) proposalByKeyPrefix(prefix string) *domain.Proposal {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	for key, id := range h.store.keyToID {
		if strings.HasPrefix(key, prefix) {
			return h.store.proposals[id]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestScenarioLowFeeAutoAccept(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov", AutopilotMode: domain.AutopilotAuto})
	msg := h.addInbound(c.ID, "Fee estimate", "The fee for your request is $50.")
	fee := 50.0
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification: domain.ClassFeeQuote,
		Confidence:     0.95,
		ExtractedFee:   &fee,
		RequiresAction: true,
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, out.Status)

	p := h.proposalByKeyPrefix(fmt.Sprintf("%d:%d:%s", c.ID, msg.ID, domain.ActionAcceptFee))
	require.NotNil(t, p)
	assert.Equal(t, domain.ProposalExecuted, p.Status)

	wantJobID := domain.ExecutionKey(domain.ProposalKey(c.ID, &msg.ID, domain.ActionAcceptFee, 0))
	require.Len(t, h.exec.emails, 1)
	assert.Equal(t, wantJobID, h.exec.emails[0])

	assert.Equal(t, domain.CaseAwaitingResponse, h.store.cases[c.ID].Status)
	assert.Empty(t, h.store.escalations)
	assert.Equal(t, out.RunID, h.store.processed[msg.ID])
}

func TestScenarioHighFeeGateAndResume(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov", AutopilotMode: domain.AutopilotSupervised})
	msg := h.addInbound(c.ID, "Fee estimate", "The fee is $750.")
	fee := 750.0
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification: domain.ClassFeeQuote,
		Confidence:     0.9,
		ExtractedFee:   &fee,
		RequiresAction: true,
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RunPausedAwaitingHuman, out.Status)
	require.NotNil(t, out.Interrupt)
	assert.Equal(t, domain.InterruptTypeHumanApproval, out.Interrupt.Type)
	assert.Equal(t, domain.PauseFeeQuote, out.Interrupt.PauseReason)
	assert.ElementsMatch(t, []string{"APPROVE", "ADJUST", "DISMISS", "WITHDRAW"}, out.Interrupt.Options)

	p := h.store.proposals[out.Interrupt.ProposalID]
	require.NotNil(t, p)
	assert.Equal(t, domain.ActionNegotiateFee, p.ActionType)
	assert.Equal(t, domain.ProposalPendingApproval, p.Status)
	assert.Equal(t, domain.CaseNeedsHumanReview, h.store.cases[c.ID].Status)
	assert.Equal(t, domain.PauseFeeQuote, h.store.cases[c.ID].PauseReason)
	assert.Empty(t, h.exec.emails)

	resumed, err := h.sup.Resume(context.Background(), c.ID, domain.HumanDecision{Action: domain.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, resumed.Status)

	p = h.store.proposals[out.Interrupt.ProposalID]
	assert.Equal(t, domain.ProposalExecuted, p.Status)
	assert.Equal(t, "APPROVE", p.HumanDecision)
	require.Len(t, h.exec.emails, 1)
	assert.Equal(t, domain.CaseAwaitingResponse, h.store.cases[c.ID].Status)
}

func TestScenarioDenialWithExemptConstraint(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{
		AgencyEmail:   "records@agency.gov",
		AutopilotMode: domain.AutopilotAuto,
		ScopeItems: []domain.ScopeItem{
			{Item: "body camera footage", Status: domain.ScopePending},
			{Item: "incident reports", Status: domain.ScopePending},
		},
	})
	msg := h.addInbound(c.ID, "Request denied", "Body camera footage unavailable; exemption cited.")
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification:   domain.ClassDenial,
		DenialSubtype:    domain.DenialExemptionCited,
		Confidence:       0.85,
		ConstraintsToAdd: []string{domain.ConstraintBWCExempt},
		ScopeUpdates: []domain.ScopeItem{
			{Item: "Body Camera Footage", Status: domain.ScopeExempt, Reason: "exemption cited"},
		},
		KeyPoints:      []string{"body camera footage unavailable"},
		RequiresAction: true,
	}
	h.provider.draft = &llm.Draft{
		Subject:  "Re: denial",
		BodyText: "I renew my request for the body camera footage and the incident reports.",
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RunPausedAwaitingHuman, out.Status)
	require.NotNil(t, out.Interrupt)
	assert.Equal(t, domain.PauseSensitive, out.Interrupt.PauseReason)

	cs := h.store.cases[c.ID]
	assert.Contains(t, cs.Constraints, domain.ConstraintBWCExempt)
	item, ok := cs.ScopeItemByName("body camera footage")
	require.True(t, ok)
	assert.Equal(t, domain.ScopeExempt, item.Status)

	p := h.store.proposals[out.Interrupt.ProposalID]
	assert.Equal(t, domain.ActionSendRebuttal, p.ActionType)
	assert.Contains(t, p.RiskFlags, FlagRequestsExemptItem)
	assert.Empty(t, h.exec.emails)
}

func TestScenarioRecordsReadyClosesCase(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov", AutopilotMode: domain.AutopilotSupervised})
	msg := h.addInbound(c.ID, "Records ready", "Your records are ready for pickup.")
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification: domain.ClassRecordsReady,
		Confidence:     0.97,
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, out.Status)
	assert.Nil(t, out.ProposalID)

	cs := h.store.cases[c.ID]
	assert.Equal(t, domain.CaseCompleted, cs.Status)
	assert.Equal(t, "records_received", cs.Substatus)
	assert.Empty(t, h.store.proposals)
	require.NotEmpty(t, h.store.traces)
	assert.Equal(t, domain.ActionCloseCase, h.store.traces[0].ActionType)
}

func TestScenarioPortalOnlyCase(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{
		AgencyEmail:   "records@agency.gov",
		PortalURL:     "https://portal.agency.gov/foia",
		AutopilotMode: domain.AutopilotAuto,
	})

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerScheduledFollowup, InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, out.Status)

	p := h.proposalByKeyPrefix(fmt.Sprintf("%d:scheduled:%s", c.ID, domain.ActionSendFollowup))
	require.NotNil(t, p)
	assert.Equal(t, domain.ProposalExecuted, p.Status)
	assert.Empty(t, h.exec.emails)
	require.Len(t, h.exec.portal, 1)
	assert.Equal(t, c.ID, h.exec.portal[0])
}

func TestScenarioDuplicateResume(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov", AutopilotMode: domain.AutopilotSupervised})
	msg := h.addInbound(c.ID, "Fee estimate", "The fee is $750.")
	fee := 750.0
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification: domain.ClassFeeQuote,
		Confidence:     0.9,
		ExtractedFee:   &fee,
		RequiresAction: true,
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	require.Equal(t, domain.RunPausedAwaitingHuman, out.Status)

	first, err := h.sup.Resume(context.Background(), c.ID, domain.HumanDecision{Action: domain.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, first.Status)

	_, err = h.sup.Resume(context.Background(), c.ID, domain.HumanDecision{Action: domain.DecisionApprove})
	assert.ErrorIs(t, err, ErrNothingToResume)

	assert.Len(t, h.exec.emails, 1)
}

func TestResumeSkipsWhenCaseLocked(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov"})
	h.store.locked[c.ID] = true

	out, err := h.sup.Resume(context.Background(), c.ID, domain.HumanDecision{Action: domain.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSkippedLocked, out.Status)
}

func TestScenarioAdjustRedraftsWithInstruction(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov", AutopilotMode: domain.AutopilotSupervised})
	msg := h.addInbound(c.ID, "Denied", "Your request is denied.")
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification: domain.ClassDenial,
		DenialSubtype:  domain.DenialExemptionCited,
		Confidence:     0.8,
		RequiresAction: true,
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	require.Equal(t, domain.RunPausedAwaitingHuman, out.Status)
	firstID := out.Interrupt.ProposalID

	resumed, err := h.sup.Resume(context.Background(), c.ID, domain.HumanDecision{
		Action:      domain.DecisionAdjust,
		Instruction: "cite the public-interest balancing test",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RunPausedAwaitingHuman, resumed.Status)
	require.NotNil(t, resumed.Interrupt)

	assert.Equal(t, domain.ProposalSuperseded, h.store.proposals[firstID].Status)
	second := h.store.proposals[resumed.Interrupt.ProposalID]
	require.NotNil(t, second)
	assert.NotEqual(t, firstID, second.ID)
	assert.Equal(t, 1, second.AdjustmentCount)
	assert.Equal(t, "cite the public-interest balancing test", second.AdjustmentNote)
}

func TestScenarioWithdrawCancelsCase(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov", AutopilotMode: domain.AutopilotSupervised})
	msg := h.addInbound(c.ID, "Denied", "Your request is denied.")
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification: domain.ClassDenial,
		Confidence:     0.8,
		RequiresAction: true,
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	require.Equal(t, domain.RunPausedAwaitingHuman, out.Status)

	resumed, err := h.sup.Resume(context.Background(), c.ID, domain.HumanDecision{Action: domain.DecisionWithdraw})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, resumed.Status)

	cs := h.store.cases[c.ID]
	assert.Equal(t, domain.CaseCancelled, cs.Status)
	assert.Equal(t, "withdrawn_by_requester", cs.Substatus)
	assert.Empty(t, h.exec.emails)
}

func TestInvokeSkipsLockedCase(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov"})
	h.store.locked[c.ID] = true

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerScheduledFollowup, InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSkippedLocked, out.Status)
	assert.Equal(t, domain.RunSkippedLocked, h.store.runs[out.RunID].Status)
}

func TestRunFailureEscalates(t *testing.T) {
	h := newHarness(t)
	// No such case: load_context fails, the run is failed and escalated.
	out, err := h.sup.Invoke(context.Background(), 999, domain.TriggerScheduledFollowup, InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, out.Status)
	assert.NotEmpty(t, out.Error)
	require.Len(t, h.store.escalations, 1)
	assert.Equal(t, "run_failed", h.store.escalations[0].Reason)
}

func TestRepeatedDismissalsEndWithoutSend(t *testing.T) {
	h := newHarness(t)
	c := h.addCase(&domain.Case{AgencyEmail: "records@agency.gov", AutopilotMode: domain.AutopilotSupervised})
	msg := h.addInbound(c.ID, "Denied", "Your request is denied.")
	h.provider.analysis = &domain.ResponseAnalysis{
		Classification: domain.ClassDenial,
		Confidence:     0.8,
		RequiresAction: true,
	}

	out, err := h.sup.Invoke(context.Background(), c.ID, domain.TriggerInboundMessage, InvokeOptions{TriggerMessageID: &msg.ID})
	require.NoError(t, err)
	require.Equal(t, domain.RunPausedAwaitingHuman, out.Status)

	// Each dismissal loops back into the router. Once the action has been
	// dismissed twice it is pruned and the run escalates instead of sending.
	emailsBefore := len(h.exec.emails)
	for i := 0; i < 6; i++ {
		res, err := h.sup.Resume(context.Background(), c.ID, domain.HumanDecision{Action: domain.DecisionDismiss})
		require.NoError(t, err)
		if res.Status == domain.RunCompleted {
			break
		}
	}
	assert.Equal(t, emailsBefore, len(h.exec.emails))
}
