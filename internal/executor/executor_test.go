package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/domain"
)

type fakeStore struct {
	proposals   map[int64]*domain.Proposal
	messages    map[int64]*domain.Message
	claimOK     bool
	portalTasks []*domain.PortalTask
	records     []*domain.ExecutionRecord
	followups   map[int64]time.Time
	escalations []*domain.Escalation
	escInserted bool
	caseStatus  domain.CaseStatus
	caseSub     string
	closed      bool
	portalRecs  []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		proposals:   map[int64]*domain.Proposal{},
		messages:    map[int64]*domain.Message{},
		claimOK:     true,
		followups:   map[int64]time.Time{},
		escInserted: true,
	}
}

func (f *fakeStore) GetProposal(_ context.Context, id int64) (*domain.Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ClaimProposalExecution(_ context.Context, id int64, key string) (bool, error) {
	if !f.claimOK {
		return false, nil
	}
	p := f.proposals[id]
	if p.ExecutionKey != nil {
		return false, nil
	}
	p.ExecutionKey = &key
	return true, nil
}

func (f *fakeStore) MarkProposalExecuted(_ context.Context, id int64, emailJobID string) error {
	p := f.proposals[id]
	p.Status = domain.ProposalExecuted
	p.EmailJobID = emailJobID
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id int64) (*domain.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d not found", id)
	}
	return m, nil
}

func (f *fakeStore) UpdateCaseStatus(_ context.Context, _ int64, status domain.CaseStatus, sub string) error {
	f.caseStatus = status
	f.caseSub = sub
	return nil
}

func (f *fakeStore) CloseCase(_ context.Context, _ int64, status domain.CaseStatus, sub string) error {
	f.closed = true
	f.caseStatus = status
	f.caseSub = sub
	return nil
}

func (f *fakeStore) CreatePortalTask(_ context.Context, t *domain.PortalTask) (int64, error) {
	t.ID = int64(len(f.portalTasks) + 1)
	f.portalTasks = append(f.portalTasks, t)
	return t.ID, nil
}

func (f *fakeStore) RecordPortalSubmission(_ context.Context, _ int64, taskID int64) error {
	f.portalRecs = append(f.portalRecs, taskID)
	return nil
}

func (f *fakeStore) UpsertFollowUpSchedule(_ context.Context, caseID int64, next time.Time) (*domain.FollowUpSchedule, error) {
	f.followups[caseID] = next
	return &domain.FollowUpSchedule{CaseID: caseID, NextFollowup: &next}, nil
}

func (f *fakeStore) UpsertEscalation(_ context.Context, e *domain.Escalation) (int64, bool, error) {
	e.ID = int64(len(f.escalations) + 1)
	f.escalations = append(f.escalations, e)
	return e.ID, f.escInserted, nil
}

func (f *fakeStore) InsertExecutionRecord(_ context.Context, r *domain.ExecutionRecord) error {
	f.records = append(f.records, r)
	return nil
}

type fakeQueue struct {
	jobs     []*domain.EmailJob
	inserted bool
	err      error
}

func (q *fakeQueue) Enqueue(_ context.Context, job *domain.EmailJob) (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	q.jobs = append(q.jobs, job)
	return q.inserted, nil
}

type fakeNotifier struct {
	notified []*domain.Escalation
}

func (n *fakeNotifier) NotifyEscalation(_ context.Context, _ *domain.Case, e *domain.Escalation) error {
	n.notified = append(n.notified, e)
	return nil
}

func testExecConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxFollowups:      2,
		FollowupDelayDays: 7,
		FeeAutoApproveMax: 100,
		FeeModerateMax:    500,
		MaxIterations:     5,
		ExecutionMode:     "LIVE",
	}
}

func msgPtr(id int64) *int64 { return &id }

func testCase() *domain.Case {
	return &domain.Case{
		ID:             42,
		AgencyEmail:    "records@agency.gov",
		RequesterName:  "Jordan Oakes",
		RequesterEmail: "jordan@example.org",
	}
}

func testProposal(action domain.ActionType) *domain.Proposal {
	key := domain.ProposalKey(42, msgPtr(9), action, 0)
	return &domain.Proposal{
		ID:               1,
		CaseID:           42,
		TriggerMessageID: msgPtr(9),
		ActionType:       action,
		DraftSubject:     "Re: records request",
		DraftBodyText:    "Following up on the request.",
		DraftBodyHTML:    "<p>Following up on the request.</p>",
		Status:           domain.ProposalApproved,
		ProposalKey:      key,
	}
}

func newTestExecutor(store *fakeStore, q *fakeQueue, n *fakeNotifier, cfg config.EngineConfig) *Executor {
	e := New(store, q, n, cfg)
	e.delayFn = func() time.Duration { return 3 * time.Hour }
	e.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }
	return e
}

func TestExecutePreChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("executed proposal short-circuits", func(t *testing.T) {
		store := newFakeStore()
		p := testProposal(domain.ActionSendFollowup)
		p.Status = domain.ProposalExecuted
		p.EmailJobID = "exec:" + p.ProposalKey
		store.proposals[p.ID] = p

		q := &fakeQueue{inserted: true}
		res, err := newTestExecutor(store, q, nil, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyExecuted, res.Outcome)
		assert.Equal(t, p.EmailJobID, res.EmailJobID)
		assert.Empty(t, q.jobs)
		assert.Empty(t, store.records)
	})

	t.Run("claimed proposal reports in progress", func(t *testing.T) {
		store := newFakeStore()
		p := testProposal(domain.ActionSendFollowup)
		key := domain.ExecutionKey(p.ProposalKey)
		p.ExecutionKey = &key
		store.proposals[p.ID] = p

		q := &fakeQueue{inserted: true}
		res, err := newTestExecutor(store, q, nil, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeExecutionInProgress, res.Outcome)
		assert.Empty(t, q.jobs)
	})

	t.Run("lost claim race reports claim_failed", func(t *testing.T) {
		store := newFakeStore()
		store.claimOK = false
		p := testProposal(domain.ActionSendFollowup)
		store.proposals[p.ID] = p

		q := &fakeQueue{inserted: true}
		res, err := newTestExecutor(store, q, nil, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeClaimFailed, res.Outcome)
		assert.Empty(t, q.jobs)
	})
}

func TestExecuteEmailAction(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.messages[9] = &domain.Message{ID: 9, RFC2822ID: "<abc123@agency.gov>"}
	p := testProposal(domain.ActionSendFollowup)
	store.proposals[p.ID] = p

	q := &fakeQueue{inserted: true}
	exec := newTestExecutor(store, q, nil, testExecConfig())
	res, err := exec.Execute(ctx, testCase(), p)
	require.NoError(t, err)

	key := domain.ExecutionKey(p.ProposalKey)
	assert.Equal(t, domain.OutcomeEmailEnqueued, res.Outcome)
	assert.Equal(t, key, res.EmailJobID)
	assert.True(t, res.Executed())

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, key, job.ID)
	assert.Equal(t, "records@agency.gov", job.ToEmail)
	assert.Equal(t, "jordan@example.org", job.FromEmail)
	assert.Equal(t, "<abc123@agency.gov>", job.InReplyTo)
	assert.Equal(t, exec.now().Add(3*time.Hour), job.ScheduledAt)

	assert.Equal(t, domain.ProposalExecuted, store.proposals[p.ID].Status)
	assert.Equal(t, key, store.proposals[p.ID].EmailJobID)
	assert.Equal(t, domain.CaseAwaitingResponse, store.caseStatus)

	next, ok := store.followups[42]
	require.True(t, ok, "followup schedule should advance on SEND_FOLLOWUP")
	assert.Equal(t, exec.now().AddDate(0, 0, 7), next)

	require.Len(t, store.records, 1)
	assert.Equal(t, domain.ChannelEmail, store.records[0].Channel)
	assert.Equal(t, domain.ExecutionSucceeded, store.records[0].Status)
}

func TestExecuteEmailDedup(t *testing.T) {
	store := newFakeStore()
	p := testProposal(domain.ActionSendClarification)
	store.proposals[p.ID] = p

	// Queue reports the job already existed. Execution still completes.
	q := &fakeQueue{inserted: false}
	res, err := newTestExecutor(store, q, nil, testExecConfig()).Execute(context.Background(), testCase(), p)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeEmailEnqueued, res.Outcome)
	assert.Equal(t, domain.ProposalExecuted, store.proposals[p.ID].Status)

	// Non-followup sends do not touch the followup schedule.
	assert.Empty(t, store.followups)
}

func TestExecutePortalGuard(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	p := testProposal(domain.ActionSendRebuttal)
	store.proposals[p.ID] = p

	c := testCase()
	c.PortalURL = "https://portal.agency.gov/foia"

	q := &fakeQueue{inserted: true}
	res, err := newTestExecutor(store, q, nil, testExecConfig()).Execute(ctx, c, p)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomePortalTaskCreated, res.Outcome)
	assert.Empty(t, q.jobs, "portal cases never get email")

	require.Len(t, store.portalTasks, 1)
	task := store.portalTasks[0]
	assert.Equal(t, c.PortalURL, task.PortalURL)
	assert.Equal(t, domain.ActionSendRebuttal, task.ActionType)
	assert.Contains(t, task.Instructions, p.DraftBodyText)
	assert.Equal(t, []int64{task.ID}, store.portalRecs)

	assert.Equal(t, domain.CasePortalInProgress, store.caseStatus)
	assert.Equal(t, domain.ProposalExecuted, store.proposals[p.ID].Status)
	require.Len(t, store.records, 1)
	assert.Equal(t, domain.ChannelPortal, store.records[0].Channel)
}

func TestExecuteSubmitPortal(t *testing.T) {
	store := newFakeStore()
	p := testProposal(domain.ActionSubmitPortal)
	p.DraftBodyText = ""
	store.proposals[p.ID] = p

	c := testCase()
	c.PortalURL = "https://portal.agency.gov/foia"

	res, err := newTestExecutor(store, &fakeQueue{inserted: true}, nil, testExecConfig()).Execute(context.Background(), c, p)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePortalTaskCreated, res.Outcome)
	require.Len(t, store.portalTasks, 1)
	assert.Contains(t, store.portalTasks[0].Instructions, "SUBMIT_PORTAL")
}

func TestExecuteEscalate(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh escalation notifies", func(t *testing.T) {
		store := newFakeStore()
		p := testProposal(domain.ActionEscalate)
		store.proposals[p.ID] = p

		n := &fakeNotifier{}
		res, err := newTestExecutor(store, &fakeQueue{}, n, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeEscalated, res.Outcome)
		assert.NotZero(t, res.EscalationID)
		require.Len(t, n.notified, 1)
		assert.Equal(t, "router_escalation", n.notified[0].Reason)
		assert.Equal(t, domain.CaseEscalated, store.caseStatus)
	})

	t.Run("deduped escalation stays quiet", func(t *testing.T) {
		store := newFakeStore()
		store.escInserted = false
		p := testProposal(domain.ActionEscalate)
		store.proposals[p.ID] = p

		n := &fakeNotifier{}
		res, err := newTestExecutor(store, &fakeQueue{}, n, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeEscalated, res.Outcome)
		assert.Empty(t, n.notified)
	})

	t.Run("research agency escalates low urgency", func(t *testing.T) {
		store := newFakeStore()
		p := testProposal(domain.ActionResearchAgency)
		store.proposals[p.ID] = p

		n := &fakeNotifier{}
		_, err := newTestExecutor(store, &fakeQueue{}, n, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		require.Len(t, store.escalations, 1)
		assert.Equal(t, domain.UrgencyLow, store.escalations[0].Urgency)
		assert.Equal(t, "research_agency", store.escalations[0].Reason)
	})
}

func TestExecuteCloseAndNone(t *testing.T) {
	ctx := context.Background()

	t.Run("close case", func(t *testing.T) {
		store := newFakeStore()
		p := testProposal(domain.ActionCloseCase)
		store.proposals[p.ID] = p

		res, err := newTestExecutor(store, &fakeQueue{}, nil, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCaseClosed, res.Outcome)
		assert.True(t, store.closed)
		assert.Equal(t, domain.CaseCompleted, store.caseStatus)
		assert.Equal(t, domain.ProposalExecuted, store.proposals[p.ID].Status)
	})

	t.Run("none records and stops", func(t *testing.T) {
		store := newFakeStore()
		p := testProposal(domain.ActionNone)
		store.proposals[p.ID] = p

		res, err := newTestExecutor(store, &fakeQueue{}, nil, testExecConfig()).Execute(ctx, testCase(), p)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeNoneRecorded, res.Outcome)
		assert.Equal(t, domain.ProposalExecuted, store.proposals[p.ID].Status)
		require.Len(t, store.records, 1)
		assert.Equal(t, domain.ChannelNone, store.records[0].Channel)
	})
}

func TestExecuteDryRun(t *testing.T) {
	store := newFakeStore()
	p := testProposal(domain.ActionSendFollowup)
	store.proposals[p.ID] = p

	cfg := testExecConfig()
	cfg.ExecutionMode = "DRY"

	q := &fakeQueue{inserted: true}
	res, err := newTestExecutor(store, q, nil, cfg).Execute(context.Background(), testCase(), p)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeEmailEnqueued, res.Outcome)
	assert.Equal(t, "dry run", res.Detail)
	assert.Empty(t, q.jobs, "dry mode must not enqueue mail")
	assert.Equal(t, domain.ProposalExecuted, store.proposals[p.ID].Status)
	require.Len(t, store.records, 1)
	assert.Equal(t, domain.ExecutionDry, store.records[0].Status)
}
