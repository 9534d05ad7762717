package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/refund-approvals/pkg/condition"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/persistence"
)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
	assert.NoError(t, NewPersistence("./test-data").Close(t.Context()))
}

func newApproval(t *testing.T, refundID string, due time.Time) *models.ApprovalRequest {
	t.Helper()

	a, err := models.NewApprovalRequest(refundID, "agent", []models.ApproverAssignment{{Ref: "role:MERCHANT_ADMIN", Role: "MERCHANT_ADMIN"}}, due, time.Now())
	require.NoError(t, err)

	return a
}

func TestApprovalRepository_CreateAndGet(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ApprovalRepository()
	ctx := t.Context()

	approval := newApproval(t, "refund-1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, approval))
	assert.Equal(t, int64(1), approval.Version)

	got, err := repo.GetByID(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.RefundID, got.RefundID)
	assert.Len(t, got.Approvers, 1)

	byRefund, err := repo.GetActiveByRefundID(ctx, "refund-1")
	require.NoError(t, err)
	assert.Equal(t, approval.ID, byRefund.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsApprovalNotFound(err))

	_, err = repo.GetActiveByRefundID(ctx, "refund-2")
	assert.True(t, persistence.IsApprovalNotFound(err))
}

func TestApprovalRepository_OneActivePerRefund(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ApprovalRepository()
	ctx := t.Context()

	first := newApproval(t, "refund-1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, newApproval(t, "refund-1", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, persistence.ErrApprovalAlreadyExists)

	_, _, err = first.RecordDecision("role:MERCHANT_ADMIN", models.OutcomeRejected, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, first))

	// A resolved approval no longer blocks a new request for the refund.
	second := newApproval(t, "refund-1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, second))

	active, err := repo.GetActiveByRefundID(ctx, "refund-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestApprovalRepository_UpdateVersionCheck(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ApprovalRepository()
	ctx := t.Context()

	approval := newApproval(t, "refund-1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, approval))

	stale, err := repo.GetByID(ctx, approval.ID)
	require.NoError(t, err)

	_, _, err = approval.RecordDecision("role:MERCHANT_ADMIN", models.OutcomeApproved, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, approval))
	assert.Equal(t, int64(2), approval.Version)

	stale.RequestedBy = "someone-else"
	err = repo.Update(ctx, stale)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetByID(ctx, approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, stored.Status)
	assert.Equal(t, "agent", stored.RequestedBy)
	assert.Equal(t, int64(2), stored.Version)

	err = repo.Update(ctx, newApproval(t, "refund-x", time.Now()))
	assert.True(t, persistence.IsApprovalNotFound(err))
}

func TestApprovalRepository_ConcurrentUpdatesSingleWinner(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ApprovalRepository()
	ctx := t.Context()

	approval := newApproval(t, "refund-1", time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, approval))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := 0; i < writers; i++ {
		snapshot, err := repo.GetByID(ctx, approval.ID)
		require.NoError(t, err)

		wg.Add(1)

		go func(a *models.ApprovalRequest) {
			defer wg.Done()

			if err := repo.Update(ctx, a); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(snapshot)
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestApprovalRepository_DueEscalations(t *testing.T) {
	repo := NewPersistence(t.TempDir()).ApprovalRepository()
	ctx := t.Context()
	now := time.Now().UTC()

	late := newApproval(t, "refund-1", now.Add(-2*time.Hour))
	early := newApproval(t, "refund-2", now.Add(-3*time.Hour))
	future := newApproval(t, "refund-3", now.Add(time.Hour))
	resolved := newApproval(t, "refund-4", now.Add(-time.Hour))

	for _, a := range []*models.ApprovalRequest{late, early, future, resolved} {
		require.NoError(t, repo.Create(ctx, a))
	}

	require.NoError(t, resolved.Resolve(models.ApprovalApproved, now))
	require.NoError(t, repo.Update(ctx, resolved))

	due, err := repo.DueEscalations(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)

	due, err = repo.DueEscalations(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.ID, due[0].ID)

	empty, err := NewPersistence(t.TempDir()).ApprovalRepository().DueEscalations(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testRule(id string) *models.Rule {
	return &models.Rule{
		ID:            id,
		Name:          "High value",
		ScopeType:     models.ScopeMerchant,
		ScopeID:       "m-1",
		Condition:     condition.Simple("amount", condition.OperatorGreaterThan, 1000),
		ApproverRoles: []models.ApproverRole{{Role: "MERCHANT_ADMIN", Level: 0}},
		EscalationTimers: []models.EscalationTimer{
			{Level: 0, Duration: 4, Unit: models.TimerUnitHours},
		},
		Priority: 1,
		Active:   true,
	}
}

func TestRuleRepository_Rules(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RuleRepository()
	ctx := t.Context()

	low := testRule("low")
	low.Priority = 10

	require.NoError(t, repo.SaveRule(ctx, low))
	require.NoError(t, repo.SaveRule(ctx, testRule("high")))

	rules, err := repo.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "high", rules[0].ID)
	assert.False(t, rules[0].CreatedAt.IsZero())

	got, err := repo.RuleByID(ctx, "high")
	require.NoError(t, err)
	assert.True(t, condition.Evaluate(got.Condition, map[string]any{"amount": 5000}))

	require.NoError(t, repo.DeleteRule(ctx, "high"))
	require.NoError(t, repo.DeleteRule(ctx, "high"))

	_, err = repo.RuleByID(ctx, "high")
	assert.ErrorIs(t, err, persistence.ErrRuleNotFound)
}

func TestRuleRepository_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	repo := NewPersistence(dir).RuleRepository()
	ctx := t.Context()

	bad := testRule("bad")
	bad.Condition = condition.Condition{Operator: condition.OperatorNot}
	assert.ErrorIs(t, repo.SaveRule(ctx, bad), persistence.ErrInvalidDocument)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rules"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules", "broken.json"),
		[]byte(`{"id":"broken","scope_type":"REGION","scope_id":"x","condition":{"operator":"equals"}}`), 0o600))

	_, err := repo.RuleByID(ctx, "broken")
	assert.ErrorIs(t, err, persistence.ErrInvalidDocument)

	_, err = repo.Rules(ctx)
	assert.Error(t, err)
}

func TestRuleRepository_Workflows(t *testing.T) {
	repo := NewPersistence(t.TempDir()).RuleRepository()
	ctx := t.Context()
	threshold := 2500.0

	wf := &models.Workflow{
		ID:          "wf-1",
		ScopeType:   models.ScopeOrganization,
		ScopeID:     "org-1",
		TriggerType: models.TriggerAmount,
		Threshold:   &threshold,
		Rules:       []models.Rule{*testRule("nested")},
		OnTimeout:   models.TimeoutAutoReject,
		Active:      true,
	}

	require.NoError(t, repo.SaveWorkflow(ctx, wf))

	workflows, err := repo.Workflows(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, 2500.0, *workflows[0].Threshold)
	assert.Equal(t, models.TimeoutAutoReject, workflows[0].OnTimeout)
	require.Len(t, workflows[0].Rules, 1)

	wf.Threshold = nil
	assert.ErrorIs(t, repo.SaveWorkflow(ctx, wf), persistence.ErrInvalidDocument)

	require.NoError(t, repo.DeleteWorkflow(ctx, "wf-1"))

	_, err = repo.WorkflowByID(ctx, "wf-1")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestValidateDirectory(t *testing.T) {
	dir := t.TempDir()
	repo := NewPersistence(dir).RuleRepository()
	require.NoError(t, repo.SaveRule(t.Context(), testRule("ok")))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workflows"), 0o750))
	badPath := filepath.Join(dir, "workflows", "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"id":"bad","scope_type":"BANK","scope_id":"b","trigger_type":"AMOUNT","rules":[]}`), 0o600))

	failures, err := ValidateDirectory(dir)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Contains(t, failures, badPath)
}
