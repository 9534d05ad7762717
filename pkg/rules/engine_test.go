package rules

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/refund-approvals/pkg/condition"
	"github.com/dukex/refund-approvals/pkg/models"
)

var fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(slog.Default(), WithClock(func() time.Time { return fixedNow }))
}

func testRefund() *models.RefundSnapshot {
	return &models.RefundSnapshot{
		ID:                  "refund-1",
		Amount:              5000,
		Currency:            "USD",
		MerchantID:          "m-1",
		OrganizationID:      "org-1",
		ProgramID:           "prog-1",
		BankID:              "bank-1",
		Method:              "WIRE",
		CustomerRefundCount: 1,
		MerchantRefundRate:  0.01,
	}
}

func amountRule(id string, priority int, threshold float64, roles ...models.ApproverRole) models.Rule {
	return models.Rule{
		ID:            id,
		ScopeType:     models.ScopeMerchant,
		ScopeID:       "m-1",
		Condition:     condition.Simple("amount", condition.OperatorGreaterThan, threshold),
		ApproverRoles: roles,
		Priority:      priority,
		Active:        true,
	}
}

func TestMatchRules(t *testing.T) {
	refund := testRefund()
	subject := refund.Attributes()

	inactive := amountRule("inactive", 0, 1)
	inactive.Active = false

	otherScope := amountRule("other-scope", 0, 1)
	otherScope.ScopeID = "m-2"

	orgScoped := amountRule("org", 5, 100)
	orgScoped.ScopeType = models.ScopeOrganization
	orgScoped.ScopeID = "org-1"

	malformed := amountRule("malformed", 0, 1)
	malformed.Condition = condition.Condition{Operator: condition.OperatorNot}

	rules := []models.Rule{
		amountRule("low", 10, 1000),
		amountRule("never", 1, 1_000_000),
		inactive,
		otherScope,
		orgScoped,
		malformed,
		amountRule("high", 1, 10),
	}

	matched := newTestEngine().MatchRules(subject, refund, rules)

	ids := make([]string, 0, len(matched))
	for _, r := range matched {
		ids = append(ids, r.ID)
	}

	assert.Equal(t, []string{"high", "org", "low"}, ids)
}

func TestMatchRules_FalseConditionNeverMatches(t *testing.T) {
	refund := testRefund()
	subject := refund.Attributes()
	engine := newTestEngine()

	base := []models.Rule{amountRule("a", 0, 100), amountRule("b", 1, 200)}
	before := engine.MatchRules(subject, refund, base)

	impossible := amountRule("impossible", -1, 0)
	impossible.Condition = condition.And(
		condition.Simple("amount", condition.OperatorGreaterThan, 10),
		condition.Simple("amount", condition.OperatorLessThan, 10),
	)

	after := engine.MatchRules(subject, refund, append(base, impossible))

	assert.Len(t, after, len(before))

	for _, r := range after {
		assert.NotEqual(t, "impossible", r.ID)
	}
}

func TestMatchWorkflows_Triggers(t *testing.T) {
	threshold := func(v float64) *float64 { return &v }
	rule := amountRule("inner", 0, 100, models.ApproverRole{Role: "RISK", Level: 0})

	tests := []struct {
		name     string
		workflow models.Workflow
		refund   func(r *models.RefundSnapshot)
		expected bool
	}{
		{"amount at threshold", models.Workflow{TriggerType: models.TriggerAmount, Threshold: threshold(5000)}, nil, true},
		{"amount below threshold", models.Workflow{TriggerType: models.TriggerAmount, Threshold: threshold(5001)}, nil, false},
		{"amount without threshold", models.Workflow{TriggerType: models.TriggerAmount}, nil, false},
		{"method default set", models.Workflow{TriggerType: models.TriggerMethod}, nil, true},
		{"method not restricted", models.Workflow{TriggerType: models.TriggerMethod, RestrictedMethods: []string{"CASH"}}, nil, false},
		{"customer default threshold", models.Workflow{TriggerType: models.TriggerCustomer},
			func(r *models.RefundSnapshot) { r.CustomerRefundCount = 3 }, true},
		{"customer below default", models.Workflow{TriggerType: models.TriggerCustomer}, nil, false},
		{"merchant rate", models.Workflow{TriggerType: models.TriggerMerchant, Threshold: threshold(0.01)}, nil, true},
		{"merchant default rate", models.Workflow{TriggerType: models.TriggerMerchant}, nil, false},
		{"custom condition", models.Workflow{TriggerType: models.TriggerCustom,
			CustomCondition: &condition.Condition{Field: "currency", Operator: condition.OperatorEquals, Value: "USD"}}, nil, true},
		{"custom malformed", models.Workflow{TriggerType: models.TriggerCustom,
			CustomCondition: &condition.Condition{Operator: condition.OperatorOr}}, nil, false},
		{"custom missing", models.Workflow{TriggerType: models.TriggerCustom}, nil, false},
		{"unknown trigger", models.Workflow{TriggerType: "WEATHER"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refund := testRefund()
			if tt.refund != nil {
				tt.refund(refund)
			}

			wf := tt.workflow
			wf.ID = "wf"
			wf.ScopeType = models.ScopeMerchant
			wf.ScopeID = "m-1"
			wf.Active = true
			wf.Rules = []models.Rule{rule}

			matched := newTestEngine().MatchWorkflows(refund.Attributes(), refund, []models.Workflow{wf})
			assert.Equal(t, tt.expected, len(matched) == 1)
		})
	}
}

func TestMatchWorkflows_RequiresMatchingRule(t *testing.T) {
	refund := testRefund()
	threshold := 1.0

	wf := models.Workflow{
		ID: "wf", ScopeType: models.ScopeBank, ScopeID: "bank-1", Active: true,
		TriggerType: models.TriggerAmount, Threshold: &threshold,
		Rules: []models.Rule{amountRule("too-high", 0, 1_000_000)},
	}

	assert.Empty(t, newTestEngine().MatchWorkflows(refund.Attributes(), refund, []models.Workflow{wf}))

	wf.Rules = append(wf.Rules, amountRule("ok", 0, 10))
	matched := newTestEngine().MatchWorkflows(refund.Attributes(), refund, []models.Workflow{wf})
	require.Len(t, matched, 1)
	require.Len(t, matched[0].Rules, 1)
	assert.Equal(t, "ok", matched[0].Rules[0].ID)

	wf.ScopeID = "bank-2"
	assert.Empty(t, newTestEngine().MatchWorkflows(refund.Attributes(), refund, []models.Workflow{wf}))
}

func TestMatch_ApproversAndLevels(t *testing.T) {
	refund := testRefund()
	threshold := 1.0

	rules := []models.Rule{
		amountRule("second", 2, 10,
			models.ApproverRole{Role: "RISK", Level: 0},
			models.ApproverRole{Role: "MERCHANT_ADMIN", Level: 0}),
		amountRule("first", 1, 10,
			models.ApproverRole{Role: "MERCHANT_ADMIN", Level: 0},
			models.ApproverRole{Role: "FINANCE", Level: 1}),
	}
	workflows := []models.Workflow{{
		ID: "wf", ScopeType: models.ScopeMerchant, ScopeID: "m-1", Active: true,
		TriggerType: models.TriggerAmount, Threshold: &threshold,
		Rules: []models.Rule{amountRule("nested", 0, 10,
			models.ApproverRole{Role: "COMPLIANCE", Level: 0},
			models.ApproverRole{Role: "CFO", Level: 2})},
	}}

	m := newTestEngine().Match(refund, rules, workflows)

	assert.True(t, m.Required())
	assert.Equal(t, []string{"COMPLIANCE", "MERCHANT_ADMIN", "RISK"}, m.ApproversForLevel(0))
	assert.Equal(t, []string{"FINANCE"}, m.ApproversForLevel(1))
	assert.Empty(t, m.ApproversForLevel(5))
	assert.Equal(t, 2, m.MaxEscalationLevel(DefaultMaxLevel))
	assert.ElementsMatch(t, []string{"first", "second", "nested"}, m.RuleIDs())
	assert.Equal(t, []string{"wf"}, m.WorkflowIDs())

	assert.Equal(t, DefaultMaxLevel, Match{Rules: []*models.Rule{{ID: "bare"}}}.MaxEscalationLevel(DefaultMaxLevel))
	assert.False(t, Match{}.Required())
}

func TestDeadlines(t *testing.T) {
	engine := newTestEngine()

	slow := amountRule("slow", 0, 1)
	slow.EscalationTimers = []models.EscalationTimer{{Level: 0, Duration: 2, Unit: models.TimerUnitDays}}

	fast := amountRule("fast", 1, 1)
	fast.EscalationTimers = []models.EscalationTimer{{Level: 0, Duration: 90, Unit: models.TimerUnitMinutes}}

	assert.Equal(t, fixedNow.Add(48*time.Hour), engine.DeadlineForLevel(&slow, 0))
	assert.Equal(t, fixedNow.Add(4*time.Hour), engine.DeadlineForLevel(&slow, 1))

	m := Match{Rules: []*models.Rule{&slow, &fast}}
	assert.Equal(t, fixedNow.Add(90*time.Minute), engine.Deadline(m, 0))
	assert.Equal(t, fixedNow.Add(4*time.Hour), engine.Deadline(m, 1))
	assert.Equal(t, fixedNow.Add(4*time.Hour), engine.Deadline(Match{}, 0))

	custom := NewEngine(slog.Default(), WithClock(func() time.Time { return fixedNow }), WithDefaultTimer(time.Hour))
	assert.Equal(t, fixedNow.Add(time.Hour), custom.DeadlineForLevel(&slow, 3))
}

func TestTerminalPolicy(t *testing.T) {
	withTimeout := func(id string, priority int, action models.TimeoutAction, target string) *models.Rule {
		r := amountRule(id, priority, 1)
		r.OnTimeout = action
		r.FinalEscalationTarget = target

		return &r
	}

	wf := &models.Workflow{ID: "wf", OnTimeout: models.TimeoutAutoApprove, FinalEscalationTarget: "CFO"}

	tests := []struct {
		name     string
		match    Match
		expected Policy
	}{
		{"default", Match{Rules: []*models.Rule{withTimeout("r", 0, "", "")}},
			Policy{OnTimeout: models.TimeoutNotifyAdmin}},
		{"rule precedence by priority", Match{Rules: []*models.Rule{
			withTimeout("late", 5, models.TimeoutAutoApprove, ""),
			withTimeout("early", 1, models.TimeoutAutoReject, "RISK_HEAD"),
		}}, Policy{OnTimeout: models.TimeoutAutoReject, FinalEscalationTarget: "RISK_HEAD"}},
		{"workflow fallback", Match{Workflows: []WorkflowMatch{{Workflow: wf, Rules: []*models.Rule{withTimeout("n", 0, "", "")}}}},
			Policy{OnTimeout: models.TimeoutAutoApprove, FinalEscalationTarget: "CFO"}},
		{"nested rule beats its workflow", Match{Workflows: []WorkflowMatch{{Workflow: wf,
			Rules: []*models.Rule{withTimeout("n", 0, models.TimeoutAutoReject, "")}}}},
			Policy{OnTimeout: models.TimeoutAutoReject, FinalEscalationTarget: "CFO"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.match.TerminalPolicy())
		})
	}
}
