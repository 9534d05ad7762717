package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/refund-approvals/pkg/channels/gochannel"
	"github.com/dukex/refund-approvals/pkg/condition"
	"github.com/dukex/refund-approvals/pkg/config"
	"github.com/dukex/refund-approvals/pkg/eventbus"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/notification"
	"github.com/dukex/refund-approvals/pkg/persistence/file"
	"github.com/dukex/refund-approvals/pkg/refunds"
	"github.com/dukex/refund-approvals/pkg/services"
	"github.com/dukex/refund-approvals/pkg/web"
)

type testEnv struct {
	app       *fiber.App
	approvals *services.Approvals
	refunds   *refunds.Memory
}

func setupTestApp(t *testing.T) testEnv {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	memory := refunds.NewMemory()

	approvals, err := services.NewApprovals(services.Dependencies{
		Persistence: file.NewPersistence(t.TempDir()),
		Refunds:     memory,
		Notifier:    notification.NewEventBusNotifier(bus, slog.Default()),
		EventBus:    bus,
		Config:      config.Default(),
		Logger:      slog.Default(),
	})
	require.NoError(t, err)

	handlers := web.NewAPIHandlers(approvals, validator.New(validator.WithRequiredStructEnabled()), memory)

	app := fiber.New()
	handlers.Routes(app)

	return testEnv{app: app, approvals: approvals, refunds: memory}
}

func (e testEnv) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (e testEnv) seedRule(t *testing.T) {
	t.Helper()

	_, err := e.approvals.SaveRule(context.Background(), &models.Rule{
		ID:            "large-refunds",
		ScopeType:     models.ScopeMerchant,
		ScopeID:       "m-1",
		Condition:     condition.Simple("amount", condition.OperatorGreaterThan, 1000),
		ApproverRoles: []models.ApproverRole{{Role: "MERCHANT_ADMIN", Level: 0}, {Role: "FINANCE_MANAGER", Level: 1}},
		Active:        true,
	})
	require.NoError(t, err)
}

func snapshot(id string, amount float64) map[string]any {
	return map[string]any{
		"id":           id,
		"amount":       amount,
		"currency":     "USD",
		"merchant_id":  "m-1",
		"method":       "CARD",
		"requested_by": "agent-7",
	}
}

func decodeApproval(t *testing.T, body []byte) web.ApprovalResponse {
	t.Helper()

	var resp web.ApprovalResponse
	require.NoError(t, json.Unmarshal(body, &resp))

	return resp
}

func decodeProblem(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))

	return problem
}

func TestAPIHandlers_CheckApproval(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.seedRule(t)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		required       bool
		matchedRules   []string
	}{
		{"large refund", snapshot("r-1", 5000), http.StatusOK, true, []string{"large-refunds"}},
		{"small refund", snapshot("r-2", 50), http.StatusOK, false, []string{}},
		{"missing currency", map[string]any{"id": "r-3", "amount": 10}, http.StatusBadRequest, false, nil},
		{"invalid JSON", "not-json", http.StatusBadRequest, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/approvals/check", tt.body)
			require.Equal(t, tt.expectedStatus, status, string(body))

			if status != http.StatusOK {
				assert.Equal(t, "validation_error", decodeProblem(t, body)["type"])

				return
			}

			var resp web.CheckResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.Equal(t, tt.required, resp.Required)
			assert.Equal(t, tt.matchedRules, resp.MatchedRules)
			assert.Equal(t, []string{}, resp.MatchedWorkflows)
		})
	}
}

func TestAPIHandlers_CreateApproval(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.seedRule(t)

	status, body := env.do(t, http.MethodPost, "/approvals", snapshot("r-1", 5000))
	require.Equal(t, http.StatusCreated, status, string(body))

	created := decodeApproval(t, body)
	assert.Equal(t, "r-1", created.RefundID)
	assert.Equal(t, models.ApprovalPending, created.Status)
	assert.Equal(t, []string{"role:MERCHANT_ADMIN"}, created.CurrentApprovers)
	assert.Empty(t, created.Decisions)

	_, err := env.refunds.GetRefund(context.Background(), "r-1")
	assert.NoError(t, err, "posted snapshots are remembered")

	status, body = env.do(t, http.MethodPost, "/approvals", snapshot("r-1", 5000))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, services.CodeDuplicateRequest, decodeProblem(t, body)["type"])

	status, _ = env.do(t, http.MethodPost, "/approvals", snapshot("small", 10))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/approvals", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/approvals", map[string]any{"refund_id": "unknown"})
	assert.Equal(t, http.StatusNotFound, status)

	env.refunds.Put(&models.RefundSnapshot{ID: "r-2", Amount: 2500, Currency: "USD", MerchantID: "m-1"})

	status, body = env.do(t, http.MethodPost, "/approvals", map[string]any{"refund_id": "r-2"})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Equal(t, "r-2", decodeApproval(t, body).RefundID)

	status, body = env.do(t, http.MethodGet, "/approvals/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ID, decodeApproval(t, body).ID)

	status, body = env.do(t, http.MethodGet, "/refunds/r-1/approval", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ID, decodeApproval(t, body).ID)

	status, body = env.do(t, http.MethodGet, "/approvals/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, services.CodeNotFound, decodeProblem(t, body)["type"])
}

func TestAPIHandlers_RecordDecision(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.seedRule(t)

	_, body := env.do(t, http.MethodPost, "/approvals", snapshot("r-1", 5000))
	approval := decodeApproval(t, body)
	path := "/approvals/" + approval.ID + "/decisions"

	tests := []struct {
		name           string
		path           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{"missing approver", path, web.DecisionRequest{Outcome: "APPROVED"}, http.StatusBadRequest, services.CodeValidation},
		{"unknown outcome", path, web.DecisionRequest{ApproverID: "role:MERCHANT_ADMIN", Outcome: "MAYBE"}, http.StatusBadRequest, services.CodeValidation},
		{"unassigned approver", path, web.DecisionRequest{ApproverID: "role:CFO", Outcome: "APPROVED"}, http.StatusForbidden, services.CodePermissionDenied},
		{"unknown approval", "/approvals/missing/decisions", web.DecisionRequest{ApproverID: "role:MERCHANT_ADMIN", Outcome: "APPROVED"}, http.StatusNotFound, services.CodeNotFound},
		{"approve", path, web.DecisionRequest{ApproverID: "role:MERCHANT_ADMIN", Outcome: "APPROVED", Notes: "ok"}, http.StatusOK, ""},
		{"already resolved", path, web.DecisionRequest{ApproverID: "role:MERCHANT_ADMIN", Outcome: "REJECTED"}, http.StatusConflict, services.CodeInvalidState},
	}

	// Cases run in order: the approval is resolved by the "approve" case.
	for _, tt := range tests {
		status, body := env.do(t, http.MethodPost, tt.path, tt.body)
		require.Equal(t, tt.expectedStatus, status, "%s: %s", tt.name, body)

		if tt.expectedType != "" {
			assert.Equal(t, tt.expectedType, decodeProblem(t, body)["type"], tt.name)

			continue
		}

		resolved := decodeApproval(t, body)
		assert.Equal(t, models.ApprovalApproved, resolved.Status)
		require.Len(t, resolved.Decisions, 1)
		assert.Equal(t, "ok", resolved.Decisions[0].Notes)
		assert.NotNil(t, resolved.ArchivedAt)
	}

	changes := env.refunds.StatusChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, "APPROVED", changes[0].Status)
}

func TestAPIHandlers_Escalations(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.seedRule(t)

	_, body := env.do(t, http.MethodPost, "/approvals", snapshot("r-1", 5000))
	approval := decodeApproval(t, body)

	status, _ := env.do(t, http.MethodPost, "/approvals/"+approval.ID+"/escalate", web.EscalateRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodPost, "/approvals/"+approval.ID+"/escalate",
		web.EscalateRequest{ActorID: "ops-1", Reason: "customer called"})
	require.Equal(t, http.StatusOK, status, string(body))

	escalated := decodeApproval(t, body)
	assert.Equal(t, 1, escalated.EscalationLevel)
	assert.Equal(t, models.ApprovalEscalated, escalated.Status)
	assert.Equal(t, []string{"role:FINANCE_MANAGER"}, escalated.CurrentApprovers)
	require.Len(t, escalated.Escalations, 1)
	assert.Equal(t, "ops-1", escalated.Escalations[0].ActorID)

	status, body = env.do(t, http.MethodPost, "/escalations/run", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var run web.RunEscalationsResponse
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Zero(t, run.Escalated, "nothing is due yet")

	status, _ = env.do(t, http.MethodPost, "/escalations/run", web.RunEscalationsRequest{BatchSize: -1})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_RuleAdministration(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	rule := models.Rule{
		Name:          "Wire refunds",
		ScopeType:     models.ScopeOrganization,
		ScopeID:       "org-1",
		Condition:     condition.Simple("method", condition.OperatorIn, []any{"WIRE"}),
		ApproverRoles: []models.ApproverRole{{Role: "RISK", Level: 0}},
		OnTimeout:     models.TimeoutAutoReject,
		Active:        true,
	}

	status, body := env.do(t, http.MethodPut, "/rules/wire", rule)
	require.Equal(t, http.StatusOK, status, string(body))

	var saved models.Rule
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.Equal(t, "wire", saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	status, body = env.do(t, http.MethodGet, "/rules/wire", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.Equal(t, models.TimeoutAutoReject, saved.OnTimeout)

	mismatched := rule
	mismatched.ID = "other"
	status, _ = env.do(t, http.MethodPut, "/rules/wire", mismatched)
	assert.Equal(t, http.StatusBadRequest, status)

	unscoped := rule
	unscoped.ScopeType = ""
	status, _ = env.do(t, http.MethodPut, "/rules/unscoped", unscoped)
	assert.Equal(t, http.StatusBadRequest, status)

	malformed := rule
	malformed.Condition = condition.Condition{Operator: condition.OperatorNot}
	status, _ = env.do(t, http.MethodPut, "/rules/malformed", malformed)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodDelete, "/rules/wire", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = env.do(t, http.MethodGet, "/rules/wire", nil)
	assert.Equal(t, http.StatusNotFound, status)

	threshold := 10000.0
	wf := models.Workflow{
		Name:        "High value",
		ScopeType:   models.ScopeMerchant,
		ScopeID:     "m-1",
		TriggerType: models.TriggerAmount,
		Threshold:   &threshold,
		Rules:       []models.Rule{{ID: "hv", ScopeType: models.ScopeMerchant, ScopeID: "m-1", Condition: condition.Simple("amount", condition.OperatorGreaterThan, 0), Active: true}},
		Active:      true,
	}

	status, body = env.do(t, http.MethodPut, "/workflows/high-value", wf)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = env.do(t, http.MethodGet, "/workflows/high-value", nil)
	require.Equal(t, http.StatusOK, status)

	var storedWF models.Workflow
	require.NoError(t, json.Unmarshal(body, &storedWF))
	assert.Equal(t, "high-value", storedWF.ID)
	require.Len(t, storedWF.Rules, 1)

	status, _ = env.do(t, http.MethodDelete, "/workflows/high-value", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	status, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}
